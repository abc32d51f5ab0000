// Package netcdftest builds small classic NetCDF files for tests.
package netcdftest

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
)

type dim struct {
	name string
	n    int
}

type attr struct {
	name string
	typ  int32
	data []byte
	n    int
}

type variable struct {
	name  string
	dims  []int
	typ   int32
	attrs []attr
	data  []byte
}

// Builder accumulates dimensions and fixed-size variables and renders a
// CDF-1 file. Record variables are not supported.
type Builder struct {
	dims  []dim
	vars  []variable
	attrs []attr
}

func New() *Builder {
	return &Builder{}
}

// Dim declares a fixed dimension.
func (b *Builder) Dim(name string, n int) *Builder {
	b.dims = append(b.dims, dim{name: name, n: n})
	return b
}

// GlobalText adds a char global attribute.
func (b *Builder) GlobalText(name, value string) *Builder {
	b.attrs = append(b.attrs, attr{name: name, typ: 2, data: []byte(value), n: len(value)})
	return b
}

// Double adds a double variable with a _FillValue attribute.
func (b *Builder) Double(name string, dims []string, values []float64, fill float64) *Builder {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	fillData := make([]byte, 8)
	binary.BigEndian.PutUint64(fillData, math.Float64bits(fill))
	b.vars = append(b.vars, variable{
		name:  name,
		dims:  b.ids(dims),
		typ:   6,
		attrs: []attr{{name: "_FillValue", typ: 6, data: fillData, n: 1}},
		data:  data,
	})
	return b
}

// Float adds a float variable with a _FillValue attribute.
func (b *Builder) Float(name string, dims []string, values []float32, fill float32) *Builder {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	fillData := make([]byte, 4)
	binary.BigEndian.PutUint32(fillData, math.Float32bits(fill))
	b.vars = append(b.vars, variable{
		name:  name,
		dims:  b.ids(dims),
		typ:   5,
		attrs: []attr{{name: "_FillValue", typ: 5, data: fillData, n: 1}},
		data:  data,
	})
	return b
}

// Int adds an int variable with a _FillValue attribute.
func (b *Builder) Int(name string, dims []string, values []int32, fill int32) *Builder {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(data[i*4:], uint32(v))
	}
	fillData := make([]byte, 4)
	binary.BigEndian.PutUint32(fillData, uint32(fill))
	b.vars = append(b.vars, variable{
		name:  name,
		dims:  b.ids(dims),
		typ:   4,
		attrs: []attr{{name: "_FillValue", typ: 4, data: fillData, n: 1}},
		data:  data,
	})
	return b
}

// Char adds a char variable. Each row is blank padded to the width of the
// last dimension.
func (b *Builder) Char(name string, dims []string, rows ...string) *Builder {
	ids := b.ids(dims)
	width := 1
	if len(ids) > 0 {
		width = b.dims[ids[len(ids)-1]].n
	}
	var buf bytes.Buffer
	for _, row := range rows {
		if len(row) > width {
			row = row[:width]
		}
		buf.WriteString(row)
		buf.WriteString(strings.Repeat(" ", width-len(row)))
	}
	b.vars = append(b.vars, variable{name: name, dims: ids, typ: 2, data: buf.Bytes()})
	return b
}

func (b *Builder) ids(names []string) []int {
	out := make([]int, 0, len(names))
	for _, n := range names {
		for i, d := range b.dims {
			if d.name == n {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// Bytes renders the file.
func (b *Builder) Bytes() []byte {
	header := b.header(nil)
	begins := make([]uint32, len(b.vars))
	off := uint32(len(header))
	for i, v := range b.vars {
		begins[i] = off
		off += uint32(padded(len(v.data)))
	}
	header = b.header(begins)

	var out bytes.Buffer
	out.Write(header)
	for _, v := range b.vars {
		out.Write(v.data)
		out.Write(make([]byte, padded(len(v.data))-len(v.data)))
	}
	return out.Bytes()
}

func (b *Builder) header(begins []uint32) []byte {
	var w bytes.Buffer
	w.WriteString("CDF\x01")
	putU32(&w, 0)

	if len(b.dims) == 0 {
		putU32(&w, 0)
		putU32(&w, 0)
	} else {
		putU32(&w, 0x0A)
		putU32(&w, uint32(len(b.dims)))
		for _, d := range b.dims {
			putName(&w, d.name)
			putU32(&w, uint32(d.n))
		}
	}

	putAttrs(&w, b.attrs)

	if len(b.vars) == 0 {
		putU32(&w, 0)
		putU32(&w, 0)
	} else {
		putU32(&w, 0x0B)
		putU32(&w, uint32(len(b.vars)))
		for i, v := range b.vars {
			putName(&w, v.name)
			putU32(&w, uint32(len(v.dims)))
			for _, id := range v.dims {
				putU32(&w, uint32(id))
			}
			putAttrs(&w, v.attrs)
			putU32(&w, uint32(v.typ))
			putU32(&w, uint32(padded(len(v.data))))
			var begin uint32
			if begins != nil {
				begin = begins[i]
			}
			putU32(&w, begin)
		}
	}
	return w.Bytes()
}

func putAttrs(w *bytes.Buffer, attrs []attr) {
	if len(attrs) == 0 {
		putU32(w, 0)
		putU32(w, 0)
		return
	}
	putU32(w, 0x0C)
	putU32(w, uint32(len(attrs)))
	for _, a := range attrs {
		putName(w, a.name)
		putU32(w, uint32(a.typ))
		putU32(w, uint32(a.n))
		w.Write(a.data)
		w.Write(make([]byte, padded(len(a.data))-len(a.data)))
	}
}

func putName(w *bytes.Buffer, name string) {
	putU32(w, uint32(len(name)))
	w.WriteString(name)
	w.Write(make([]byte, padded(len(name))-len(name)))
}

func putU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func padded(n int) int {
	return (n + 3) &^ 3
}
