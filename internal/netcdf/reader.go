package netcdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"

	cdf "github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

var hdf5Magic = []byte("\x89HDF\r\n\x1a\n")

// File is an opened NetCDF dataset. Variables are decoded when the file is
// opened so truncated or corrupt data surfaces as an open error.
type File struct {
	// Version is 1 or 2 for classic files and 4 for HDF5 based files.
	Version int
	Dims    []Dimension
	Attrs   []Attribute
	Vars    []*Variable
}

// OpenBytes decodes a NetCDF file held in memory.
func OpenBytes(data []byte) (*File, error) {
	version, err := sniff(data)
	if err != nil {
		return nil, err
	}
	return open(bytes.NewReader(data), version)
}

func sniff(data []byte) (int, error) {
	switch {
	case bytes.HasPrefix(data, hdf5Magic):
		return 4, nil
	case len(data) >= 4 && string(data[:3]) == "CDF":
		switch data[3] {
		case 1, 2:
			return int(data[3]), nil
		default:
			return 0, fmt.Errorf("%w: unsupported version %d", ErrNotNetCDF, data[3])
		}
	}
	return 0, ErrNotNetCDF
}

func open(r *bytes.Reader, version int) (f *File, err error) {
	// decoding errors inside the library can escape as panics on hostile input
	defer func() {
		if p := recover(); p != nil {
			f, err = nil, classify(fmt.Errorf("%v", p))
		}
	}()

	g, err := cdf.New(nopCloser{r})
	if err != nil {
		return nil, classify(err)
	}
	defer g.Close()

	f = &File{Version: version}
	for _, name := range g.ListDimensions() {
		n, _ := g.GetDimension(name)
		f.Dims = append(f.Dims, Dimension{Name: name, Len: int(n)})
	}
	f.Attrs = attributes(g.Attributes())

	for _, name := range g.ListVariables() {
		gv, err := g.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, classify(err))
		}
		v, err := f.variable(name, gv)
		if err != nil {
			return nil, err
		}
		f.Vars = append(f.Vars, v)
	}
	return f, nil
}

// nopCloser adapts an in-memory reader to api.ReadSeekerCloser.
type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

func classify(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func attributes(m api.AttributeMap) []Attribute {
	if m == nil {
		return nil
	}
	var out []Attribute
	for _, key := range m.Keys() {
		val, ok := m.Get(key)
		if !ok {
			continue
		}
		t, _ := typeOf(val)
		out = append(out, Attribute{Name: key, Type: t, Value: val})
	}
	return out
}

func (f *File) variable(name string, gv *api.Variable) (*Variable, error) {
	v := &Variable{
		Name:   name,
		Dims:   gv.Dimensions,
		Attrs:  attributes(gv.Attributes),
		values: gv.Values,
	}
	t, ok := typeOf(gv.Values)
	if !ok {
		return nil, fmt.Errorf("%w: variable %s has values of %T", ErrMalformed, name, gv.Values)
	}
	v.Type = t

	// char variables lose their string length axis in decoding
	got := extent(gv.Values)
	v.Shape = make([]int, len(gv.Dimensions))
	for i, dim := range gv.Dimensions {
		if d, ok := f.Dim(dim); ok && d.Len > 0 {
			v.Shape[i] = d.Len
		} else if i < len(got) {
			v.Shape[i] = got[i]
		}
	}
	return v, nil
}

// Var looks up a variable by name.
func (f *File) Var(name string) (*Variable, bool) {
	for _, v := range f.Vars {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// Dim looks up a dimension by name.
func (f *File) Dim(name string) (Dimension, bool) {
	for _, d := range f.Dims {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// Attr looks up a global attribute.
func (f *File) Attr(name string) (Attribute, bool) {
	for _, a := range f.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Float64s reads any numeric variable as float64 values in row-major order.
// Values equal to the declared _FillValue, or NaN, are reported through the
// returned valid mask.
func (f *File) Float64s(name string) ([]float64, []bool, error) {
	v, ok := f.Var(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}
	if v.Type == Char {
		return nil, nil, fmt.Errorf("%w: %s is char", ErrTypeMismatch, name)
	}
	out := make([]float64, 0, v.Len())
	if err := flatten(reflect.ValueOf(v.values), &out); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}

	fill, hasFill := v.FillValue()
	valid := make([]bool, len(out))
	for i, x := range out {
		switch {
		case math.IsNaN(x):
		case hasFill && sameFill(x, fill, v.Type):
		default:
			valid[i] = true
		}
	}
	return out, valid, nil
}

func sameFill(x, fill float64, t Type) bool {
	if t == Float {
		return float32(x) == float32(fill)
	}
	return x == fill
}

// Strings reads a char variable. The last dimension is the string length;
// each returned element is one row with trailing NULs and blanks removed.
// A one-dimensional char variable yields one element per character.
func (f *File) Strings(name string) ([]string, error) {
	v, err := f.charVar(name)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := rows(reflect.ValueOf(v.values), &out); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(v.Shape) == 1 && len(out) == 1 {
		chars := make([]string, v.Shape[0])
		for i := range chars {
			if i < len(out[0]) {
				chars[i] = trimChars(out[0][i : i+1])
			}
		}
		return chars, nil
	}
	for i := range out {
		out[i] = trimChars(out[i])
	}
	return out, nil
}

// Text reads a char variable as a single trimmed string. Rows of a
// multi-dimensional variable are joined at their full declared width.
func (f *File) Text(name string) (string, error) {
	v, err := f.charVar(name)
	if err != nil {
		return "", err
	}
	var out []string
	if err := rows(reflect.ValueOf(v.values), &out); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if len(out) == 1 {
		return trimChars(out[0]), nil
	}
	width := 0
	if len(v.Shape) > 0 {
		width = v.Shape[len(v.Shape)-1]
	}
	var b strings.Builder
	for _, r := range out {
		if i := strings.IndexByte(r, 0); i >= 0 {
			r = r[:i]
		}
		b.WriteString(r)
		if pad := width - len(r); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
	}
	return trimChars(b.String()), nil
}

func (f *File) charVar(name string) (*Variable, error) {
	v, ok := f.Var(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}
	if v.Type != Char {
		return nil, fmt.Errorf("%w: %s is %s", ErrTypeMismatch, name, v.Type)
	}
	return v, nil
}

func trimChars(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	// Only trailing padding is removed so positional flags keep their index.
	return strings.TrimRight(s, " ")
}
