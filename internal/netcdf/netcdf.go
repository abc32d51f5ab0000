// Package netcdf reads the NetCDF files the GDAC publishes for float
// profile, metadata and technical data. Classic (CDF-1, CDF-2) and
// netCDF-4 (HDF5) containers are decoded by go-native-netcdf; this package
// flattens its values into the row-major float and string views the parsers
// work with.
package netcdf

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Type is the external data type of a variable or attribute.
type Type int32

const (
	Byte   Type = 1
	Char   Type = 2
	Short  Type = 3
	Int    Type = 4
	Float  Type = 5
	Double Type = 6
	UByte  Type = 7
	UShort Type = 8
	UInt   Type = 9
	Int64  Type = 10
	UInt64 Type = 11
)

func (t Type) String() string {
	switch t {
	case Byte:
		return "byte"
	case Char:
		return "char"
	case Short:
		return "short"
	case Int:
		return "int"
	case Float:
		return "float"
	case Double:
		return "double"
	case UByte:
		return "ubyte"
	case UShort:
		return "ushort"
	case UInt:
		return "uint"
	case Int64:
		return "int64"
	case UInt64:
		return "uint64"
	default:
		return fmt.Sprintf("type(%d)", int32(t))
	}
}

var (
	ErrNotNetCDF         = errors.New("netcdf: not a netcdf file")
	ErrMalformed         = errors.New("netcdf: malformed file")
	ErrTruncated         = errors.New("netcdf: truncated data")
	ErrVariableNotFound  = errors.New("netcdf: variable not found")
	ErrDimensionNotFound = errors.New("netcdf: dimension not found")
	ErrTypeMismatch      = errors.New("netcdf: type mismatch")
)

// Dimension is a named axis.
type Dimension struct {
	Name string
	Len  int
}

// Attribute is a named typed value attached to the file or a variable.
// Value is a string for char attributes and a scalar or slice of the
// decoded Go type otherwise.
type Attribute struct {
	Name  string
	Type  Type
	Value any
}

// Float64 returns the first element of a numeric attribute.
func (a Attribute) Float64() (float64, bool) {
	if a.Type == Char {
		return 0, false
	}
	var out []float64
	if err := flatten(reflect.ValueOf(a.Value), &out); err != nil || len(out) == 0 {
		return 0, false
	}
	return out[0], true
}

// String returns the attribute value of a char attribute.
func (a Attribute) String() string {
	if s, ok := a.Value.(string); ok {
		return strings.TrimRight(s, "\x00 ")
	}
	return ""
}

// Variable describes one variable: its dimensions, attributes and decoded
// values.
type Variable struct {
	Name  string
	Type  Type
	Dims  []string
	Shape []int
	Attrs []Attribute

	values any
}

// Attr looks up a variable attribute by name.
func (v *Variable) Attr(name string) (Attribute, bool) {
	for _, a := range v.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// FillValue returns the variable's _FillValue when declared.
func (v *Variable) FillValue() (float64, bool) {
	a, ok := v.Attr("_FillValue")
	if !ok {
		return 0, false
	}
	return a.Float64()
}

// Len is the total number of elements across all dimensions.
func (v *Variable) Len() int {
	n := 1
	for _, d := range v.Shape {
		n *= d
	}
	return n
}

// typeOf maps the element type of a decoded value onto Type.
func typeOf(value any) (Type, bool) {
	t := reflect.TypeOf(value)
	for t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) {
		t = t.Elem()
	}
	if t == nil {
		return 0, false
	}
	switch t.Kind() {
	case reflect.String:
		return Char, true
	case reflect.Int8:
		return Byte, true
	case reflect.Uint8:
		return UByte, true
	case reflect.Int16:
		return Short, true
	case reflect.Uint16:
		return UShort, true
	case reflect.Int32:
		return Int, true
	case reflect.Uint32:
		return UInt, true
	case reflect.Int64:
		return Int64, true
	case reflect.Uint64:
		return UInt64, true
	case reflect.Float32:
		return Float, true
	case reflect.Float64:
		return Double, true
	}
	return 0, false
}

// flatten appends the numeric leaves of a possibly nested slice in
// row-major order.
func flatten(v reflect.Value, out *[]float64) error {
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := flatten(v.Index(i), out); err != nil {
				return err
			}
		}
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		*out = append(*out, float64(v.Int()))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		*out = append(*out, float64(v.Uint()))
	case reflect.Float32, reflect.Float64:
		*out = append(*out, v.Float())
	case reflect.Interface, reflect.Pointer:
		if !v.IsNil() {
			return flatten(v.Elem(), out)
		}
	default:
		return fmt.Errorf("%w: %s", ErrTypeMismatch, v.Kind())
	}
	return nil
}

// rows appends the string leaves of a possibly nested char value.
func rows(v reflect.Value, out *[]string) error {
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := rows(v.Index(i), out); err != nil {
				return err
			}
		}
	case reflect.String:
		*out = append(*out, v.String())
	case reflect.Interface:
		if !v.IsNil() {
			return rows(v.Elem(), out)
		}
	default:
		return fmt.Errorf("%w: %s", ErrTypeMismatch, v.Kind())
	}
	return nil
}

// extent reports the length of each nesting level of a decoded value, using
// the first element at every level.
func extent(value any) []int {
	var out []int
	v := reflect.ValueOf(value)
	for v.IsValid() {
		switch v.Kind() {
		case reflect.Slice, reflect.Array:
			out = append(out, v.Len())
			if v.Len() == 0 {
				return out
			}
			v = v.Index(0)
		case reflect.String:
			return append(out, v.Len())
		case reflect.Interface:
			v = v.Elem()
		default:
			return out
		}
	}
	return out
}
