package tfexample

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMissingFeature is returned when a required feature is absent.
var ErrMissingFeature = errors.New("required feature missing")

// FeatureSpec describes how one named feature is parsed.
type FeatureSpec struct {
	DType DType
	// Shape of a fixed-length feature. Ignored when VarLen is set.
	Shape []int
	// VarLen features accept any number of elements, including none.
	VarLen bool
	// Default is broadcast to Shape when the feature is absent. A nil
	// Default makes a fixed-length feature required.
	Default any
}

// FixedLen declares a required fixed-shape feature.
func FixedLen(shape []int, dtype DType) FeatureSpec {
	return FeatureSpec{DType: dtype, Shape: shape}
}

// FixedLenDefault declares a fixed-shape feature with a scalar default.
func FixedLenDefault(shape []int, dtype DType, def any) FeatureSpec {
	return FeatureSpec{DType: dtype, Shape: shape, Default: def}
}

// VarLen declares a variable-length feature.
func VarLen(dtype DType) FeatureSpec {
	return FeatureSpec{DType: dtype, VarLen: true}
}

// Spec maps feature names to how they are parsed.
type Spec map[string]FeatureSpec

// Value is a parsed feature tensor in row-major order.
type Value struct {
	DType   DType
	Shape   []int
	Floats  []float32
	Int64s  []int64
	Strings []string
}

// Len returns the number of elements.
func (v Value) Len() int {
	switch v.DType {
	case String:
		return len(v.Strings)
	case Float32:
		return len(v.Floats)
	case Int64:
		return len(v.Int64s)
	}
	return 0
}

// Squeeze drops every dimension of size 1.
func (v Value) Squeeze() Value {
	shape := make([]int, 0, len(v.Shape))
	for _, d := range v.Shape {
		if d != 1 {
			shape = append(shape, d)
		}
	}
	v.Shape = shape
	return v
}

// Float32 returns the first element of a float32 value.
func (v Value) Float32() float32 {
	if v.DType != Float32 || len(v.Floats) == 0 {
		return 0
	}
	return v.Floats[0]
}

// Int64 returns the first element of an int64 value.
func (v Value) Int64() int64 {
	if v.DType != Int64 || len(v.Int64s) == 0 {
		return 0
	}
	return v.Int64s[0]
}

// String returns the first element of a string value.
func (v Value) String() string {
	if v.DType != String || len(v.Strings) == 0 {
		return ""
	}
	return v.Strings[0]
}

// ScalarString builds a rank-0 string value.
func ScalarString(s string) Value {
	return Value{DType: String, Shape: []int{}, Strings: []string{s}}
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// ParseExample parses e against spec. Features in e that spec does not name
// are ignored.
func ParseExample(e Example, spec Spec) (map[string]Value, error) {
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]Value, len(spec))
	for _, name := range names {
		v, err := parseFeature(e, name, spec[name])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func parseFeature(e Example, name string, fs FeatureSpec) (Value, error) {
	f, ok := e[name]
	if ok && f.Len() > 0 && f.DType != fs.DType {
		return Value{}, fmt.Errorf("feature %q: expected %s, got %s", name, fs.DType, f.DType)
	}

	if fs.VarLen {
		v := fromFeature(f, fs.DType)
		v.Shape = []int{v.Len()}
		return v, nil
	}

	want := numElements(fs.Shape)
	if !ok || f.Len() == 0 {
		if fs.Default == nil {
			return Value{}, fmt.Errorf("feature %q: %w", name, ErrMissingFeature)
		}
		return broadcast(name, fs, want)
	}
	if f.Len() != want {
		return Value{}, fmt.Errorf("feature %q: expected %d values for shape %v, got %d", name, want, fs.Shape, f.Len())
	}
	v := fromFeature(f, fs.DType)
	v.Shape = append([]int(nil), fs.Shape...)
	return v, nil
}

func fromFeature(f Feature, dtype DType) Value {
	v := Value{DType: dtype}
	switch dtype {
	case String:
		v.Strings = make([]string, len(f.Bytes))
		for i, b := range f.Bytes {
			v.Strings[i] = string(b)
		}
	case Float32:
		v.Floats = append([]float32{}, f.Floats...)
	case Int64:
		v.Int64s = append([]int64{}, f.Int64s...)
	}
	return v
}

func broadcast(name string, fs FeatureSpec, n int) (Value, error) {
	v := Value{DType: fs.DType, Shape: append([]int(nil), fs.Shape...)}
	switch fs.DType {
	case String:
		s, ok := fs.Default.(string)
		if !ok {
			return Value{}, fmt.Errorf("feature %q: default %v is not a string", name, fs.Default)
		}
		v.Strings = make([]string, n)
		for i := range v.Strings {
			v.Strings[i] = s
		}
	case Float32:
		x, ok := toFloat(fs.Default)
		if !ok {
			return Value{}, fmt.Errorf("feature %q: default %v is not numeric", name, fs.Default)
		}
		v.Floats = make([]float32, n)
		for i := range v.Floats {
			v.Floats[i] = float32(x)
		}
	case Int64:
		x, ok := toFloat(fs.Default)
		if !ok {
			return Value{}, fmt.Errorf("feature %q: default %v is not numeric", name, fs.Default)
		}
		v.Int64s = make([]int64, n)
		for i := range v.Int64s {
			v.Int64s[i] = int64(x)
		}
	}
	return v, nil
}

func toFloat(x any) (float64, bool) {
	switch t := x.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
