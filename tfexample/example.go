// Package tfexample encodes and decodes tf.train.Example records and parses
// them against a declarative feature schema.
//
// The wire layout follows tensorflow/core/example/example.proto and
// feature.proto:
//
//	Example  { Features features = 1; }
//	Features { map<string, Feature> feature = 1; }
//	Feature  { oneof { BytesList = 1; FloatList = 2; Int64List = 3; } }
package tfexample

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// DType is the element type of a feature list.
type DType int

const (
	String DType = iota + 1
	Float32
	Int64
)

func (d DType) String() string {
	switch d {
	case String:
		return "string"
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// Feature is one list-valued feature. Exactly one of the slices is
// meaningful, selected by DType.
type Feature struct {
	DType  DType
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

// Len returns the number of elements in the list.
func (f Feature) Len() int {
	switch f.DType {
	case String:
		return len(f.Bytes)
	case Float32:
		return len(f.Floats)
	case Int64:
		return len(f.Int64s)
	}
	return 0
}

// BytesFeature, FloatFeature and Int64Feature build single-kind features.
func BytesFeature(v ...[]byte) Feature { return Feature{DType: String, Bytes: v} }
func FloatFeature(v ...float32) Feature { return Feature{DType: Float32, Floats: v} }
func Int64Feature(v ...int64) Feature   { return Feature{DType: Int64, Int64s: v} }

// StringFeature is BytesFeature for string values.
func StringFeature(v ...string) Feature {
	b := make([][]byte, len(v))
	for i, s := range v {
		b[i] = []byte(s)
	}
	return BytesFeature(b...)
}

// Example maps feature names to values.
type Example map[string]Feature

const (
	exampleFeatures = protowire.Number(1)
	featuresEntry   = protowire.Number(1)
	entryKey        = protowire.Number(1)
	entryValue      = protowire.Number(2)
	featureBytes    = protowire.Number(1)
	featureFloats   = protowire.Number(2)
	featureInt64s   = protowire.Number(3)
	listValue       = protowire.Number(1)
)

// Marshal encodes e in the tf.train.Example wire format. Features are written
// in name order so the output is deterministic.
func Marshal(e Example) []byte {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)

	var features []byte
	for _, name := range names {
		var entry []byte
		entry = protowire.AppendTag(entry, entryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, name)
		entry = protowire.AppendTag(entry, entryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, marshalFeature(e[name]))

		features = protowire.AppendTag(features, featuresEntry, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, exampleFeatures, protowire.BytesType)
	return protowire.AppendBytes(out, features)
}

func marshalFeature(f Feature) []byte {
	var list []byte
	var num protowire.Number
	switch f.DType {
	case String:
		num = featureBytes
		for _, b := range f.Bytes {
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, b)
		}
	case Float32:
		num = featureFloats
		var packed []byte
		for _, v := range f.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	case Int64:
		num = featureInt64s
		var packed []byte
		for _, v := range f.Int64s {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	default:
		return nil
	}
	var out []byte
	out = protowire.AppendTag(out, num, protowire.BytesType)
	return protowire.AppendBytes(out, list)
}

// Unmarshal decodes a serialized tf.train.Example. Unknown fields are skipped.
func Unmarshal(b []byte) (Example, error) {
	e := Example{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != exampleFeatures || typ != protowire.BytesType {
			return nil
		}
		return walk(v, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if num != featuresEntry || typ != protowire.BytesType {
				return nil
			}
			return unmarshalEntry(v, e)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("tfexample: %w", err)
	}
	return e, nil
}

func unmarshalEntry(b []byte, e Example) error {
	var (
		name string
		f    Feature
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == entryKey && typ == protowire.BytesType:
			name = string(v)
		case num == entryValue && typ == protowire.BytesType:
			var err error
			f, err = unmarshalFeature(v)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	e[name] = f
	return nil
}

func unmarshalFeature(b []byte) (Feature, error) {
	var f Feature
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case featureBytes:
			f = Feature{DType: String}
			return walk(v, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num == listValue && typ == protowire.BytesType {
					f.Bytes = append(f.Bytes, append([]byte(nil), v...))
				}
				return nil
			})
		case featureFloats:
			f = Feature{DType: Float32, Floats: []float32{}}
			return walkScalars(v, protowire.Fixed32Type, func(b []byte) (int, error) {
				x, n := protowire.ConsumeFixed32(b)
				if n < 0 {
					return 0, protowire.ParseError(n)
				}
				f.Floats = append(f.Floats, math.Float32frombits(x))
				return n, nil
			})
		case featureInt64s:
			f = Feature{DType: Int64, Int64s: []int64{}}
			return walkScalars(v, protowire.VarintType, func(b []byte) (int, error) {
				x, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return 0, protowire.ParseError(n)
				}
				f.Int64s = append(f.Int64s, int64(x))
				return n, nil
			})
		}
		return nil
	})
	return f, err
}

// walk iterates the fields of a message. For length-delimited fields v is the
// payload; for other wire types v is the raw encoded value.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v []byte
		if typ == protowire.BytesType {
			payload, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			v, n = payload, m
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			v = b[:n]
		}
		if err := fn(num, typ, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// walkScalars decodes a repeated scalar list field which may be packed
// (one length-delimited run) or unpacked (one tag per element).
func walkScalars(b []byte, elem protowire.Type, consume func([]byte) (int, error)) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != listValue {
			return nil
		}
		switch typ {
		case protowire.BytesType:
			for len(v) > 0 {
				n, err := consume(v)
				if err != nil {
					return err
				}
				v = v[n:]
			}
		case elem:
			_, err := consume(v)
			return err
		}
		return nil
	})
}
