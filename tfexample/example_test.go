package tfexample

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMarshalUnmarshal(t *testing.T) {
	in := Example{
		"clicked":                FloatFeature(1),
		"int-feature-1":          FloatFeature(-3.5),
		"categorical-feature-14": StringFeature("68fd1e64"),
		"audio":                  Int64Feature(0, -32768, 32767, 12),
		"label":                  Int64Feature(11),
	}

	got, err := Unmarshal(Marshal(in))
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	e := Example{"b": Int64Feature(1), "a": Int64Feature(2), "c": StringFeature("x")}
	first := Marshal(e)
	for i := 0; i < 10; i++ {
		if string(Marshal(e)) != string(first) {
			t.Fatal("Marshal output differs between calls")
		}
	}
}

// unpackedExample hand-encodes a float list and an int64 list without
// packing, the way older writers emit them.
func unpackedExample() []byte {
	var floats []byte
	for _, v := range []float32{1.5, 2.5} {
		floats = protowire.AppendTag(floats, 1, protowire.Fixed32Type)
		floats = protowire.AppendFixed32(floats, math.Float32bits(v))
	}
	var ints []byte
	ints = protowire.AppendTag(ints, 1, protowire.VarintType)
	ints = protowire.AppendVarint(ints, 7)

	entry := func(name string, kind protowire.Number, list []byte) []byte {
		var feature []byte
		feature = protowire.AppendTag(feature, kind, protowire.BytesType)
		feature = protowire.AppendBytes(feature, list)
		var e []byte
		e = protowire.AppendTag(e, 1, protowire.BytesType)
		e = protowire.AppendString(e, name)
		e = protowire.AppendTag(e, 2, protowire.BytesType)
		return protowire.AppendBytes(e, feature)
	}

	var features []byte
	features = protowire.AppendTag(features, 1, protowire.BytesType)
	features = protowire.AppendBytes(features, entry("f", 2, floats))
	features = protowire.AppendTag(features, 1, protowire.BytesType)
	features = protowire.AppendBytes(features, entry("i", 3, ints))
	// An unknown varint field must be skipped.
	features = protowire.AppendTag(features, 9, protowire.VarintType)
	features = protowire.AppendVarint(features, 1)

	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	return protowire.AppendBytes(out, features)
}

func TestUnmarshalUnpacked(t *testing.T) {
	got, err := Unmarshal(unpackedExample())
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	want := Example{"f": FloatFeature(1.5, 2.5), "i": Int64Feature(7)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0x0a, 0x05, 0x01}); err == nil {
		t.Fatal("expected error for truncated message")
	}
}

func TestParseExample(t *testing.T) {
	spec := Spec{
		"clicked": FixedLen([]int{1}, Float32),
		"int":     FixedLenDefault([]int{1}, Float32, -1),
		"cat":     FixedLenDefault([]int{1}, String, ""),
		"audio":   VarLen(Int64),
	}

	e := Example{
		"clicked": FloatFeature(1),
		"cat":     StringFeature("abc"),
		"extra":   Int64Feature(5),
	}
	got, err := ParseExample(e, spec)
	if err != nil {
		t.Fatalf("ParseExample failed: %v", err)
	}

	want := map[string]Value{
		"clicked": {DType: Float32, Shape: []int{1}, Floats: []float32{1}},
		"int":     {DType: Float32, Shape: []int{1}, Floats: []float32{-1}},
		"cat":     {DType: String, Shape: []int{1}, Strings: []string{"abc"}},
		"audio":   {DType: Int64, Shape: []int{0}, Int64s: []int64{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	if s := got["cat"].Squeeze(); len(s.Shape) != 0 || s.String() != "abc" {
		t.Fatalf("Squeeze() = %+v", s)
	}
	if got["int"].Float32() != -1 {
		t.Fatalf("Float32() = %v", got["int"].Float32())
	}
}

func TestParseExampleErrors(t *testing.T) {
	spec := Spec{"clicked": FixedLen([]int{1}, Float32)}

	_, err := ParseExample(Example{}, spec)
	if !errors.Is(err, ErrMissingFeature) {
		t.Fatalf("expected ErrMissingFeature, got %v", err)
	}

	_, err = ParseExample(Example{"clicked": StringFeature("1")}, spec)
	if err == nil || !strings.Contains(err.Error(), "expected float32") {
		t.Fatalf("expected dtype error, got %v", err)
	}

	_, err = ParseExample(Example{"clicked": FloatFeature(1, 0)}, spec)
	if err == nil || !strings.Contains(err.Error(), "expected 1 values") {
		t.Fatalf("expected length error, got %v", err)
	}
}
