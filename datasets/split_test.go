package datasets

import (
	"errors"
	"slices"
	"testing"
)

func TestParseSplit(t *testing.T) {
	cases := []struct {
		in   string
		want Split
	}{
		{"train", TrainSplit},
		{" VAL ", ValidationSplit},
		{"valid", ValidationSplit},
		{"Test", TestSplit},
		{"0.25", Level(0.25)},
		{"1", Level(1)},
		{"white_noise:-5", ShiftSplit("white_noise", -5)},
		{"semantic_shift", ShiftSplit(SemanticShift)},
		{"nonsensical_split:42", ShiftSplit("nonsensical_split", 42)},
	}
	for _, tc := range cases {
		got, err := ParseSplit(tc.in)
		if err != nil {
			t.Fatalf("ParseSplit(%q) failed: %v", tc.in, err)
		}
		if got.Kind != tc.want.Kind || got.Name != tc.want.Name || got.Level != tc.want.Level ||
			!slices.Equal(got.Params, tc.want.Params) {
			t.Fatalf("ParseSplit(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseSplit(":3"); !errors.Is(err, ErrUnsupportedSplit) {
		t.Fatalf("expected ErrUnsupportedSplit, got %v", err)
	}
	if _, err := ParseSplit("pitch_shift:up"); err == nil {
		t.Fatal("expected error for non-numeric parameter")
	}
}

func TestSplitString(t *testing.T) {
	for _, s := range []string{"train", "validation", "0.5", "pitch_shift:4", "semantic_shift"} {
		split, err := ParseSplit(s)
		if err != nil {
			t.Fatalf("ParseSplit(%q) failed: %v", s, err)
		}
		if split.String() != s {
			t.Fatalf("String() = %q, want %q", split.String(), s)
		}
	}
	if !TrainSplit.IsTrain() || TestSplit.IsTrain() || Level(0).IsTrain() {
		t.Fatal("IsTrain mismatch")
	}
	if Named("bogus").Name != "bogus" {
		t.Fatal("Named dropped an unknown name")
	}
}

func TestDataDir(t *testing.T) {
	if got, err := DataDir("/data/x", "criteo", false); err != nil || got != "/data/x" {
		t.Fatalf("DataDir = %q, %v", got, err)
	}
	t.Setenv("TFDS_DATA_DIR", "/tfds")
	if got, err := DataDir("", "criteo", false); err != nil || got != "/tfds/criteo" {
		t.Fatalf("DataDir = %q, %v", got, err)
	}
	if _, err := DataDir("/data/x", "criteo", true); !errors.Is(err, ErrGCSUnsupported) {
		t.Fatalf("expected ErrGCSUnsupported, got %v", err)
	}
}

func TestShardBuilderFilePattern(t *testing.T) {
	b := &shardBuilder{dataDir: "/d", info: criteoInfo()}
	if p, err := b.FilePattern(Validation); err != nil || p != "/d/validation-*-of-*" {
		t.Fatalf("FilePattern = %q, %v", p, err)
	}
	if _, err := b.FilePattern("holdout"); !errors.Is(err, ErrUnsupportedSplit) {
		t.Fatalf("expected ErrUnsupportedSplit, got %v", err)
	}
	if ShardName(Train, 3, 10) != "train-00003-of-00010" {
		t.Fatalf("ShardName = %q", ShardName(Train, 3, 10))
	}
}
