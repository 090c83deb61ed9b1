package datasets

import (
	"fmt"
	"strconv"
	"strings"
)

// Canonical split names.
const (
	Train      = "train"
	Validation = "validation"
	Test       = "test"
)

// SplitKind distinguishes the forms a split can take.
type SplitKind int

const (
	// Canonical is one of train, validation or test.
	Canonical SplitKind = iota
	// CorruptionLevel is a probability of corrupting each feature.
	CorruptionLevel
	// Shift is a named distribution shift with optional parameters,
	// such as (white_noise, -5) or (semantic_shift).
	Shift
)

// Split identifies a partition of a dataset.
type Split struct {
	Kind SplitKind
	// Name is the canonical split name or the shift method.
	Name string
	// Level is the corruption probability of a CorruptionLevel split.
	Level float64
	// Params are the shift parameters of a Shift split.
	Params []float64
}

// Predefined canonical splits.
var (
	TrainSplit      = Split{Kind: Canonical, Name: Train}
	ValidationSplit = Split{Kind: Canonical, Name: Validation}
	TestSplit       = Split{Kind: Canonical, Name: Test}
)

// Named returns the canonical split for name. Names are matched
// case-insensitively and "val"/"valid" mean validation. Unknown names are
// kept as given so the dataset can report them.
func Named(name string) Split {
	if c, ok := canonicalName(name); ok {
		return Split{Kind: Canonical, Name: c}
	}
	return Split{Kind: Canonical, Name: name}
}

// Level returns a corruption-level split.
func Level(p float64) Split {
	return Split{Kind: CorruptionLevel, Level: p}
}

// ShiftSplit returns a shift split such as ShiftSplit("pitch_shift", 4).
func ShiftSplit(method string, params ...float64) Split {
	return Split{Kind: Shift, Name: method, Params: params}
}

func canonicalName(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "train":
		return Train, true
	case "validation", "val", "valid":
		return Validation, true
	case "test":
		return Test, true
	}
	return "", false
}

// ParseSplit parses the textual split forms accepted on the command line:
// a canonical name ("train"), a corruption level ("0.25"), or a shift
// ("white_noise:-5", "semantic_shift"). Any other word is returned as a
// parameterless shift so the dataset can reject it by name.
func ParseSplit(s string) (Split, error) {
	s = strings.TrimSpace(s)
	if c, ok := canonicalName(s); ok {
		return Split{Kind: Canonical, Name: c}, nil
	}
	if p, err := strconv.ParseFloat(s, 64); err == nil {
		return Level(p), nil
	}

	parts := strings.Split(s, ":")
	method := parts[0]
	if method == "" {
		return Split{}, fmt.Errorf("%w: %q", ErrUnsupportedSplit, s)
	}
	params := make([]float64, 0, len(parts)-1)
	for _, p := range parts[1:] {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Split{}, fmt.Errorf("invalid parameter %q in split %q: %w", p, s, err)
		}
		params = append(params, v)
	}
	return ShiftSplit(method, params...), nil
}

// String formats s in the form ParseSplit accepts.
func (s Split) String() string {
	switch s.Kind {
	case CorruptionLevel:
		return strconv.FormatFloat(s.Level, 'g', -1, 64)
	case Shift:
		parts := []string{s.Name}
		for _, p := range s.Params {
			parts = append(parts, strconv.FormatFloat(p, 'g', -1, 64))
		}
		return strings.Join(parts, ":")
	}
	return s.Name
}

// IsTrain reports whether s is the canonical training split.
func (s Split) IsTrain() bool {
	return s.Kind == Canonical && s.Name == Train
}
