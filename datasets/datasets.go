package datasets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gpleiss/uncertainty-baselines/tfexample"
)

// This package provides dataset adapters that read pre-materialized
// TFRecord shards of serialized tf.train.Example records and present them as
// batches suitable for model training and evaluation.
//
// Both datasets are lazy: building a split only records which shards to read,
// and the shards are opened when the batches are iterated. Iterating again
// rebuilds the sequence from the shards.
//
// Layout and intended usage:
//
// CriteoDataset
//   - Shards named train-*-of-*, validation-*-of-*, test-*-of-*
//   - 13 numeric features (default -1), 26 categorical features (default '')
//     and the binary `clicked` label
//   - A float split is a corruption probability applied to the test split
//
// SpeechCommandsDataset
//   - Same shard naming, records hold int16 PCM `audio` and a `label`
//   - Shift splits corrupt the test audio or select the unknown-word class
//
// Batches convert to gomlx tensors with ToGomlxTensors, and Stream follows
// gomlx's train.Dataset shape (Name, Yield, Reset).

var (
	// ErrUnsupportedSplit is returned for a split a dataset cannot produce.
	ErrUnsupportedSplit = errors.New("unsupported split given")
	// ErrInvalidCorruptionLevel is returned for a corruption probability outside [0, 1].
	ErrInvalidCorruptionLevel = errors.New("shift_level not in [0, 1]")
	// ErrUnrecognizedShift is returned for an unknown shift method.
	ErrUnrecognizedShift = errors.New("unrecognized shift split")
	// ErrDownloadUnsupported is returned by DownloadAndPrepare: only local,
	// already materialized shards can be read.
	ErrDownloadUnsupported = errors.New("must provide a data_dir with the files already downloaded to")
	// ErrGCSUnsupported is returned when remote storage is requested.
	ErrGCSUnsupported = errors.New("reading dataset files from GCS is not supported")
)

// FeatureInfo declares one feature of a dataset's schema.
type FeatureInfo struct {
	DType tfexample.DType
	// Shape is nil for variable-length features.
	Shape []int
	// NumClasses is set for class-label features.
	NumClasses int
}

// SplitInfo records the size of one canonical split.
type SplitInfo struct {
	Name         string
	ShardLengths []int64
}

// NumExamples returns the total number of examples across shards.
func (s SplitInfo) NumExamples() int64 {
	var n int64
	for _, l := range s.ShardLengths {
		n += l
	}
	return n
}

// Info is the static descriptor of a dataset. It is built once per builder
// and must not be modified.
type Info struct {
	Name        string
	Version     string
	Description string
	Homepage    string
	Citation    string
	Features    map[string]FeatureInfo
	Splits      map[string]SplitInfo
}

// Builder is the registry contract a dataset satisfies: describe itself,
// locate the shards of a canonical split and, in principle, materialize them.
type Builder interface {
	Info() *Info
	FilePattern(split string) (string, error)
	DownloadAndPrepare(ctx context.Context) error
}

// shardBuilder serves canonical splits from a directory of existing shards.
type shardBuilder struct {
	dataDir string
	info    *Info
}

func (b *shardBuilder) Info() *Info { return b.info }

func (b *shardBuilder) FilePattern(split string) (string, error) {
	var pattern string
	switch split {
	case Train:
		pattern = "train-*-of-*"
	case Validation:
		pattern = "validation-*-of-*"
	case Test:
		pattern = "test-*-of-*"
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSplit, split)
	}
	return filepath.Join(b.dataDir, pattern), nil
}

func (b *shardBuilder) DownloadAndPrepare(context.Context) error {
	return fmt.Errorf("%s: %w", b.info.Name, ErrDownloadUnsupported)
}
