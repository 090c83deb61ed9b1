package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/gpleiss/uncertainty-baselines/internal/monitoring"
	"github.com/gpleiss/uncertainty-baselines/tfexample"
	"github.com/gpleiss/uncertainty-baselines/tfrecord"
)

// CriteoExampleFromTSV builds a record from one row of the Kaggle release:
// the label followed by the 13 integer and 26 categorical columns. Empty
// columns are left out so parsing fills in the defaults.
func CriteoExampleFromTSV(row []string) (tfexample.Example, error) {
	if len(row) != NumTotalFeatures+1 {
		return nil, fmt.Errorf("expected %d columns, got %d", NumTotalFeatures+1, len(row))
	}
	label, err := parseFloat32(row[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse label: %w", err)
	}
	ex := tfexample.Example{criteoLabelKey: tfexample.FloatFeature(label)}
	for idx := 1; idx <= NumTotalFeatures; idx++ {
		col := row[idx]
		if col == "" {
			continue
		}
		if idx <= NumIntFeatures {
			v, err := parseFloat32(col)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", FeatureName(idx), err)
			}
			ex[FeatureName(idx)] = tfexample.FloatFeature(v)
			continue
		}
		ex[FeatureName(idx)] = tfexample.StringFeature(col)
	}
	return ex, nil
}

// WriteCriteoShards converts tab-separated Criteo rows from r into numShards
// TFRecord shards of split under outDir, assigning rows round-robin. It
// returns the number of rows written.
func WriteCriteoShards(r io.Reader, outDir, split string, numShards int, compress bool) (int, error) {
	if numShards < 1 {
		return 0, fmt.Errorf("numShards must be positive, got %d", numShards)
	}
	name, ok := canonicalName(split)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedSplit, split)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, err
	}

	files := make([]*os.File, numShards)
	writers := make([]*tfrecord.Writer, numShards)
	closeAll := func() {
		for i, f := range files {
			if f != nil {
				writers[i].Close()
				f.Close()
			}
		}
	}
	for i := range files {
		f, err := os.Create(filepath.Join(outDir, ShardName(name, i, numShards)))
		if err != nil {
			closeAll()
			return 0, err
		}
		files[i] = f
		if compress {
			writers[i] = tfrecord.NewGzipWriter(f)
		} else {
			writers[i] = tfrecord.NewWriter(f)
		}
	}

	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	n := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeAll()
			return n, fmt.Errorf("failed to read row %d: %w", n, err)
		}
		ex, err := CriteoExampleFromTSV(row)
		if err != nil {
			closeAll()
			return n, fmt.Errorf("row %d: %w", n, err)
		}
		if err := writers[n%numShards].Write(tfexample.Marshal(ex)); err != nil {
			closeAll()
			return n, err
		}
		n++
	}

	for i, f := range files {
		files[i] = nil
		if err := writers[i].Close(); err != nil {
			f.Close()
			closeAll()
			return n, err
		}
		if err := f.Close(); err != nil {
			closeAll()
			return n, err
		}
	}
	monitoring.Logf("criteo: wrote %d rows to %d %s shards in %s", n, numShards, name, outDir)
	return n, nil
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenCriteoTSV opens a raw Criteo file for WriteCriteoShards. Files ending
// in .gz or .xz are decompressed on the fly.
func OpenCriteoTSV(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		return &multiCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case ".xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open xz stream %s: %w", path, err)
		}
		return &multiCloser{Reader: xr, closers: []io.Closer{f}}, nil
	}
	return f, nil
}
