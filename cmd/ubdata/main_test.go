package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpleiss/uncertainty-baselines/corruption"
	"github.com/gpleiss/uncertainty-baselines/datasets"
	"github.com/gpleiss/uncertainty-baselines/tfexample"
	"github.com/gpleiss/uncertainty-baselines/tfrecord"
)

func writeTSV(t *testing.T, path string, rows int) {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < rows; i++ {
		cols := []string{fmt.Sprint(i % 2)}
		for idx := 1; idx <= datasets.NumTotalFeatures; idx++ {
			if idx <= datasets.NumIntFeatures {
				cols = append(cols, fmt.Sprint(i*idx))
			} else {
				cols = append(cols, fmt.Sprintf("%x", i+idx))
			}
		}
		sb.WriteString(strings.Join(cols, "\t"))
		sb.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}

func TestConvertThenInspectCriteo(t *testing.T) {
	tmp := t.TempDir()
	tsv := filepath.Join(tmp, "day_0.tsv")
	writeTSV(t, tsv, 7)
	shardDir := filepath.Join(tmp, "criteo")

	var out bytes.Buffer
	require.NoError(t, runConvert([]string{"-in", tsv, "-out", shardDir, "-split", "test", "-shards", "2", "-gzip"}, &out))
	assert.Contains(t, out.String(), "wrote 7 rows to 2 test shards")

	out.Reset()
	plotPath := filepath.Join(tmp, "plots", "hist.png")
	err := runInspect([]string{
		"-dataset", "criteo", "-split", "1", "-data-dir", shardDir,
		"-eval-batch-size", "4", "-batches", "5", "-seed", "3", "-plot", plotPath,
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "batch 0: size=4")
	assert.Contains(t, out.String(), "batch 1: size=3")
	assert.NotContains(t, out.String(), "batch 2")
	assert.FileExists(t, plotPath)
}

func TestInspectSpeechCommands(t *testing.T) {
	tmp := t.TempDir()
	var records [][]byte
	for i := 0; i < 6; i++ {
		records = append(records, tfexample.Marshal(tfexample.Example{
			"audio": tfexample.Int64Feature(100, -100, 50, int64(i)),
			"label": tfexample.Int64Feature(int64(i)),
		}))
	}
	require.NoError(t, tfrecord.WriteFile(filepath.Join(tmp, datasets.ShardName("test", 0, 1)), records, false))

	var out bytes.Buffer
	plotPath := filepath.Join(tmp, "wave.png")
	err := runInspect([]string{
		"-dataset", "speech_commands", "-split", "pitch_shift:2", "-data-dir", tmp,
		"-eval-batch-size", "6", "-plot", plotPath,
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "batch 0: size=6 labels=0:1,1:1,2:1,3:1,4:1,5:1\n", out.String())
	assert.FileExists(t, plotPath)
}

func TestInspectErrors(t *testing.T) {
	tmp := t.TempDir()
	err := runInspect([]string{"-dataset", "speech_commands", "-split", "nonsensical_split:42", "-data-dir", tmp}, &bytes.Buffer{})
	require.ErrorIs(t, err, datasets.ErrUnrecognizedShift)

	err = runInspect([]string{"-dataset", "criteo", "-split", "1.5", "-data-dir", tmp}, &bytes.Buffer{})
	require.ErrorIs(t, err, datasets.ErrInvalidCorruptionLevel)

	err = runInspect([]string{"-dataset", "criteo", "-split", "NaN", "-data-dir", tmp}, &bytes.Buffer{})
	require.ErrorIs(t, err, datasets.ErrInvalidCorruptionLevel)

	err = runInspect([]string{"-dataset", "speech_commands", "-split", "pitch_shift:800", "-data-dir", tmp}, &bytes.Buffer{})
	require.ErrorIs(t, err, corruption.ErrInvalidParameter)

	err = runInspect([]string{"-dataset", "mnist"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "unknown dataset")

	err = runInspect([]string{"-config", filepath.Join(tmp, "cfg.yaml")}, &bytes.Buffer{})
	require.ErrorContains(t, err, ".json extension")

	require.Error(t, runConvert([]string{}, &bytes.Buffer{}))
}

func TestBaseOptionsPrecedence(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "cfg.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"criteo": {"data_dir": "/from/json", "batch_size": 64, "seed": 9}}`), 0o644))

	cfg, err := loadConfig(cfgPath)
	require.NoError(t, err)

	f, err := parseInspectFlags([]string{"-batch-size", "16"})
	require.NoError(t, err)
	opts, dataDir := f.baseOptions(cfg.Criteo)
	assert.Equal(t, "/from/json", dataDir)
	assert.Equal(t, 16, opts.BatchSize)
	assert.Equal(t, 64, opts.EvalBatchSize)
	assert.Equal(t, uint64(9), opts.Seed)
	assert.Equal(t, 1000, opts.ShuffleBufferSize)
}

func TestLabelCounts(t *testing.T) {
	assert.Equal(t, "0:2,3:1,11:1", labelCounts([]int32{11, 0, 3, 0}))
	assert.Equal(t, "", labelCounts(nil))
}
