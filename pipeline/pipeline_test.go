package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/gpleiss/uncertainty-baselines/tfrecord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeShard writes string records to dir/name and returns the path.
func writeShard(t *testing.T, dir, name string, records ...string) string {
	t.Helper()
	data := make([][]byte, len(records))
	for i, r := range records {
		data[i] = []byte(r)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, tfrecord.WriteFile(path, data, false))
	return path
}

func collect(t *testing.T, seq iter.Seq2[Record, error]) []string {
	t.Helper()
	var out []string
	for rec, err := range seq {
		require.NoError(t, err)
		out = append(out, string(rec.Data))
	}
	return out
}

func intSeq(n int) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		for i := range n {
			if !yield(i, nil) {
				return
			}
		}
	}
}

func TestListFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeShard(t, dir, "train-00001-of-00002", "x")
	writeShard(t, dir, "train-00000-of-00002", "y")
	writeShard(t, dir, "test-00000-of-00001", "z")

	files, err := ListFiles(filepath.Join(dir, "train-*-of-*"), false, nil)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "train-00000-of-00002", filepath.Base(files[0]))
	assert.Equal(t, "train-00001-of-00002", filepath.Base(files[1]))

	_, err = ListFiles(filepath.Join(dir, "validation-*-of-*"), false, nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestRecordsInterleave(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	files := []string{
		writeShard(t, dir, "a", "a0", "a1", "a2"),
		writeShard(t, dir, "b", "b0"),
		writeShard(t, dir, "c", "c0", "c1"),
	}

	ctx := context.Background()
	assert.Equal(t, []string{"a0", "a1", "a2", "b0", "c0", "c1"}, collect(t, Records(ctx, files, 1)))
	assert.Equal(t, []string{"a0", "b0", "a1", "c0", "a2", "c1"}, collect(t, Records(ctx, files, 2)))
	assert.Equal(t, []string{"a0", "b0", "c0", "a1", "c1", "a2"}, collect(t, Records(ctx, files, 10)))

	var seqs []int64
	for rec, err := range Records(ctx, files, 2) {
		require.NoError(t, err)
		seqs = append(seqs, rec.Seq)
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, seqs)
}

func TestRecordsMissingFile(t *testing.T) {
	t.Parallel()
	var gotErr error
	for _, err := range Records(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, 1) {
		gotErr = err
	}
	assert.Error(t, gotErr)
}

func TestMapPreservesOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var recs []string
	for i := range 200 {
		recs = append(recs, strconv.Itoa(i))
	}
	files := []string{writeShard(t, dir, "train-00000-of-00001", recs...)}

	ctx := context.Background()
	mapped := Map(ctx, Records(ctx, files, 1), 8, func(rec Record) (int, bool, error) {
		n, err := strconv.Atoi(string(rec.Data))
		if err != nil {
			return 0, false, err
		}
		time.Sleep(time.Duration(rand.IntN(200)) * time.Microsecond)
		return n, n%2 == 0, nil
	})

	var got []int
	for v, err := range mapped {
		require.NoError(t, err)
		got = append(got, v)
	}
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, 2*i, v)
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	files := []string{writeShard(t, dir, "s", "1", "2", "bad", "4")}

	ctx := context.Background()
	mapped := Map(ctx, Records(ctx, files, 1), 4, func(rec Record) (int, bool, error) {
		n, err := strconv.Atoi(string(rec.Data))
		return n, true, err
	})
	var gotErr error
	for _, err := range mapped {
		if err != nil {
			gotErr = err
		}
	}
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "record 2")
}

func TestMapEarlyStop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var recs []string
	for i := range 1000 {
		recs = append(recs, fmt.Sprint(i))
	}
	files := []string{writeShard(t, dir, "s", recs...)}

	ctx := context.Background()
	mapped := Map(ctx, Records(ctx, files, 1), 4, func(rec Record) (string, bool, error) {
		return string(rec.Data), true, nil
	})
	var got []string
	for v, err := range mapped {
		require.NoError(t, err)
		got = append(got, v)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"0", "1", "2"}, got)
}

func TestMapCancelled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	files := []string{writeShard(t, dir, "s", "a", "b")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var gotErr error
	for _, err := range Map(ctx, Records(ctx, files, 1), 2, func(rec Record) (string, bool, error) {
		return string(rec.Data), true, nil
	}) {
		if err != nil {
			gotErr = err
		}
	}
	assert.True(t, errors.Is(gotErr, context.Canceled), "got %v", gotErr)
}

func TestShuffle(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))

	var got []int
	for v, err := range Shuffle(intSeq(100), 50, rng) {
		require.NoError(t, err)
		got = append(got, v)
	}
	require.Len(t, got, 100)
	assert.False(t, slices.IsSorted(got), "shuffle left order unchanged")

	sorted := slices.Clone(got)
	slices.Sort(sorted)
	for i, v := range sorted {
		require.Equal(t, i, v)
	}

	var same []int
	for v, err := range Shuffle(intSeq(5), 0, rng) {
		require.NoError(t, err)
		same = append(same, v)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, same)
}

func TestBatch(t *testing.T) {
	t.Parallel()

	var sizes []int
	for b, err := range Batch(intSeq(10), 4, false) {
		require.NoError(t, err)
		sizes = append(sizes, len(b))
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)

	sizes = nil
	for b, err := range Batch(intSeq(10), 4, true) {
		require.NoError(t, err)
		sizes = append(sizes, len(b))
	}
	assert.Equal(t, []int{4, 4}, sizes)
}
