// Package pipeline streams serialized records from sharded TFRecord files
// through the stages a dataset needs: file listing, interleave, parallel
// parsing, shuffling and batching.
//
// Every stage is an iter.Seq2 whose error value terminates the stream, so a
// dataset is rebuilt from its shards simply by ranging over it again.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gpleiss/uncertainty-baselines/internal/monitoring"
	"github.com/gpleiss/uncertainty-baselines/tfrecord"
	"golang.org/x/sync/errgroup"
)

// ErrNoFiles is returned when a file pattern matches nothing.
var ErrNoFiles = errors.New("no files found")

// ListFiles returns the files matching pattern in lexical order, or shuffled
// with rng when shuffle is set.
func ListFiles(pattern string, shuffle bool, rng *rand.Rand) ([]string, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w matching pattern: %s", ErrNoFiles, pattern)
	}
	sort.Strings(files)
	if shuffle && rng != nil {
		rng.Shuffle(len(files), func(i, j int) {
			files[i], files[j] = files[j], files[i]
		})
	}
	monitoring.Logf("pipeline: %d files match %s", len(files), pattern)
	return files, nil
}

// Record is one serialized record with its position in the interleaved stream.
type Record struct {
	Seq  int64
	File string
	Data []byte
}

type shard struct {
	name string
	f    *os.File
	r    *tfrecord.Reader
}

func openShard(name string) (*shard, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	r, err := tfrecord.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &shard{name: name, f: f, r: r}, nil
}

func (s *shard) close() {
	s.r.Close()
	s.f.Close()
}

// Records reads files with cycleLength of them open at once, taking one
// record from each in turn. An exhausted file is replaced in its slot by the
// next unopened file.
func Records(ctx context.Context, files []string, cycleLength int) iter.Seq2[Record, error] {
	if cycleLength < 1 {
		cycleLength = 1
	}
	return func(yield func(Record, error) bool) {
		var slots []*shard
		defer func() {
			for _, s := range slots {
				s.close()
			}
		}()

		next := 0
		for len(slots) < cycleLength && next < len(files) {
			s, err := openShard(files[next])
			if err != nil {
				yield(Record{}, err)
				return
			}
			slots = append(slots, s)
			next++
		}

		var seq int64
		i := 0
		for len(slots) > 0 {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			if i >= len(slots) {
				i = 0
			}
			s := slots[i]
			data, err := s.r.Next()
			if err == io.EOF {
				s.close()
				if next < len(files) {
					ns, err := openShard(files[next])
					next++
					if err != nil {
						slots = append(slots[:i], slots[i+1:]...)
						yield(Record{}, err)
						return
					}
					slots[i] = ns
					continue
				}
				slots = append(slots[:i], slots[i+1:]...)
				continue
			}
			if err != nil {
				yield(Record{}, fmt.Errorf("%s: %w", s.name, err))
				return
			}
			if !yield(Record{Seq: seq, File: s.name, Data: data}, nil) {
				return
			}
			seq++
			i++
		}
	}
}

// MapFunc transforms one record. Returning keep == false drops the record.
type MapFunc[T any] func(rec Record) (v T, keep bool, err error)

// Map applies fn to the records of src on up to parallelism goroutines and
// yields the kept results in source order. At most 2*parallelism records are
// in flight. Stopping the iteration cancels the workers.
func Map[T any](ctx context.Context, src iter.Seq2[Record, error], parallelism int, fn MapFunc[T]) iter.Seq2[T, error] {
	if parallelism < 1 {
		parallelism = 1
	}
	return func(yield func(T, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)

		type result struct {
			seq  int64
			v    T
			keep bool
		}
		window := make(chan struct{}, 2*parallelism)
		records := make(chan Record, parallelism)
		results := make(chan result, parallelism)

		g.Go(func() error {
			defer close(records)
			var seq int64
			for rec, err := range src {
				if err != nil {
					return err
				}
				// Reordering below needs contiguous sequence numbers.
				rec.Seq = seq
				seq++
				select {
				case window <- struct{}{}:
				case <-gctx.Done():
					return gctx.Err()
				}
				select {
				case records <- rec:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})

		var wg sync.WaitGroup
		for range parallelism {
			wg.Add(1)
			g.Go(func() error {
				defer wg.Done()
				for rec := range records {
					v, keep, err := fn(rec)
					if err != nil {
						return fmt.Errorf("record %d of %s: %w", rec.Seq, rec.File, err)
					}
					select {
					case results <- result{seq: rec.Seq, v: v, keep: keep}:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}
		go func() {
			wg.Wait()
			close(results)
		}()

		pending := make(map[int64]result)
		var next int64
		stopped := false
	consume:
		for r := range results {
			pending[r.seq] = r
			for {
				p, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				<-window
				if p.keep && !yield(p.v, nil) {
					stopped = true
					break consume
				}
			}
		}

		if stopped {
			cancel()
			for range results {
			}
			g.Wait()
			return
		}
		if err := g.Wait(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// Shuffle yields the elements of seq in random order using a buffer of
// bufferSize elements: each output is drawn uniformly from the buffer and its
// slot refilled from seq. A bufferSize below 2 leaves the order unchanged.
func Shuffle[T any](seq iter.Seq2[T, error], bufferSize int, rng *rand.Rand) iter.Seq2[T, error] {
	if bufferSize < 2 || rng == nil {
		return seq
	}
	return func(yield func(T, error) bool) {
		buf := make([]T, 0, bufferSize)
		for v, err := range seq {
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if len(buf) < bufferSize {
				buf = append(buf, v)
				continue
			}
			i := rng.IntN(len(buf))
			out := buf[i]
			buf[i] = v
			if !yield(out, nil) {
				return
			}
		}
		for len(buf) > 0 {
			i := rng.IntN(len(buf))
			out := buf[i]
			last := len(buf) - 1
			buf[i] = buf[last]
			buf = buf[:last]
			if !yield(out, nil) {
				return
			}
		}
	}
}

// Batch groups consecutive elements of seq into slices of size elements. The
// final short batch is yielded unless dropRemainder is set.
func Batch[T any](seq iter.Seq2[T, error], size int, dropRemainder bool) iter.Seq2[[]T, error] {
	if size < 1 {
		size = 1
	}
	return func(yield func([]T, error) bool) {
		batch := make([]T, 0, size)
		for v, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			batch = append(batch, v)
			if len(batch) == size {
				if !yield(batch, nil) {
					return
				}
				batch = make([]T, 0, size)
			}
		}
		if len(batch) > 0 && !dropRemainder {
			yield(batch, nil)
		}
	}
}
