package datasets

import (
	"context"
	"iter"
	"math/rand/v2"
	"sync/atomic"

	"github.com/gpleiss/uncertainty-baselines/pipeline"
)

// trainCycleLength is the number of training shards read concurrently.
// Evaluation splits read one shard at a time so their order is stable.
const trainCycleLength = 10

// BaseOptions are the loader parameters shared by every dataset.
type BaseOptions struct {
	// ShuffleBufferSize is the number of examples in the training shuffle buffer.
	ShuffleBufferSize int
	// NumParallelParserCalls bounds the goroutines parsing records.
	NumParallelParserCalls int
	// BatchSize is used for the training split.
	BatchSize int
	// EvalBatchSize is used for every other split.
	EvalBatchSize int
	// Seed makes file order, shuffling and per-example randomness
	// reproducible. Zero picks a random seed.
	Seed uint64
}

func (o BaseOptions) withDefaults(parserCalls int) BaseOptions {
	if o.NumParallelParserCalls <= 0 {
		o.NumParallelParserCalls = parserCalls
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.EvalBatchSize <= 0 {
		o.EvalBatchSize = o.BatchSize
	}
	if o.Seed == 0 {
		o.Seed = rand.Uint64()
	}
	return o
}

// Base holds what every dataset needs to turn a canonical split into a stream
// of preprocessed elements of type E.
type Base[E any] struct {
	name    string
	builder Builder
	opts    BaseOptions
	epoch   atomic.Uint64
}

func newBase[E any](name string, builder Builder, opts BaseOptions) *Base[E] {
	return &Base[E]{name: name, builder: builder, opts: opts}
}

// Name returns the dataset name.
func (b *Base[E]) Name() string { return b.name }

// Info returns the dataset descriptor.
func (b *Base[E]) Info() *Info { return b.builder.Info() }

// Options returns the resolved loader parameters.
func (b *Base[E]) Options() BaseOptions { return b.opts }

// DownloadAndPrepare delegates to the builder.
func (b *Base[E]) DownloadAndPrepare(ctx context.Context) error {
	return b.builder.DownloadAndPrepare(ctx)
}

// exampleRNG returns the random source for one record. It depends only on
// the seed and the record's position, not on which worker parses it.
func (b *Base[E]) exampleRNG(rec pipeline.Record) *rand.Rand {
	return rand.New(rand.NewPCG(b.opts.Seed, uint64(rec.Seq)))
}

// elements streams the preprocessed elements of a canonical split. Training
// shards are read in shuffled order, interleaved, and the elements pass
// through the shuffle buffer; each iteration reshuffles.
func (b *Base[E]) elements(ctx context.Context, split string, fn pipeline.MapFunc[E]) iter.Seq2[E, error] {
	return func(yield func(E, error) bool) {
		var zero E
		pattern, err := b.builder.FilePattern(split)
		if err != nil {
			yield(zero, err)
			return
		}

		training := split == Train
		var rng *rand.Rand
		cycle := 1
		if training {
			rng = rand.New(rand.NewPCG(b.opts.Seed, b.epoch.Add(1)))
			cycle = trainCycleLength
		}

		files, err := pipeline.ListFiles(pattern, training, rng)
		if err != nil {
			yield(zero, err)
			return
		}

		seq := pipeline.Map(ctx, pipeline.Records(ctx, files, cycle), b.opts.NumParallelParserCalls, fn)
		if training {
			seq = pipeline.Shuffle(seq, b.opts.ShuffleBufferSize, rng)
		}
		for v, err := range seq {
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// batches groups elements into batches of BatchSize for the training split,
// dropping the incomplete final batch, and of EvalBatchSize otherwise.
func (b *Base[E]) batches(ctx context.Context, split string, fn pipeline.MapFunc[E]) iter.Seq2[[]E, error] {
	if split == Train {
		return pipeline.Batch(b.elements(ctx, split, fn), b.opts.BatchSize, true)
	}
	return pipeline.Batch(b.elements(ctx, split, fn), b.opts.EvalBatchSize, false)
}
