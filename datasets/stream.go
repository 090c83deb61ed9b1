package datasets

import (
	"context"
	"io"
	"iter"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Batch is a collated batch that converts to gomlx input and label tensors.
type Batch interface {
	Len() int
	ToGomlxTensors() (inputs *tensors.Tensor, labels *tensors.Tensor, err error)
}

// Stream is a built split: a restartable sequence of batches. It implements
// gomlx's train.Dataset shape so it can feed a training loop directly.
type Stream[B Batch] struct {
	name    string
	batches func(ctx context.Context) iter.Seq2[B, error]

	next func() (B, error, bool)
	stop func()
}

func newStream[B Batch](name string, batches func(ctx context.Context) iter.Seq2[B, error]) *Stream[B] {
	return &Stream[B]{name: name, batches: batches}
}

// Name returns "<dataset>/<split>".
func (s *Stream[B]) Name() string { return s.name }

// All iterates every batch of the split. Each call starts over from the shards.
func (s *Stream[B]) All(ctx context.Context) iter.Seq2[B, error] {
	return s.batches(ctx)
}

// Take returns the first n batches.
func (s *Stream[B]) Take(ctx context.Context, n int) ([]B, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]B, 0, n)
	for b, err := range s.batches(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, b)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// Next returns the next batch of the current epoch, or io.EOF once the
// epoch is exhausted.
func (s *Stream[B]) Next() (B, error) {
	if s.next == nil {
		s.next, s.stop = iter.Pull2(s.batches(context.Background()))
	}
	b, err, ok := s.next()
	if !ok {
		var zero B
		return zero, io.EOF
	}
	return b, err
}

// Yield returns the next batch as gomlx tensors. It returns io.EOF at the
// end of the epoch; call Reset to start another.
func (s *Stream[B]) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := s.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	in, la, err := b.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{in}, []*tensors.Tensor{la}, nil
}

// Reset abandons the current epoch so the next Yield starts a new one.
func (s *Stream[B]) Reset() {
	if s.stop != nil {
		s.stop()
	}
	s.next, s.stop = nil, nil
}
