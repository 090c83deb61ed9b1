package datasets

import (
	"context"
	"fmt"
	"iter"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gpleiss/uncertainty-baselines/corruption"
	"github.com/gpleiss/uncertainty-baselines/pipeline"
	"github.com/gpleiss/uncertainty-baselines/tfexample"
)

// Speech Commands constants.
const (
	// AudioLength is the number of samples per example: one second at SampleRate.
	AudioLength = 16000
	SampleRate  = 16000
	NumClasses  = 12

	// SilenceLabel and UnknownLabel are the two non-word classes. Unknown
	// words are held out of the in-distribution splits.
	SilenceLabel = 10
	UnknownLabel = 11

	// SemanticShift selects the unknown-word examples of the test split.
	SemanticShift = "semantic_shift"
)

// SpeechCommandsLabels are the class names in label order.
var SpeechCommandsLabels = []string{
	"down", "go", "left", "no", "off", "on", "right", "stop", "up", "yes",
	"_silence_", "_unknown_",
}

const speechCommandsCitation = `
@article{speechcommandsv2,
   author = {{Warden}, P.},
    title = "{Speech Commands: A Dataset for Limited-Vocabulary Speech Recognition}",
  journal = {ArXiv e-prints},
  archivePrefix = "arXiv",
  eprint = {1804.03209},
  primaryClass = "cs.CL",
  keywords = {Computer Science - Computation and Language, Computer Science - Human-Computer Interaction},
    year = 2018,
    month = apr,
    url = {https://arxiv.org/abs/1804.03209},
}
`

func speechCommandsSpec() tfexample.Spec {
	return tfexample.Spec{
		"audio": tfexample.VarLen(tfexample.Int64),
		"label": tfexample.FixedLen([]int{}, tfexample.Int64),
	}
}

func speechCommandsInfo() *Info {
	return &Info{
		Name:        "speech_commands",
		Version:     "0.0.2",
		Description: "An audio dataset of spoken words designed to help train and evaluate keyword spotting systems.",
		Homepage:    "https://arxiv.org/abs/1804.03209",
		Citation:    speechCommandsCitation,
		Features: map[string]FeatureInfo{
			"audio": {DType: tfexample.Int64},
			"label": {DType: tfexample.Int64, Shape: []int{}, NumClasses: NumClasses},
		},
		Splits: map[string]SplitInfo{
			Train:      {Name: Train, ShardLengths: []int64{85_511}},
			Validation: {Name: Validation, ShardLengths: []int64{10_102}},
			Test:       {Name: Test, ShardLengths: []int64{4_890}},
		},
	}
}

// SpeechCommandsOptions configures a SpeechCommandsDataset.
type SpeechCommandsOptions struct {
	BaseOptions
	DataDir string
	TryGCS  bool
}

// AudioExample is one waveform of AudioLength samples in int16 units.
type AudioExample struct {
	Audio []float32
	Label int32
}

// SpeechCommandsDataset reads the Speech Commands keyword-spotting dataset.
type SpeechCommandsDataset struct {
	*Base[AudioExample]
}

// NewSpeechCommandsDataset creates the dataset. Splits are chosen at Build.
func NewSpeechCommandsDataset(opts SpeechCommandsOptions) (*SpeechCommandsDataset, error) {
	dataDir, err := DataDir(opts.DataDir, "speech_commands", opts.TryGCS)
	if err != nil {
		return nil, err
	}
	builder := &shardBuilder{dataDir: dataDir, info: speechCommandsInfo()}
	return &SpeechCommandsDataset{
		Base: newBase[AudioExample]("speech_commands", builder, opts.BaseOptions.withDefaults(8)),
	}, nil
}

// audioTransform describes how a split is derived from a canonical split.
type audioTransform struct {
	readSplit string
	semantic  bool
	method    string
	param     float64
}

func resolveAudioSplit(split Split) (audioTransform, error) {
	switch split.Kind {
	case Canonical:
		name, ok := canonicalName(split.Name)
		if !ok {
			return audioTransform{}, fmt.Errorf("%w: %s", ErrUnsupportedSplit, split)
		}
		return audioTransform{readSplit: name}, nil
	case Shift:
		if split.Name == SemanticShift {
			if len(split.Params) != 0 {
				return audioTransform{}, fmt.Errorf("%w: %s takes no parameter", ErrUnsupportedSplit, SemanticShift)
			}
			return audioTransform{readSplit: Test, semantic: true}, nil
		}
		if err := corruption.Validate(split.Name); err != nil {
			return audioTransform{}, fmt.Errorf("%w: %s", ErrUnrecognizedShift, split.Name)
		}
		if len(split.Params) != 1 {
			return audioTransform{}, fmt.Errorf("%w: %s needs exactly one parameter, got %d",
				ErrUnsupportedSplit, split.Name, len(split.Params))
		}
		if err := corruption.ValidateParameter(split.Name, split.Params[0]); err != nil {
			return audioTransform{}, fmt.Errorf("split %s: %w", split, err)
		}
		return audioTransform{readSplit: Test, method: split.Name, param: split.Params[0]}, nil
	}
	return audioTransform{}, fmt.Errorf("%w: %s", ErrUnsupportedSplit, split)
}

// Build returns the batched split. Split errors are reported here, before
// any shard is opened.
func (d *SpeechCommandsDataset) Build(split Split) (*Stream[*AudioBatch], error) {
	tr, err := resolveAudioSplit(split)
	if err != nil {
		return nil, err
	}
	parse := d.parser(tr)
	return newStream(d.name+"/"+split.String(), func(ctx context.Context) iter.Seq2[*AudioBatch, error] {
		return func(yield func(*AudioBatch, error) bool) {
			for examples, err := range d.batches(ctx, tr.readSplit, parse) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(MakeAudioBatch(examples), nil) {
					return
				}
			}
		}
	}), nil
}

// parser returns the record preprocessing function for a resolved split.
func (d *SpeechCommandsDataset) parser(tr audioTransform) pipeline.MapFunc[AudioExample] {
	spec := speechCommandsSpec()
	return func(rec pipeline.Record) (AudioExample, bool, error) {
		ex, err := tfexample.Unmarshal(rec.Data)
		if err != nil {
			return AudioExample{}, false, err
		}
		parsed, err := tfexample.ParseExample(ex, spec)
		if err != nil {
			return AudioExample{}, false, err
		}

		label := parsed["label"].Int64()
		if label < 0 || label >= NumClasses {
			return AudioExample{}, false, fmt.Errorf("label %d out of range [0, %d)", label, NumClasses)
		}
		if (label == UnknownLabel) != tr.semantic {
			return AudioExample{}, false, nil
		}

		audio := fitLength(parsed["audio"].Int64s, AudioLength)
		if tr.method != "" {
			audio, err = corruption.Apply(tr.method, tr.param, audio, SampleRate, d.exampleRNG(rec))
			if err != nil {
				return AudioExample{}, false, err
			}
		}

		out := make([]float32, len(audio))
		for i, v := range audio {
			out[i] = float32(v)
		}
		return AudioExample{Audio: out, Label: int32(label)}, true, nil
	}
}

// fitLength converts samples to float64, zero-padding or cropping to n.
func fitLength(samples []int64, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n && i < len(samples); i++ {
		out[i] = float64(samples[i])
	}
	return out
}

// AudioBatch stores a batch of waveforms and labels.
type AudioBatch struct {
	// Audio is [batch][AudioLength].
	Audio  [][]float32
	Labels []int32
}

// MakeAudioBatch collates examples into an AudioBatch.
func MakeAudioBatch(examples []AudioExample) *AudioBatch {
	b := &AudioBatch{
		Audio:  make([][]float32, len(examples)),
		Labels: make([]int32, len(examples)),
	}
	for i, ex := range examples {
		b.Audio[i] = ex.Audio
		b.Labels[i] = ex.Label
	}
	return b
}

// Len returns the batch size.
func (b *AudioBatch) Len() int { return len(b.Labels) }

// ToGomlxTensors converts the batch to a [batch, AudioLength] float32 tensor
// and a [batch] int32 label tensor.
func (b *AudioBatch) ToGomlxTensors() (*tensors.Tensor, *tensors.Tensor, error) {
	if b.Len() == 0 {
		return nil, nil, fmt.Errorf("cannot convert an empty batch to tensors")
	}
	for i, a := range b.Audio {
		if len(a) != AudioLength {
			return nil, nil, fmt.Errorf("inconsistent audio length at example %d: expected %d, got %d",
				i, AudioLength, len(a))
		}
	}
	return tensors.FromAnyValue(b.Audio), tensors.FromAnyValue(b.Labels), nil
}
