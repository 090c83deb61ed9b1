package datasets

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gpleiss/uncertainty-baselines/internal/monitoring"
	"github.com/gpleiss/uncertainty-baselines/pipeline"
	"github.com/gpleiss/uncertainty-baselines/tfexample"
)

// Criteo feature counts.
const (
	NumIntFeatures   = 13
	NumCatFeatures   = 26
	NumTotalFeatures = NumIntFeatures + NumCatFeatures
)

const (
	criteoLabelKey = "clicked"
	intKeyTmpl     = "int-feature-%d"
	catKeyTmpl     = "categorical-feature-%d"

	// randomTokenRange bounds the random categorical tokens, rendered as
	// 8 decimal digits.
	randomTokenRange = 99999999
)

const criteoCitation = `
@article{criteo,
  title = {Display Advertising Challenge},
  url = {https://www.kaggle.com/c/criteo-display-ad-challenge.},
}
`

// FeatureName returns the record key of the idx-th Criteo feature,
// 1 <= idx <= NumTotalFeatures. Indices up to NumIntFeatures are numeric.
func FeatureName(idx int) string {
	if idx < 1 || idx > NumTotalFeatures {
		panic(fmt.Sprintf("criteo feature index %d out of range [1, %d]", idx, NumTotalFeatures))
	}
	if idx <= NumIntFeatures {
		return fmt.Sprintf(intKeyTmpl, idx)
	}
	return fmt.Sprintf(catKeyTmpl, idx)
}

// CriteoFeaturesSpec returns the parsing schema of a Criteo record.
func CriteoFeaturesSpec() tfexample.Spec {
	spec := tfexample.Spec{
		criteoLabelKey: tfexample.FixedLen([]int{1}, tfexample.Float32),
	}
	for idx := 1; idx <= NumIntFeatures; idx++ {
		spec[FeatureName(idx)] = tfexample.FixedLenDefault([]int{1}, tfexample.Float32, -1)
	}
	for idx := NumIntFeatures + 1; idx <= NumTotalFeatures; idx++ {
		spec[FeatureName(idx)] = tfexample.FixedLenDefault([]int{1}, tfexample.String, "")
	}
	return spec
}

// ApplyRandomization replaces each categorical feature, independently with
// probability p, by a uniformly random 8-digit numeric token.
func ApplyRandomization(features map[string]tfexample.Value, p float64, rng *rand.Rand) error {
	if !(p >= 0 && p <= 1) {
		return fmt.Errorf("%w: %v", ErrInvalidCorruptionLevel, p)
	}
	for idx := NumIntFeatures + 1; idx <= NumTotalFeatures; idx++ {
		key := FeatureName(idx)
		if rng.Float64() < p {
			features[key] = tfexample.ScalarString(fmt.Sprintf("%08d", rng.IntN(randomTokenRange)))
		}
	}
	return nil
}

func criteoInfo() *Info {
	features := map[string]FeatureInfo{
		criteoLabelKey: {DType: tfexample.Int64, Shape: []int{}, NumClasses: 2},
	}
	for idx := 1; idx <= NumIntFeatures; idx++ {
		features[FeatureName(idx)] = FeatureInfo{DType: tfexample.Float32, Shape: []int{1}}
	}
	for idx := NumIntFeatures + 1; idx <= NumTotalFeatures; idx++ {
		features[FeatureName(idx)] = FeatureInfo{DType: tfexample.String, Shape: []int{1}}
	}
	// A single shard length per split; the real per-file counts are not recorded.
	return &Info{
		Name:        "criteo",
		Version:     "0.0.0",
		Description: "Criteo Display Advertising Challenge",
		Homepage:    "https://www.kaggle.com/c/criteo-display-ad-challenge/data",
		Citation:    criteoCitation,
		Features:    features,
		Splits: map[string]SplitInfo{
			Train:      {Name: Train, ShardLengths: []int64{37_000_000}},
			Validation: {Name: Validation, ShardLengths: []int64{4_420_308}},
			Test:       {Name: Test, ShardLengths: []int64{4_420_309}},
		},
	}
}

// CriteoOptions configures a CriteoDataset.
type CriteoOptions struct {
	BaseOptions
	// DataDir holds the train-*-of-*, validation-*-of-* and test-*-of-* shards.
	DataDir string
	// TryGCS requests the remotely stored copy. Unsupported.
	TryGCS bool
}

// CriteoExample is one parsed Criteo record.
type CriteoExample struct {
	// Features maps the 39 feature names to scalar values: float32 for the
	// numeric features and string for the categorical ones.
	Features map[string]tfexample.Value
	Label    int32
}

// CriteoDataset reads one split of the Criteo click-through dataset.
type CriteoDataset struct {
	*Base[CriteoExample]
	split           Split
	readSplit       string
	corruptionLevel float64
	corrupt         bool
}

// NewCriteoDataset creates a Criteo dataset for split. A CorruptionLevel split
// reads the test shards and randomizes categorical features with that
// probability; it must lie in [0, 1].
func NewCriteoDataset(split Split, opts CriteoOptions) (*CriteoDataset, error) {
	dataDir, err := DataDir(opts.DataDir, "criteo", opts.TryGCS)
	if err != nil {
		return nil, err
	}

	d := &CriteoDataset{split: split}
	switch split.Kind {
	case CorruptionLevel:
		if !(split.Level >= 0 && split.Level <= 1) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCorruptionLevel, split.Level)
		}
		d.corrupt = true
		d.corruptionLevel = split.Level
		d.readSplit = Test
		monitoring.Logf("criteo: corruption level %v, reading test split", split.Level)
	case Canonical:
		name, ok := canonicalName(split.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedSplit, split)
		}
		d.readSplit = name
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSplit, split)
	}

	builder := &shardBuilder{dataDir: dataDir, info: criteoInfo()}
	d.Base = newBase[CriteoExample]("criteo", builder, opts.BaseOptions.withDefaults(64))
	return d, nil
}

// Split returns the split the dataset was created for.
func (d *CriteoDataset) Split() Split { return d.split }

// Examples streams the parsed examples of the split without batching.
func (d *CriteoDataset) Examples(ctx context.Context) iter.Seq2[CriteoExample, error] {
	return d.elements(ctx, d.readSplit, d.parse)
}

// Build returns the batched split. Training batches use BatchSize, all other
// splits EvalBatchSize.
func (d *CriteoDataset) Build() *Stream[*CriteoBatch] {
	return newStream(d.name+"/"+d.split.String(), func(ctx context.Context) iter.Seq2[*CriteoBatch, error] {
		return func(yield func(*CriteoBatch, error) bool) {
			for examples, err := range d.batches(ctx, d.readSplit, d.parse) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(MakeCriteoBatch(examples), nil) {
					return
				}
			}
		}
	})
}

// parse decodes a serialized tf.train.Example into features and label.
func (d *CriteoDataset) parse(rec pipeline.Record) (CriteoExample, bool, error) {
	ex, err := tfexample.Unmarshal(rec.Data)
	if err != nil {
		return CriteoExample{}, false, err
	}
	parsed, err := tfexample.ParseExample(ex, CriteoFeaturesSpec())
	if err != nil {
		return CriteoExample{}, false, err
	}

	features := make(map[string]tfexample.Value, NumTotalFeatures)
	for k, v := range parsed {
		features[k] = v.Squeeze()
	}
	label := int32(features[criteoLabelKey].Float32())
	delete(features, criteoLabelKey)

	if d.corrupt {
		if err := ApplyRandomization(features, d.corruptionLevel, d.exampleRNG(rec)); err != nil {
			return CriteoExample{}, false, err
		}
	}
	return CriteoExample{Features: features, Label: label}, true, nil
}

// CriteoBatch stores a batch column-wise.
type CriteoBatch struct {
	// Numeric is [batch][NumIntFeatures], in feature index order.
	Numeric [][]float32
	// Categorical is [batch][NumCatFeatures], in feature index order.
	Categorical [][]string
	Labels      []int32
}

// MakeCriteoBatch collates examples into a CriteoBatch.
func MakeCriteoBatch(examples []CriteoExample) *CriteoBatch {
	b := &CriteoBatch{
		Numeric:     make([][]float32, len(examples)),
		Categorical: make([][]string, len(examples)),
		Labels:      make([]int32, len(examples)),
	}
	for i, ex := range examples {
		num := make([]float32, NumIntFeatures)
		for j := range num {
			num[j] = ex.Features[FeatureName(j+1)].Float32()
		}
		cat := make([]string, NumCatFeatures)
		for j := range cat {
			cat[j] = ex.Features[FeatureName(NumIntFeatures+j+1)].String()
		}
		b.Numeric[i] = num
		b.Categorical[i] = cat
		b.Labels[i] = ex.Label
	}
	return b
}

// Len returns the batch size.
func (b *CriteoBatch) Len() int { return len(b.Labels) }

// ToGomlxTensors converts the numeric features to a [batch, 13] float32 tensor
// and the labels to a [batch] int32 tensor. Categorical strings have no
// tensor representation and stay in Categorical.
func (b *CriteoBatch) ToGomlxTensors() (*tensors.Tensor, *tensors.Tensor, error) {
	if b.Len() == 0 {
		return nil, nil, fmt.Errorf("cannot convert an empty batch to tensors")
	}
	for i, row := range b.Numeric {
		if len(row) != NumIntFeatures {
			return nil, nil, fmt.Errorf("inconsistent numeric dimensions at example %d: expected %d, got %d",
				i, NumIntFeatures, len(row))
		}
	}
	return tensors.FromAnyValue(b.Numeric), tensors.FromAnyValue(b.Labels), nil
}
