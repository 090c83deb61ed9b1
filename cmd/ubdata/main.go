// Command ubdata inspects the Criteo and Speech Commands dataset adapters and
// converts raw Criteo TSV files into TFRecord shards.
//
//	ubdata inspect -dataset speech_commands -split white_noise:-5 -batches 2 -plot wave.png
//	ubdata convert-criteo -in day_0.tsv -out data/criteo -split train -shards 16
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/gpleiss/uncertainty-baselines/datasets"
	"github.com/gpleiss/uncertainty-baselines/internal/config"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <inspect|convert-criteo> [flags]\n", filepath.Base(os.Args[0]))
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "inspect":
		err = runInspect(os.Args[2:], os.Stdout)
	case "convert-criteo":
		err = runConvert(os.Args[2:], os.Stdout)
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

type inspectFlags struct {
	dataset       string
	split         string
	dataDir       string
	configPath    string
	batches       int
	batchSize     int
	evalBatchSize int
	seed          uint64
	plotPath      string
	set           map[string]bool
}

func parseInspectFlags(args []string) (*inspectFlags, error) {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	f := &inspectFlags{set: make(map[string]bool)}
	fs.StringVar(&f.dataset, "dataset", "speech_commands", "dataset to read: criteo or speech_commands")
	fs.StringVar(&f.split, "split", "test", "split: train, validation, test, a corruption level (criteo) or method:param (speech_commands)")
	fs.StringVar(&f.dataDir, "data-dir", "", "directory holding the shards (overrides JSON if provided)")
	fs.StringVar(&f.configPath, "config", "", "path to JSON configuration file (optional)")
	fs.IntVar(&f.batches, "batches", 1, "number of batches to print")
	fs.IntVar(&f.batchSize, "batch-size", 0, "training batch size (overrides JSON if provided)")
	fs.IntVar(&f.evalBatchSize, "eval-batch-size", 0, "evaluation batch size (overrides JSON if provided)")
	fs.Uint64Var(&f.seed, "seed", 0, "random seed, 0 picks one")
	fs.StringVar(&f.plotPath, "plot", "", "if set, write a PNG of the first example to this path")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// baseOptions merges the dataset's config section with the flags that were
// set explicitly on the command line.
func (f *inspectFlags) baseOptions(section config.DatasetConfig) (datasets.BaseOptions, string) {
	opts := datasets.BaseOptions{
		ShuffleBufferSize:      section.GetShuffleBufferSize(),
		NumParallelParserCalls: section.GetNumParallelParserCalls(),
		BatchSize:              section.GetBatchSize(),
		EvalBatchSize:          section.GetEvalBatchSize(),
		Seed:                   section.GetSeed(),
	}
	dataDir := section.GetDataDir()
	if f.set["data-dir"] {
		dataDir = f.dataDir
	}
	if f.set["batch-size"] {
		opts.BatchSize = f.batchSize
	}
	if f.set["eval-batch-size"] {
		opts.EvalBatchSize = f.evalBatchSize
	}
	if f.set["seed"] {
		opts.Seed = f.seed
	}
	return opts, dataDir
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

func runInspect(args []string, out io.Writer) error {
	f, err := parseInspectFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	split, err := datasets.ParseSplit(f.split)
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch f.dataset {
	case "criteo":
		opts, dataDir := f.baseOptions(cfg.Criteo)
		ds, err := datasets.NewCriteoDataset(split, datasets.CriteoOptions{BaseOptions: opts, DataDir: dataDir})
		if err != nil {
			return err
		}
		batches, err := ds.Build().Take(ctx, f.batches)
		if err != nil {
			return err
		}
		for i, b := range batches {
			fmt.Fprintf(out, "batch %d: size=%d labels=%s\n", i, b.Len(), labelCounts(b.Labels))
			fmt.Fprintf(out, "  numeric[0]=%v\n  categorical[0]=%q\n", b.Numeric[0], b.Categorical[0])
		}
		if f.plotPath != "" && len(batches) > 0 {
			return plotFeatureHistogram(f.plotPath, batches, 1)
		}
	case "speech_commands":
		opts, dataDir := f.baseOptions(cfg.SpeechCommands)
		ds, err := datasets.NewSpeechCommandsDataset(datasets.SpeechCommandsOptions{BaseOptions: opts, DataDir: dataDir})
		if err != nil {
			return err
		}
		stream, err := ds.Build(split)
		if err != nil {
			return err
		}
		batches, err := stream.Take(ctx, f.batches)
		if err != nil {
			return err
		}
		for i, b := range batches {
			fmt.Fprintf(out, "batch %d: size=%d labels=%s\n", i, b.Len(), labelCounts(b.Labels))
		}
		if f.plotPath != "" && len(batches) > 0 {
			first := batches[0]
			title := fmt.Sprintf("%s %s: %s", ds.Name(), split, datasets.SpeechCommandsLabels[first.Labels[0]])
			return plotWaveform(f.plotPath, title, first.Audio[0])
		}
	default:
		return fmt.Errorf("unknown dataset %q", f.dataset)
	}
	return nil
}

func runConvert(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("convert-criteo", flag.ContinueOnError)
	in := fs.String("in", "", "tab-separated Criteo file to convert (.gz and .xz are decompressed)")
	outDir := fs.String("out", "data/criteo", "output directory for the shards")
	split := fs.String("split", "train", "canonical split the rows belong to")
	shards := fs.Int("shards", 1, "number of shards to write")
	compress := fs.Bool("gzip", false, "gzip-compress the shards")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	r, err := datasets.OpenCriteoTSV(*in)
	if err != nil {
		return err
	}
	defer r.Close()

	n, err := datasets.WriteCriteoShards(r, *outDir, *split, *shards, *compress)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d rows to %d %s shards in %s\n", n, *shards, *split, *outDir)
	return nil
}

// labelCounts renders a label histogram as "label:count" pairs in label order.
func labelCounts(labels []int32) string {
	counts := make(map[int32]int)
	for _, l := range labels {
		counts[l]++
	}
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%d:%d", k, counts[int32(k)])
	}
	return s
}

// plotWaveform writes a PNG of one waveform, time in seconds on X.
func plotWaveform(path, title string, audio []float32) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "amplitude"

	xys := make(plotter.XYs, len(audio))
	for i, v := range audio {
		xys[i] = plotter.XY{X: float64(i) / datasets.SampleRate, Y: float64(v)}
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	line.Width = vg.Points(0.5)
	p.Add(line, plotter.NewGrid())

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}

// plotFeatureHistogram writes a histogram of numeric Criteo feature idx over
// the given batches.
func plotFeatureHistogram(path string, batches []*datasets.CriteoBatch, idx int) error {
	var vals plotter.Values
	for _, b := range batches {
		for _, row := range b.Numeric {
			vals = append(vals, float64(row[idx-1]))
		}
	}
	p := plot.New()
	p.Title.Text = datasets.FeatureName(idx)
	p.Y.Label.Text = "count"

	h, err := plotter.NewHist(vals, 20)
	if err != nil {
		return err
	}
	h.FillColor = color.RGBA{R: 120, G: 120, B: 120, A: 180}
	p.Add(h)

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
