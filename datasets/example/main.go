package main

// Example command that demonstrates building the Criteo and Speech Commands
// splits from local TFRecord shards and converting a batch of each into
// gomlx tensors.
//
// The datasets are lazy: Build only records which shards to read, and the
// shards are opened when the first batch is requested.
//
// Usage:
//   go run ./example -criteo ../data/criteo -speech ../data/speech_commands
//
// Either directory may be omitted; the corresponding section is skipped.

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/gpleiss/uncertainty-baselines/datasets"
)

func main() {
	criteoDir := flag.String("criteo", "", "directory with Criteo train/validation/test shards")
	speechDir := flag.String("speech", "", "directory with Speech Commands shards")
	flag.Parse()

	ctx := context.Background()
	opts := datasets.BaseOptions{BatchSize: 8, EvalBatchSize: 4, Seed: 1}

	if *criteoDir != "" {
		// A float split reads the test shards and randomizes a quarter of the
		// categorical features.
		criteo, err := datasets.NewCriteoDataset(datasets.Level(0.25), datasets.CriteoOptions{
			BaseOptions: opts,
			DataDir:     *criteoDir,
		})
		if err != nil {
			log.Fatalf("failed to create criteo dataset: %v", err)
		}
		batches, err := criteo.Build().Take(ctx, 1)
		if err != nil {
			log.Fatalf("failed to read criteo batch: %v", err)
		}
		if len(batches) == 0 {
			log.Fatalf("criteo split %s has no examples", criteo.Split())
		}
		b := batches[0]
		inT, laT, err := b.ToGomlxTensors()
		if err != nil {
			log.Fatalf("failed to convert criteo batch to gomlx tensors: %v", err)
		}
		fmt.Printf("Criteo batch of %d examples\n", b.Len())
		fmt.Printf("  Numeric tensor: %s, label tensor: %s\n", inT.Shape(), laT.Shape())
		fmt.Printf("  First example categorical features: %q\n", b.Categorical[0])
		fmt.Println()
	}

	if *speechDir != "" {
		speech, err := datasets.NewSpeechCommandsDataset(datasets.SpeechCommandsOptions{
			BaseOptions: opts,
			DataDir:     *speechDir,
		})
		if err != nil {
			log.Fatalf("failed to create speech_commands dataset: %v", err)
		}
		for _, split := range []datasets.Split{
			datasets.TestSplit,
			datasets.ShiftSplit("white_noise", -5),
			datasets.ShiftSplit(datasets.SemanticShift),
		} {
			stream, err := speech.Build(split)
			if err != nil {
				log.Fatalf("failed to build split %s: %v", split, err)
			}
			batches, err := stream.Take(ctx, 1)
			if err != nil {
				log.Fatalf("failed to read %s: %v", stream.Name(), err)
			}
			if len(batches) == 0 {
				fmt.Printf("%s: empty\n", stream.Name())
				continue
			}
			inT, _, err := batches[0].ToGomlxTensors()
			if err != nil {
				log.Fatalf("failed to convert %s batch: %v", stream.Name(), err)
			}
			fmt.Printf("%s: audio tensor %s, labels %v\n", stream.Name(), inT.Shape(), batches[0].Labels)
		}
	}

	if *criteoDir == "" && *speechDir == "" {
		fmt.Println("Nothing to do: pass -criteo and/or -speech.")
	}
}
