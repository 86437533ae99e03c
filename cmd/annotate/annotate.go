package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/cyclopcam/vidannotate/pkg/nnload"
	"github.com/cyclopcam/vidannotate/pkg/pipeline"
)

func main() {
	parser := argparse.NewParser("annotate", "Draw object detections onto a video file")
	input := parser.String("i", "input", &argparse.Options{Help: "Input video file", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Output video file (mp4)", Required: true})
	model := parser.String("m", "model", &argparse.Options{Help: "Model path (.onnx file, http(s) URL, or ws(s) URL of a remote detector)", Default: "yolov8n.onnx"})
	noCUDA := parser.Flag("", "nocuda", &argparse.Options{Help: "Run inference on the CPU, even if a CUDA device is present", Default: false})
	minConfidence := parser.Float("", "confidence", &argparse.Options{Help: "Minimum detection confidence", Default: 0.0})
	progress := parser.Int("", "progress", &argparse.Options{Help: "Log progress every N frames", Default: pipeline.DefaultProgressInterval})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	opt := nnload.Options{DisableCUDA: *noCUDA}
	if *minConfidence > 0 {
		params := nn.NewDetectionParams()
		params.ProbabilityThreshold = float32(*minConfidence)
		opt.Params = params
	}

	driver := pipeline.NewDriver(logger, opt)
	driver.ProgressInterval = *progress
	res, err := driver.Process(*input, *output, *model)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %v frames to %v (%v without detections due to errors)\n", res.FramesWritten, *output, res.FramesSkipped)
	names := make([]string, 0, len(res.ClassCounts))
	for name := range res.ClassCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-20v %v\n", name, res.ClassCounts[name])
	}
	fmt.Printf("Timings: %v\n", res.Timings)
}
