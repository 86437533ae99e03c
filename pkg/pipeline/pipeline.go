package pipeline

// Package pipeline runs a video through an object detector, one frame at a time,
// and writes an annotated copy of the video.

import (
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vidannotate/pkg/annotate"
	"github.com/cyclopcam/vidannotate/pkg/logx"
	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/cyclopcam/vidannotate/pkg/nnload"
	"github.com/cyclopcam/vidannotate/pkg/perfstats"
	"github.com/cyclopcam/vidannotate/pkg/videox"
)

const (
	DefaultProgressInterval = 100

	// Used when the container reports a missing or nonsensical frame rate
	FallbackFPS = 25
)

// Names of the timing stages in Result.Timings
const (
	StageDecode   = "decode"
	StageDetect   = "detect"
	StageAnnotate = "annotate"
	StageEncode   = "encode"
)

type State int

const (
	Idle State = iota
	ModelLoading
	StreamOpening
	Processing
	Finalizing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case ModelLoading:
		return "ModelLoading"
	case StreamOpening:
		return "StreamOpening"
	case Processing:
		return "Processing"
	case Finalizing:
		return "Finalizing"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FrameSource is a finite, ordered stream of decoded frames. Read returns io.EOF at the end.
type FrameSource interface {
	Info() videox.VideoInfo
	Read() (*image.RGBA, error)
	Close() error
}

// FrameSink accepts frames of one fixed size, and finalizes the file on Close
type FrameSink interface {
	Write(frame *image.RGBA) error
	Close() error
}

// Annotator returns an annotated copy of a frame
type Annotator interface {
	Annotate(frame *image.RGBA, dets []nn.ObjectDetection, classes []string) *image.RGBA
}

type ModelLoader func(modelPath string) (nn.ObjectDetector, error)
type SourceOpener func(filename string) (FrameSource, error)
type SinkOpener func(filename string, width, height int, frameRate videox.FrameRate) (FrameSink, error)

// Result describes a completed run
type Result struct {
	FramesRead    int
	FramesWritten int
	FramesSkipped int            // Frames written without annotation, because detection failed
	Detections    int            // Boxes drawn, over all frames
	ClassCounts   map[string]int // Boxes drawn, per class name
	Info          videox.VideoInfo
	FrameRate     videox.FrameRate // The rate that the output was encoded at
	Device        string
	Timings       *perfstats.Stages
	Elapsed       time.Duration
}

// Driver owns one run at a time. It is not safe for concurrent use. Create one
// Driver per goroutine, or serialize calls to Process.
type Driver struct {
	Log              logs.Log
	LoadModel        ModelLoader
	OpenSource       SourceOpener
	OpenSink         SinkOpener
	Annotator        Annotator
	ProgressInterval int

	// If not nil, called on every state change
	OnTransition func(from, to State)

	state State
}

// NewDriver returns a Driver that decodes and encodes with ffmpeg, and loads models with nnload
func NewDriver(log logs.Log, loadOptions nnload.Options) *Driver {
	log = logx.NewPrefixLogger(log, "Pipeline:")
	return &Driver{
		Log: log,
		LoadModel: func(modelPath string) (nn.ObjectDetector, error) {
			return nnload.LoadModel(log, modelPath, loadOptions)
		},
		OpenSource: func(filename string) (FrameSource, error) {
			return videox.OpenSource(filename)
		},
		OpenSink: func(filename string, width, height int, frameRate videox.FrameRate) (FrameSink, error) {
			return videox.OpenSink(filename, width, height, frameRate)
		},
		Annotator:        annotate.NewAnnotator(),
		ProgressInterval: DefaultProgressInterval,
	}
}

// Process annotates inputPath into outputPath with the model at modelPath, using the default Driver.
func Process(log logs.Log, inputPath, outputPath, modelPath string) (*Result, error) {
	return NewDriver(log, nnload.Options{}).Process(inputPath, outputPath, modelPath)
}

// State is the state that the most recent run reached
func (d *Driver) State() State {
	return d.state
}

func (d *Driver) transition(to State) {
	from := d.state
	d.state = to
	d.Log.Debugf("%v -> %v", from, to)
	if d.OnTransition != nil {
		d.OnTransition(from, to)
	}
}

// Process runs the whole pipeline. The source, sink, and model are always released before
// Process returns, whether it succeeds or not.
// Errors wrap nn.ErrModelLoad (nothing was read or written), or videox.ErrIO.
// Per-frame detection failures are not errors. Those frames are written unannotated,
// and counted in Result.FramesSkipped.
func (d *Driver) Process(inputPath, outputPath, modelPath string) (result *Result, err error) {
	start := time.Now()
	d.state = Idle
	res := &Result{
		ClassCounts: map[string]int{},
		Timings:     perfstats.NewStages(StageDecode, StageDetect, StageAnnotate, StageEncode),
	}

	var detector nn.ObjectDetector
	var src FrameSource
	var sink FrameSink

	// Release everything on every exit path, including panics.
	// Finalizing closes src and sink explicitly and sets them to nil.
	// A panic still moves us to Failed, and is then re-raised.
	defer func() {
		recovered := recover()
		if sink != nil {
			sink.Close()
		}
		if src != nil {
			src.Close()
		}
		if detector != nil {
			detector.Close()
		}
		if recovered != nil {
			d.Log.Errorf("Panic after %v frames: %v", res.FramesRead, recovered)
			d.transition(Failed)
			panic(recovered)
		}
		if err != nil {
			d.Log.Errorf("Failed after %v frames: %v", res.FramesRead, err)
			d.transition(Failed)
			result = nil
		}
	}()

	d.transition(ModelLoading)
	d.Log.Infof("Loading model %v", modelPath)
	detector, err = d.LoadModel(modelPath)
	if err != nil {
		detector = nil
		if !errors.Is(err, nn.ErrModelLoad) {
			err = fmt.Errorf("%w: %v", nn.ErrModelLoad, err)
		}
		return
	}
	res.Device = detector.Device()
	classes := detector.Config().Classes
	d.Log.Infof("Model loaded on %v", res.Device)

	d.transition(StreamOpening)
	src, err = d.OpenSource(inputPath)
	if err != nil {
		src = nil
		return
	}
	info := src.Info()
	res.Info = info
	res.FrameRate = info.FrameRate
	if !res.FrameRate.IsValid() {
		d.Log.Warnf("Video %v has invalid frame rate '%v'. Encoding at %v FPS", inputPath, info.FrameRate, FallbackFPS)
		res.FrameRate = videox.FrameRate{Num: FallbackFPS, Den: 1}
	}
	d.Log.Infof("Video properties: %vx%v @ %.2f FPS, Total Frames: %v", info.Width, info.Height, res.FrameRate.Float(), info.FrameCount)
	sink, err = d.OpenSink(outputPath, info.Width, info.Height, res.FrameRate)
	if err != nil {
		sink = nil
		return
	}

	d.transition(Processing)
	if err = d.processFrames(src, sink, detector, classes, res); err != nil {
		return
	}

	d.transition(Finalizing)
	srcErr := src.Close()
	src = nil
	sinkErr := sink.Close()
	sink = nil
	if srcErr != nil {
		d.Log.Warnf("Closing %v: %v", inputPath, srcErr)
	}
	if sinkErr != nil {
		err = sinkErr
		return
	}
	res.Elapsed = time.Since(start)
	d.Log.Infof("Finished %v frames (%v unannotated) in %.1f seconds. %v", res.FramesWritten, res.FramesSkipped, res.Elapsed.Seconds(), res.Timings)
	d.transition(Done)
	return res, nil
}

func (d *Driver) processFrames(src FrameSource, sink FrameSink, detector nn.ObjectDetector, classes []string, res *Result) error {
	decode := res.Timings.Stage(StageDecode)
	detect := res.Timings.Stage(StageDetect)
	annotateT := res.Timings.Stage(StageAnnotate)
	encode := res.Timings.Stage(StageEncode)

	interval := d.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	total := "?"
	if res.Info.FrameCount > 0 {
		total = fmt.Sprintf("%v", res.Info.FrameCount)
	}

	for {
		t := time.Now()
		frame, err := src.Read()
		if errors.Is(err, io.EOF) {
			d.Log.Infof("End of video reached after %v frames", res.FramesRead)
			return nil
		} else if err != nil {
			return err
		}
		t = decode.Since(t)
		res.FramesRead++
		if res.FramesRead%interval == 0 {
			d.Log.Infof("Processing frame %v/%v", res.FramesRead, total)
		}

		dets, err := detector.DetectObjects(frame)
		t = detect.Since(t)
		out := frame
		if err != nil {
			// SkipFrame: stay in Processing, and keep the frame without boxes
			d.Log.Errorf("Detection failed on frame %v: %v", res.FramesRead, err)
			res.FramesSkipped++
		} else {
			out = d.Annotator.Annotate(frame, dets, classes)
			for _, det := range dets {
				if annotate.Drawable(det.Box, frame.Rect) {
					res.Detections++
					res.ClassCounts[nn.ClassName(classes, det.Class)]++
				}
			}
		}
		t = annotateT.Since(t)

		if err := sink.Write(out); err != nil {
			return err
		}
		encode.Since(t)
		res.FramesWritten++
	}
}
