package onnxdet

// package onnxdet runs YOLOv8 models that have been exported to ONNX.
// Inference goes through OpenCV's DNN module (build with -tags gocv). The output decoding
// in this file is plain Go and is always compiled.

import (
	"fmt"

	"github.com/cyclopcam/vidannotate/pkg/nn"
)

var _ nn.ObjectDetector = (*Detector)(nil)

// Default network input size for YOLOv8 exports
const (
	DefaultInputWidth  = 640
	DefaultInputHeight = 640
)

// OutputLayout describes the raw YOLOv8 output tensor of shape [1, 4+NumClasses, NumCandidates].
// Rows 0..3 are the box center x, center y, width and height in network pixels.
// The remaining rows hold one score per class.
type OutputLayout struct {
	NumClasses    int
	NumCandidates int
}

// LayoutFromDims interprets the dims of a YOLOv8 output tensor
func LayoutFromDims(dims []int) (OutputLayout, error) {
	if len(dims) == 3 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 || dims[0] <= 4 || dims[1] <= 0 {
		return OutputLayout{}, fmt.Errorf("%w: unexpected YOLOv8 output shape %v", nn.ErrInference, dims)
	}
	return OutputLayout{
		NumClasses:    dims[0] - 4,
		NumCandidates: dims[1],
	}, nil
}

// DecodeYOLOv8 turns the output tensor into detections in frame coordinates.
// scaleX and scaleY map network pixels to frame pixels.
// Boxes are clipped to the frame, low scores are dropped, and NMS is applied per class.
func DecodeYOLOv8(out []float32, layout OutputLayout, scaleX, scaleY float32, frameWidth, frameHeight int, params nn.DetectionParams) ([]nn.ObjectDetection, error) {
	n := layout.NumCandidates
	if len(out) < (4+layout.NumClasses)*n {
		return nil, fmt.Errorf("%w: output tensor has %v elements, expected %v", nn.ErrInference, len(out), (4+layout.NumClasses)*n)
	}
	params = params.WithDefaults()

	dets := []nn.ObjectDetection{}
	for i := 0; i < n; i++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < layout.NumClasses; c++ {
			s := out[(4+c)*n+i]
			if s > bestScore {
				bestScore = s
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < params.ProbabilityThreshold {
			continue
		}
		cx := out[0*n+i]
		cy := out[1*n+i]
		w := out[2*n+i]
		h := out[3*n+i]
		box := nn.MakeRectF((cx-w/2)*scaleX, (cy-h/2)*scaleY, (cx+w/2)*scaleX, (cy+h/2)*scaleY).Clip(frameWidth, frameHeight)
		if !box.Valid() {
			continue
		}
		dets = append(dets, nn.ObjectDetection{
			Class:      bestClass,
			Confidence: bestScore,
			Box:        box,
		})
	}

	return nn.NonMaxSuppression(dets, params.NmsIouThreshold), nil
}
