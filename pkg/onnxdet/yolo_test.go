package onnxdet

import (
	"errors"
	"testing"

	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/stretchr/testify/require"
)

// Build a [4+nClasses, len(cands)] tensor
type candidate struct {
	cx, cy, w, h float32
	scores       []float32
}

func makeTensor(nClasses int, cands []candidate) []float32 {
	n := len(cands)
	out := make([]float32, (4+nClasses)*n)
	for i, c := range cands {
		out[0*n+i] = c.cx
		out[1*n+i] = c.cy
		out[2*n+i] = c.w
		out[3*n+i] = c.h
		for k, s := range c.scores {
			out[(4+k)*n+i] = s
		}
	}
	return out
}

func TestLayoutFromDims(t *testing.T) {
	l, err := LayoutFromDims([]int{1, 84, 8400})
	require.NoError(t, err)
	require.Equal(t, OutputLayout{NumClasses: 80, NumCandidates: 8400}, l)

	l, err = LayoutFromDims([]int{6, 100})
	require.NoError(t, err)
	require.Equal(t, 2, l.NumClasses)

	_, err = LayoutFromDims([]int{1, 3, 100})
	require.True(t, errors.Is(err, nn.ErrInference))
	_, err = LayoutFromDims(nil)
	require.True(t, errors.Is(err, nn.ErrInference))
}

func TestDecodeYOLOv8(t *testing.T) {
	cands := []candidate{
		{cx: 100, cy: 100, w: 40, h: 20, scores: []float32{0.1, 0.9}},  // class 1
		{cx: 101, cy: 100, w: 40, h: 20, scores: []float32{0.05, 0.6}}, // suppressed by the first
		{cx: 300, cy: 200, w: 20, h: 20, scores: []float32{0.8, 0.1}},  // class 0
		{cx: 500, cy: 500, w: 10, h: 10, scores: []float32{0.1, 0.1}},  // below threshold
		{cx: 630, cy: 630, w: 40, h: 40, scores: []float32{0.7, 0.0}},  // clipped to the frame
	}
	layout := OutputLayout{NumClasses: 2, NumCandidates: len(cands)}
	// 640x640 network, 1280x640 frame
	dets, err := DecodeYOLOv8(makeTensor(2, cands), layout, 2, 1, 1280, 640, nn.DetectionParams{ProbabilityThreshold: 0.25, NmsIouThreshold: 0.45})
	require.NoError(t, err)
	require.Equal(t, 3, len(dets))

	require.Equal(t, 1, dets[0].Class)
	require.Equal(t, float32(0.9), dets[0].Confidence)
	require.Equal(t, nn.Rect{X1: 160, Y1: 90, X2: 240, Y2: 110}, dets[0].Box)

	require.Equal(t, 0, dets[1].Class)
	require.Equal(t, nn.Rect{X1: 580, Y1: 190, X2: 620, Y2: 210}, dets[1].Box)

	require.Equal(t, nn.Rect{X1: 1220, Y1: 610, X2: 1280, Y2: 640}, dets[2].Box)
}

func TestDecodeYOLOv8ShortTensor(t *testing.T) {
	_, err := DecodeYOLOv8(make([]float32, 10), OutputLayout{NumClasses: 80, NumCandidates: 8400}, 1, 1, 640, 640, nn.DetectionParams{})
	require.True(t, errors.Is(err, nn.ErrInference))
}
