package nn

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassName(t *testing.T) {
	classes := []string{"stop", "yield"}
	require.Equal(t, "stop", ClassName(classes, 0))
	require.Equal(t, "yield", ClassName(classes, 1))
	require.Equal(t, "Class_2", ClassName(classes, 2))
	require.Equal(t, "Class_-1", ClassName(classes, -1))
	require.Equal(t, "Class_7", ClassName(nil, 7))
}

func TestRect(t *testing.T) {
	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
	require.True(t, a.Valid())
	require.Equal(t, 100, a.Area())
	require.Equal(t, Rect{5, 5, 10, 10}, a.Intersection(b))
	require.InDelta(t, 25.0/175.0, a.IOU(b), 1e-6)

	// disjoint boxes
	c := Rect{X1: 20, Y1: 20, X2: 30, Y2: 30}
	require.Equal(t, 0, a.Intersection(c).Area())
	require.Equal(t, float32(0), a.IOU(c))

	require.False(t, Rect{X1: 5, Y1: 0, X2: 5, Y2: 10}.Valid())
	require.False(t, Rect{X1: 0, Y1: 8, X2: 10, Y2: 2}.Valid())
	require.Equal(t, 0, Rect{X1: 0, Y1: 8, X2: 10, Y2: 2}.Area())

	require.Equal(t, Rect{0, 0, 8, 6}, Rect{-5, -5, 20, 20}.Clip(8, 6))
	require.Equal(t, Rect{1, 2, 3, 4}, MakeRectF(1.9, 2.2, 3.99, 4.5))
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []ObjectDetection{
		{Class: 0, Confidence: 0.6, Box: Rect{0, 0, 100, 100}},
		{Class: 0, Confidence: 0.9, Box: Rect{2, 2, 102, 102}},
		{Class: 1, Confidence: 0.5, Box: Rect{1, 1, 101, 101}}, // different class survives
		{Class: 0, Confidence: 0.7, Box: Rect{300, 300, 350, 350}},
	}
	out := NonMaxSuppression(dets, 0.45)
	require.Equal(t, 3, len(out))
	require.Equal(t, float32(0.9), out[0].Confidence)
	require.Equal(t, 1, out[1].Class)
	require.Equal(t, Rect{300, 300, 350, 350}, out[2].Box)

	require.Equal(t, 0, len(NonMaxSuppression(nil, 0.45)))
}

func TestCheckFrame(t *testing.T) {
	require.True(t, errors.Is(CheckFrame(nil), ErrInference))
	require.True(t, errors.Is(CheckFrame(&image.RGBA{}), ErrInference))
	short := image.NewRGBA(image.Rect(0, 0, 4, 4))
	short.Pix = short.Pix[:10]
	require.True(t, errors.Is(CheckFrame(short), ErrInference))
	require.NoError(t, CheckFrame(image.NewRGBA(image.Rect(0, 0, 4, 4))))
}

func TestModelConfigFiles(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "signs.json")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`{"architecture":"yolov8","width":640,"height":640,"classes":["stop","yield"]}`), 0644))
	cfg, err := LoadModelConfig(cfgFile)
	require.NoError(t, err)
	require.Equal(t, "yolov8", cfg.Architecture)
	require.Equal(t, []string{"stop", "yield"}, cfg.Classes)

	namesFile := filepath.Join(dir, "signs.names")
	require.NoError(t, os.WriteFile(namesFile, []byte("stop\n\n  yield \nspeed limit\n"), 0644))
	names, err := LoadClassFile(namesFile)
	require.NoError(t, err)
	require.Equal(t, []string{"stop", "yield", "speed limit"}, names)

	_, err = LoadModelConfig(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestDetectionParamsDefaults(t *testing.T) {
	var nilParams *DetectionParams
	p := nilParams.WithDefaults()
	require.Equal(t, float32(DefaultProbabilityThreshold), p.ProbabilityThreshold)
	p = (&DetectionParams{ProbabilityThreshold: 0.6}).WithDefaults()
	require.Equal(t, float32(0.6), p.ProbabilityThreshold)
	require.Equal(t, float32(DefaultNmsIouThreshold), p.NmsIouThreshold)
}
