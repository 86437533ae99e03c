package nnload

import (
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/cyclopcam/vidannotate/pkg/onnxdet"
	"github.com/cyclopcam/vidannotate/pkg/remotedet"
	"github.com/stretchr/testify/require"
)

func requireModelLoadError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, nn.ErrModelLoad), "expected ErrModelLoad, got %v", err)
}

func TestLoadModelErrors(t *testing.T) {
	log := logs.NewTestingLog(t)
	dir := t.TempDir()

	_, err := LoadModel(log, "", Options{})
	requireModelLoadError(t, err)

	_, err = LoadModel(log, filepath.Join(dir, "missing.onnx"), Options{})
	requireModelLoadError(t, err)

	_, err = LoadModel(log, dir, Options{})
	requireModelLoadError(t, err)

	pt := filepath.Join(dir, "best.pt")
	require.NoError(t, os.WriteFile(pt, []byte("not really"), 0644))
	_, err = LoadModel(log, pt, Options{})
	requireModelLoadError(t, err)
	require.Contains(t, err.Error(), "ONNX")

	txt := filepath.Join(dir, "weights.bin")
	require.NoError(t, os.WriteFile(txt, []byte("?"), 0644))
	_, err = LoadModel(log, txt, Options{})
	requireModelLoadError(t, err)
}

func TestLoadONNXWithoutOpenCV(t *testing.T) {
	if onnxdet.Available {
		t.Skip("built with OpenCV")
	}
	model := filepath.Join(t.TempDir(), "signs.onnx")
	require.NoError(t, os.WriteFile(model, []byte("onnx"), 0644))
	_, err := LoadModel(logs.NewTestingLog(t), model, Options{DeviceNodes: []string{}})
	requireModelLoadError(t, err)
	require.Contains(t, err.Error(), "-tags gocv")
}

func TestLoadModelConfigFor(t *testing.T) {
	dir := t.TempDir()

	// No sidecar: COCO
	cfg, err := LoadModelConfigFor(filepath.Join(dir, "yolov8n.onnx"))
	require.NoError(t, err)
	require.Equal(t, nn.COCOClasses, cfg.Classes)
	require.Equal(t, 640, cfg.Width)

	// .names file
	require.NoError(t, os.WriteFile(filepath.Join(dir, "signs.names"), []byte("stop\nyield\n"), 0644))
	cfg, err = LoadModelConfigFor(filepath.Join(dir, "signs.onnx"))
	require.NoError(t, err)
	require.Equal(t, []string{"stop", "yield"}, cfg.Classes)

	// .json wins over .names
	require.NoError(t, os.WriteFile(filepath.Join(dir, "signs.json"), []byte(`{"architecture":"yolov8","width":320,"height":320,"classes":["a","b","c"]}`), 0644))
	cfg, err = LoadModelConfigFor(filepath.Join(dir, "signs.onnx"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, cfg.Classes)
	require.Equal(t, 320, cfg.Width)
}

func TestDownloadModel(t *testing.T) {
	var nRequests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nRequests.Add(1)
		switch r.URL.Path {
		case "/models/signs.onnx":
			w.Write([]byte("weights"))
		case "/models/signs.json":
			w.Write([]byte(`{"classes":["stop"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	log := logs.NewTestingLog(t)
	cache := t.TempDir()
	local, err := DownloadModel(log, srv.URL+"/models/signs.onnx", cache)
	require.NoError(t, err)
	b, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, "weights", string(b))
	cfg, err := LoadModelConfigFor(local)
	require.NoError(t, err)
	require.Equal(t, []string{"stop"}, cfg.Classes)

	// Second call is served from the cache
	n := nRequests.Load()
	local2, err := DownloadModel(log, srv.URL+"/models/signs.onnx", cache)
	require.NoError(t, err)
	require.Equal(t, local, local2)
	require.Equal(t, n, nRequests.Load())

	_, err = LoadModel(log, srv.URL+"/models/nothing.onnx", Options{CacheDir: cache})
	requireModelLoadError(t, err)
}

type constDetector struct {
	config nn.ModelConfig
}

func (c *constDetector) Close() {}
func (c *constDetector) Config() *nn.ModelConfig { return &c.config }
func (c *constDetector) Device() string { return "cuda" }
func (c *constDetector) DetectObjects(img *image.RGBA) ([]nn.ObjectDetection, error) {
	return []nn.ObjectDetection{{Class: 0, Confidence: 0.5, Box: nn.Rect{X1: 1, Y1: 1, X2: 5, Y2: 5}}}, nil
}

func TestLoadRemoteModel(t *testing.T) {
	log := logs.NewTestingLog(t)
	srv := httptest.NewServer(remotedet.NewHandler(log, &constDetector{config: nn.ModelConfig{Classes: []string{"stop"}}}))
	defer srv.Close()

	model, err := LoadModel(log, "ws"+strings.TrimPrefix(srv.URL, "http"), Options{})
	require.NoError(t, err)
	defer model.Close()
	require.Equal(t, "remote:cuda", model.Device())
	require.Equal(t, []string{"stop"}, model.Config().Classes)
	dets, err := model.DetectObjects(image.NewRGBA(image.Rect(0, 0, 16, 16)))
	require.NoError(t, err)
	require.Equal(t, 1, len(dets))
}
