package nnload

// Package nnload wraps up our 'nn' interface layer, and has concrete references to our
// neural network implementations (onnxdet, remotedet), so that you can just call one
// function to load a model, and not need to know about the implementation details.
//
// This is also the place where we pick the compute device (see nnaccel), and fall back
// to the CPU if the accelerated device fails to initialize.

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/cyclopcam/vidannotate/pkg/nnaccel"
	"github.com/cyclopcam/vidannotate/pkg/onnxdet"
	"github.com/cyclopcam/vidannotate/pkg/remotedet"
)

type Options struct {
	DisableCUDA   bool                // Never use the CUDA device
	Params        *nn.DetectionParams // nil for defaults
	CacheDir      string              // Where http(s) models are downloaded to. Empty means os.TempDir()/vidannotate-models
	RemoteTimeout time.Duration       // Per-frame timeout for remote detectors
	DeviceNodes   []string            // Passed through to nnaccel.Options (for tests)
}

// LoadModel opens the model at modelPath.
// modelPath may be:
//   - a path to a YOLOv8 .onnx file, with an optional <name>.json ModelConfig or <name>.names class file next to it
//   - an http(s) URL to such a file, which is downloaded once into the cache dir
//   - a ws(s) URL of a remote detection server
//
// Every failure wraps nn.ErrModelLoad.
func LoadModel(logs logs.Log, modelPath string, opt Options) (nn.ObjectDetector, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, fmt.Errorf("%w: no model path configured", nn.ErrModelLoad)
	}

	if u, err := url.Parse(modelPath); err == nil {
		switch u.Scheme {
		case "ws", "wss":
			logs.Infof("Connecting to remote detector %v", modelPath)
			return dialRemote(logs, modelPath, opt)
		case "http", "https":
			local, err := DownloadModel(logs, modelPath, cacheDir(opt))
			if err != nil {
				return nil, fmt.Errorf("%w: download %v: %v", nn.ErrModelLoad, modelPath, err)
			}
			modelPath = local
		}
	}

	st, err := os.Stat(modelPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: model file '%v' not found", nn.ErrModelLoad, modelPath)
		}
		return nil, fmt.Errorf("%w: %v", nn.ErrModelLoad, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: model path '%v' is a directory", nn.ErrModelLoad, modelPath)
	}

	switch strings.ToLower(filepath.Ext(modelPath)) {
	case ".onnx":
		return loadONNX(logs, modelPath, opt)
	case ".pt", ".pth":
		return nil, fmt.Errorf("%w: '%v' is a PyTorch checkpoint. Export it to ONNX first (eg 'yolo export model=%v format=onnx')", nn.ErrModelLoad, modelPath, filepath.Base(modelPath))
	default:
		return nil, fmt.Errorf("%w: unrecognized NN model type %v", nn.ErrModelLoad, modelPath)
	}
}

func dialRemote(logs logs.Log, modelPath string, opt Options) (nn.ObjectDetector, error) {
	det, err := remotedet.Dial(logs, modelPath, opt.RemoteTimeout)
	if err != nil {
		return nil, err
	}
	logs.Infof("Remote detector has %v classes, running on %v", len(det.Config().Classes), det.Device())
	return det, nil
}

func loadONNX(logs logs.Log, modelPath string, opt Options) (nn.ObjectDetector, error) {
	config, err := LoadModelConfigFor(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nn.ErrModelLoad, err)
	}

	if !onnxdet.Available {
		// No point probing for a GPU that we can't use
		return onnxdet.NewDetector(config, modelPath, nnaccel.DeviceCPU, opt.Params)
	}

	device := nnaccel.Probe(logs, nnaccel.Options{DisableCUDA: opt.DisableCUDA, DeviceNodes: opt.DeviceNodes})
	if device == nnaccel.DeviceCUDA {
		model, err := onnxdet.NewDetector(config, modelPath, device, opt.Params)
		if err == nil {
			logs.Infof("Loaded %v on %v (%v classes)", filepath.Base(modelPath), device, len(config.Classes))
			return model, nil
		}
		logs.Warnf("Failed to load model '%v' on %v: %v", modelPath, device, err)
		logs.Infof("Falling back to CPU")
	}

	model, err := onnxdet.NewDetector(config, modelPath, nnaccel.DeviceCPU, opt.Params)
	if err != nil {
		return nil, err
	}
	logs.Infof("Loaded %v on %v (%v classes)", filepath.Base(modelPath), nnaccel.DeviceCPU, len(config.Classes))
	return model, nil
}

// LoadModelConfigFor finds the class table of a model file.
// We look for <stem>.json (a ModelConfig), then <stem>.names, then classes.txt in the same
// directory. If none exist, the model is assumed to be a COCO model.
func LoadModelConfigFor(modelPath string) (*nn.ModelConfig, error) {
	stem := strings.TrimSuffix(modelPath, filepath.Ext(modelPath))
	if _, err := os.Stat(stem + ".json"); err == nil {
		return nn.LoadModelConfig(stem + ".json")
	}
	for _, namesFile := range []string{stem + ".names", filepath.Join(filepath.Dir(modelPath), "classes.txt")} {
		if _, err := os.Stat(namesFile); err == nil {
			classes, err := nn.LoadClassFile(namesFile)
			if err != nil {
				return nil, err
			}
			return &nn.ModelConfig{Architecture: "yolov8", Classes: classes}, nil
		}
	}
	return &nn.ModelConfig{
		Architecture: "yolov8",
		Width:        onnxdet.DefaultInputWidth,
		Height:       onnxdet.DefaultInputHeight,
		Classes:      nn.COCOClasses,
	}, nil
}

func cacheDir(opt Options) string {
	if opt.CacheDir != "" {
		return opt.CacheDir
	}
	return filepath.Join(os.TempDir(), "vidannotate-models")
}

func downloadFile(srcUrl, targetFile string) error {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err = io.Copy(file, resp.Body); err != nil {
		os.Remove(tempFile)
		return err
	}
	file.Close()
	return os.Rename(tempFile, targetFile)
}

// If the model file is not yet downloaded, then download it now, along with its optional
// .json config. Returns immediately if the model is already in cacheDir.
func DownloadModel(logs logs.Log, modelUrl, cacheDir string) (string, error) {
	u, err := url.Parse(modelUrl)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("URL %v does not name a file", modelUrl)
	}
	diskPath := filepath.Join(cacheDir, u.Host, name)
	if _, err := os.Stat(diskPath); err == nil {
		return diskPath, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	logs.Infof("Downloading %v to %v", modelUrl, diskPath)
	if err := downloadFile(modelUrl, diskPath); err != nil {
		return "", err
	}

	// The config is optional, so a failure here just means "use the defaults"
	ext := path.Ext(name)
	cfgUrl := *u
	cfgUrl.Path = strings.TrimSuffix(u.Path, ext) + ".json"
	cfgPath := strings.TrimSuffix(diskPath, ext) + ".json"
	if err := downloadFile(cfgUrl.String(), cfgPath); err != nil {
		logs.Infof("No model config at %v (%v). Assuming COCO classes", cfgUrl.String(), err)
	}
	return diskPath, nil
}
