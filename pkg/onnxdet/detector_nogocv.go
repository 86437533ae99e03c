//go:build !gocv

package onnxdet

import (
	"errors"
	"fmt"
	"image"

	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/cyclopcam/vidannotate/pkg/nnaccel"
)

// Detector is unavailable in builds without OpenCV
type Detector struct {
	config nn.ModelConfig
}

// Available is true when this binary was built with OpenCV support
const Available = false

var errNoOpenCV = errors.New("built without OpenCV support (rebuild with -tags gocv)")

func NewDetector(config *nn.ModelConfig, modelFile string, device nnaccel.Device, params *nn.DetectionParams) (*Detector, error) {
	return nil, fmt.Errorf("%w: cannot run '%v': %w", nn.ErrModelLoad, modelFile, errNoOpenCV)
}

func (d *Detector) Close() {
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) Device() string {
	return string(nnaccel.DeviceCPU)
}

func (d *Detector) DetectObjects(img *image.RGBA) ([]nn.ObjectDetection, error) {
	return nil, fmt.Errorf("%w: %w", nn.ErrInference, errNoOpenCV)
}
