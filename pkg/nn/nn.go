package nn

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
)

// Package nn is a Neural Network interface layer
// To load a model, use the nnload package.

const DefaultProbabilityThreshold = 0.25
const DefaultNmsIouThreshold = 0.45

// ErrModelLoad is returned when a model cannot be opened or initialized. It is fatal.
var ErrModelLoad = errors.New("model load failed")

// ErrInference is returned when a single frame could not be run through the model.
// It is recoverable: the caller may continue with the next frame.
var ErrInference = errors.New("inference failed")

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 `json:"probabilityThreshold"` // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 `json:"nmsIouThreshold"`      // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
	}
}

// WithDefaults returns a copy of p where zero values are replaced by defaults.
// p may be nil.
func (p *DetectionParams) WithDefaults() DetectionParams {
	r := *NewDetectionParams()
	if p != nil {
		if p.ProbabilityThreshold != 0 {
			r.ProbabilityThreshold = p.ProbabilityThreshold
		}
		if p.NmsIouThreshold != 0 {
			r.NmsIouThreshold = p.NmsIouThreshold
		}
	}
	return r
}

// ObjectDetector is given an image, and returns zero or more detected objects
type ObjectDetector interface {
	// Close releases the model. You MUST call this when finished, because the
	// backends hold native or network resources.
	Close()

	// DetectObjects returns the objects found in the frame, in the order that the model
	// emits them. Boxes are in the pixel coordinates of img.
	// A failure for this one frame wraps ErrInference.
	DetectObjects(img *image.RGBA) ([]ObjectDetection, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig

	// Device is the compute device that inference runs on (eg "cuda", "cpu", "remote")
	Device() string
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 640
	Height       int      `json:"height"`       // eg 640
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, fmt.Errorf("Error parsing model config %v: %w", filename, err)
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}

// CheckFrame returns an ErrInference if img cannot be fed to a model
func CheckFrame(img *image.RGBA) error {
	if img == nil {
		return fmt.Errorf("%w: nil frame", ErrInference)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("%w: empty frame %vx%v", ErrInference, b.Dx(), b.Dy())
	}
	if img.Stride < b.Dx()*4 || len(img.Pix) < (b.Dy()-1)*img.Stride+b.Dx()*4 {
		return fmt.Errorf("%w: frame buffer is too small for %vx%v", ErrInference, b.Dx(), b.Dy())
	}
	return nil
}
