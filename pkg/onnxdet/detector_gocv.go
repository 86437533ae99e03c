//go:build gocv

package onnxdet

import (
	"fmt"
	"image"

	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/cyclopcam/vidannotate/pkg/nnaccel"
	"gocv.io/x/gocv"
)

// Detector is a YOLOv8 ONNX model running inside OpenCV DNN
type Detector struct {
	net    gocv.Net
	config nn.ModelConfig
	params nn.DetectionParams
	device nnaccel.Device
}

// Available is true when this binary was built with OpenCV support
const Available = true

func NewDetector(config *nn.ModelConfig, modelFile string, device nnaccel.Device, params *nn.DetectionParams) (*Detector, error) {
	net := gocv.ReadNetFromONNX(modelFile)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: OpenCV could not read ONNX model '%v'", nn.ErrModelLoad, modelFile)
	}
	backend, target := gocv.NetBackendDefault, gocv.NetTargetCPU
	if device == nnaccel.DeviceCUDA {
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	}
	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: set backend for %v: %v", nn.ErrModelLoad, device, err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: set target for %v: %v", nn.ErrModelLoad, device, err)
	}
	cfg := *config
	if cfg.Width == 0 || cfg.Height == 0 {
		cfg.Width = DefaultInputWidth
		cfg.Height = DefaultInputHeight
	}
	return &Detector{
		net:    net,
		config: cfg,
		params: params.WithDefaults(),
		device: device,
	}, nil
}

func (d *Detector) Close() {
	d.net.Close()
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) Device() string {
	return string(d.device)
}

func (d *Detector) DetectObjects(img *image.RGBA) ([]nn.ObjectDetection, error) {
	if err := nn.CheckFrame(img); err != nil {
		return nil, err
	}
	width := img.Rect.Dx()
	height := img.Rect.Dy()

	// OpenCV wants a tightly packed buffer
	pix := img.Pix
	if img.Stride != width*4 || img.Rect.Min != (image.Point{}) {
		packed := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			copy(packed.Pix[y*packed.Stride:y*packed.Stride+width*4], img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y):])
		}
		pix = packed.Pix
	}

	rgba, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC4, pix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nn.ErrInference, err)
	}
	defer rgba.Close()
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	// swapRB brings us back to the RGB order that YOLO was trained on.
	// The frame is stretched to the network size, not letterboxed, so x and y scale independently.
	blob := gocv.BlobFromImage(bgr, 1.0/255.0, image.Pt(d.config.Width, d.config.Height), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, fmt.Errorf("%w: model produced no output", nn.ErrInference)
	}

	layout, err := LayoutFromDims(out.Size())
	if err != nil {
		return nil, err
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nn.ErrInference, err)
	}
	scaleX := float32(width) / float32(d.config.Width)
	scaleY := float32(height) / float32(d.config.Height)
	return DecodeYOLOv8(data, layout, scaleX, scaleY, width, height, d.params)
}
