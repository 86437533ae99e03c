package annotate

import (
	"image"
	"image/color"
	"testing"

	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/stretchr/testify/require"
)

var gray = color.RGBA{128, 128, 128, 255}

func grayFrame(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = gray.R
		img.Pix[i+1] = gray.G
		img.Pix[i+2] = gray.B
		img.Pix[i+3] = gray.A
	}
	return img
}

func TestLabelText(t *testing.T) {
	classes := []string{"stop sign", "yield"}
	require.Equal(t, "stop sign: 0.87", LabelText(classes, nn.ObjectDetection{Class: 0, Confidence: 0.8712}))
	require.Equal(t, "yield: 1.00", LabelText(classes, nn.ObjectDetection{Class: 1, Confidence: 0.999}))
	require.Equal(t, "Class_9: 0.50", LabelText(classes, nn.ObjectDetection{Class: 9, Confidence: 0.5}))
}

func TestLabelPlacement(t *testing.T) {
	// Room above the box
	bg, textY := LabelPlacement(nn.Rect{X1: 20, Y1: 100, X2: 80, Y2: 150}, 40, 10, 4)
	require.Equal(t, image.Rect(20, 76, 60, 90), bg)
	require.Equal(t, 88, textY)

	// Too close to the top: the label hangs from the top edge of the box instead
	bg, textY = LabelPlacement(nn.Rect{X1: 20, Y1: 15, X2: 80, Y2: 150}, 40, 10, 4)
	require.Equal(t, image.Rect(20, 15, 60, 29), bg)
	require.Equal(t, 27, textY)
	require.True(t, bg.Min.Y >= 0)

	// Boundary: y1 - 10 == textHeight goes below
	bg, _ = LabelPlacement(nn.Rect{X1: 0, Y1: 20, X2: 10, Y2: 30}, 5, 10, 4)
	require.Equal(t, 20, bg.Min.Y)

	// A box that starts above the frame still gets its label at the top edge
	bg, textY = LabelPlacement(nn.Rect{X1: 20, Y1: -60, X2: 120, Y2: 100}, 40, 10, 4)
	require.Equal(t, image.Rect(20, 0, 60, 14), bg)
	require.Equal(t, 12, textY)
}

func TestDrawable(t *testing.T) {
	frame := image.Rect(0, 0, 100, 100)
	require.True(t, Drawable(nn.Rect{X1: 10, Y1: 10, X2: 20, Y2: 20}, frame))
	require.True(t, Drawable(nn.Rect{X1: -10, Y1: -10, X2: 5, Y2: 5}, frame))
	require.False(t, Drawable(nn.Rect{X1: 20, Y1: 10, X2: 10, Y2: 20}, frame))
	require.False(t, Drawable(nn.Rect{X1: 10, Y1: 10, X2: 10, Y2: 20}, frame))
	require.False(t, Drawable(nn.Rect{X1: 200, Y1: 200, X2: 300, Y2: 300}, frame))
}

func TestAnnotateNothing(t *testing.T) {
	a := NewAnnotator()
	in := grayFrame(64, 48)
	out := a.Annotate(in, nil, nil)
	require.Equal(t, in.Pix, out.Pix)
	require.Equal(t, in.Rect, out.Rect)
	// must be a copy
	out.Pix[0] = 0
	require.Equal(t, gray.R, in.Pix[0])

	// Degenerate and off-frame boxes are skipped silently
	dets := []nn.ObjectDetection{
		{Class: 0, Confidence: 0.9, Box: nn.Rect{X1: 30, Y1: 10, X2: 10, Y2: 40}},
		{Class: 0, Confidence: 0.9, Box: nn.Rect{X1: 10, Y1: 10, X2: 40, Y2: 10}},
		{Class: 0, Confidence: 0.9, Box: nn.Rect{X1: 100, Y1: 100, X2: 120, Y2: 120}},
	}
	out = a.Annotate(in, dets, []string{"STOP"})
	require.Equal(t, in.Pix, out.Pix)
}

func TestAnnotateBox(t *testing.T) {
	a := NewAnnotator()
	in := grayFrame(200, 200)
	inCopy := append([]byte(nil), in.Pix...)
	det := nn.ObjectDetection{Class: 0, Confidence: 0.9, Box: nn.Rect{X1: 50, Y1: 100, X2: 150, Y2: 180}}
	out := a.Annotate(in, []nn.ObjectDetection{det}, []string{"STOP"})

	// input untouched
	require.Equal(t, inCopy, in.Pix)

	// box outline
	require.Equal(t, Green, out.RGBAAt(50, 140))
	require.Equal(t, Green, out.RGBAAt(149, 140))
	require.Equal(t, Green, out.RGBAAt(100, 179))
	// interior and exterior untouched
	require.Equal(t, gray, out.RGBAAt(100, 140))
	require.Equal(t, gray, out.RGBAAt(10, 10))
	require.Equal(t, gray, out.RGBAAt(180, 190))

	// label background sits above the box
	bg, _ := LabelPlacement(det.Box, 10, a.textHeight, a.baseline)
	require.True(t, bg.Max.Y < det.Box.Y1)
	require.Equal(t, Green, out.RGBAAt(det.Box.X1+2, bg.Min.Y))

	// the label contains black text
	nBlack := 0
	for y := bg.Min.Y; y < bg.Max.Y; y++ {
		for x := det.Box.X1; x < det.Box.X1+40; x++ {
			if out.RGBAAt(x, y) == Black {
				nBlack++
			}
		}
	}
	require.True(t, nBlack > 0)
}

func TestAnnotateLabelNearTop(t *testing.T) {
	a := NewAnnotator()
	in := grayFrame(200, 200)
	det := nn.ObjectDetection{Class: 3, Confidence: 0.5, Box: nn.Rect{X1: 50, Y1: 3, X2: 150, Y2: 120}}
	out := a.Annotate(in, []nn.ObjectDetection{det}, []string{"STOP"})

	// Nothing above the box's stroke
	for x := 0; x < 200; x++ {
		require.Equal(t, gray, out.RGBAAt(x, 0))
	}
	// label fill inside the box, under the top edge
	require.Equal(t, Green, out.RGBAAt(det.Box.X1+2, det.Box.Y1+3))
}

func TestAnnotateSubImage(t *testing.T) {
	// Frames whose bounds don't start at the origin are normalized
	a := NewAnnotator()
	big := grayFrame(100, 100)
	sub := big.SubImage(image.Rect(10, 10, 60, 50)).(*image.RGBA)
	out := a.Annotate(sub, nil, nil)
	require.Equal(t, image.Rect(0, 0, 50, 40), out.Rect)
	require.Equal(t, gray, out.RGBAAt(0, 0))
}

func TestAnnotateBoxAboveFrame(t *testing.T) {
	a := NewAnnotator()
	in := grayFrame(200, 200)
	det := nn.ObjectDetection{Class: 0, Confidence: 0.75, Box: nn.Rect{X1: 20, Y1: -60, X2: 120, Y2: 100}}
	require.True(t, Drawable(det.Box, in.Rect))
	out := a.Annotate(in, []nn.ObjectDetection{det}, []string{"car"})

	// The label is drawn inside the frame, hanging from the top edge
	bg, _ := LabelPlacement(det.Box.Clip(200, 200), 10, a.textHeight, a.baseline)
	require.Equal(t, 0, bg.Min.Y)
	nGreen, nBlack := 0, 0
	for y := 0; y < bg.Max.Y; y++ {
		for x := det.Box.X1 + 2; x < det.Box.X1+40; x++ {
			switch out.RGBAAt(x, y) {
			case Green:
				nGreen++
			case Black:
				nBlack++
			}
		}
	}
	require.True(t, nGreen > 0)
	require.True(t, nBlack > 0)

	// Sides and bottom of the box are still where the detector put them
	require.Equal(t, Green, out.RGBAAt(20, 60))
	require.Equal(t, Green, out.RGBAAt(119, 60))
	require.Equal(t, Green, out.RGBAAt(70, 99))
}
