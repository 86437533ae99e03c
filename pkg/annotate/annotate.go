package annotate

// package annotate draws object detections onto video frames

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var regular *truetype.Font

func init() {
	var err error
	regular, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

const (
	DefaultFontSize  = 14
	DefaultLineWidth = 2

	// Gap between the top of the box and the label's bottom edge
	labelGap = 10
)

var (
	Green = color.RGBA{0, 255, 0, 255}
	Black = color.RGBA{0, 0, 0, 255}
)

// Annotator draws boxes and labels. It holds a font face, so it must not be shared between goroutines.
type Annotator struct {
	BoxColor   color.RGBA
	TextColor  color.RGBA
	LineWidth  float64
	face       font.Face
	textHeight int // pixels above the baseline
	baseline   int // pixels below the baseline
}

func NewAnnotator() *Annotator {
	face := truetype.NewFace(regular, &truetype.Options{Size: DefaultFontSize})
	m := face.Metrics()
	return &Annotator{
		BoxColor:   Green,
		TextColor:  Black,
		LineWidth:  DefaultLineWidth,
		face:       face,
		textHeight: m.Ascent.Ceil(),
		baseline:   m.Descent.Ceil(),
	}
}

// LabelText is the caption drawn above a detection, eg "stop sign: 0.87"
func LabelText(classes []string, det nn.ObjectDetection) string {
	return fmt.Sprintf("%v: %.2f", nn.ClassName(classes, det.Class), det.Confidence)
}

// LabelPlacement returns the label's filled background and the y coordinate of the text baseline.
// The label sits just above the box. If that would push it off the top of the frame, the label
// moves inside the box, hanging from its top edge. The background never starts above y=0.
func LabelPlacement(box nn.Rect, textWidth, textHeight, baseline int) (background image.Rectangle, textY int) {
	bottom := box.Y1 - labelGap
	if box.Y1-labelGap <= textHeight {
		bottom = box.Y1 + textHeight + baseline
	}
	bottom = max(bottom, textHeight+baseline)
	background = image.Rect(box.X1, bottom-textHeight-baseline, box.X1+textWidth, bottom)
	textY = bottom - baseline/2
	return
}

// Drawable is false for boxes that we skip: degenerate boxes, and boxes entirely outside the frame
func Drawable(box nn.Rect, frame image.Rectangle) bool {
	return box.Valid() && box.Image().Overlaps(frame)
}

// Annotate returns a copy of frame with every drawable detection outlined and labelled,
// in the order given (later detections draw over earlier ones). The input frame is not modified.
func (a *Annotator) Annotate(frame *image.RGBA, dets []nn.ObjectDetection, classes []string) *image.RGBA {
	bounds := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Rect, frame, bounds.Min, draw.Src)

	var dc *gg.Context
	for _, det := range dets {
		if !Drawable(det.Box, out.Rect) {
			continue
		}
		if dc == nil {
			dc = gg.NewContextForRGBA(out)
			dc.SetFontFace(a.face)
		}
		a.drawDetection(dc, det, classes)
	}
	return out
}

// drawDetection draws the box clipped to the frame, so that a box hanging off the top
// still gets its label inside the image.
func (a *Annotator) drawDetection(dc *gg.Context, det nn.ObjectDetection, classes []string) {
	b := det.Box.Clip(dc.Width(), dc.Height())
	dc.SetColor(a.BoxColor)
	dc.SetLineWidth(a.LineWidth)
	dc.DrawRectangle(float64(b.X1), float64(b.Y1), float64(b.Width()), float64(b.Height()))
	dc.Stroke()

	label := LabelText(classes, det)
	tw, _ := dc.MeasureString(label)
	bg, textY := LabelPlacement(b, int(tw+0.5), a.textHeight, a.baseline)
	dc.DrawRectangle(float64(bg.Min.X), float64(bg.Min.Y), float64(bg.Dx()), float64(bg.Dy()))
	dc.Fill()

	dc.SetColor(a.TextColor)
	dc.DrawString(label, float64(b.X1), float64(textY))
}
