package nn

import (
	"image"

	"github.com/chewxy/math32"
)

// Rect is a box in pixel coordinates, from the top-left corner (X1,Y1) to the
// bottom-right corner (X2,Y2). X2 and Y2 are exclusive.
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Build a Rect from floating point corners, as emitted by a model.
// Coordinates are truncated toward zero.
func MakeRectF(x1, y1, x2, y2 float32) Rect {
	return Rect{
		X1: int(math32.Trunc(x1)),
		Y1: int(math32.Trunc(y1)),
		X2: int(math32.Trunc(x2)),
		Y2: int(math32.Trunc(y2)),
	}
}

func (r Rect) Width() int {
	return r.X2 - r.X1
}

func (r Rect) Height() int {
	return r.Y2 - r.Y1
}

// Valid is false for degenerate boxes, which are never drawn
func (r Rect) Valid() bool {
	return r.X1 < r.X2 && r.Y1 < r.Y2
}

func (r Rect) Area() int {
	if !r.Valid() {
		return 0
	}
	return r.Width() * r.Height()
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X1, b.X1)
	y1 := max(r.Y1, b.Y1)
	x2 := min(r.X2, b.X2)
	y2 := min(r.Y2, b.Y2)
	return Rect{
		X1: x1,
		Y1: y1,
		X2: max(x1, x2),
		Y2: max(y1, y2),
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	inter := r.Intersection(b).Area()
	union := r.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

// Clip the rectangle to the bounds [0,0,width,height]
func (r Rect) Clip(width, height int) Rect {
	return Rect{
		X1: min(max(r.X1, 0), width),
		Y1: min(max(r.Y1, 0), height),
		X2: min(max(r.X2, 0), width),
		Y2: min(max(r.Y2, 0), height),
	}
}

func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}
