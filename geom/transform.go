package geom

import (
	"fmt"
	"image"
	"math"
)

// Transform is one of the eight rotations and reflections that a
// buffer or output may be displayed with. Rotations are
// counter-clockwise, matching wl_output.transform.
type Transform int32

const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

// Transforms lists every valid transform in enum order.
var Transforms = [...]Transform{
	TransformNormal,
	Transform90,
	Transform180,
	Transform270,
	TransformFlipped,
	TransformFlipped90,
	TransformFlipped180,
	TransformFlipped270,
}

func (t Transform) Valid() bool {
	return t >= TransformNormal && t <= TransformFlipped270
}

// Swaps reports whether t exchanges width and height.
func (t Transform) Swaps() bool {
	return t&1 != 0
}

// Invert returns the transform that undoes t.
func (t Transform) Invert() Transform {
	switch t {
	case Transform90:
		return Transform270
	case Transform270:
		return Transform90
	default:
		return t
	}
}

// Size returns the size of a w by h box after t is applied to it.
func (t Transform) Size(w, h int) image.Point {
	if t.Swaps() {
		return image.Pt(h, w)
	}
	return image.Pt(w, h)
}

// Matrix returns the matrix that maps coordinates inside an
// untransformed box of size w by h to coordinates in the same box after
// t has been applied to it.
func (t Transform) Matrix(w, h float64) Matrix {
	switch t {
	case TransformNormal:
		return Identity()
	case Transform90:
		return Matrix{0, -1, h, 1, 0, 0, 0, 0, 1}
	case Transform180:
		return Matrix{-1, 0, w, 0, -1, h, 0, 0, 1}
	case Transform270:
		return Matrix{0, 1, 0, -1, 0, w, 0, 0, 1}
	case TransformFlipped:
		return Matrix{-1, 0, w, 0, 1, 0, 0, 0, 1}
	case TransformFlipped90:
		return Matrix{0, -1, h, -1, 0, w, 0, 0, 1}
	case TransformFlipped180:
		return Matrix{1, 0, 0, 0, -1, h, 0, 0, 1}
	case TransformFlipped270:
		return Matrix{0, 1, 0, 1, 0, 0, 0, 0, 1}
	default:
		panic(fmt.Errorf("invalid transform: %v", int32(t)))
	}
}

func (t Transform) String() string {
	switch t {
	case TransformNormal:
		return "normal"
	case Transform90:
		return "90"
	case Transform180:
		return "180"
	case Transform270:
		return "270"
	case TransformFlipped:
		return "flipped"
	case TransformFlipped90:
		return "flipped-90"
	case TransformFlipped180:
		return "flipped-180"
	case TransformFlipped270:
		return "flipped-270"
	default:
		return fmt.Sprintf("Transform(%d)", int32(t))
	}
}

// ParseTransform is the inverse of Transform.String.
func ParseTransform(s string) (Transform, error) {
	for _, t := range Transforms {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown transform %q", s)
}

// Rect is a rectangle with floating-point coordinates, used where
// protocol values are fractional, such as viewport crop rectangles.
type Rect struct {
	X, Y, W, H float64
}

// RectOf converts an integer rectangle.
func RectOf(r image.Rectangle) Rect {
	return Rect{
		X: float64(r.Min.X),
		Y: float64(r.Min.Y),
		W: float64(r.Dx()),
		H: float64(r.Dy()),
	}
}

func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Corners returns the corners of r, clockwise from the origin.
func (r Rect) Corners() [4][2]float64 {
	return [4][2]float64{
		{r.X, r.Y},
		{r.X + r.W, r.Y},
		{r.X + r.W, r.Y + r.H},
		{r.X, r.Y + r.H},
	}
}

// Bounds returns the smallest integer rectangle containing r.
func (r Rect) Bounds() image.Rectangle {
	return image.Rect(
		floorSnap(r.X),
		floorSnap(r.Y),
		ceilSnap(r.X+r.W),
		ceilSnap(r.Y+r.H),
	)
}

// Size returns the size of r rounded to whole units.
func (r Rect) Size() image.Point {
	return image.Pt(int(math.Round(r.W)), int(math.Round(r.H)))
}
