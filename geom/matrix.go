// Package geom contains the coordinate transformation types shared by
// surfaces, outputs and render pipelines.
package geom

import (
	"image"
	"math"

	"golang.org/x/image/math/f64"
)

// Matrix is a 3x3 row-major projective transformation matrix:
//
//	| m[0] m[1] m[2] |
//	| m[3] m[4] m[5] |
//	| m[6] m[7] m[8] |
type Matrix [9]float64

// snap is how close a transformed coordinate has to be to an integer to
// be treated as that integer when rounding rectangles outwards.
const snap = 1e-6

func Identity() Matrix {
	return Matrix{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

func Translate(x, y float64) Matrix {
	return Matrix{
		1, 0, x,
		0, 1, y,
		0, 0, 1,
	}
}

func Scale(x, y float64) Matrix {
	return Matrix{
		x, 0, 0,
		0, y, 0,
		0, 0, 1,
	}
}

// Mul returns m * n, which applies n first and then m.
func (m Matrix) Mul(n Matrix) (r Matrix) {
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			r[row*3+col] = m[row*3]*n[col] + m[row*3+1]*n[3+col] + m[row*3+2]*n[6+col]
		}
	}
	return r
}

func (m Matrix) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Invert returns the inverse of m. If m is singular, it returns the
// identity and false.
func (m Matrix) Invert() (Matrix, bool) {
	det := m.Det()
	if math.Abs(det) < 1e-12 {
		return Identity(), false
	}

	inv := 1 / det
	return Matrix{
		(m[4]*m[8] - m[5]*m[7]) * inv,
		(m[2]*m[7] - m[1]*m[8]) * inv,
		(m[1]*m[5] - m[2]*m[4]) * inv,
		(m[5]*m[6] - m[3]*m[8]) * inv,
		(m[0]*m[8] - m[2]*m[6]) * inv,
		(m[2]*m[3] - m[0]*m[5]) * inv,
		(m[3]*m[7] - m[4]*m[6]) * inv,
		(m[1]*m[6] - m[0]*m[7]) * inv,
		(m[0]*m[4] - m[1]*m[3]) * inv,
	}, true
}

func (m Matrix) IsIdentity() bool {
	return m == Identity()
}

// IsIntegerTranslation reports whether m only moves points by a whole
// number of units, which lets callers skip resampling.
func (m Matrix) IsIntegerTranslation() bool {
	return m[0] == 1 && m[1] == 0 && m[3] == 0 && m[4] == 1 &&
		m[6] == 0 && m[7] == 0 && m[8] == 1 &&
		m[2] == math.Trunc(m[2]) && m[5] == math.Trunc(m[5])
}

// Apply transforms the point (x, y).
func (m Matrix) Apply(x, y float64) (float64, float64) {
	tx := m[0]*x + m[1]*y + m[2]
	ty := m[3]*x + m[4]*y + m[5]
	w := m[6]*x + m[7]*y + m[8]
	if w != 1 && w != 0 {
		tx /= w
		ty /= w
	}
	return tx, ty
}

// ApplyRect transforms the four corners of r and returns the smallest
// integer rectangle containing all of them.
func (m Matrix) ApplyRect(r image.Rectangle) image.Rectangle {
	return m.ApplyRectF(Rect{
		X: float64(r.Min.X),
		Y: float64(r.Min.Y),
		W: float64(r.Dx()),
		H: float64(r.Dy()),
	}).Bounds()
}

// ApplyRectF transforms the four corners of r and returns their
// rectified bounding box, so that the result always has non-negative
// width and height.
func (m Matrix) ApplyRectF(r Rect) Rect {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range r.Corners() {
		x, y := m.Apply(c[0], c[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Aff3 returns the affine part of m in the form used by
// golang.org/x/image/draw.
func (m Matrix) Aff3() f64.Aff3 {
	return f64.Aff3{
		m[0], m[1], m[2],
		m[3], m[4], m[5],
	}
}

func floorSnap(v float64) int {
	if r := math.Round(v); math.Abs(v-r) < snap {
		return int(r)
	}
	return int(math.Floor(v))
}

func ceilSnap(v float64) int {
	if r := math.Round(v); math.Abs(v-r) < snap {
		return int(r)
	}
	return int(math.Ceil(v))
}
