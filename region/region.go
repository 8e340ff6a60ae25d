// Package region implements arbitrarily shaped integer areas as sets
// of non-overlapping rectangles.
package region

import (
	"fmt"
	"image"
	"slices"
	"strings"
)

// Region is a set of pixels described by non-overlapping rectangles.
// Rectangles that share a whole edge are merged as they appear. The
// zero value is an empty region ready to use.
type Region struct {
	rects []image.Rectangle
}

// FromRects returns a region covering the union of rects.
func FromRects(rects ...image.Rectangle) Region {
	var r Region
	for _, rect := range rects {
		r.Add(rect)
	}
	return r
}

// Rects returns the rectangles that make up the region. The returned
// slice must not be modified.
func (r *Region) Rects() []image.Rectangle {
	return r.rects
}

func (r *Region) Empty() bool {
	return len(r.rects) == 0
}

// Extents returns the smallest rectangle containing the entire region.
func (r *Region) Extents() image.Rectangle {
	var ext image.Rectangle
	for _, rect := range r.rects {
		ext = ext.Union(rect)
	}
	return ext
}

// Area returns the number of pixels covered by the region.
func (r *Region) Area() int {
	var area int
	for _, rect := range r.rects {
		area += rect.Dx() * rect.Dy()
	}
	return area
}

func (r *Region) Contains(p image.Point) bool {
	for _, rect := range r.rects {
		if p.In(rect) {
			return true
		}
	}
	return false
}

// Clear empties the region while keeping its allocation.
func (r *Region) Clear() {
	r.rects = r.rects[:0]
}

// Clone returns an independent copy of r.
func (r *Region) Clone() Region {
	if len(r.rects) == 0 {
		return Region{}
	}
	return Region{rects: append([]image.Rectangle(nil), r.rects...)}
}

// Set replaces the contents of r with those of o, reusing r's
// allocation.
func (r *Region) Set(o *Region) {
	r.rects = append(r.rects[:0], o.rects...)
}

// Add adds rect to the region.
func (r *Region) Add(rect image.Rectangle) {
	rect = rect.Canon()
	if rect.Empty() {
		return
	}

	pieces := []image.Rectangle{rect}
	for _, existing := range r.rects {
		if !existing.Overlaps(rect) {
			continue
		}
		pieces = subtractAll(pieces, existing)
		if len(pieces) == 0 {
			return
		}
	}
	for _, p := range pieces {
		r.rects = append(r.rects, p)
		r.mergeAt(len(r.rects) - 1)
	}
}

// Union adds all of o to r.
func (r *Region) Union(o *Region) {
	if r == o {
		return
	}
	for _, rect := range o.rects {
		r.Add(rect)
	}
}

// SubtractRect removes rect from the region.
func (r *Region) SubtractRect(rect image.Rectangle) {
	rect = rect.Canon()
	if rect.Empty() || len(r.rects) == 0 {
		return
	}

	out := make([]image.Rectangle, 0, len(r.rects))
	for _, existing := range r.rects {
		out = appendDifference(out, existing, rect)
	}
	r.rects = out
	r.coalesce()
}

// Subtract removes all of o from r.
func (r *Region) Subtract(o *Region) {
	if r == o {
		r.Clear()
		return
	}
	for _, rect := range o.rects {
		r.SubtractRect(rect)
		if r.Empty() {
			return
		}
	}
}

// IntersectRect clips the region to rect.
func (r *Region) IntersectRect(rect image.Rectangle) {
	rect = rect.Canon()
	n := 0
	for _, existing := range r.rects {
		existing = existing.Intersect(rect)
		if existing.Empty() {
			continue
		}
		r.rects[n] = existing
		n++
	}
	r.rects = r.rects[:n]
}

// Intersect clips the region to o.
func (r *Region) Intersect(o *Region) {
	if r == o {
		return
	}

	out := make([]image.Rectangle, 0, len(r.rects))
	for _, a := range r.rects {
		for _, b := range o.rects {
			i := a.Intersect(b)
			if !i.Empty() {
				out = append(out, i)
			}
		}
	}
	r.rects = out
	r.coalesce()
}

// Translate moves every rectangle in the region by (dx, dy).
func (r *Region) Translate(dx, dy int) {
	d := image.Pt(dx, dy)
	for i := range r.rects {
		r.rects[i] = r.rects[i].Add(d)
	}
}

// Map replaces every rectangle with the result of f. Mapped rectangles
// may overlap each other, so they are re-added one at a time.
func (r *Region) Map(f func(image.Rectangle) image.Rectangle) {
	old := r.rects
	r.rects = make([]image.Rectangle, 0, len(old))
	for _, rect := range old {
		r.Add(f(rect))
	}
}

// Equal reports whether r and o cover exactly the same pixels,
// regardless of how either is split into rectangles.
func (r *Region) Equal(o *Region) bool {
	if r.Area() != o.Area() {
		return false
	}
	d := r.Clone()
	d.Subtract(o)
	return d.Empty()
}

// ContainsRegion reports whether every pixel of o is also in r.
func (r *Region) ContainsRegion(o *Region) bool {
	d := o.Clone()
	d.Subtract(r)
	return d.Empty()
}

func (r Region) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, rect := range r.rects {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "(%v,%v,%v,%v)", rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy())
	}
	sb.WriteByte('}')
	return sb.String()
}

func (r *Region) coalesce() {
	for i := 0; i < len(r.rects); i++ {
		i = r.mergeAt(i)
	}
}

// mergeAt joins the rectangle at i with every rectangle that shares a
// whole edge with it, repeating until none is left. It returns the new
// index of the joined rectangle.
func (r *Region) mergeAt(i int) int {
	for j := 0; j < len(r.rects); j++ {
		if j == i {
			continue
		}
		m, ok := join(r.rects[i], r.rects[j])
		if !ok {
			continue
		}

		r.rects[i] = m
		r.rects = slices.Delete(r.rects, j, j+1)
		if j < i {
			i--
		}
		j = -1
	}
	return i
}

// join returns the union of a and b if it is itself a rectangle with
// the same area as both of them together.
func join(a, b image.Rectangle) (image.Rectangle, bool) {
	switch {
	case a.Min.Y == b.Min.Y && a.Max.Y == b.Max.Y && (a.Max.X == b.Min.X || b.Max.X == a.Min.X):
	case a.Min.X == b.Min.X && a.Max.X == b.Max.X && (a.Max.Y == b.Min.Y || b.Max.Y == a.Min.Y):
	default:
		return image.Rectangle{}, false
	}
	return a.Union(b), true
}

func subtractAll(pieces []image.Rectangle, cut image.Rectangle) []image.Rectangle {
	out := make([]image.Rectangle, 0, len(pieces))
	for _, p := range pieces {
		out = appendDifference(out, p, cut)
	}
	return out
}

// appendDifference appends the parts of a that are not in b. The
// result is at most four rectangles: full-width bands above and below
// b, then the pieces to its left and right.
func appendDifference(dst []image.Rectangle, a, b image.Rectangle) []image.Rectangle {
	i := a.Intersect(b)
	if i.Empty() {
		return append(dst, a)
	}

	if a.Min.Y < i.Min.Y {
		dst = append(dst, image.Rect(a.Min.X, a.Min.Y, a.Max.X, i.Min.Y))
	}
	if i.Max.Y < a.Max.Y {
		dst = append(dst, image.Rect(a.Min.X, i.Max.Y, a.Max.X, a.Max.Y))
	}
	if a.Min.X < i.Min.X {
		dst = append(dst, image.Rect(a.Min.X, i.Min.Y, i.Min.X, i.Max.Y))
	}
	if i.Max.X < a.Max.X {
		dst = append(dst, image.Rect(i.Max.X, i.Min.Y, a.Max.X, i.Max.Y))
	}
	return dst
}
