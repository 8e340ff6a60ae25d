package compositor

import (
	"image"

	"deedles.dev/wlcomp/region"
)

// Plane collects global damage for the surfaces that a single pipeline
// draws. Each pipeline owns one plane.
type Plane struct {
	damage region.Region
}

// Damage returns the damage accumulated on the plane, in global
// coordinates.
func (p *Plane) Damage() *region.Region {
	return &p.damage
}

func (p *Plane) AddDamage(r image.Rectangle) {
	p.damage.Add(r)
}

func (p *Plane) Reset() {
	p.damage.Clear()
}
