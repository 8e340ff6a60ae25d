package main

import (
	"image"

	"deedles.dev/wlcomp/compositor"
)

// cascadeStep is the offset between consecutively placed windows.
var cascadeStep = image.Pt(32, 32)

// place maps root surfaces as windows once they have content and
// unmaps them again when their buffer is removed. There is no shell
// protocol, so every root surface with a buffer is a window.
func (s *state) place(surface *compositor.Surface) {
	if surface.Parent() != nil {
		return
	}

	hasBuffer := surface.BufferSize() != image.Point{}
	switch surface.Role() {
	case compositor.RoleNone:
		if !hasBuffer {
			return
		}
		err := surface.SetRole(compositor.RoleToplevel)
		if err != nil {
			s.logger.Warn("place surface", "surface", surface, "err", err)
			return
		}
		s.ctx.Map(surface, compositor.LayerNormal, s.nextPosition(surface.Size()))

	case compositor.RoleToplevel:
		switch {
		case hasBuffer && !surface.Mapped():
			s.ctx.Map(surface, compositor.LayerNormal, s.nextPosition(surface.Size()))
		case !hasBuffer && surface.Mapped():
			s.ctx.Unmap(surface)
		}
	}
}

// nextPosition returns where the next window of the given size goes.
// Windows are cascaded from the top-left corner of the first output
// and wrap around when they would leave it.
func (s *state) nextPosition(size image.Point) image.Point {
	var area image.Rectangle
	if outs := s.ctx.Outputs(); len(outs) > 0 {
		area = outs[0].Box()
	}

	pos := area.Min.Add(s.cascade)
	if !(image.Rectangle{Min: pos, Max: pos.Add(size)}).In(area) {
		s.cascade = image.Point{}
		pos = area.Min
	}
	s.cascade = s.cascade.Add(cascadeStep)
	return pos
}
