package compositor

import (
	"image"
	"slices"
)

// Subsurface links a child surface to its parent.
type Subsurface struct {
	parent, child   *Surface
	pos, pendingPos image.Point
	sync            bool
	destroyed       bool
}

// CreateSubsurface makes child a sub-surface of parent. The child is
// placed on top of its siblings, in synchronized mode, once the parent
// is next committed.
func (c *Context) CreateSubsurface(child, parent *Surface) (*Subsurface, error) {
	if child == parent {
		return nil, protocolError("wl_subcompositor", ErrorBadSurface, "surface %v can't be its own parent", child.id)
	}
	if child.sub != nil || (child.role != RoleNone && child.role != RoleSubsurface) {
		return nil, protocolError("wl_subcompositor", ErrorBadSurface, "surface %v already has role %v", child.id, child.role)
	}
	for p := parent; p != nil; p = p.Parent() {
		if p == child {
			return nil, protocolError("wl_subcompositor", ErrorBadParent, "surface %v is an ancestor of %v", child.id, parent.id)
		}
	}

	sub := Subsurface{
		parent: parent,
		child:  child,
		sync:   true,
	}
	child.role = RoleSubsurface
	child.sub = &sub
	parent.pendingStack = append(parent.pendingStack, &sub)
	parent.stackDirty = true
	return &sub, nil
}

func (sub *Subsurface) Parent() *Surface { return sub.parent }

func (sub *Subsurface) Child() *Surface { return sub.child }

// Position returns the position of the child relative to the parent
// that is currently in effect.
func (sub *Subsurface) Position() image.Point { return sub.pos }

// SetPosition sets the position of the child relative to its parent.
// It takes effect when the parent is committed.
func (sub *Subsurface) SetPosition(x, y int) {
	if sub.destroyed {
		return
	}
	sub.pendingPos = image.Pt(x, y)
	sub.parent.stackDirty = true
}

// PlaceAbove moves the child to just above sibling, which must be
// another child of the same parent or the parent itself.
func (sub *Subsurface) PlaceAbove(sibling *Surface) error {
	return sub.place(sibling, 1)
}

// PlaceBelow moves the child to just below sibling.
func (sub *Subsurface) PlaceBelow(sibling *Surface) error {
	return sub.place(sibling, 0)
}

func (sub *Subsurface) place(sibling *Surface, after int) error {
	if sub.destroyed {
		return nil
	}

	var marker *Subsurface
	switch {
	case sibling == sub.parent:
	case sibling != sub.child && sibling.sub != nil && sibling.sub.parent == sub.parent:
		marker = sibling.sub
	default:
		return protocolError("wl_subsurface", ErrorBadSurface, "surface %v is not a sibling of %v", sibling.id, sub.child.id)
	}

	p := sub.parent
	p.pendingStack = slices.DeleteFunc(p.pendingStack, func(s *Subsurface) bool { return s == sub })
	i := slices.Index(p.pendingStack, marker)
	if i < 0 {
		p.pendingStack = append(p.pendingStack, sub)
		return protocolError("wl_subsurface", ErrorBadSurface, "surface %v is not stacked under %v", sibling.id, p.id)
	}
	p.pendingStack = slices.Insert(p.pendingStack, i+after, sub)
	p.stackDirty = true
	return nil
}

// Sync reports whether the sub-surface itself is in synchronized mode.
func (sub *Subsurface) Sync() bool { return sub.sync }

// Synchronized reports whether the child's commits are cached until its
// parent is committed. That is the case if the sub-surface or any of
// its ancestors is in synchronized mode.
func (sub *Subsurface) Synchronized() bool {
	for cur := sub; cur != nil; cur = cur.parent.sub {
		if cur.sync {
			return true
		}
	}
	return false
}

func (sub *Subsurface) SetSync() {
	sub.sync = true
}

// SetDesync switches the sub-surface to desynchronized mode. If that
// makes the child effectively desynchronized and it has cached state,
// the cached state is applied right away.
func (sub *Subsurface) SetDesync() {
	if !sub.sync {
		return
	}
	sub.sync = false

	child := sub.child
	if sub.destroyed || sub.Synchronized() || !child.hasCached {
		return
	}
	child.ctx.batch(func() {
		child.applyCached()
	})
}

// Destroy removes the link between the child and its parent. The child
// is unmapped immediately.
func (sub *Subsurface) Destroy() {
	if sub.destroyed {
		return
	}
	sub.child.ctx.batch(sub.destroy)
}

func (sub *Subsurface) destroy() {
	if sub.destroyed {
		return
	}

	child, parent := sub.child, sub.parent
	child.damageTree()

	sub.destroyed = true
	parent.stack = slices.DeleteFunc(parent.stack, func(s *Subsurface) bool { return s == sub })
	parent.pendingStack = slices.DeleteFunc(parent.pendingStack, func(s *Subsurface) bool { return s == sub })
	child.sub = nil
	child.relayout()
}
