package compositor

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/internal/ev"
	"deedles.dev/wlcomp/region"
)

// Mode is a display mode. Refresh is in millihertz.
type Mode struct {
	Width, Height int
	Refresh       int
}

// DefaultRefresh is used for modes that don't report a refresh rate.
const DefaultRefresh = 60000

// RefreshInterval returns the time between two vblanks.
func (m Mode) RefreshInterval() time.Duration {
	refresh := m.Refresh
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return time.Duration(int64(time.Second) * 1000 / int64(refresh))
}

func (m Mode) String() string {
	return fmt.Sprintf("%vx%v@%.3f", m.Width, m.Height, float64(m.Refresh)/1000)
}

// Device describes the hardware side of an output.
type Device struct {
	Name      string
	Position  image.Point
	Mode      Mode
	Scale     float64
	Transform geom.Transform
	Enabled   bool
}

// RepaintState is the set of flags tracking an output's progress
// through the repaint cycle.
type RepaintState uint8

const (
	// StateDirty means that the output has damage that hasn't been
	// drawn yet.
	StateDirty RepaintState = 1 << iota

	// StateScheduled means that a repaint slot has been requested from
	// the backend.
	StateScheduled

	// StateCommitted means that a frame has been submitted and hasn't
	// been presented yet.
	StateCommitted
)

func (s RepaintState) String() string {
	if s == 0 {
		return "clean"
	}

	var str string
	for _, f := range []struct {
		flag RepaintState
		name string
	}{
		{StateDirty, "dirty"},
		{StateScheduled, "scheduled"},
		{StateCommitted, "committed"},
	} {
		if s&f.flag == 0 {
			continue
		}
		if str != "" {
			str += "|"
		}
		str += f.name
	}
	return str
}

// FrameHistory is the number of frame costs used to predict how long a
// repaint will take.
const FrameHistory = 8

// Output is a display that the compositor draws to.
type Output struct {
	ctx *Context
	id  int

	dev  Device
	box  image.Rectangle
	view geom.Matrix

	damage                  [3]region.Region
	pending, curr, previous int

	state      RepaintState
	needsReset bool
	destroyed  bool

	costs         [FrameHistory]time.Duration
	costIndex     int
	frameCost     time.Duration
	lastPresented time.Duration
	presented     bool

	OnPresented     ev.Signal[*Output]
	OnNeedsReset    ev.Signal[*Output]
	OnDeviceChanged ev.Signal[*Output]
	OnDestroy       ev.Signal[*Output]
}

func newOutput(ctx *Context, id int, dev Device) *Output {
	out := Output{
		ctx:      ctx,
		id:       id,
		pending:  0,
		curr:     1,
		previous: 2,
	}
	out.setDevice(dev)
	return &out
}

// ID is a small integer identifying the output while it exists. It is
// reused after the output is removed.
func (out *Output) ID() int { return out.id }

func (out *Output) bit() uint32 { return 1 << out.id }

func (out *Output) Name() string { return out.dev.Name }

func (out *Output) Device() Device { return out.dev }

func (out *Output) State() RepaintState { return out.state }

// NeedsReset reports whether a repaint of the output failed. The output
// is not repainted again until SetDevice is called.
func (out *Output) NeedsReset() bool { return out.needsReset }

// Box returns the area of the global coordinate space that the output
// displays.
func (out *Output) Box() image.Rectangle { return out.box }

// LocalBox is Box translated to the origin.
func (out *Output) LocalBox() image.Rectangle {
	return image.Rectangle{Max: out.box.Size()}
}

// ViewMatrix maps global coordinates to device pixels.
func (out *Output) ViewMatrix() geom.Matrix { return out.view }

// LocalMatrix maps output-local coordinates to device pixels.
func (out *Output) LocalMatrix() geom.Matrix {
	return out.view.Mul(geom.Translate(float64(out.box.Min.X), float64(out.box.Min.Y)))
}

// Projection maps device pixels to normalized device coordinates, with
// y pointing up.
func (out *Output) Projection() geom.Matrix {
	w, h := float64(out.dev.Mode.Width), float64(out.dev.Mode.Height)
	if w == 0 || h == 0 {
		return geom.Identity()
	}
	return geom.Translate(-1, 1).Mul(geom.Scale(2/w, -2/h))
}

// PendingDamage returns the damage, in output-local coordinates, that
// has accumulated since the last repaint.
func (out *Output) PendingDamage() *region.Region { return &out.damage[out.pending] }

// CurrentDamage returns the damage that was drawn by the last repaint.
func (out *Output) CurrentDamage() *region.Region { return &out.damage[out.curr] }

// PreviousDamage returns the damage that was drawn by the repaint
// before the last one.
func (out *Output) PreviousDamage() *region.Region { return &out.damage[out.previous] }

// EffectiveDamage returns the area that has to be redrawn into a
// framebuffer whose content is age frames old. A negative age is
// treated as 2. Damage is only kept for two frames, so anything older
// than that is redrawn completely.
func (out *Output) EffectiveDamage(age int) region.Region {
	if age < 0 {
		age = 2
	}
	if age > 2 {
		return region.FromRects(out.LocalBox())
	}

	d := out.PendingDamage().Clone()
	if age >= 1 {
		d.Union(out.CurrentDamage())
	}
	if age >= 2 {
		d.Union(out.PreviousDamage())
	}
	d.IntersectRect(out.LocalBox())
	return d
}

func (out *Output) rotateDamage() {
	out.pending, out.curr, out.previous = out.previous, out.pending, out.curr
	out.damage[out.pending].Clear()
}

func (out *Output) damageAll() {
	p := out.PendingDamage()
	p.Clear()
	p.Add(out.LocalBox())
}

func (out *Output) setDevice(dev Device) {
	if dev.Scale <= 0 {
		dev.Scale = 1
	}
	out.dev = dev

	tsize := dev.Transform.Size(dev.Mode.Width, dev.Mode.Height)
	size := image.Pt(
		int(math.Ceil(float64(tsize.X)/dev.Scale)),
		int(math.Ceil(float64(tsize.Y)/dev.Scale)),
	)
	out.box = image.Rectangle{Min: dev.Position, Max: dev.Position.Add(size)}

	out.view = dev.Transform.Invert().Matrix(float64(tsize.X), float64(tsize.Y)).
		Mul(geom.Scale(dev.Scale, dev.Scale)).
		Mul(geom.Translate(float64(-dev.Position.X), float64(-dev.Position.Y)))

	out.needsReset = false
	out.damageAll()
}

// MaxFrameCost returns the largest recorded frame cost, rounded up to
// the next millisecond.
func (out *Output) MaxFrameCost() time.Duration {
	var m time.Duration
	for _, c := range out.costs {
		m = max(m, c)
	}
	return (m + time.Millisecond - 1).Truncate(time.Millisecond)
}

func (out *Output) recordCost(cost time.Duration) {
	out.costs[out.costIndex] = max(cost, 0)
	out.costIndex = (out.costIndex + 1) % FrameHistory
}

func (out *Output) resetClock() {
	out.costs = [FrameHistory]time.Duration{}
	out.costIndex = 0
	out.presented = false
	out.lastPresented = 0
}

// RepaintDelay returns how long to wait, starting at now, before
// repainting the output so that the frame is ready just in time for the
// next vblank. A zero delay means that the output should be repainted
// immediately.
func (out *Output) RepaintDelay(now, margin time.Duration) time.Duration {
	if !out.presented {
		return 0
	}

	next := out.lastPresented + out.dev.Mode.RefreshInterval()
	if next <= now {
		return 0
	}

	delay := next - now - (out.MaxFrameCost() + margin)
	if delay < time.Millisecond {
		return 0
	}
	return delay
}

func (out *Output) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("id", out.id),
		slog.String("name", out.dev.Name),
		slog.String("mode", out.dev.Mode.String()),
		slog.String("state", out.state.String()),
	)
}
