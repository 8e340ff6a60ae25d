package compositor

import (
	"fmt"
	"time"
)

// Event is something that the Context reacts to. Events come from
// backends, from the protocol layer, and from the Context itself.
type Event interface {
	event()
}

// DirtyEvent is emitted when a surface has new damage.
type DirtyEvent struct {
	Surface *Surface
}

// CommitEvent is emitted after a surface's state has been applied.
type CommitEvent struct {
	Surface *Surface
}

// RepaintEvent is sent by a backend when a repaint slot that was
// requested with RequestRepaintSlot fires.
type RepaintEvent struct {
	Output    *Output
	BufferAge int
}

// PresentedEvent is sent by a backend when a frame submitted with
// Present has been displayed. Time is on the Context's clock.
type PresentedEvent struct {
	Output *Output
	Time   time.Duration
}

// ClockResetEvent is sent by a backend when the presentation clock of
// an output jumped, making the recorded frame timings useless.
type ClockResetEvent struct {
	Output *Output
}

// ModeChangedEvent is sent by a backend when an output's device changed.
type ModeChangedEvent struct {
	Output *Output
	Device Device
}

// DeviceRemovedEvent is sent by a backend when an output's device is
// gone.
type DeviceRemovedEvent struct {
	Output *Output
}

// FuncEvent runs an arbitrary function on the Context's goroutine.
type FuncEvent func() error

func (DirtyEvent) event()         {}
func (CommitEvent) event()        {}
func (RepaintEvent) event()       {}
func (PresentedEvent) event()     {}
func (ClockResetEvent) event()    {}
func (ModeChangedEvent) event()   {}
func (DeviceRemovedEvent) event() {}
func (FuncEvent) event()          {}

// Dispatch processes e. Events that are emitted while e is being
// processed are queued and processed afterwards, in order, so no
// handler ever runs in the middle of another. Dispatch returns the
// error from processing e itself. Errors from queued events are logged.
//
// If Dispatch is called while another event is being processed, e is
// queued and Dispatch returns nil.
func (c *Context) Dispatch(e Event) error {
	if c.dispatching {
		c.queue = append(c.queue, e)
		return nil
	}

	var err error
	c.batch(func() {
		err = c.process(e)
	})
	return err
}

// emit queues e to be processed once the current operation finishes.
func (c *Context) emit(e Event) {
	c.queue = append(c.queue, e)
	if !c.dispatching {
		c.batch(func() {})
	}
}

// batch runs f and then drains the event queue. Nested calls run f
// directly and leave the draining to the outermost one.
func (c *Context) batch(f func()) {
	if c.dispatching {
		f()
		return
	}

	c.dispatching = true
	defer func() { c.dispatching = false }()

	f()
	for len(c.queue) > 0 {
		e := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]

		err := c.process(e)
		if err != nil {
			c.logger.Error("event failed", "event", e, "err", err)
		}
	}
	c.queue = c.queue[:0]
}

func (c *Context) process(e Event) error {
	switch e := e.(type) {
	case DirtyEvent:
		c.surfaceDirty(e.Surface)
		return nil
	case CommitEvent:
		if !e.Surface.destroyed {
			e.Surface.OnCommit.Emit(e.Surface)
			c.OnCommit.Emit(e.Surface)
		}
		return nil
	case RepaintEvent:
		return c.repaint(e.Output, e.BufferAge)
	case PresentedEvent:
		c.presented(e.Output, e.Time)
		return nil
	case ClockResetEvent:
		e.Output.resetClock()
		return nil
	case ModeChangedEvent:
		c.setDevice(e.Output, e.Device)
		return nil
	case DeviceRemovedEvent:
		c.removeOutput(e.Output)
		return nil
	case FuncEvent:
		return e()
	default:
		panic(fmt.Errorf("unknown event type %T", e))
	}
}
