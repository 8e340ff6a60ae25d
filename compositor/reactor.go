package compositor

import (
	"context"
	"errors"

	"deedles.dev/wlcomp/internal/ev"
)

// Reactor feeds events from other goroutines, such as backend timers
// and client connections, into a Context.
type Reactor struct {
	ctx   *Context
	queue *ev.Queue[Event]
	done  chan struct{}
}

func NewReactor(ctx *Context) *Reactor {
	return &Reactor{
		ctx:   ctx,
		queue: ev.NewQueue[Event](),
		done:  make(chan struct{}),
	}
}

func (r *Reactor) Context() *Context { return r.ctx }

// Post queues e. It is safe to call from any goroutine. Events posted
// after Run has returned are dropped.
func (r *Reactor) Post(e Event) {
	select {
	case r.queue.Add() <- e:
	case <-r.done:
	}
}

// Run dispatches queued events until ctx is canceled. After every batch
// of events, flush is called if it isn't nil. Errors returned by flush
// stop the loop. Errors from events are handed to handle, which may
// return them to stop the loop as well.
func (r *Reactor) Run(ctx context.Context, handle func(error) error, flush func() error) error {
	defer r.queue.Stop()
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case batch := <-r.queue.Get():
			errs := ev.Flush(batch, r.ctx.Dispatch)
			if handle != nil {
				for _, err := range errs {
					if err := handle(err); err != nil {
						return err
					}
				}
			}

			if flush != nil {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// IgnoreResets is an error handler for Run that drops errors about
// outputs that need to be reset, which the Context has already logged,
// and returns everything else.
func (r *Reactor) IgnoreResets(err error) error {
	var reset *ResetError
	if errors.As(err, &reset) {
		return nil
	}
	return err
}
