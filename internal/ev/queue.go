// Package ev provides the event plumbing used by the compositor: a
// bulk queue for handing events between goroutines and a subscriber
// registry for notifications.
package ev

import (
	"errors"

	"deedles.dev/xsync/cq"
)

// Queue collects values added from any goroutine and hands them out in
// batches.
type Queue[E any] = cq.BulkQueue[E, *Batch[E]]

func NewQueue[E any]() *Queue[E] {
	return cq.New(func(v []E) *Batch[E] {
		return &Batch[E]{events: v}
	})
}

// Batch is a series of events taken from a Queue at once.
type Batch[E any] struct {
	events []E
}

func (b *Batch[E]) Len() int {
	return len(b.events)
}

// Flush calls f for every event in the batch, in order, and returns all
// of the errors that were encountered.
func (b *Batch[E]) Flush(f func(E) error) error {
	return errors.Join(Flush(b, f)...)
}

func Flush[E any](b *Batch[E], f func(E) error) (errs []error) {
	for _, ev := range b.events {
		err := f(ev)
		if err != nil {
			errs = append(errs, err)
		}
	}
	b.events = nil
	return errs
}
