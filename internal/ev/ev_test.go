package ev_test

import (
	"errors"
	"testing"
	"time"

	"deedles.dev/wlcomp/internal/ev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalEmit(t *testing.T) {
	var s ev.Signal[int]
	var got []int
	h1 := s.Subscribe(func(v int) { got = append(got, v) })
	s.Subscribe(func(v int) { got = append(got, v*10) })

	s.Emit(1)
	assert.Equal(t, []int{1, 10}, got)

	s.Unsubscribe(h1)
	s.Emit(2)
	assert.Equal(t, []int{1, 10, 20}, got)
	assert.Equal(t, 1, s.Len())
}

func TestSignalUnsubscribeDuringEmit(t *testing.T) {
	var s ev.Signal[struct{}]
	var calls []string
	var h2 ev.Handle
	s.Subscribe(func(struct{}) {
		calls = append(calls, "first")
		s.Unsubscribe(h2)
		s.Subscribe(func(struct{}) { calls = append(calls, "late") })
	})
	h2 = s.Subscribe(func(struct{}) { calls = append(calls, "second") })

	s.Emit(struct{}{})
	assert.Equal(t, []string{"first"}, calls)
}

func TestSignalClear(t *testing.T) {
	var s ev.Signal[int]
	s.Subscribe(func(int) { t.Fatal("called after Clear") })
	s.Clear()
	s.Emit(3)
	s.Unsubscribe(12)
}

func TestQueue(t *testing.T) {
	q := ev.NewQueue[int]()
	defer q.Stop()

	for i := 0; i < 3; i++ {
		q.Add() <- i
	}

	var got []int
	var errs []error
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case b := <-q.Get():
			err := b.Flush(func(v int) error {
				got = append(got, v)
				if v == 1 {
					return errors.New("one")
				}
				return nil
			})
			if err != nil {
				errs = append(errs, err)
			}
		case <-timeout:
			t.Fatalf("timed out with %v", got)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, got)
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "one")
}
