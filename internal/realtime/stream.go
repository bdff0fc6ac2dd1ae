package realtime

import (
	"context"
	"sync"
)

// stream adapts a listener to a Go channel.
type stream struct {
	out  chan ChangeEvent
	done chan struct{}

	mu     sync.Mutex // held while sending; guards closed
	closed bool

	stop     sync.Once
	dmu      sync.Mutex
	dispose  Disposer
	disposed bool
}

func (s *stream) deliver(ctx context.Context) Handler {
	return func(evt ChangeEvent) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		select {
		case s.out <- evt:
		case <-s.done:
		case <-ctx.Done():
		}
	}
}

func (s *stream) close() {
	s.stop.Do(func() {
		close(s.done)

		s.dmu.Lock()
		d := s.dispose
		s.disposed = true
		s.dmu.Unlock()
		if d != nil {
			d()
		}

		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
	})
}

// attach records the listener disposer, running it at once if the stream
// was already closed.
func (s *stream) attach(d Disposer) {
	s.dmu.Lock()
	if s.disposed {
		s.dmu.Unlock()
		d()
		return
	}
	s.dispose = d
	s.dmu.Unlock()
}

// Stream subscribes to (kind, scope) and returns the events on a channel
// with the given buffer size.
//
// A full buffer blocks delivery, pushing back on the source, instead of
// dropping events. The channel is closed once the returned Disposer is
// called, ctx is done, or the channel is torn down by Unsubscribe or
// UnsubscribeAll. For an unconfigured manager or an invalid subscription
// the channel stays open and silent until one of those happens.
func (m *Manager) Stream(ctx context.Context, kind Kind, scope string, buffer int) (<-chan ChangeEvent, Disposer) {
	if buffer < 0 {
		buffer = 0
	}
	s := &stream{
		out:  make(chan ChangeEvent, buffer),
		done: make(chan struct{}),
	}

	// Must not block UnsubscribeAll.
	evicted := func() { go s.close() }
	s.attach(m.subscribe(kind, scope, s.deliver(ctx), evicted))

	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-s.done:
		}
	}()

	return s.out, s.close
}
