package decepticon

import (
	"context"
	"sync"

	"github.com/decepticon-ai/decepticon/session"
)

// streamHub fans engine events out to live event streams. The engine observer
// calls publish on the turn-loop goroutine and must never block, so each
// subscriber buffers events in an unbounded queue drained by its own stream
// goroutine.
type streamHub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{subs: make(map[string]map[*subscriber]struct{})}
}

// subscribe registers a live-event subscriber for the session. The caller must
// eventually call cancel to release it.
func (h *streamHub) subscribe(sessionID string) *subscriber {
	sub := &subscriber{
		hub:       h,
		sessionID: sessionID,
		notify:    make(chan struct{}, 1),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	return sub
}

// publish queues an event on every subscriber of the session. It never blocks.
func (h *streamHub) publish(sessionID string, ev session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionID] {
		sub.push(ev)
	}
}

// finish closes all subscribers of the session. Called once the session's run
// goroutine has exited, so streams end even when the run aborted without a
// terminal event.
func (h *streamHub) finish(sessionID string) {
	h.mu.Lock()
	subs := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()
	for sub := range subs {
		sub.close()
	}
}

func (h *streamHub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
}

// subscriber is one live stream's event queue.
type subscriber struct {
	hub       *streamHub
	sessionID string
	notify    chan struct{}

	mu     sync.Mutex
	queue  []session.Event
	closed bool
}

func (s *subscriber) push(ev session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// next blocks until events are queued, the subscriber is closed, or the
// context ends. It drains and returns the whole queue; ok is false once no
// further events will arrive.
func (s *subscriber) next(ctx context.Context) (events []session.Event, ok bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			events, s.queue = s.queue, nil
			s.mu.Unlock()
			return events, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// cancel detaches the subscriber from the hub and closes it.
func (s *subscriber) cancel() {
	s.hub.remove(s)
	s.close()
}
