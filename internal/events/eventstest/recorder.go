// Package eventstest provides in-memory Publisher and Session doubles.
package eventstest

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"conify/internal/common"
	"conify/internal/events"
)

type Published struct {
	Event  events.Event
	Target events.Target
}

// Recorder is a Publisher that keeps every published event in order.
type Recorder struct {
	mu   sync.Mutex
	Err  error
	sent []Published
}

func (r *Recorder) Publish(_ context.Context, ev events.Event, target events.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Published{Event: ev, Target: target})
	return r.Err
}

func (r *Recorder) All() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.sent...)
}

// To returns the events published to target, in order.
func (r *Recorder) To(target events.Target) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, p := range r.sent {
		if p.Target == target {
			out = append(out, p.Event)
		}
	}
	return out
}

func (r *Recorder) OfType(t events.Type) []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Published
	for _, p := range r.sent {
		if p.Event.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// Frame is a decoded event as received by a session.
type Frame struct {
	ID      string          `json:"id"`
	Type    events.Type     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Session is a hub session with a bounded queue.
type Session struct {
	SessionID string
	Ident     common.Identity
	Queue     chan []byte
}

func NewSession(id string, ident common.Identity, capacity int) *Session {
	return &Session{SessionID: id, Ident: ident, Queue: make(chan []byte, capacity)}
}

func (s *Session) ID() string                { return s.SessionID }
func (s *Session) Identity() common.Identity { return s.Ident }

func (s *Session) Deliver(frame []byte) bool {
	select {
	case s.Queue <- frame:
		return true
	default:
		return false
	}
}

// Drain decodes every queued frame without blocking.
func (s *Session) Drain() []Frame {
	var out []Frame
	for {
		select {
		case raw := <-s.Queue:
			var f Frame
			if err := json.Unmarshal(raw, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}
