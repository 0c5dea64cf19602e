// Package stream fans out QR scan outcomes to push subscribers (SSE clients
// and in-process watchers). Exactly one terminal event is published per scan
// token; subscribers filter by token.
package stream

import (
	"context"
	"sync"
	"time"
)

// ScanStatus is the terminal outcome of a scan session.
type ScanStatus string

const (
	ScanSuccess ScanStatus = "success"
	ScanFailure ScanStatus = "failure"
)

// ScanEvent is the single message type observed on the push channel.
type ScanEvent struct {
	Token       string     `json:"token"`
	Status      ScanStatus `json:"status"`
	TimesheetID string     `json:"timesheetId,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Terminal reports whether the event ends a scan session.
func (e ScanEvent) Terminal() bool {
	return e.Status == ScanSuccess || e.Status == ScanFailure
}

// Stream fan-outs scan events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ScanEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan ScanEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ScanEvent {
	ch := make(chan ScanEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt ScanEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// SubscriberCount reports the number of open subscriptions, used to verify
// deterministic teardown.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
