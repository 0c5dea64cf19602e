package timesheet

import (
	"context"
	"sync"
	"testing"
	"time"

	"wyecare.org/internal/stream"
)

// flakySubscriber simulates a push transport whose connection can be dropped
// out from under the watcher.
type flakySubscriber struct {
	mu      sync.Mutex
	current chan stream.ScanEvent
	closed  bool
	count   int
}

func (f *flakySubscriber) Subscribe(ctx context.Context) <-chan stream.ScanEvent {
	f.mu.Lock()
	ch := make(chan stream.ScanEvent, 4)
	f.current = ch
	f.closed = false
	f.count++
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if f.current == ch && !f.closed {
			f.closed = true
			close(ch)
		}
		f.mu.Unlock()
	}()
	return ch
}

func (f *flakySubscriber) publish(evt stream.ScanEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil && !f.closed {
		f.current <- evt
	}
}

func (f *flakySubscriber) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil && !f.closed {
		f.closed = true
		close(f.current)
	}
}

func (f *flakySubscriber) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func waitSubscribed(t *testing.T, f *flakySubscriber, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.subscriptions() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("subscriber never reached %d subscriptions", n)
}

func TestWatchScanDeliversTerminal(t *testing.T) {
	sub := &flakySubscriber{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := WatchScan(ctx, sub, "tok-1", time.Millisecond, 3)
	waitSubscribed(t, sub, 1)

	// Events for other tokens are ignored.
	sub.publish(stream.ScanEvent{Token: "tok-2", Status: stream.ScanSuccess})
	sub.publish(stream.ScanEvent{Token: "tok-1", Status: stream.ScanSuccess, TimesheetID: "ts-1"})

	select {
	case evt, ok := <-out:
		if !ok {
			t.Fatal("channel closed without an event")
		}
		if evt.Token != "tok-1" || evt.Status != stream.ScanSuccess || evt.TimesheetID != "ts-1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no terminal event delivered")
	}

	// Exactly one delivery, then closed.
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("watcher must deliver at most one terminal event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel should close after the terminal event")
	}
}

func TestWatchScanReconnectsAfterDrop(t *testing.T) {
	sub := &flakySubscriber{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := WatchScan(ctx, sub, "tok-1", time.Millisecond, 3)
	waitSubscribed(t, sub, 1)

	sub.drop()
	waitSubscribed(t, sub, 2)

	sub.publish(stream.ScanEvent{Token: "tok-1", Status: stream.ScanFailure, Reason: "token_used"})

	select {
	case evt := <-out:
		if evt.Status != stream.ScanFailure || evt.Reason != "token_used" {
			t.Fatalf("unexpected event after reconnect: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event after reconnect")
	}
}

func TestWatchScanReconnectsExhausted(t *testing.T) {
	sub := &flakySubscriber{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := WatchScan(ctx, sub, "tok-1", time.Millisecond, 2)
	for i := 1; i <= 3; i++ {
		waitSubscribed(t, sub, i)
		sub.drop()
	}

	select {
	case evt, ok := <-out:
		if !ok {
			t.Fatal("expected a synthetic failure before close")
		}
		if evt.Status != stream.ScanFailure || evt.Reason != "connection_lost" {
			t.Fatalf("unexpected exhaustion event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no exhaustion event delivered")
	}
	if got := sub.subscriptions(); got != 3 {
		t.Fatalf("expected 3 connection attempts (1 + 2 retries), got %d", got)
	}
}

func TestWatchScanCancelEndsSilently(t *testing.T) {
	sub := &flakySubscriber{}
	ctx, cancel := context.WithCancel(context.Background())

	out := WatchScan(ctx, sub, "tok-1", time.Millisecond, 3)
	waitSubscribed(t, sub, 1)
	cancel()

	select {
	case evt, ok := <-out:
		if ok {
			t.Fatalf("cancel must not synthesize events, got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("channel should close after cancel")
	}
	if got := sub.subscriptions(); got != 1 {
		t.Fatalf("cancel must not reconnect, got %d subscriptions", got)
	}
}

func TestWatchScanWithStream(t *testing.T) {
	events := stream.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := WatchScan(ctx, events, "tok-1", time.Millisecond, 1)
	deadline := time.Now().Add(time.Second)
	for events.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	events.Publish(stream.ScanEvent{Token: "tok-1", Status: stream.ScanSuccess, TimesheetID: "ts-9"})

	select {
	case evt := <-out:
		if evt.TimesheetID != "ts-9" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered through the real stream")
	}
}
