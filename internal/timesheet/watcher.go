package timesheet

import (
	"context"
	"time"

	"wyecare.org/internal/stream"
)

// Subscriber is the push channel the scan watcher listens on.
// *stream.Stream satisfies it; remote clients wrap their SSE connection.
type Subscriber interface {
	Subscribe(ctx context.Context) <-chan stream.ScanEvent
}

// WatchScan runs one "awaiting scan" session for a token. It delivers at
// most one terminal event on the returned channel and then closes it. The
// subscription is torn down when a terminal event arrives, when ctx is
// canceled (user cancel or teardown), or when reconnection attempts are
// exhausted. While the session is active, a dropped subscription is retried
// after a fixed backoff up to maxReconnects times; once the session ends no
// reconnection happens.
func WatchScan(ctx context.Context, sub Subscriber, token string, backoff time.Duration, maxReconnects int) <-chan stream.ScanEvent {
	out := make(chan stream.ScanEvent, 1)
	if backoff <= 0 {
		backoff = 3 * time.Second
	}

	go func() {
		defer close(out)
		reconnects := 0
		for {
			subCtx, cancel := context.WithCancel(ctx)
			ch := sub.Subscribe(subCtx)
			terminal, lost := awaitTerminal(ctx, ch, token)
			cancel()
			if terminal != nil {
				out <- *terminal
				return
			}
			if !lost {
				// ctx ended: session canceled, leave silently.
				return
			}
			if reconnects >= maxReconnects {
				out <- stream.ScanEvent{
					Token:  token,
					Status: stream.ScanFailure,
					Reason: "connection_lost",
				}
				return
			}
			reconnects++
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()
	return out
}

// awaitTerminal drains the subscription until a terminal event for the token
// arrives, the context ends, or the channel closes underneath us. lost is
// true only for the channel-closed (transport failure) case.
func awaitTerminal(ctx context.Context, ch <-chan stream.ScanEvent, token string) (terminal *stream.ScanEvent, lost bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case evt, ok := <-ch:
			if !ok {
				// Distinguish transport loss from our own teardown: the
				// subscription also closes when ctx ends.
				if ctx.Err() != nil {
					return nil, false
				}
				return nil, true
			}
			if evt.Token != token || !evt.Terminal() {
				continue
			}
			return &evt, false
		}
	}
}
