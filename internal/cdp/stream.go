package cdp

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Stream is a pull-based sequence of events for one domain. It runs until
// Close is called or the session terminates.
type Stream struct {
	domain  string
	session *Session
	events  chan Event // closed by the dispatcher

	dropped   atomic.Int64
	closeOnce sync.Once
}

// Domain returns the subscribed domain.
func (st *Stream) Domain() string { return st.domain }

// Next blocks until the next event, ctx is done, or the stream ends. Buffered
// events are still returned after the stream ends.
func (st *Stream) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-st.events:
		if !ok {
			return Event{}, st.endErr()
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// All ranges over events until ctx is done or the stream ends.
func (st *Stream) All(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, err := st.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (st *Stream) Dropped() int64 { return st.dropped.Load() }

// Close unsubscribes. The domain is disabled when no subscribers remain.
func (st *Stream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		n, uerr := st.unsubscribe()
		if uerr != nil || n != 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), disableTimeout)
		defer cancel()
		if _, derr := st.session.Send(ctx, st.domain+".disable", nil, 0); derr != nil && !isMethodNotFound(derr) {
			err = derr
		}
	})
	return err
}

func (st *Stream) unsubscribe() (int, error) {
	reply := make(chan int, 1)
	if err := st.session.submit(unsubscribeOp{stream: st, reply: reply}); err != nil {
		return 0, err
	}
	return <-reply, nil
}

// deliver never blocks; the dispatcher calls it for every matching event.
func (st *Stream) deliver(ev Event, logger *slog.Logger) {
	select {
	case st.events <- ev:
	default:
		n := st.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			logger.Warn("event buffer full, dropping events", "domain", st.domain, "method", ev.Method, "dropped", n)
		}
	}
}

func (st *Stream) endErr() error {
	if err := st.session.Err(); err != nil {
		return err
	}
	return ErrStreamClosed
}

// IsEnded reports whether err means the stream will yield no more events.
func IsEnded(err error) bool {
	return errors.Is(err, ErrStreamClosed) || errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrTargetClosed)
}
