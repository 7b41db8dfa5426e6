package client

import (
	"context"
	"errors"
	"sync"

	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/wire"
)

// ErrSubscriptionClosed is returned by Next once a subscription has ended
// without an error of its own: it was closed locally, completed by the
// server, or its transport was closed.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription is one live operation. Payloads are buffered in arrival
// order and handed out by Next.
type Subscription struct {
	id      string
	request wire.Request
	ch      chan wire.Payload
	done    chan struct{}
	once    sync.Once
	err     error
	stop    func(id string)
}

func newSubscription(id string, req wire.Request, buffer int, stop func(string)) *Subscription {
	return &Subscription{
		id:      id,
		request: req,
		ch:      make(chan wire.Payload, buffer),
		done:    make(chan struct{}),
		stop:    stop,
	}
}

// ID returns the operation id used on the wire.
func (s *Subscription) ID() string {
	return s.id
}

// Next blocks until the next payload arrives, the subscription ends or ctx
// is done. Payloads buffered before the end are still returned.
func (s *Subscription) Next(ctx context.Context) (wire.Payload, error) {
	select {
	case p := <-s.ch:
		return p, nil
	default:
	}

	select {
	case p := <-s.ch:
		return p, nil
	case <-s.done:
		select {
		case p := <-s.ch:
			return p, nil
		default:
			return wire.Payload{}, s.err
		}
	case <-ctx.Done():
		return wire.Payload{}, ctx.Err()
	}
}

// Done is closed when the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription ended, or nil while it is live.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops the operation on the server. It is safe to call more than
// once.
func (s *Subscription) Close() error {
	if s.finish(ErrSubscriptionClosed) && s.stop != nil {
		s.stop(s.id)
	}
	return nil
}

// deliver queues p without blocking. It reports false when the buffer is
// full.
func (s *Subscription) deliver(p wire.Payload) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.ch <- p:
		return true
	default:
		return false
	}
}

// finish ends the subscription with err. It reports whether this call
// ended it.
func (s *Subscription) finish(err error) bool {
	ended := false
	s.once.Do(func() {
		if err == nil {
			err = ErrSubscriptionClosed
		}
		s.err = err
		close(s.done)
		ended = true
	})
	return ended
}

func overflowError(id string) error {
	return errs.Transport("subscribe", errors.New("subscription "+id+" buffer full, consumer fell behind"))
}
