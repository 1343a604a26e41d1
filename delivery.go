package apns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DeliveryPolicy selects how SendMany spreads a batch over the connection.
type DeliveryPolicy int

const (
	// Sequential queues the batch and dispatches the next notification only
	// when the stream of the previous one has completed. At most one stream is
	// in flight.
	Sequential DeliveryPolicy = iota
	// Synchronous sends each notification and waits for its answer before the
	// next one, in the calling goroutine.
	Synchronous
	// FireThenJoin dispatches the whole batch at once and waits for all the
	// answers. See WithCloseAfterJoin.
	FireThenJoin
)

func (p DeliveryPolicy) String() string {
	switch p {
	case Sequential:
		return "sequential"
	case Synchronous:
		return "synchronous"
	case FireThenJoin:
		return "fire-then-join"
	default:
		return fmt.Sprintf("DeliveryPolicy(%d)", int(p))
	}
}

// SendMany delivers the notifications for the topic using the policy. The
// returned map holds the rejected notifications only: the device token mapped
// to the body of the answer. A token sent several times keeps the last body.
//
// Sequential and Synchronous stop at the first transport error; FireThenJoin
// waits for every dispatched stream. In all cases the answers received so far
// are returned together with the first error.
func (c *HTTP2Channel) SendMany(ctx context.Context, notifications []Notification, topic string, policy DeliveryPolicy) (map[string]string, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]string)
	)
	record := func(d delivery) {
		if d.body == "" {
			return
		}
		mu.Lock()
		results[d.token] = d.body
		mu.Unlock()
	}

	var err error
	switch policy {
	case Sequential:
		err = c.sendSequential(ctx, notifications, topic, record)
	case Synchronous:
		err = c.sendSynchronous(ctx, notifications, topic, record)
	case FireThenJoin:
		err = c.sendFireThenJoin(ctx, notifications, topic, record)
	default:
		return nil, fmt.Errorf("apns: unknown delivery policy %v", policy)
	}
	c.opts.log.Debug("batch sent",
		slog.String("policy", policy.String()),
		slog.Int("notifications", len(notifications)),
		slog.Int("rejected", len(results)))
	return results, err
}

// dispatch starts the delivery of n in its own goroutine and returns the
// channel its outcome is sent to once the stream has completed.
func (c *HTTP2Channel) dispatch(ctx context.Context, n Notification, topic string) <-chan delivery {
	done := make(chan delivery, 1)
	go func() {
		done <- c.deliver(ctx, n, topic)
	}()
	return done
}

func (c *HTTP2Channel) sendSequential(ctx context.Context, notifications []Notification, topic string, record func(delivery)) error {
	pending := make(chan Notification, len(notifications))
	for _, n := range notifications {
		pending <- n
	}
	close(pending)
	for n := range pending {
		d := <-c.dispatch(ctx, n, topic)
		if d.err != nil {
			return d.err
		}
		record(d)
	}
	return nil
}

func (c *HTTP2Channel) sendSynchronous(ctx context.Context, notifications []Notification, topic string, record func(delivery)) error {
	for _, n := range notifications {
		d := c.deliver(ctx, n, topic)
		if d.err != nil {
			return d.err
		}
		record(d)
	}
	return nil
}

func (c *HTTP2Channel) sendFireThenJoin(ctx context.Context, notifications []Notification, topic string, record func(delivery)) error {
	// The group has no context of its own: a failed stream must not cancel
	// the streams already dispatched.
	var g errgroup.Group
	for _, n := range notifications {
		g.Go(func() error {
			d := c.deliver(ctx, n, topic)
			if d.err != nil {
				return d.err
			}
			record(d)
			return nil
		})
	}
	err := g.Wait()
	if c.opts.closeAfterJoin {
		if cerr := c.Close(); err == nil && cerr != nil {
			err = &ConnectionError{Op: "close", Addr: c.addr, Err: cerr}
		}
	}
	return err
}
