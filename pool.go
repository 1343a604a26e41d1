package apns

import (
	"context"
	"sync"
)

// Pool spreads notifications over several workers sharing one HTTP2Channel.
//
// The gateway allows multiple concurrent streams on each connection. The exact
// number depends on the authentication method and on the server load, so do
// not assume a specific number of streams; start with a few workers.
type Pool struct {
	notifications chan Notification
	wg            sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Response is the outcome of a notification sent through a Pool.
type Response struct {
	Token string // device token
	ID    string // apns-id of the request
	Body  string // JSON rejection, empty when accepted
	Err   error  // transport or token failure
}

// Pool starts workers that deliver queued notifications for the topic. The
// outcome of each delivery is sent to responses when it is not nil; the caller
// must keep reading from it until Close returns.
func (c *HTTP2Channel) Pool(workers int, topic string, responses chan<- Response) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{notifications: make(chan Notification)}
	p.wg.Add(workers)
	for range workers {
		go func() {
			defer p.wg.Done()
			for n := range p.notifications {
				d := c.deliver(context.Background(), n, topic)
				if responses != nil {
					responses <- Response{Token: d.token, ID: d.id, Body: d.body, Err: d.err}
				}
			}
		}()
	}
	return p
}

// Push queues the notifications. It blocks until a worker takes each of them
// or ctx is done, and returns ErrChannelClosed after Close.
func (p *Pool) Push(ctx context.Context, notifications ...Notification) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrChannelClosed
	}
	for _, n := range notifications {
		select {
		case p.notifications <- n:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting notifications and waits for the workers to finish the
// queued ones. It does not close the HTTP2Channel.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.notifications)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
