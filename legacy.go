package apns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/mdigger/pushgate/internal/retry"
)

// LegacyResult is the outcome of LegacyChannel.Send.
//
// The binary interface never acknowledges a frame, so Written counts frames
// handed to the socket, not notifications received by devices.
type LegacyResult struct {
	Written  int   // notifications of the batch written on the wire
	Attempts int   // attempts made, including the first one
	Dropped  bool  // every attempt failed and the rest of the batch was dropped
	Err      error // last error when Dropped
}

// LegacyChannel sends notifications over the binary interface of the gateway.
// It keeps one TLS connection authenticated with the client certificate and
// reopens it after a failure.
//
// A LegacyChannel is meant for sequential use by one caller; it is not safe for
// concurrent use without external serialization.
type LegacyChannel struct {
	addr    string
	cred    *Credential
	opts    options
	conn    net.Conn
	state   ConnState
	counter uint32
	stats   Stats
}

// NewLegacyChannel returns a channel to the gateway at addr, usually
// GatewayProduction or GatewaySandbox. No connection is made until the first
// Send.
func NewLegacyChannel(addr string, cred *Credential, opts ...Option) *LegacyChannel {
	return &LegacyChannel{
		addr: addr,
		cred: cred,
		opts: newOptions(opts),
	}
}

// Send encodes the notifications and writes them to the gateway in order,
// connecting first when needed.
//
// A failed connect or write closes the connection and the batch is retried on
// a new one, up to the configured number of attempts. By default an attempt
// resumes at the notification whose write failed; see WithRestartBatch. When
// the attempts are exhausted the rest of the batch is dropped: Send reports it
// in the result and, with ExhaustReport, also returns an error wrapping
// ErrRetriesExhausted. Credential failures and invalid notifications are
// returned at once and never retried.
func (c *LegacyChannel) Send(ctx context.Context, notifications ...Notification) (LegacyResult, error) {
	var result LegacyResult
	if len(notifications) == 0 {
		return result, nil
	}
	frames := make([][]byte, len(notifications))
	for i, n := range notifications {
		frame, err := n.frame(c.counter + uint32(i) + 1)
		if err != nil {
			return result, fmt.Errorf("notification %s: %w", n.Token(), err)
		}
		frames[i] = frame
	}
	// identifiers are taken only once the whole batch encodes
	c.counter += uint32(len(frames))

	var next int
	err := retry.Do(ctx, c.opts.retry, func(attempt int) error {
		result.Attempts = attempt
		if attempt > 1 {
			c.stats.incRetried()
			c.opts.log.Debug("retrying batch",
				slog.Int("attempt", attempt), slog.Int("from", next))
		}
		if c.opts.restartBatch {
			next = 0
		}
		if err := c.connect(ctx); err != nil {
			return err
		}
		for next < len(frames) {
			if err := c.write(frames[next]); err != nil {
				return err
			}
			next++
			c.stats.incSent()
		}
		return nil
	})
	result.Written = next
	if err == nil {
		return result, nil
	}
	var credErr *CredentialError
	if errors.As(err, &credErr) || ctx.Err() != nil {
		return result, err
	}

	result.Dropped = true
	result.Err = err
	for i := next; i < len(frames); i++ {
		c.stats.incFailed()
	}
	if c.opts.onExhausted == ExhaustReport {
		return result, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, result.Attempts, err)
	}
	c.opts.log.Warn("batch dropped after retries",
		slog.String("addr", c.addr),
		slog.Int("attempts", result.Attempts),
		slog.Int("dropped", len(frames)-next),
		slog.Any("error", err))
	return result, nil
}

// State returns the state of the connection.
func (c *LegacyChannel) State() ConnState { return c.state }

// Stats returns the counters of the channel.
func (c *LegacyChannel) Stats() StatsSnapshot { return c.stats.Snapshot() }

// Close closes the connection. The next Send opens a new one.
func (c *LegacyChannel) Close() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
	return err
}

// connect opens the connection unless it is already established.
func (c *LegacyChannel) connect(ctx context.Context) error {
	if c.state == Connected && c.conn != nil {
		return nil
	}
	if c.state == Failed {
		c.state = Disconnected
	}
	cert, err := c.cred.Certificate()
	if err != nil {
		return retry.Permanent(err)
	}
	config := clientTLSConfig(c.opts.tlsConfig, c.addr, &cert)
	c.opts.log.Debug("connecting", slog.String("addr", c.addr))
	conn, err := c.opts.dial(ctx, c.addr, config)
	if err != nil {
		c.state = Failed
		return &ConnectionError{Op: "dial", Addr: c.addr, Err: err}
	}
	c.conn = conn
	c.state = Connected
	c.stats.incReconnect()
	c.opts.log.Info("connected", slog.String("addr", c.addr))
	return nil
}

// write writes one frame, tearing the connection down on failure.
func (c *LegacyChannel) write(frame []byte) error {
	if c.opts.ioTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.ioTimeout))
	}
	if _, err := c.conn.Write(frame); err != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.state = Failed
		c.opts.log.Warn("write failed", slog.String("addr", c.addr), slog.Any("error", err))
		return &ConnectionError{Op: "write", Addr: c.addr, Err: err}
	}
	return nil
}
