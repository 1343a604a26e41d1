package apns

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
)

// maxResponseSize bounds the JSON error body read from the gateway.
const maxResponseSize = 64 << 10

// HTTP2Channel sends notifications through the HTTP/2 provider API. All
// deliveries share one persistent connection, opened on the first send and
// reopened after it fails, and are authenticated with provider tokens.
//
// An HTTP2Channel is safe for concurrent use.
type HTTP2Channel struct {
	tokens    *TokenProvider
	opts      options
	addr      string // host:port to dial
	authority string // :authority of the requests
	transport *http2.Transport

	mu    sync.Mutex
	cc    *http2.ClientConn
	state ConnState
	stats Stats
}

// delivery is the outcome of one request.
type delivery struct {
	token  string
	id     string // apns-id
	status int
	body   string
	err    error
}

// NewHTTP2Channel returns a channel to the development gateway unless
// WithProduction or WithHost select another one.
func NewHTTP2Channel(tokens *TokenProvider, opts ...Option) *HTTP2Channel {
	o := newOptions(opts)
	addr := o.host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultHTTP2Port)
	}
	authority := addr
	if host, port, err := net.SplitHostPort(addr); err == nil && port == DefaultHTTP2Port {
		authority = host
	}
	return &HTTP2Channel{
		tokens:    tokens,
		opts:      o,
		addr:      addr,
		authority: authority,
		transport: &http2.Transport{
			ReadIdleTimeout:  30 * time.Second,
			PingTimeout:      15 * time.Second,
			WriteByteTimeout: o.ioTimeout,

			// a full connection queues requests until a stream is free
			StrictMaxConcurrentStreams: true,
		},
	}
}

// Addr returns the address of the gateway.
func (c *HTTP2Channel) Addr() string { return c.addr }

// SendOne delivers a single notification for the application topic (its bundle
// identifier) and waits for the answer. An empty body means the gateway
// accepted the notification; otherwise the body is the JSON rejection, see
// ParseError.
func (c *HTTP2Channel) SendOne(ctx context.Context, n Notification, topic string) (string, error) {
	d := c.deliver(ctx, n, topic)
	return d.body, d.err
}

// State returns the state of the connection.
func (c *HTTP2Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns the counters of the channel.
func (c *HTTP2Channel) Stats() StatsSnapshot { return c.stats.Snapshot() }

// Close closes the connection, interrupting the requests in flight. The next
// send opens a new one.
func (c *HTTP2Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.closeLocked()
	c.state = Disconnected
	return err
}

func (c *HTTP2Channel) closeLocked() error {
	if c.cc == nil {
		return nil
	}
	err := c.cc.Close()
	c.cc = nil
	return err
}

// retireLocked stops handing out the current connection. Streams still open
// on it run to completion before it is closed.
func (c *HTTP2Channel) retireLocked() {
	cc := c.cc
	c.cc = nil
	if cc == nil || cc.State().Closed {
		return
	}
	timeout := c.opts.requestTimeout
	if timeout <= 0 {
		timeout = TimeoutIO
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := cc.Shutdown(ctx); err != nil {
			cc.Close()
		}
	}()
}

// fail retires cc after a connection-level error unless it was already
// replaced.
func (c *HTTP2Channel) fail(cc *http2.ClientConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cc != cc {
		return
	}
	c.retireLocked()
	c.state = Failed
}

// clientConn returns the shared connection, dialing a new one when there is
// none or when the current one is closed or going away. A connection at its
// stream limit is still returned: RoundTrip waits for a free stream.
func (c *HTTP2Channel) clientConn(ctx context.Context) (*http2.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cc != nil && c.cc.CanTakeNewRequest() {
		return c.cc, nil
	}
	c.retireLocked()
	if c.state == Failed {
		c.state = Disconnected
	}
	config := clientTLSConfig(c.opts.tlsConfig, c.addr, nil, http2.NextProtoTLS)
	c.opts.log.Debug("connecting", slog.String("addr", c.addr))
	conn, err := c.opts.dial(ctx, c.addr, config)
	if err != nil {
		c.state = Failed
		return nil, &ConnectionError{Op: "dial", Addr: c.addr, Err: err}
	}
	if tc, ok := conn.(*tls.Conn); ok {
		if proto := tc.ConnectionState().NegotiatedProtocol; proto != http2.NextProtoTLS {
			conn.Close()
			c.state = Failed
			return nil, &ProtocolError{Err: fmt.Errorf("server negotiated %q instead of %q", proto, http2.NextProtoTLS)}
		}
	}
	cc, err := c.transport.NewClientConn(conn)
	if err != nil {
		conn.Close()
		c.state = Failed
		return nil, &ConnectionError{Op: "handshake", Addr: c.addr, Err: err}
	}
	c.cc = cc
	c.state = Connected
	c.stats.incReconnect()
	c.opts.log.Info("connected", slog.String("addr", c.addr))
	return cc, nil
}

// newRequest builds the POST request of the provider API.
func (c *HTTP2Channel) newRequest(ctx context.Context, n Notification, topic string, token BearerToken) (*http.Request, error) {
	body, err := n.body()
	if err != nil {
		return nil, fmt.Errorf("notification %s: %w", n.Token(), err)
	}
	u := url.URL{Scheme: "https", Host: c.authority, Path: "/3/device/" + n.Token()}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("authorization", token.String())
	req.Header.Set("content-type", "application/json")
	req.Header.Set("apns-topic", topic)
	req.Header.Set("apns-id", uuid.NewString())
	if exp := n.Expiration(); !exp.IsZero() {
		req.Header.Set("apns-expiration", strconv.FormatInt(exp.Unix(), 10))
	}
	if p := n.Priority(); p != 0 {
		req.Header.Set("apns-priority", strconv.Itoa(int(p)))
	}
	return req, nil
}

// deliver sends one notification and reads the answer. Once the request is
// written it runs to completion or to the request timeout: cancelling ctx only
// stops a send that has not started yet.
func (c *HTTP2Channel) deliver(ctx context.Context, n Notification, topic string) delivery {
	d := delivery{token: n.Token()}
	if err := ctx.Err(); err != nil {
		d.err = err
		return d
	}
	token, err := c.tokens.Token()
	if err != nil {
		d.err = err
		return d
	}
	reqCtx := context.WithoutCancel(ctx)
	if c.opts.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, c.opts.requestTimeout)
		defer cancel()
	}
	req, err := c.newRequest(reqCtx, n, topic, token)
	if err != nil {
		d.err = err
		return d
	}
	d.id = req.Header.Get("apns-id")
	cc, err := c.clientConn(ctx)
	if err != nil {
		d.err = err
		return d
	}
	resp, err := cc.RoundTrip(req)
	if err != nil {
		if !streamOnly(err) {
			c.fail(cc)
		}
		c.stats.incFailed()
		d.err = transportError(c.addr, err)
		c.opts.log.Warn("request failed", slog.String("token", d.token), slog.Any("error", d.err))
		return d
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if !streamOnly(err) {
			c.fail(cc)
		}
		c.stats.incFailed()
		d.err = transportError(c.addr, err)
		return d
	}
	d.status = resp.StatusCode
	d.body = string(data)
	if id := resp.Header.Get("apns-id"); id != "" {
		d.id = id
	}
	if d.body == "" && d.status == http.StatusOK {
		c.stats.incSent()
		return d
	}
	c.stats.incFailed()
	if apnsErr := ParseError(d.status, d.body); apnsErr != nil {
		if apnsErr.IsProviderToken() {
			c.tokens.Invalidate()
		}
		c.opts.log.Debug("notification rejected",
			slog.String("token", d.token), slog.Int("status", d.status), slog.String("reason", apnsErr.Reason))
	}
	return d
}

// streamOnly reports whether err ended a single stream and left the
// connection usable: a RST_STREAM from the server or an expired request.
func streamOnly(err error) bool {
	var streamErr http2.StreamError
	return errors.As(err, &streamErr) || errors.Is(err, context.DeadlineExceeded)
}

// transportError classifies a failure of the HTTP/2 exchange.
func transportError(addr string, err error) error {
	var (
		streamErr http2.StreamError
		connErr   http2.ConnectionError
		goAway    http2.GoAwayError
	)
	if errors.As(err, &streamErr) || errors.As(err, &connErr) || errors.As(err, &goAway) {
		return &ProtocolError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectionError{Op: "wait", Addr: addr, Err: err}
	}
	return &ConnectionError{Op: "post", Addr: addr, Err: err}
}
