package apns

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/mdigger/pushgate/internal/logger"
	"github.com/mdigger/pushgate/internal/retry"
)

// DialFunc opens a TLS connection to addr using config. Tests replace it with
// in-memory connections.
type DialFunc func(ctx context.Context, addr string, config *tls.Config) (net.Conn, error)

// dialTLS is the default DialFunc.
func dialTLS(ctx context.Context, addr string, config *tls.Config) (net.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: TimeoutConnect},
		Config:    config,
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// ExhaustedPolicy selects what LegacyChannel.Send does once every attempt to
// deliver a batch has failed.
type ExhaustedPolicy int

const (
	// ExhaustSilent returns without an error. The dropped batch is visible
	// only in the LegacyResult and in the log.
	ExhaustSilent ExhaustedPolicy = iota
	// ExhaustReport returns an error wrapping ErrRetriesExhausted.
	ExhaustReport
)

// Option configures a channel. Options that do not apply to a channel are
// ignored by it.
type Option func(*options)

type options struct {
	dial      DialFunc
	tlsConfig *tls.Config
	log       *slog.Logger
	ioTimeout time.Duration

	// legacy channel
	retry        retry.Config
	onExhausted  ExhaustedPolicy
	restartBatch bool

	// HTTP/2 channel
	host           string
	closeAfterJoin bool
	requestTimeout time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		dial:      dialTLS,
		log:       logger.Discard(),
		ioTimeout: TimeoutIO,
		retry:     retry.Config{MaxAttempts: DefaultLegacyAttempts},
		host:      HostDevelopment,

		requestTimeout: TimeoutIO,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDialer replaces the function used to open TLS connections.
func WithDialer(dial DialFunc) Option {
	return func(o *options) {
		if dial != nil {
			o.dial = dial
		}
	}
}

// WithTLSConfig sets the base TLS configuration. The channel clones it and
// fills in the server name, the client certificate and the ALPN protocols.
func WithTLSConfig(config *tls.Config) Option {
	return func(o *options) { o.tlsConfig = config }
}

// WithLogger sets the logger. By default channels log nothing.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithIOTimeout bounds every read and write on the legacy and feedback
// sockets. Zero disables the deadlines.
func WithIOTimeout(d time.Duration) Option {
	return func(o *options) { o.ioTimeout = d }
}

// WithMaxAttempts sets how many times LegacyChannel tries to deliver a batch.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.retry.MaxAttempts = n }
}

// WithBackoff waits between legacy attempts, doubling the delay from initial
// up to limit. By default attempts follow each other at once.
func WithBackoff(initial, limit time.Duration) Option {
	return func(o *options) {
		o.retry.InitialBackoff = initial
		o.retry.MaxBackoff = limit
		o.retry.JitterFactor = 0.2
	}
}

// WithExhaustedPolicy selects the behavior after the last failed attempt.
func WithExhaustedPolicy(p ExhaustedPolicy) Option {
	return func(o *options) { o.onExhausted = p }
}

// WithRestartBatch makes LegacyChannel rewrite the whole batch on every
// attempt instead of resuming at the notification whose write failed.
func WithRestartBatch(restart bool) Option {
	return func(o *options) { o.restartBatch = restart }
}

// WithHost sets the HTTP/2 gateway as host or host:port.
func WithHost(host string) Option {
	return func(o *options) { o.host = host }
}

// WithProduction selects the production HTTP/2 gateway.
func WithProduction(production bool) Option {
	return func(o *options) {
		if production {
			o.host = HostProduction
		} else {
			o.host = HostDevelopment
		}
	}
}

// WithCloseAfterJoin closes the HTTP/2 connection once a FireThenJoin batch
// has completed.
func WithCloseAfterJoin(enable bool) Option {
	return func(o *options) { o.closeAfterJoin = enable }
}

// WithRequestTimeout bounds the wait for the answer to one HTTP/2 request.
// An expired request resets its stream only; the connection stays open.
// Zero disables the deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// clientTLSConfig clones base and completes it for a connection to addr.
func clientTLSConfig(base *tls.Config, addr string, cert *tls.Certificate, protos ...string) *tls.Config {
	var config *tls.Config
	if base != nil {
		config = base.Clone()
	} else {
		config = new(tls.Config)
	}
	if config.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			config.ServerName = host
		} else {
			config.ServerName = addr
		}
	}
	if config.MinVersion == 0 {
		config.MinVersion = tls.VersionTLS12
	}
	if cert != nil {
		config.Certificates = []tls.Certificate{*cert}
	}
	if len(protos) > 0 {
		config.NextProtos = protos
	}
	return config
}
