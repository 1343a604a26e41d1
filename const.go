package apns

import (
	"errors"
	"time"
)

// Gateway addresses of the legacy binary interface and its feedback service.
const (
	GatewayProduction      = "gateway.push.apple.com:2195"
	GatewaySandbox         = "gateway.sandbox.push.apple.com:2195"
	FeedbackPort           = "2196"
	FeedbackProduction     = "feedback.push.apple.com:2196"
	FeedbackSandbox        = "feedback.sandbox.push.apple.com:2196"
	HostProduction         = "api.push.apple.com"
	HostDevelopment        = "api.development.push.apple.com"
	DefaultHTTP2Port       = "443"
	DefaultLegacyAttempts  = 3
	tokenLength            = 32  // raw device token size in bytes
	feedbackRecordSize     = 38  // uint32 timestamp + uint16 length + token
	maxLegacyPayloadSize   = 2048
	maxHTTP2PayloadSize    = 4096
	frameCommand           = 2   // notification frame command
	frameHeaderSize        = 5   // command + uint32 frame length
	providerTokenLifetime  = 2700 * time.Second
	providerTokenIDsLength = 10
)

// Default timeouts. The gateway itself imposes none; these bound the dial and
// every read or write on the legacy and feedback sockets.
var (
	// TimeoutConnect bounds the TCP connect and the TLS handshake.
	TimeoutConnect = 30 * time.Second
	// TimeoutIO bounds a single read or write on an established connection.
	TimeoutIO = 2 * time.Minute
)

// Errors returned while building notifications.
var (
	ErrPayloadEmpty    = errors.New("payload is empty")
	ErrPayloadTooLarge = errors.New("payload is too large")
	ErrBadToken        = errors.New("device token must be 64 hex characters")
)

// ErrRetriesExhausted is reported by LegacyChannel when every attempt to
// deliver a batch has failed and the channel runs with ExhaustReport.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrChannelClosed is returned by Pool.Push after the pool was closed.
var ErrChannelClosed = errors.New("channel is closed")
