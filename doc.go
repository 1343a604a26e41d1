// Package apns implements a provider client for the Apple Push Notification
// service.
//
// Two generations of the provider protocol are supported. The legacy binary
// interface keeps one persistent TLS connection to the gateway authenticated
// with a client certificate and writes fire-and-forget frames to it
// (LegacyChannel). Its companion feedback service reports device tokens that
// should no longer receive pushes (FeedbackChannel).
//
// The HTTP/2 provider API multiplexes deliveries as concurrent streams on a
// single connection and authenticates each request with a short-lived ES256
// provider token (HTTP2Channel, TokenProvider). Each interaction starts with a
// POST request containing a JSON payload; an empty response body means the
// gateway accepted the notification, a JSON body describes the rejection.
//
// The package requires Go 1.24 or later: crypto/tls from that release supports
// the TLS 1.2+ cipher suites and the ALPN negotiation the gateway expects. The
// version is a build requirement and is not checked at run time.
//
// Channels are stateless per process. Nothing about delivery results is
// persisted; see the store package for optional sinks of feedback records.
package apns
