package apns

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CredentialError reports a missing or unusable certificate or signing key.
// It is never retried.
type CredentialError struct {
	Source string // file name or "inline data"
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Source == "" {
		return "apns: credential: " + e.Err.Error()
	}
	return fmt.Sprintf("apns: credential %s: %v", e.Source, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ConnectionError reports a socket or TLS failure talking to addr.
// LegacyChannel retries it; the other channels return it to the caller.
type ConnectionError struct {
	Op   string // dial, write, read
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("apns: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports data on the wire that does not follow the protocol:
// a malformed HTTP/2 exchange or a feedback record of the wrong size.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "apns: protocol: " + e.Err.Error() }

func (e *ProtocolError) Unwrap() error { return e.Err }

// TokenError reports a failure to mint the provider token.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string { return "apns: provider token: " + e.Err.Error() }

func (e *TokenError) Unwrap() error { return e.Err }

// ParseError decodes the JSON body the gateway returns when it rejects a
// notification. It returns nil for an empty body.
func ParseError(status int, body string) *Error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	var response = &Error{Status: status}
	if err := json.Unmarshal([]byte(body), response); err != nil {
		response.Reason = strings.TrimSpace(body)
	}
	return response
}

// Error describes the error response from the server.
type Error struct {
	// The HTTP status code:
	// 	400 - Bad request
	// 	403 - There was an error with the certificate or provider token.
	// 	405 - The request used a bad :method value. Only POST requests are supported.
	// 	410 - The device token is no longer active for the topic.
	// 	413 - The notification payload was too large.
	// 	429 - The server received too many requests for the same device token.
	// 	500 - Internal server error
	// 	503 - The server is shutting down and unavailable.
	Status int `json:"-"`

	// The error indicating the reason for the failure.
	Reason string `json:"reason"`

	// If the value in the Status is 410, the value of this key is the last time
	// at which APNs confirmed that the device token was no longer valid for
	// the topic, in milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Error return full error description string.
func (e *Error) Error() string {
	msg, ok := reasons[e.Reason]
	if !ok {
		if msg = http.StatusText(e.Status); msg == "" {
			msg = e.Reason
		}
	}
	return msg
}

// Time return parsed time and date, returned from server with response.
func (e *Error) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.Timestamp)
}

// IsToken returns true if the error associated with the device token.
func (e *Error) IsToken() bool {
	switch e.Reason {
	case "MissingDeviceToken", "BadDeviceToken", "DeviceTokenNotForTopic",
		"Unregistered":
		return true
	}
	return false
}

// IsProviderToken returns true if the gateway rejected the bearer token.
func (e *Error) IsProviderToken() bool {
	switch e.Reason {
	case "ExpiredProviderToken", "InvalidProviderToken", "MissingProviderToken":
		return true
	}
	return false
}

var reasons = map[string]string{
	"PayloadEmpty":              "The message payload was empty.", // 400
	"PayloadTooLarge":           "The message payload was too large. The maximum payload size is 4096 bytes.",
	"BadTopic":                  "The apns-topic was invalid.",
	"TopicDisallowed":           "Pushing to this topic is not allowed.",
	"BadMessageId":              "The apns-id value is bad.",
	"BadExpirationDate":         "The apns-expiration value is bad.",
	"BadPriority":               "The apns-priority value is bad.",
	"MissingDeviceToken":        "The device token is not specified in the request :path.",
	"BadDeviceToken":            "The specified device token was bad.",
	"DeviceTokenNotForTopic":    "The device token does not match the specified topic.",
	"Unregistered":              "The device token is inactive for the specified topic.", // 410
	"DuplicateHeaders":          "One or more headers were repeated.",
	"BadCertificateEnvironment": "The client certificate was for the wrong environment.",
	"BadCertificate":            "The certificate was bad.",
	"Forbidden":                 "The specified action is not allowed.",
	"BadPath":                   "The request contained a bad :path value.",
	"MethodNotAllowed":          "The specified :method was not POST.",
	"ExpiredProviderToken":      "The provider token is stale and a new token should be generated.",
	"InvalidProviderToken":      "The provider token is not valid or the token signature could not be verified.",
	"MissingProviderToken":      "No provider certificate was used to connect and the authorization header was missing.",
	"TooManyRequests":           "Too many requests were made consecutively to the same device token.",
	"IdleTimeout":               "Idle time out.",
	"Shutdown":                  "The server is shutting down.",
	"InternalServerError":       "An internal server error occurred.",
	"ServiceUnavailable":        "The service is unavailable.",
	"MissingTopic":              "The apns-topic header of the request was not specified and was required.",
}
