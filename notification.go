package apns

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Notification is a single push addressed to one device. It is immutable once
// built by NewNotification; the options return modified copies.
type Notification struct {
	token      string          // 64 lower-case hex characters
	raw        []byte          // decoded token
	payload    json.RawMessage // marshaled once at construction
	id         uint32
	expiration time.Time
	priority   uint8
}

// NotificationOption adjusts an optional field of a Notification.
type NotificationOption func(*Notification)

// WithID sets the notification identifier written to the legacy frame.
// A zero identifier is replaced by the channel's own counter.
func WithID(id uint32) NotificationOption {
	return func(n *Notification) { n.id = id }
}

// WithExpiration sets the time after which the gateway drops the notification.
func WithExpiration(t time.Time) NotificationOption {
	return func(n *Notification) { n.expiration = t }
}

// WithPriority sets the delivery priority. Only 5 and 10 are meaningful;
// other values are not sent.
func WithPriority(p uint8) NotificationOption {
	return func(n *Notification) { n.priority = p }
}

// NewNotification validates the device token and marshals the payload.
//
// The payload may be any value accepted by encoding/json. A string, []byte or
// json.RawMessage is taken as ready JSON text and only validated.
func NewNotification(token string, payload any, opts ...NotificationOption) (Notification, error) {
	raw, err := decodeToken(token)
	if err != nil {
		return Notification{}, err
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return Notification{}, err
	}
	n := Notification{
		token:   hex.EncodeToString(raw),
		raw:     raw,
		payload: data,
	}
	for _, opt := range opts {
		opt(&n)
	}
	return n, nil
}

func decodeToken(token string) ([]byte, error) {
	if len(token) != tokenLength*2 {
		return nil, ErrBadToken
	}
	raw, err := hex.DecodeString(token)
	if err != nil {
		return nil, ErrBadToken
	}
	return raw, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	var data []byte
	switch p := payload.(type) {
	case nil:
		return nil, ErrPayloadEmpty
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		var err error
		if data, err = json.Marshal(p); err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}
	switch trimmed := strings.TrimSpace(string(data)); trimmed {
	case "", "null", "{}":
		return nil, ErrPayloadEmpty
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	// copy so later changes to the caller's slice do not leak in
	return append(json.RawMessage(nil), data...), nil
}

// Token returns the device token as 64 lower-case hex characters.
func (n Notification) Token() string { return n.token }

// Payload returns a copy of the JSON payload.
func (n Notification) Payload() json.RawMessage {
	return append(json.RawMessage(nil), n.payload...)
}

// ID returns the notification identifier, zero when unset.
func (n Notification) ID() uint32 { return n.id }

// Expiration returns the expiration time, zero when unset.
func (n Notification) Expiration() time.Time { return n.expiration }

// Priority returns the delivery priority: 0, 5 or 10.
func (n Notification) Priority() uint8 {
	if n.priority == 5 || n.priority == 10 {
		return n.priority
	}
	return 0
}

// String returns the token and the identifier.
func (n Notification) String() string {
	return fmt.Sprintf("%s [%d]", n.token, n.id)
}

// body returns the JSON request body for the HTTP/2 provider API.
func (n Notification) body() ([]byte, error) {
	if len(n.payload) == 0 {
		return nil, ErrPayloadEmpty
	}
	if len(n.payload) > maxHTTP2PayloadSize {
		return nil, ErrPayloadTooLarge
	}
	return n.payload, nil
}

// Frame item identifiers of the legacy binary interface.
const (
	itemDeviceToken = 1
	itemPayload     = 2
	itemIdentifier  = 3
	itemExpiration  = 4
	itemPriority    = 5
)

// frame encodes the notification as a command 2 frame of the legacy binary
// interface, using id when the notification carries none.
func (n Notification) frame(id uint32) ([]byte, error) {
	if len(n.payload) == 0 {
		return nil, ErrPayloadEmpty
	}
	if len(n.payload) > maxLegacyPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	if len(n.raw) != tokenLength {
		return nil, ErrBadToken
	}
	if n.id != 0 {
		id = n.id
	}
	size := 3 + len(n.raw) + 3 + len(n.payload) + 7
	if !n.expiration.IsZero() {
		size += 7
	}
	if p := n.Priority(); p != 0 {
		size += 4
	}
	buf := make([]byte, 0, frameHeaderSize+size)
	buf = append(buf, frameCommand)
	buf = binary.BigEndian.AppendUint32(buf, uint32(size))
	// device token
	buf = append(buf, itemDeviceToken)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(n.raw)))
	buf = append(buf, n.raw...)
	// payload
	buf = append(buf, itemPayload)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(n.payload)))
	buf = append(buf, n.payload...)
	// notification identifier
	buf = append(buf, itemIdentifier)
	buf = binary.BigEndian.AppendUint16(buf, 4)
	buf = binary.BigEndian.AppendUint32(buf, id)
	if !n.expiration.IsZero() {
		buf = append(buf, itemExpiration)
		buf = binary.BigEndian.AppendUint16(buf, 4)
		buf = binary.BigEndian.AppendUint32(buf, uint32(n.expiration.Unix()))
	}
	if p := n.Priority(); p != 0 {
		buf = append(buf, itemPriority)
		buf = binary.BigEndian.AppendUint16(buf, 1)
		buf = append(buf, p)
	}
	return buf, nil
}
