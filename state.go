package apns

// ConnState describes the state of the connection owned by a channel.
type ConnState int32

// Connection states. A channel starts Disconnected, becomes Connected after a
// successful handshake and passes through Failed when a transient error tears
// the connection down before the next reconnect attempt.
const (
	Disconnected ConnState = iota
	Connected
	Failed
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return "unknown"
}
