package apns

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// FeedbackRecord reports a device that no longer accepts notifications for
// the application, usually because the application was removed.
type FeedbackRecord struct {
	Timestamp time.Time // when the gateway determined the app was gone
	Token     string    // 64 lower-case hex characters
}

// String returns the token.
func (r FeedbackRecord) String() string { return r.Token }

// MarshalBinary encodes the record in the 38-byte wire format of the feedback
// service: a big-endian uint32 timestamp, a uint16 token length and the token.
func (r FeedbackRecord) MarshalBinary() ([]byte, error) {
	token, err := decodeToken(r.Token)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, feedbackRecordSize)
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.Timestamp.Unix()))
	buf = binary.BigEndian.AppendUint16(buf, tokenLength)
	return append(buf, token...), nil
}

// UnmarshalBinary decodes one 38-byte wire record.
func (r *FeedbackRecord) UnmarshalBinary(data []byte) error {
	if len(data) != feedbackRecordSize {
		return &ProtocolError{Err: fmt.Errorf("feedback record is %d bytes, want %d", len(data), feedbackRecordSize)}
	}
	if size := binary.BigEndian.Uint16(data[4:6]); size != tokenLength {
		return &ProtocolError{Err: fmt.Errorf("feedback token length %d, want %d", size, tokenLength)}
	}
	r.Timestamp = time.Unix(int64(binary.BigEndian.Uint32(data[0:4])), 0).UTC()
	r.Token = hex.EncodeToString(data[6:feedbackRecordSize])
	return nil
}

// DecodeFeedback reads records until the end of r. It returns the records read
// so far together with the first error: a *ProtocolError for a record with a
// wrong token length or a truncated trailing record, the reader's error
// otherwise.
func DecodeFeedback(r io.Reader) ([]FeedbackRecord, error) {
	var (
		records = make([]FeedbackRecord, 0)
		buf     = make([]byte, feedbackRecordSize)
	)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return records, nil
			case errors.Is(err, io.ErrUnexpectedEOF):
				return records, &ProtocolError{Err: errors.New("truncated feedback record")}
			}
			return records, err
		}
		var record FeedbackRecord
		if err := record.UnmarshalBinary(buf); err != nil {
			return records, err
		}
		records = append(records, record)
	}
}

// FeedbackHost returns the feedback service address that belongs to the
// gateway address: the "gateway" part of the host name is replaced with
// "feedback" and the port with FeedbackPort.
func FeedbackHost(gateway string) string {
	host, _, err := net.SplitHostPort(gateway)
	if err != nil {
		host = gateway
	}
	return net.JoinHostPort(strings.Replace(host, "gateway", "feedback", 1), FeedbackPort)
}

// FeedbackSink receives feedback records so the caller can stop pushing to
// the reported devices. See package store for implementations.
type FeedbackSink interface {
	Save(ctx context.Context, records []FeedbackRecord) error
}

// FeedbackChannel polls the feedback service. Every Poll opens a new
// connection with the client certificate, reads the queued records and closes
// it; the service drops the records once they have been read.
type FeedbackChannel struct {
	addr string
	cred *Credential
	opts options
}

// NewFeedbackChannel returns a channel to the feedback service of the gateway
// at gateway (see FeedbackHost).
func NewFeedbackChannel(gateway string, cred *Credential, opts ...Option) *FeedbackChannel {
	return &FeedbackChannel{
		addr: FeedbackHost(gateway),
		cred: cred,
		opts: newOptions(opts),
	}
}

// Addr returns the address of the feedback service.
func (f *FeedbackChannel) Addr() string { return f.addr }

// Poll connects, reads every queued record and closes the connection. It never
// retries: a dial or read failure is returned as *ConnectionError, a malformed
// record as *ProtocolError.
func (f *FeedbackChannel) Poll(ctx context.Context) ([]FeedbackRecord, error) {
	cert, err := f.cred.Certificate()
	if err != nil {
		return nil, err
	}
	conn, err := f.opts.dial(ctx, f.addr, clientTLSConfig(f.opts.tlsConfig, f.addr, &cert))
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: f.addr, Err: err}
	}
	defer conn.Close()

	records, err := DecodeFeedback(&deadlineReader{conn: conn, timeout: f.opts.ioTimeout})
	if err != nil {
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			err = &ConnectionError{Op: "read", Addr: f.addr, Err: err}
		}
		return nil, err
	}
	f.opts.log.Info("feedback received", slog.String("addr", f.addr), slog.Int("records", len(records)))
	return records, nil
}

// Drain polls the service and hands the records to sink. It returns the
// number of records saved.
func (f *FeedbackChannel) Drain(ctx context.Context, sink FeedbackSink) (int, error) {
	records, err := f.Poll(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := sink.Save(ctx, records); err != nil {
		return 0, fmt.Errorf("save feedback: %w", err)
	}
	return len(records), nil
}

// deadlineReader extends the read deadline before every read.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if r.timeout > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	}
	return r.conn.Read(p)
}
