package apns

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"
)

var testTokens = []string{
	"be311b5bada725b323b1a56e03ed25b4814d6b9edf5b02d3d605840860febb28", // iPad
	"507c1666d7eca6c26f40bc322a35ccb937e2bf02dfdaca8fccaad5cee580ee8c", // iPad mini
	"6b0420fa3b631df5c13fb9ddc1be8131c52b4e02580bb5f76bfa32862f284572", // iPhone
	"f389410ae1b57972dbbf6eb0c05c2626ab69ede88f523d7eed49fa6e63a6c266",
	"b8108b88198789e9696e11a2ffe9710b776a9851673c2fdedfce1be318ae7c90",
}

// newKey generates an ECDSA key on the curve.
func newKey(t *testing.T, curve elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// pkcs8PEM encodes the key the way Apple ships .p8 files.
func pkcs8PEM(t *testing.T, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// newCertificate creates a self-signed certificate from the template and
// returns the certificate and the key as PEM.
func newCertificate(t *testing.T, template *x509.Certificate) (certPEM, keyPEM []byte) {
	t.Helper()
	key := newKey(t, elliptic.P256())
	if template == nil {
		template = new(x509.Certificate)
	}
	template.SerialNumber = big.NewInt(1)
	if template.Subject.CommonName == "" {
		template.Subject = pkix.Name{CommonName: "Apple Push Services: com.example.app"}
	}
	template.NotBefore = time.Now().Add(-time.Hour)
	template.NotAfter = time.Now().Add(24 * time.Hour)
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// testCredential returns a client certificate credential held in memory.
func testCredential(t *testing.T) *Credential {
	t.Helper()
	certPEM, keyPEM := newCertificate(t, nil)
	return CredentialBytes(append(certPEM, keyPEM...), "")
}

var errBrokenPipe = errors.New("broken pipe")

// fakeConn is an in-memory net.Conn. Reads come from r; writes are kept
// unless the connection was told to fail them.
type fakeConn struct {
	mu        sync.Mutex
	r         io.Reader
	w         bytes.Buffer
	writes    int
	failAfter int // successful writes before every write fails, <0 never
	closed    bool
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if c.r == nil {
		return 0, io.EOF
	}
	return c.r.Read(p)
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.failAfter >= 0 && c.writes >= c.failAfter {
		return 0, errBrokenPipe
	}
	c.writes++
	return c.w.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.w.Bytes()...)
}

func (c *fakeConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

// dialStep describes the outcome of one dial of a fakeDialer.
type dialStep struct {
	err       error  // dial error
	failAfter int    // see fakeConn
	data      []byte // bytes served to reads
}

// fakeDialer plays its steps in order, repeating the last one.
type fakeDialer struct {
	mu      sync.Mutex
	steps   []dialStep
	dials   int
	conns   []*fakeConn
	configs []*tls.Config
}

func newFakeDialer(steps ...dialStep) *fakeDialer {
	if len(steps) == 0 {
		steps = []dialStep{{failAfter: -1}}
	}
	return &fakeDialer{steps: steps}
}

func (d *fakeDialer) dial(_ context.Context, _ string, config *tls.Config) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	step := d.steps[min(d.dials, len(d.steps)-1)]
	d.dials++
	d.configs = append(d.configs, config)
	if step.err != nil {
		return nil, step.err
	}
	conn := &fakeConn{failAfter: step.failAfter}
	if step.data != nil {
		conn.r = bytes.NewReader(step.data)
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

// written returns everything written on all the connections.
func (d *fakeDialer) written() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var all []byte
	for _, conn := range d.conns {
		all = append(all, conn.written()...)
	}
	return all
}

// testNotification builds a notification or fails the test.
func testNotification(t *testing.T, token string, payload any, opts ...NotificationOption) Notification {
	t.Helper()
	n, err := NewNotification(token, payload, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// frameItems splits a stream of command 2 frames into their items.
func frameItems(t *testing.T, data []byte) []map[byte][]byte {
	t.Helper()
	var frames []map[byte][]byte
	for len(data) > 0 {
		if len(data) < frameHeaderSize || data[0] != frameCommand {
			t.Fatalf("bad frame header % x", data[:min(len(data), frameHeaderSize)])
		}
		size := int(data[1])<<24 | int(data[2])<<16 | int(data[3])<<8 | int(data[4])
		body := data[frameHeaderSize : frameHeaderSize+size]
		data = data[frameHeaderSize+size:]
		items := make(map[byte][]byte)
		for len(body) > 0 {
			id, length := body[0], int(body[1])<<8|int(body[2])
			items[id] = body[3 : 3+length]
			body = body[3+length:]
		}
		frames = append(frames, items)
	}
	return frames
}
