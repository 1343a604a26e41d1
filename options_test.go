package apns

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/mdigger/pushgate/internal/logger"
)

func TestOptionsDefaults(t *testing.T) {
	o := newOptions(nil)
	if o.dial == nil || o.log == nil {
		t.Fatal("missing dialer or logger")
	}
	if o.ioTimeout != TimeoutIO || o.retry.MaxAttempts != DefaultLegacyAttempts ||
		o.retry.InitialBackoff != 0 || o.host != HostDevelopment ||
		o.onExhausted != ExhaustSilent || o.restartBatch || o.closeAfterJoin ||
		o.requestTimeout != TimeoutIO {
		t.Errorf("unexpected defaults: %+v", o)
	}
}

func TestOptions(t *testing.T) {
	log := logger.Discard()
	o := newOptions([]Option{
		WithDialer(nil),
		WithLogger(log),
		WithLogger(nil),
		WithIOTimeout(time.Second),
		WithMaxAttempts(5),
		WithBackoff(10*time.Millisecond, time.Second),
		WithExhaustedPolicy(ExhaustReport),
		WithRestartBatch(true),
		WithProduction(true),
		WithCloseAfterJoin(true),
		WithRequestTimeout(0),
	})
	if o.dial == nil || o.log != log {
		t.Error("nil options replaced the defaults")
	}
	if o.ioTimeout != time.Second || o.retry.MaxAttempts != 5 ||
		o.retry.InitialBackoff != 10*time.Millisecond || o.retry.MaxBackoff != time.Second ||
		o.onExhausted != ExhaustReport || !o.restartBatch || o.host != HostProduction || !o.closeAfterJoin ||
		o.requestTimeout != 0 {
		t.Errorf("options not applied: %+v", o)
	}
	if o := newOptions([]Option{WithProduction(true), WithProduction(false)}); o.host != HostDevelopment {
		t.Error("WithProduction(false):", o.host)
	}
}

func TestClientTLSConfig(t *testing.T) {
	base := &tls.Config{MinVersion: tls.VersionTLS13}
	cert := tls.Certificate{Certificate: [][]byte{{1}}}
	config := clientTLSConfig(base, "gateway.push.apple.com:2195", &cert, "h2")
	if config == base {
		t.Fatal("base config not cloned")
	}
	if config.ServerName != "gateway.push.apple.com" || config.MinVersion != tls.VersionTLS13 ||
		len(config.Certificates) != 1 || len(config.NextProtos) != 1 || config.NextProtos[0] != "h2" {
		t.Errorf("bad config: server %q, version %x", config.ServerName, config.MinVersion)
	}
	if base.ServerName != "" || base.Certificates != nil {
		t.Error("base config modified")
	}

	config = clientTLSConfig(nil, "api.push.apple.com", nil)
	if config.ServerName != "api.push.apple.com" || config.MinVersion != tls.VersionTLS12 ||
		config.Certificates != nil || config.NextProtos != nil {
		t.Error("bad default config")
	}
	config = clientTLSConfig(&tls.Config{ServerName: "localhost"}, "127.0.0.1:443", nil)
	if config.ServerName != "localhost" {
		t.Error("server name overridden:", config.ServerName)
	}
}
