package apns

import (
	"crypto/elliptic"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kr/pretty"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	want := &Config{
		Sandbox:     true,
		Certificate: "cert.p12",
		Passphrase:  "xopen123",
		Topic:       testTopic,
		MaxAttempts: 5,
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	filename := filepath.Join(dir, "config.json")
	if err := os.WriteFile(filename, data, 0600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("config mismatch: %v", pretty.Diff(got, want))
	}

	if _, err := LoadConfig(filepath.Join(dir, "notexists.json")); !errors.Is(err, os.ErrNotExist) {
		t.Error("missing file:", err)
	}
	if err := os.WriteFile(filename, []byte(`{"sandbox":true}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(filename); err == nil {
		t.Error("config without credentials accepted")
	}
}

func TestConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	if err := os.WriteFile(dotenv, []byte("APNS_TOPIC=com.example.dotenv\nAPNS_KEY_ID="+testKeyID+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvSandbox, "true")
	t.Setenv(EnvTeamID, testTeamID)
	t.Setenv(EnvAuthKey, "AuthKey.p8")
	t.Setenv(EnvTopic, testTopic) // the environment wins over the file
	t.Setenv(EnvMaxAttempts, "4")
	t.Setenv(EnvKeyID, "")
	os.Unsetenv(EnvKeyID)

	config, err := ConfigFromEnv(dotenv)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Sandbox:     true,
		TeamID:      testTeamID,
		KeyID:       testKeyID,
		AuthKey:     "AuthKey.p8",
		Topic:       testTopic,
		MaxAttempts: 4,
		LogLevel:    "info",
	}
	if !reflect.DeepEqual(config, want) {
		t.Errorf("config mismatch: %v", pretty.Diff(config, want))
	}

	t.Setenv(EnvMaxAttempts, "many")
	if _, err := ConfigFromEnv(dotenv); err == nil {
		t.Error("invalid APNS_MAX_ATTEMPTS accepted")
	}
}

func TestConfigValidate(t *testing.T) {
	for name, test := range map[string]struct {
		config Config
		ok     bool
	}{
		"empty":       {Config{}, false},
		"certificate": {Config{Certificate: "cert.pem"}, true},
		"token":       {Config{TeamID: testTeamID, KeyID: testKeyID, AuthKey: "key.p8"}, true},
		"no key":      {Config{TeamID: testTeamID, KeyID: testKeyID}, false},
		"short team":  {Config{TeamID: "W23", KeyID: testKeyID, AuthKey: "key.p8"}, false},
		"attempts":    {Config{Certificate: "cert.pem", MaxAttempts: -1}, false},
	} {
		if err := test.config.Validate(); (err == nil) != test.ok {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestConfigChannels(t *testing.T) {
	certPEM, keyPEM := newCertificate(t, nil)
	config := &Config{
		Sandbox:         true,
		Certificate:     string(certPEM) + string(keyPEM),
		TeamID:          testTeamID,
		KeyID:           testKeyID,
		AuthKey:         string(pkcs8PEM(t, newKey(t, elliptic.P256()))),
		MaxAttempts:     2,
		ReportExhausted: true,
	}
	legacy, err := config.LegacyChannel()
	if err != nil {
		t.Fatal(err)
	}
	if legacy.addr != GatewaySandbox || legacy.opts.retry.MaxAttempts != 2 || legacy.opts.onExhausted != ExhaustReport {
		t.Errorf("bad legacy channel: %s", legacy.addr)
	}
	if _, err := legacy.cred.Certificate(); err != nil {
		t.Error(err)
	}

	feedback, err := config.FeedbackChannel()
	if err != nil {
		t.Fatal(err)
	}
	if feedback.Addr() != FeedbackSandbox {
		t.Error("bad feedback address:", feedback.Addr())
	}

	channel, err := config.HTTP2Channel()
	if err != nil {
		t.Fatal(err)
	}
	if channel.Addr() != HostDevelopment+":443" {
		t.Error("bad HTTP/2 address:", channel.Addr())
	}
	if _, err := channel.tokens.Token(); err != nil {
		t.Error(err)
	}

	config.Sandbox, config.Gateway, config.Host = false, "127.0.0.1:2195", "127.0.0.1:8443"
	if legacy, _ := config.LegacyChannel(); legacy.addr != "127.0.0.1:2195" {
		t.Error("gateway override ignored:", legacy.addr)
	}
	if channel, _ := config.HTTP2Channel(); channel.Addr() != "127.0.0.1:8443" {
		t.Error("host override ignored:", channel.Addr())
	}
	config.Gateway = ""
	if legacy, _ := config.LegacyChannel(); legacy.addr != GatewayProduction {
		t.Error("bad production gateway:", legacy.addr)
	}

	var credErr *CredentialError
	if _, err := (&Config{}).LegacyChannel(); !errors.As(err, &credErr) {
		t.Error("legacy channel without certificate:", err)
	}
	if _, err := (&Config{}).HTTP2Channel(); err == nil {
		t.Error("HTTP/2 channel without key")
	}
}

func TestCreateConfig(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := newCertificate(t, &x509.Certificate{
		Subject: pkix.Name{
			CommonName: "Apple Push Services: com.example.app",
			ExtraNames: []pkix.AttributeTypeAndValue{{Type: typeBundle, Value: testTopic}},
		},
	})
	certFile, keyFile := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, certPEM, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatal(err)
	}

	config, err := CreateConfig("", certFile, keyFile, true)
	if err != nil {
		t.Fatal(err)
	}
	if config.Topic != testTopic || !config.Sandbox {
		t.Errorf("unexpected config: %# v", pretty.Formatter(config))
	}
	if _, err := CredentialFrom(config.Certificate, "").Certificate(); err != nil {
		t.Error("bundle is not a usable credential:", err)
	}
	if config, _ := CreateConfig("com.example.other", certFile, keyFile, false); config.Topic != "com.example.other" {
		t.Error("explicit topic ignored:", config.Topic)
	}

	if _, err := CreateConfig("", certFile, certFile, true); err == nil {
		t.Error("certificate accepted as key")
	}
}
