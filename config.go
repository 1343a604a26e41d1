package apns

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config describes the connection to the push service. It is read from a JSON
// file with LoadConfig or from APNS_* environment variables with
// ConfigFromEnv, and builds the channels.
//
// Certificate and AuthKey hold either a file name or the PEM text itself.
type Config struct {
	Sandbox         bool   `json:"sandbox,omitempty"`         // development gateways
	Gateway         string `json:"gateway,omitempty"`         // legacy gateway host:port override
	Host            string `json:"host,omitempty"`            // HTTP/2 host override
	Certificate     string `json:"certificate,omitempty"`     // client certificate with key
	Passphrase      string `json:"passphrase,omitempty"`      // certificate passphrase
	TeamID          string `json:"teamId,omitempty"`          // provider token issuer
	KeyID           string `json:"keyId,omitempty"`           // provider token key identifier
	AuthKey         string `json:"authKey,omitempty"`         // .p8 signing key
	Topic           string `json:"topic,omitempty"`           // application bundle identifier
	MaxAttempts     int    `json:"maxAttempts,omitempty"`     // legacy attempts per batch
	ReportExhausted bool   `json:"reportExhausted,omitempty"` // ExhaustReport instead of ExhaustSilent
	LogLevel        string `json:"logLevel,omitempty"`        // debug, info, warn or error
}

// Environment variables read by ConfigFromEnv.
const (
	EnvSandbox         = "APNS_SANDBOX"
	EnvGateway         = "APNS_GATEWAY"
	EnvHost            = "APNS_HOST"
	EnvCertificate     = "APNS_CERTIFICATE"
	EnvPassphrase      = "APNS_PASSPHRASE"
	EnvTeamID          = "APNS_TEAM_ID"
	EnvKeyID           = "APNS_KEY_ID"
	EnvAuthKey         = "APNS_AUTH_KEY"
	EnvTopic           = "APNS_TOPIC"
	EnvMaxAttempts     = "APNS_MAX_ATTEMPTS"
	EnvReportExhausted = "APNS_REPORT_EXHAUSTED"
	EnvLogLevel        = "APNS_LOG_LEVEL"
)

// LoadConfig loads and validates the configuration from a JSON file.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := new(Config)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config %s: %w", filename, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", filename, err)
	}
	return config, nil
}

// ConfigFromEnv loads the configuration from the environment. The named dotenv
// files, or .env when none are given, are read first when they exist; they
// never override variables already set.
func ConfigFromEnv(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	var errs []error
	config := &Config{
		Sandbox:         getEnvAsBool(EnvSandbox, false, &errs),
		Gateway:         getEnv(EnvGateway, ""),
		Host:            getEnv(EnvHost, ""),
		Certificate:     getEnv(EnvCertificate, ""),
		Passphrase:      getEnv(EnvPassphrase, ""),
		TeamID:          getEnv(EnvTeamID, ""),
		KeyID:           getEnv(EnvKeyID, ""),
		AuthKey:         getEnv(EnvAuthKey, ""),
		Topic:           getEnv(EnvTopic, ""),
		MaxAttempts:     getEnvAsInt(EnvMaxAttempts, DefaultLegacyAttempts, &errs),
		ReportExhausted: getEnvAsBool(EnvReportExhausted, false, &errs),
		LogLevel:        getEnv(EnvLogLevel, "info"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that at least one way to authenticate is configured
// completely.
func (c *Config) Validate() error {
	token := c.TeamID != "" || c.KeyID != "" || c.AuthKey != ""
	if !token && c.Certificate == "" {
		return errors.New("invalid config: set a certificate or a provider token key")
	}
	if token {
		var missing []string
		if len(c.TeamID) != providerTokenIDsLength {
			missing = append(missing, EnvTeamID)
		}
		if len(c.KeyID) != providerTokenIDsLength {
			missing = append(missing, EnvKeyID)
		}
		if c.AuthKey == "" {
			missing = append(missing, EnvAuthKey)
		}
		if len(missing) > 0 {
			return fmt.Errorf("invalid config: provider token needs %v", missing)
		}
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("invalid %s: must be >= 0", EnvMaxAttempts)
	}
	return nil
}

// options returns the channel options described by the configuration,
// followed by opts.
func (c *Config) options(opts []Option) []Option {
	list := []Option{WithProduction(!c.Sandbox)}
	if c.Host != "" {
		list = append(list, WithHost(c.Host))
	}
	if c.MaxAttempts > 0 {
		list = append(list, WithMaxAttempts(c.MaxAttempts))
	}
	if c.ReportExhausted {
		list = append(list, WithExhaustedPolicy(ExhaustReport))
	}
	return append(list, opts...)
}

func (c *Config) gateway() string {
	switch {
	case c.Gateway != "":
		return c.Gateway
	case c.Sandbox:
		return GatewaySandbox
	default:
		return GatewayProduction
	}
}

// LegacyChannel returns a channel to the legacy gateway authenticated with the
// certificate.
func (c *Config) LegacyChannel(opts ...Option) (*LegacyChannel, error) {
	if c.Certificate == "" {
		return nil, &CredentialError{Err: ErrNoCredential}
	}
	cred := CredentialFrom(c.Certificate, c.Passphrase)
	return NewLegacyChannel(c.gateway(), cred, c.options(opts)...), nil
}

// FeedbackChannel returns a channel to the feedback service of the legacy
// gateway.
func (c *Config) FeedbackChannel(opts ...Option) (*FeedbackChannel, error) {
	if c.Certificate == "" {
		return nil, &CredentialError{Err: ErrNoCredential}
	}
	cred := CredentialFrom(c.Certificate, c.Passphrase)
	return NewFeedbackChannel(c.gateway(), cred, c.options(opts)...), nil
}

// HTTP2Channel returns a channel to the HTTP/2 provider API authenticated with
// provider tokens.
func (c *Config) HTTP2Channel(opts ...Option) (*HTTP2Channel, error) {
	tokens, err := NewTokenProvider(c.TeamID, c.KeyID, CredentialFrom(c.AuthKey, ""))
	if err != nil {
		return nil, err
	}
	return NewHTTP2Channel(tokens, c.options(opts)...), nil
}

// CreateConfig builds a configuration for the legacy gateway holding the
// certificate and the private key read from the files as one inline PEM
// bundle. When topic is empty it is taken from the bundle ID of the
// certificate.
func CreateConfig(topic, certFile, keyFile string, sandbox bool) (*Config, error) {
	certPEMBlock, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	keyPEMBlock, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEMBlock, keyPEMBlock)
	if err != nil {
		return nil, &CredentialError{Source: certFile, Err: err}
	}
	if topic == "" {
		if info := CertificateInfo(cert); info != nil {
			topic = info.BundleID
		}
	}

	var bundle bytes.Buffer
	for rest := certPEMBlock; ; {
		var block *pem.Block
		if block, rest = pem.Decode(rest); block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			_ = pem.Encode(&bundle, block)
		}
	}
	for rest := keyPEMBlock; ; {
		var block *pem.Block
		if block, rest = pem.Decode(rest); block == nil {
			return nil, &CredentialError{Source: keyFile, Err: ErrNoPrivateKey}
		}
		if strings.HasSuffix(block.Type, "PRIVATE KEY") {
			_ = pem.Encode(&bundle, block)
			break
		}
	}
	return &Config{
		Sandbox:     sandbox,
		Certificate: bundle.String(),
		Topic:       topic,
	}, nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(value)
}

func getEnvAsInt(key string, def int, errs *[]error) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return def
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid int for %s: %w", key, err))
		return def
	}
	return i
}

func getEnvAsBool(key string, def bool, errs *[]error) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid bool for %s: %w", key, err))
		return def
	}
	return b
}
