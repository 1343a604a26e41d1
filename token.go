package apns

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors wrapped by TokenError when the provider token cannot be built.
var (
	ErrBadTeamID = errors.New("team ID must be 10 characters")
	ErrBadKeyID  = errors.New("key ID must be 10 characters")
)

// BearerToken is a signed provider token together with the time it was
// issued at.
type BearerToken struct {
	Value    string
	IssuedAt time.Time
}

// Valid reports whether the token may still be sent at the time now.
//
// APNs rejects tokens issued more than an hour ago and also rejects tokens
// that are refreshed more often than every twenty minutes, so tokens are
// reused for 45 minutes.
func (t BearerToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Sub(t.IssuedAt) < providerTokenLifetime
}

// String returns the value of the authorization header.
func (t BearerToken) String() string { return "bearer " + t.Value }

// TokenProvider mints and caches the provider authentication token for the
// HTTP/2 interface.
//
// If the signing key is suspected to be compromised, revoke it from the
// developer account, create a new TokenProvider for the new key and close the
// connections that used tokens signed with the old one.
type TokenProvider struct {
	teamID string
	keyID  string
	key    *Credential
	now    func() time.Time

	mu    sync.RWMutex
	token BearerToken
	mints atomic.Int64
}

// TokenOption configures a TokenProvider.
type TokenOption func(*TokenProvider)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(tp *TokenProvider) { tp.now = now }
}

// NewTokenProvider returns a provider for the team and key identifiers shown in
// the developer account. The signing key is parsed on the first mint.
func NewTokenProvider(teamID, keyID string, key *Credential, opts ...TokenOption) (*TokenProvider, error) {
	if len(teamID) != providerTokenIDsLength {
		return nil, &TokenError{Err: ErrBadTeamID}
	}
	if len(keyID) != providerTokenIDsLength {
		return nil, &TokenError{Err: ErrBadKeyID}
	}
	if key == nil {
		return nil, &CredentialError{Err: ErrNoCredential}
	}
	tp := &TokenProvider{
		teamID: teamID,
		keyID:  keyID,
		key:    key,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(tp)
	}
	return tp, nil
}

// Token returns the cached token while it is valid and mints a new one
// otherwise. Concurrent callers share a single mint per expiry window.
func (tp *TokenProvider) Token() (BearerToken, error) {
	tp.mu.RLock()
	token := tp.token
	tp.mu.RUnlock()
	if token.Valid(tp.now()) {
		return token, nil
	}

	tp.mu.Lock()
	defer tp.mu.Unlock()
	now := tp.now()
	if tp.token.Valid(now) { // minted by another caller while we waited
		return tp.token, nil
	}
	value, err := tp.sign(now)
	if err != nil {
		return BearerToken{}, err
	}
	tp.token = BearerToken{Value: value, IssuedAt: now}
	tp.mints.Add(1)
	return tp.token, nil
}

// Invalidate drops the cached token so the next call to Token mints a fresh
// one. Use it after the gateway answers ExpiredProviderToken.
func (tp *TokenProvider) Invalidate() {
	tp.mu.Lock()
	tp.token = BearerToken{}
	tp.mu.Unlock()
}

// String returns a string with the IDs team and key.
func (tp *TokenProvider) String() string {
	return fmt.Sprintf("%s:%s", tp.teamID, tp.keyID)
}

func (tp *TokenProvider) sign(now time.Time) (string, error) {
	key, err := tp.key.SigningKey()
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:   tp.teamID,
		IssuedAt: jwt.NewNumericDate(now),
	})
	token.Header["kid"] = tp.keyID
	signed, err := token.SignedString(key)
	if err != nil {
		return "", &TokenError{Err: err}
	}
	return signed, nil
}
