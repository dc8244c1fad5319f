// Package state mints and verifies the signed state tokens that bind an
// OAuth authorization round-trip to a user identity (CSRF protection).
//
// A token is `random.userID.timestamp.signature` where the signature is a
// truncated HMAC-SHA256 over the rest. Tokens are ephemeral and never
// persisted; they are only valid within the configured TTL. They are not
// single-use: a valid token can be presented again within its TTL window.
package state

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"time"

	"calendar-service/internal/common/errors"
)

// DefaultTTL is the default lifetime of a state token
const DefaultTTL = 600 * time.Second

// signatureLength is the number of hex characters kept from the HMAC digest
const signatureLength = 32

// Service issues and verifies state tokens. It is stateless and safe for
// concurrent use.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a state token service signing with the given secret.
// A non-positive ttl falls back to DefaultTTL.
func NewService(secret string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.ConfigError("state secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue mints a signed state token embedding the user ID and issue time
func (s *Service) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.ValidationError("user id cannot be empty")
	}
	if strings.Contains(userID, ".") {
		return "", errors.ValidationError("user id must not contain '.'")
	}

	randomBytes := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, randomBytes); err != nil {
		return "", errors.InternalError("failed to generate state nonce", err)
	}

	payload := base64.RawURLEncoding.EncodeToString(randomBytes) +
		"." + userID +
		"." + strconv.FormatInt(s.now().UTC().Unix(), 10)

	return payload + "." + s.sign(payload), nil
}

// Verify checks the signature and age of a state token and returns the
// embedded user ID. Any malformed, tampered or expired token yields an
// oauth_state error; the caller must restart the authorization flow.
func (s *Service) Verify(token string) (string, error) {
	idx := strings.LastIndex(token, ".")
	if idx < 0 {
		return "", errors.OAuthStateError("malformed state token")
	}

	payload, signature := token[:idx], token[idx+1:]
	if !hmac.Equal([]byte(signature), []byte(s.sign(payload))) {
		return "", errors.OAuthStateError("state token signature mismatch")
	}

	parts := strings.Split(payload, ".")
	if len(parts) != 3 {
		return "", errors.OAuthStateError("malformed state token payload")
	}

	userID := parts[1]
	issuedAt, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", errors.OAuthStateError("malformed state token timestamp")
	}

	if s.now().UTC().Unix()-issuedAt > int64(s.ttl.Seconds()) {
		return "", errors.OAuthStateError("state token expired")
	}

	return userID, nil
}

// sign computes the truncated hex HMAC-SHA256 signature for a payload.
// hmac.Equal in Verify keeps the comparison constant-time.
func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))[:signatureLength]
}
