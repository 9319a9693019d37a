package proxysession

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iahome/access-gateway/internal/modules"
)

// Validation failures are distinguished so the gateway can log the cause
// while returning a uniform denial to the client.
var (
	ErrInvalidToken   = errors.New("invalid frame token")
	ErrExpiredToken   = errors.New("frame token expired")
	ErrModuleMismatch = errors.New("frame token issued for another module")
)

// Manager issues and validates signed frame session tokens. A token binds
// one module to one expiry instant; it carries no user identity, so it must
// only be handed out after the entitlement check has passed.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a Manager with the provided secret and default token
// lifetime. A zero ttl falls back to one hour.
func NewManager(secret string, ttl time.Duration) *Manager {
	if secret == "" {
		panic("proxysession manager requires non-empty secret")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// TTL reports the configured token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a frame token for the module, valid for the manager's ttl.
func (m *Manager) Issue(module modules.ID) string {
	expires := m.now().Add(m.ttl).Unix()
	payload := fmt.Sprintf("%s|%d", module, expires)
	sig := m.sign([]byte(payload))
	return fmt.Sprintf("%s.%s",
		base64.RawURLEncoding.EncodeToString([]byte(payload)),
		base64.RawURLEncoding.EncodeToString(sig))
}

// Validate checks signature, expiry, and module binding, in that order.
func (m *Manager) Validate(token string, module modules.ID) error {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return ErrInvalidToken
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return ErrInvalidToken
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ErrInvalidToken
	}
	if !hmac.Equal(sigBytes, m.sign(payloadBytes)) {
		return ErrInvalidToken
	}

	payload := string(payloadBytes)
	sep := strings.LastIndex(payload, "|")
	if sep == -1 {
		return ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(payload[sep+1:], 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	if m.now().Unix() > expiry {
		return ErrExpiredToken
	}
	if payload[:sep] != string(module) {
		return ErrModuleMismatch
	}
	return nil
}

func (m *Manager) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write(payload)
	return h.Sum(nil)
}
