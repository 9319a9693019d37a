package proxysession

import (
	"strings"
	"testing"
	"time"

	"github.com/iahome/access-gateway/internal/modules"
)

func TestIssueValidateRoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token := m.Issue(modules.MeTube)
	if err := m.Validate(token, modules.MeTube); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	for _, token := range []string{"", "abc", "a.b.c", "%%%.%%%"} {
		if err := m.Validate(token, modules.MeTube); err != ErrInvalidToken {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	other := NewManager("other-secret", time.Hour)
	token := other.Issue(modules.PDF)
	if err := m.Validate(token, modules.PDF); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	m := NewManager("test-secret", time.Minute)
	base := time.Now()
	m.SetClock(func() time.Time { return base })
	token := m.Issue(modules.QRCode)

	m.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	if err := m.Validate(token, modules.QRCode); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateRejectsModuleMismatch(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token := m.Issue(modules.Whisper)
	if err := m.Validate(token, modules.MeTube); err != ErrModuleMismatch {
		t.Fatalf("expected ErrModuleMismatch, got %v", err)
	}
}

func TestTokenShapeIsOpaque(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token := m.Issue(modules.PhotoSearch)
	if strings.Count(token, ".") != 1 {
		t.Fatalf("token must be payload.signature, got %q", token)
	}
	if strings.Contains(token, "|") {
		t.Fatalf("raw payload leaked into token: %q", token)
	}
}
