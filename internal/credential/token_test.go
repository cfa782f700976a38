package credential

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "this-is-a-test-secret-at-least-32-bytes-long"

func TestTokenIssuer_IssueAndValidate(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, err := issuer.Issue(Claims{UserID: "user-1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@example.com" {
		t.Errorf("Validate returned %+v", claims)
	}
}

func TestTokenIssuer_RejectsExpiredToken(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	// NewTokenIssuer replaces a non-positive ttl with the 24h default, so the
	// negative lifetime is set directly to mint an already-expired token.
	issuer.ttl = -time.Hour

	token, err := issuer.Issue(Claims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := issuer.Validate(token); err == nil {
		t.Error("Validate should reject an expired token")
	}
}

func TestTokenIssuer_RejectsTamperedToken(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, err := issuer.Issue(Claims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := token[:len(token)-4] + "abcd"
	if _, err := issuer.Validate(tampered); err == nil {
		t.Error("Validate should reject a tampered token")
	}
}

func TestTokenIssuer_RejectsWrongKey(t *testing.T) {
	issuerA, err := NewTokenIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	issuerB, err := NewTokenIssuer(strings.Repeat("b", 40), time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, err := issuerA.Issue(Claims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := issuerB.Validate(token); err == nil {
		t.Error("Validate should reject a token signed with a different key")
	}
}

func TestNewTokenIssuer_RejectsShortSecret(t *testing.T) {
	if _, err := NewTokenIssuer("too-short", time.Hour); err == nil {
		t.Error("NewTokenIssuer should reject a secret under 32 bytes")
	}
}
