package security

import (
	"testing"
	"time"
)

const testSecret = "abcdefghijklmnopqrstuvwxyz123456"

func TestIdentityTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("iss", "aud", testSecret)
	raw, err := m.SignIdentityToken("u-1", "alice", "sid-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := m.ParseIdentityToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u-1" || claims.SessionID != "sid-1" || claims.DisplayName != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestIdentityTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	m := NewJWTManager("iss", "aud", testSecret)
	other := NewJWTManager("iss", "aud", "zyxwvutsrqponmlkjihgfedcba654321")

	raw, err := other.SignIdentityToken("u-1", "alice", "sid-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseIdentityToken(raw); err == nil {
		t.Fatal("expected signature mismatch")
	}

	expired, err := m.SignIdentityToken("u-1", "alice", "sid-1", -time.Minute)
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := m.ParseIdentityToken(expired); err == nil {
		t.Fatal("expected expired token rejection")
	}
}

func TestSignIdentityTokenRequiresSession(t *testing.T) {
	m := NewJWTManager("iss", "aud", testSecret)
	if _, err := m.SignIdentityToken("u-1", "alice", "", time.Minute); err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("Valid#Pass1234")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := CheckPassword(hash, "Valid#Pass1234"); err != nil {
		t.Fatalf("expected match: %v", err)
	}
	if err := CheckPassword(hash, "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := CheckPassword("", "x"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for empty hash, got %v", err)
	}
}
