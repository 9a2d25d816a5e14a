package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndParse(t *testing.T) {
	tok, err := SignJWT("clin-1", "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := ParseJWT(tok, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "clin-1" {
		t.Fatalf("expected clin-1, got %s", id)
	}
}

func TestParseRejects(t *testing.T) {
	tok, _ := SignJWT("clin-1", "secret", time.Hour)
	if _, err := ParseJWT(tok, "other"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: %v", err)
	}

	expired, _ := SignJWT("clin-1", "secret", -time.Minute)
	if _, err := ParseJWT(expired, "secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: %v", err)
	}

	if _, err := ParseJWT("not-a-token", "secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: %v", err)
	}
	if _, err := SignJWT("", "secret", time.Hour); err == nil {
		t.Fatal("empty subject must be refused")
	}
}
