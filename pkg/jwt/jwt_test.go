package jwt

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Hour)

	token, err := svc.GenerateToken("dashboard")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	subject, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if subject != "dashboard" {
		t.Fatalf("subject = %q, want dashboard", subject)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewService("secret-a", time.Hour).GenerateToken("dashboard")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := NewService("secret-b", time.Hour).ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail for a foreign secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := NewService("secret", -time.Minute)

	token, err := svc.GenerateToken("dashboard")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail for an expired token")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if _, err := NewService("secret", time.Hour).ValidateToken("not-a-token"); err == nil {
		t.Fatal("expected validation to fail for garbage input")
	}
}
