package store

import (
	"testing"
	"time"
)

func TestJWTSessionRoundTrip(t *testing.T) {
	sessions := NewJWTSessionStore("test-secret", time.Hour)

	token, err := sessions.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	userID, ok, err := sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		t.Fatalf("verify session: ok=%v err=%v", ok, err)
	}
	if userID != "user-1" {
		t.Fatalf("subject = %q, want user-1", userID)
	}
}

func TestJWTSessionRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTSessionStore("secret-a", time.Hour)
	verifier := NewJWTSessionStore("secret-b", time.Hour)

	token, err := issuer.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := verifier.GetUserIDByToken(token); ok {
		t.Fatalf("token signed with another secret must not validate")
	}
}

func TestJWTSessionRejectsExpiredToken(t *testing.T) {
	sessions := NewJWTSessionStore("test-secret", -time.Minute)

	token, err := sessions.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := sessions.GetUserIDByToken(token); ok {
		t.Fatalf("expired token must not validate")
	}
}

func TestJWTSessionRejectsGarbage(t *testing.T) {
	sessions := NewJWTSessionStore("test-secret", time.Hour)
	if _, ok, _ := sessions.GetUserIDByToken("not.a.jwt"); ok {
		t.Fatalf("garbage token must not validate")
	}
}
