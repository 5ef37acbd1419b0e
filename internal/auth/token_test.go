package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	sec := "secret123"
	sid := "abc"
	exp := time.Now().Add(5 * time.Minute).Unix()

	tok, err := GenerateWorkerToken(sec, sid, exp)
	if err != nil {
		t.Fatalf("gen: %v", err)
	}

	gotSID, gotExp, err := ValidateWorkerToken(sec, tok, sid, time.Now(), 60)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if gotSID != sid || gotExp != exp {
		t.Fatalf("mismatch: %s/%d", gotSID, gotExp)
	}
}

func TestBadSignature(t *testing.T) {
	sec := "secret123"
	exp := time.Now().Add(5 * time.Minute).Unix()
	tok, _ := GenerateWorkerToken(sec, "abc", exp)

	if _, _, err := ValidateWorkerToken("other", tok, "abc", time.Now(), 60); !errors.Is(err, ErrTokenSig) {
		t.Fatalf("expected ErrTokenSig, got %v", err)
	}
	if _, _, err := ValidateWorkerToken(sec, "%%%", "abc", time.Now(), 60); !errors.Is(err, ErrTokenFormat) {
		t.Fatalf("expected ErrTokenFormat, got %v", err)
	}
}

func TestExpiryAndSession(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tok, exp, err := MintWorkerToken("s", "sess-1", time.Minute, now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !exp.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry %v", exp)
	}
	if _, _, err := ValidateWorkerToken("s", tok, "sess-2", now, 0); !errors.Is(err, ErrTokenSID) {
		t.Fatalf("expected ErrTokenSID, got %v", err)
	}
	// inside the skew
	if _, _, err := ValidateWorkerToken("s", tok, "sess-1", now.Add(time.Minute+10*time.Second), 30); err != nil {
		t.Fatalf("expected token valid within skew, got %v", err)
	}
	if _, _, err := ValidateWorkerToken("s", tok, "sess-1", now.Add(2*time.Minute), 30); !errors.Is(err, ErrTokenExp) {
		t.Fatalf("expected ErrTokenExp, got %v", err)
	}
}

func TestNoSecret(t *testing.T) {
	if _, err := GenerateWorkerToken("", "abc", 1); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}
