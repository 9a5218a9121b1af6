package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenValidation(t *testing.T) {
	mgr := NewManager("secret")
	token, err := mgr.IssueToken(42, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	userID, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if userID != 42 {
		t.Fatalf("unexpected user %d", userID)
	}
}

func TestExpiredToken(t *testing.T) {
	mgr := NewManager("secret")
	token, err := mgr.IssueToken(42, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := mgr.ValidateToken(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expiration error, got %v", err)
	}
}

func TestDefaultTTL(t *testing.T) {
	mgr := NewManager("secret")
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return base }
	token, err := mgr.IssueToken(7, 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	mgr.now = func() time.Time { return base.Add(DefaultTTL - time.Second) }
	if _, err := mgr.ValidateToken(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}
	mgr.now = func() time.Time { return base.Add(DefaultTTL + time.Second) }
	if _, err := mgr.ValidateToken(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expiry after default ttl, got %v", err)
	}
}

func TestForeignSecretRejected(t *testing.T) {
	token, err := NewManager("one").IssueToken(42, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := NewManager("two").ValidateToken(token); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}

func TestMalformedTokens(t *testing.T) {
	mgr := NewManager("secret")
	token, _ := mgr.IssueToken(42, time.Minute)
	cases := []string{"", "abc", "a.b.c", "!!!.sig", strings.Replace(token, ".", ".!", 1)}
	for _, tc := range cases {
		if _, err := mgr.ValidateToken(tc); err == nil {
			t.Fatalf("expected error for %q", tc)
		}
	}
	if _, err := mgr.IssueToken(0, time.Minute); err == nil {
		t.Fatalf("expected error for user 0")
	}
}

func TestTokenSubjectIsUserID(t *testing.T) {
	mgr := NewManager("secret")
	token, err := mgr.IssueToken(42, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	if claims.Subject != "42" || claims.Issuer != issuer || claims.ExpiresAt == nil {
		t.Fatalf("unexpected claims %+v", claims.RegisteredClaims)
	}
}

func TestOnlyHS256Accepted(t *testing.T) {
	mgr := NewManager("secret")
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := mgr.ValidateToken(token); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected HS512 token to be rejected, got %v", err)
	}
}

func TestTokenWithoutExpiryRejected(t *testing.T) {
	mgr := NewManager("secret")
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "42"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := mgr.ValidateToken(token); err == nil {
		t.Fatalf("expected token without exp to be rejected")
	}
}
