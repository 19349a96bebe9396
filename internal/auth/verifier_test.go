package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkorolev/commerce/internal/domain"
)

var testSecret = []byte("verifier-test-secret")

func signToken(t *testing.T, secret []byte, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validClaims() Claims {
	return Claims{
		UserID:    "user-1",
		Roles:     []string{"customer"},
		SessionID: "sess-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "commerce",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier(testSecret, "commerce")

	token := signToken(t, testSecret, jwt.SigningMethodHS256, validClaims())
	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.SessionID != "sess-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "customer" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
}

func TestVerifyFallsBackToSubject(t *testing.T) {
	v := NewVerifier(testSecret, "")

	c := validClaims()
	c.UserID = ""
	c.Subject = "user-2"

	claims, err := v.Verify(signToken(t, testSecret, jwt.SigningMethodHS256, c))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-2" {
		t.Fatalf("expected subject fallback, got %q", claims.UserID)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret, "commerce")

	token := signToken(t, []byte("other-secret"), jwt.SigningMethodHS256, validClaims())
	if _, err := v.Verify(token); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	v := NewVerifier(testSecret, "commerce")

	c := validClaims()
	c.Issuer = "someone-else"

	if _, err := v.Verify(signToken(t, testSecret, jwt.SigningMethodHS256, c)); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret, "commerce")

	c := validClaims()
	c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	if _, err := v.Verify(signToken(t, testSecret, jwt.SigningMethodHS256, c)); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	v := NewVerifier(testSecret, "commerce")

	token := signToken(t, testSecret, jwt.SigningMethodHS512, validClaims())
	if _, err := v.Verify(token); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsEmptyAndGarbage(t *testing.T) {
	v := NewVerifier(testSecret, "commerce")

	for _, token := range []string{"", "   ", "not-a-token"} {
		if _, err := v.Verify(token); !errors.Is(err, domain.ErrTokenInvalid) {
			t.Fatalf("token %q: expected ErrTokenInvalid, got %v", token, err)
		}
	}
}

func TestVerifyRejectsMissingUser(t *testing.T) {
	v := NewVerifier(testSecret, "commerce")

	c := validClaims()
	c.UserID = ""
	c.Subject = ""

	if _, err := v.Verify(signToken(t, testSecret, jwt.SigningMethodHS256, c)); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
