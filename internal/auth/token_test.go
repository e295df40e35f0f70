package auth

import (
	"strings"
	"testing"
	"time"
)

func validClaims() Claims {
	return Claims{
		Sub:  "usr_1",
		Org:  "org_1",
		Name: "Dana",
		Role: "member",
		JTI:  "jti_1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Sub != "usr_1" || claims.Org != "org_1" || claims.Role != "member" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken([]byte("secret-a"), validClaims())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken([]byte("secret-b"), token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	parts := strings.Split(token, ".")
	tampered := parts[0] + "x." + parts[1]
	if _, err := ParseToken(secret, tampered); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	claims := validClaims()
	claims.Exp = time.Now().Add(-time.Minute).Unix()
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken(secret, token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRequiresOrg(t *testing.T) {
	secret := []byte("test-secret")
	claims := validClaims()
	claims.Org = ""
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken(secret, token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
