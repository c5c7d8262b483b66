package security

import (
	"errors"
	"testing"
	"time"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("User@123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "User@123" {
		t.Fatalf("expected hashed value")
	}
	if !CheckPassword(hash, "User@123") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected mismatch for wrong password")
	}
	if _, errEmpty := HashPassword(" "); errEmpty == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestUserToken_RoundTrip(t *testing.T) {
	token, err := IssueUserToken("secret", 42, "admin", time.Hour)
	if err != nil {
		t.Fatalf("IssueUserToken: %v", err)
	}
	claims, errParse := ParseUserToken("secret", token)
	if errParse != nil {
		t.Fatalf("ParseUserToken: %v", errParse)
	}
	if claims.UserID != 42 || claims.Role != "admin" || claims.Subject != "42" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestUserToken_Rejects(t *testing.T) {
	token, err := IssueUserToken("secret", 7, "user", time.Hour)
	if err != nil {
		t.Fatalf("IssueUserToken: %v", err)
	}
	if _, errParse := ParseUserToken("other", token); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", errParse)
	}

	expired, errIssue := IssueUserToken("secret", 7, "user", -time.Minute)
	if errIssue != nil {
		t.Fatalf("IssueUserToken: %v", errIssue)
	}
	if _, errParse := ParseUserToken("secret", expired); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", errParse)
	}
	if _, errParse := ParseUserToken("secret", "garbage"); errParse == nil {
		t.Fatalf("expected error for garbage token")
	}
}

func TestGenerateRandomString(t *testing.T) {
	a, err := GenerateRandomString(16)
	if err != nil {
		t.Fatalf("GenerateRandomString: %v", err)
	}
	b, _ := GenerateRandomString(16)
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected random output %q %q", a, b)
	}
}
