package auth

import (
	"testing"
	"time"
)

const testSecret = "01234567890123456789012345678901"

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(testSecret, "admin", "hunter2", time.Hour)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	if _, err := NewService("short", "admin", "hunter2", time.Hour); err == nil {
		t.Fatal("expected an error for a jwt secret under 32 characters")
	}
}

func TestLoginWithValidCredentials(t *testing.T) {
	svc := newTestService(t)
	resp, err := svc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a non-empty token")
	}
	if !resp.ExpiresAt.After(time.Now()) {
		t.Error("expected ExpiresAt to be in the future")
	}
}

func TestLoginWithInvalidCredentials(t *testing.T) {
	svc := newTestService(t)
	testCases := []struct {
		name, username, password string
	}{
		{"wrong password", "admin", "wrong"},
		{"wrong username", "nobody", "hunter2"},
		{"both wrong", "nobody", "wrong"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Login(tc.username, tc.password); err == nil {
				t.Error("expected Login to reject invalid credentials")
			}
		})
	}
}

func TestValidateTokenRoundTrip(t *testing.T) {
	svc := newTestService(t)
	resp, err := svc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := svc.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("expected username %q, got %q", "admin", claims.Username)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.ValidateToken("not-a-jwt"); err == nil {
		t.Fatal("expected an error validating a non-JWT string")
	}
}

func TestValidateTokenRejectsForeignSigningKey(t *testing.T) {
	svc := newTestService(t)
	other, err := NewService("10987654321098765432109876543210", "admin", "hunter2", time.Hour)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	resp, err := other.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.ValidateToken(resp.Token); err == nil {
		t.Fatal("expected a token signed with a different secret to fail validation")
	}
}
