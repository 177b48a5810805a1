package credentials

import (
	"testing"

	"github.com/nmslite/nmslite/internal/config"
	"github.com/nmslite/nmslite/internal/domain"
)

const testKey = "01234567890123456789012345678901" // 32 bytes, trimmed to 32

func newTestSecurity(t *testing.T) *Security {
	t.Helper()
	sec, err := NewSecurity(testKey[:32])
	if err != nil {
		t.Fatalf("NewSecurity: %v", err)
	}
	return sec
}

func TestNewSecurityRejectsWrongKeyLength(t *testing.T) {
	if _, err := NewSecurity("tooshort"); err == nil {
		t.Fatal("expected an error for a key shorter than 32 bytes")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sec := newTestSecurity(t)

	ciphertext, err := sec.Encrypt([]byte("super-secret-password"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == "super-secret-password" {
		t.Fatal("ciphertext must not equal the plaintext")
	}

	plaintext, err := sec.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "super-secret-password" {
		t.Errorf("expected round-tripped plaintext %q, got %q", "super-secret-password", plaintext)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	sec := newTestSecurity(t)
	ciphertext, err := sec.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := ciphertext[:len(ciphertext)-4] + "abcd"
	if _, err := sec.Decrypt(tampered); err == nil {
		t.Fatal("expected an error decrypting tampered ciphertext")
	}
}

func TestConnectorSettingsStripsEncryptedFields(t *testing.T) {
	sec := newTestSecurity(t)
	svc := NewService(sec)

	encrypted, err := sec.Encrypt([]byte("hunter2"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	hosts := &config.HostsDocument{Hosts: map[string]config.HostDoc{
		"web1": {Connectors: map[string]config.ConnectorRef{
			"ssh": {Settings: map[string]string{
				"username":          "admin",
				"password_encrypted": encrypted,
			}},
		}},
	}}
	svc.Configure(hosts)

	spec := domain.ModuleSpecification{ID: "ssh", Version: "latest"}
	settings := svc.ConnectorSettings("web1", spec)

	if settings["username"] != "admin" {
		t.Errorf("expected username to pass through, got %q", settings["username"])
	}
	if _, ok := settings["password_encrypted"]; ok {
		t.Error("expected the encrypted field to be stripped from ConnectorSettings")
	}
}

func TestConnectorCredentialsDecryptsEncryptedFields(t *testing.T) {
	sec := newTestSecurity(t)
	svc := NewService(sec)

	encrypted, err := sec.Encrypt([]byte("hunter2"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	hosts := &config.HostsDocument{Hosts: map[string]config.HostDoc{
		"web1": {Connectors: map[string]config.ConnectorRef{
			"ssh": {Settings: map[string]string{
				"username":           "admin",
				"password_encrypted": encrypted,
			}},
		}},
	}}
	svc.Configure(hosts)

	spec := domain.ModuleSpecification{ID: "ssh", Version: "latest"}
	creds, err := svc.ConnectorCredentials("web1", spec)
	if err != nil {
		t.Fatalf("ConnectorCredentials: %v", err)
	}
	if creds["password"] != "hunter2" {
		t.Errorf("expected decrypted password %q, got %q", "hunter2", creds["password"])
	}
	if _, ok := creds["username"]; ok {
		t.Error("expected ConnectorCredentials to only surface decrypted fields")
	}
}

func TestConnectorCredentialsUnknownHostReturnsEmpty(t *testing.T) {
	sec := newTestSecurity(t)
	svc := NewService(sec)
	svc.Configure(&config.HostsDocument{Hosts: map[string]config.HostDoc{}})

	creds, err := svc.ConnectorCredentials("missing-host", domain.ModuleSpecification{ID: "ssh"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(creds) != 0 {
		t.Errorf("expected no credentials for an unconfigured host, got %v", creds)
	}
}
