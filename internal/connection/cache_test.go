package connection

import (
	"testing"
	"time"

	"github.com/nmslite/nmslite/internal/domain"
)

func TestFingerprintIsDeterministicAndDistinguishesInputs(t *testing.T) {
	a := Fingerprint("web1", "ssh", domain.Command, "uptime")
	b := Fingerprint("web1", "ssh", domain.Command, "uptime")
	if a != b {
		t.Fatal("expected Fingerprint to be deterministic for identical inputs")
	}

	variants := []string{
		Fingerprint("web2", "ssh", domain.Command, "uptime"),
		Fingerprint("web1", "winrm", domain.Command, "uptime"),
		Fingerprint("web1", "ssh", domain.Download, "uptime"),
		Fingerprint("web1", "ssh", domain.Command, "df -h"),
	}
	for _, v := range variants {
		if v == a {
			t.Errorf("expected a differing input to change the fingerprint, got a collision: %q", v)
		}
	}
}

func TestResponseCacheDisabledNeverHits(t *testing.T) {
	c := NewResponseCache(Settings{Enable: false, TTL: time.Minute})
	c.Store("fp", domain.ResponseMessage{Message: "hi", ReturnCode: 0})

	if _, ok := c.Lookup("fp"); ok {
		t.Fatal("expected a disabled cache to never return a hit")
	}
	if c.Enabled() {
		t.Error("expected Enabled() to report false")
	}
}

func TestResponseCacheStoresOnlyOnSuccess(t *testing.T) {
	c := NewResponseCache(Settings{Enable: true, TTL: time.Minute})
	c.Store("fp", domain.ResponseMessage{Message: "failed", ReturnCode: 1})

	if _, ok := c.Lookup("fp"); ok {
		t.Fatal("expected Store to ignore a non-zero return code")
	}

	c.Store("fp", domain.ResponseMessage{Message: "ok", ReturnCode: 0})
	resp, ok := c.Lookup("fp")
	if !ok {
		t.Fatal("expected a hit after storing a successful response")
	}
	if resp.Message != "ok" || !resp.IsFromCache {
		t.Errorf("unexpected cached response: %+v", resp)
	}
}

func TestResponseCacheRespectsTTL(t *testing.T) {
	c := NewResponseCache(Settings{Enable: true, TTL: 10 * time.Millisecond})
	c.Store("fp", domain.ResponseMessage{Message: "ok", ReturnCode: 0})

	if _, ok := c.Lookup("fp"); !ok {
		t.Fatal("expected an immediate hit before the TTL elapses")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Lookup("fp"); ok {
		t.Error("expected the entry to expire after its TTL")
	}
}

func TestResponseCacheInitialValueGraceWindow(t *testing.T) {
	c := NewResponseCache(Settings{Enable: true, TTL: time.Millisecond, InitialValueTTL: time.Hour})
	c.Store("fp", domain.ResponseMessage{Message: "ok", ReturnCode: 0})

	time.Sleep(5 * time.Millisecond) // well past the normal TTL
	if _, ok := c.Lookup("fp"); !ok {
		t.Error("expected the initial-value grace window to keep the entry fresh")
	}
}
