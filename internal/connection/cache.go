package connection

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/nmslite/nmslite/internal/domain"
)

// cacheEntry is one fingerprinted response: message, return code, and the
// time it was stored.
type cacheEntry struct {
	message    string
	returnCode int
	storedAt   time.Time
}

// ResponseCache is the Connection Manager's per-fingerprint response cache.
// It is safe for concurrent use by many per-(host,connector) workers;
// last-writer-wins on a fingerprint collision is acceptable: a colliding
// write simply means the next read sees whichever response landed last.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	enabled  bool
	ttl      time.Duration
	startTTL time.Duration // initial_value_time_to_live grace window
	startAt  time.Time
}

// Settings mirrors the main config's cache_settings block.
type Settings struct {
	Enable                bool
	ProvideInitialValue    bool
	InitialValueTTL        time.Duration
	PreferCache            bool
	TTL                    time.Duration
}

func NewResponseCache(s Settings) *ResponseCache {
	return &ResponseCache{
		entries:  make(map[string]cacheEntry),
		enabled:  s.Enable,
		ttl:      s.TTL,
		startTTL: s.InitialValueTTL,
		startAt:  time.Now(),
	}
}

// Fingerprint derives the cache key:
// hash(host.name, connector_spec.id, request_type, message).
func Fingerprint(hostName string, connectorID string, requestType domain.RequestType, message string) string {
	h := sha256.New()
	h.Write([]byte(hostName))
	h.Write([]byte{0})
	h.Write([]byte(connectorID))
	h.Write([]byte{0})
	h.Write([]byte{byte(requestType)})
	h.Write([]byte{0})
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns a fresh cached response, if one exists. The grace TTL
// (initial_value_time_to_live) only applies during the window right after
// process start, when provide_initial_value is configured.
func (c *ResponseCache) Lookup(fingerprint string) (domain.ResponseMessage, bool) {
	if !c.enabled {
		return domain.ResponseMessage{}, false
	}

	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok {
		return domain.ResponseMessage{}, false
	}

	ttl := c.ttl
	if c.startTTL > 0 && time.Since(c.startAt) < c.startTTL {
		ttl = c.startTTL
	}
	if ttl > 0 && time.Since(entry.storedAt) > ttl {
		return domain.ResponseMessage{}, false
	}

	return domain.ResponseMessage{Message: entry.message, ReturnCode: entry.returnCode, IsFromCache: true}, true
}

// Store writes through a successful response. Write-through only happens
// on return_code == 0.
func (c *ResponseCache) Store(fingerprint string, response domain.ResponseMessage) {
	if !c.enabled || response.ReturnCode != 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = cacheEntry{
		message:    response.Message,
		returnCode: response.ReturnCode,
		storedAt:   time.Now(),
	}
}

// Enabled reports whether caching is turned on at all.
func (c *ResponseCache) Enabled() bool { return c.enabled }
