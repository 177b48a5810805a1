// Package connection implements the Connection Manager: it owns one
// connector instance per (host, connector_spec) pair, serializes requests
// targeting it through a FIFO worker, and serves/write-throughs the
// response cache.
package connection

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/registry"
)

// CredentialSource resolves the settings and decrypted credentials a
// connector needs to connect to a given host. It is the seam between the
// Connection Manager and host configuration/credential storage, kept
// abstract so neither depends on the other's concrete shape.
type CredentialSource interface {
	ConnectorSettings(hostName string, spec domain.ModuleSpecification) map[string]string
	ConnectorCredentials(hostName string, spec domain.ModuleSpecification) (map[string]string, error)
}

type workerKey struct {
	host      string
	connector string
}

// Manager is the Connection Manager.
type Manager struct {
	registry *registry.Registry
	creds    CredentialSource
	cache    *ResponseCache
	logger   *slog.Logger

	mu      sync.Mutex
	workers map[workerKey]*worker

	buildOnce singleflight.Group
}

func NewManager(reg *registry.Registry, creds CredentialSource, cache *ResponseCache, logger *slog.Logger) *Manager {
	return &Manager{
		registry: reg,
		creds:    creds,
		cache:    cache,
		logger:   logger.With("component", "connection_manager"),
		workers:  make(map[workerKey]*worker),
	}
}

// Submit enqueues a ConnectorRequest on the worker for its (host,
// connector_spec), creating that worker if it does not yet exist. Requests
// for the same key are executed, and their callbacks invoked, in submission
// order.
func (m *Manager) Submit(req domain.ConnectorRequest) error {
	key := workerKey{host: req.Host.Name, connector: req.ConnectorSpec.ID}

	w, err := m.getOrCreateWorker(key, req.Host, req.ConnectorSpec)
	if err != nil {
		return err
	}

	w.queue <- req
	return nil
}

func (m *Manager) getOrCreateWorker(key workerKey, host domain.Host, spec domain.ModuleSpecification) (*worker, error) {
	m.mu.Lock()
	if w, ok := m.workers[key]; ok {
		m.mu.Unlock()
		return w, nil
	}
	m.mu.Unlock()

	// singleflight collapses concurrent first-Submit races for a brand-new
	// key into a single worker construction.
	sfKey := key.host + "\x00" + key.connector
	v, err, _ := m.buildOnce.Do(sfKey, func() (interface{}, error) {
		m.mu.Lock()
		if w, ok := m.workers[key]; ok {
			m.mu.Unlock()
			return w, nil
		}
		m.mu.Unlock()

		w := newWorker(key, spec, m.registry, m.creds, m.cache, m.logger)
		go w.run()

		m.mu.Lock()
		m.workers[key] = w
		m.mu.Unlock()
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*worker), nil
}

// worker consumes ConnectorRequests for one (host, connector_spec) pair in
// FIFO order on its own goroutine.
type worker struct {
	key      workerKey
	spec     domain.ModuleSpecification
	host     domain.Host
	registry *registry.Registry
	creds    CredentialSource
	cache    *ResponseCache
	logger   *slog.Logger

	queue     chan domain.ConnectorRequest
	connector module.Connector
}

func newWorker(key workerKey, spec domain.ModuleSpecification, reg *registry.Registry, creds CredentialSource, cache *ResponseCache, logger *slog.Logger) *worker {
	return &worker{
		key:      key,
		spec:     spec,
		registry: reg,
		creds:    creds,
		cache:    cache,
		logger:   logger.With("host", key.host, "connector", key.connector),
		queue:    make(chan domain.ConnectorRequest, 64),
	}
}

func (w *worker) run() {
	for req := range w.queue {
		w.host = req.Host
		results := w.process(req)
		req.Handler(results)
	}
}

// process resolves the connector (constructing/authenticating if absent),
// then walks each message through the cache-policy decision tree.
func (w *worker) process(req domain.ConnectorRequest) []domain.MessageResult {
	results := make([]domain.MessageResult, len(req.Messages))

	for i, message := range req.Messages {
		fingerprint := Fingerprint(req.Host.Name, req.ConnectorSpec.ID, req.RequestType, message)

		switch req.CachePolicy {
		case domain.OnlyCache:
			if resp, ok := w.cache.Lookup(fingerprint); ok {
				results[i] = domain.MessageResult{Response: resp}
			} else {
				results[i] = domain.MessageResult{Response: domain.ResponseMessage{NotFound: true}}
			}
			continue

		case domain.PreferCache:
			if resp, ok := w.cache.Lookup(fingerprint); ok {
				results[i] = domain.MessageResult{Response: resp}
				continue
			}
		}

		// BypassCache, or PreferCache with a miss: forward to the transport.
		resp, err := w.sendWithConnector(req.Host, req.RequestType, message)
		if err != nil {
			results[i] = domain.MessageResult{Err: err.Error()}
			continue
		}
		w.cache.Store(fingerprint, resp)
		results[i] = domain.MessageResult{Response: resp}
	}

	return results
}

func (w *worker) sendWithConnector(host domain.Host, requestType domain.RequestType, message string) (domain.ResponseMessage, error) {
	if w.connector == nil {
		if err := w.connect(host); err != nil {
			return domain.ResponseMessage{}, fmt.Errorf("authentication failed: %w", err)
		}
	}

	resp, err := w.connector.Send(requestType, message)
	if err != nil {
		// Transport failure: the connector stays "absent" so the next
		// request lazily rebuilds it.
		_ = w.connector.Close()
		w.connector = nil
		return domain.ResponseMessage{}, err
	}
	return resp, nil
}

func (w *worker) connect(host domain.Host) error {
	settings := w.creds.ConnectorSettings(host.Name, w.spec)
	connector, err := w.registry.NewConnector(w.spec, settings)
	if err != nil {
		return err
	}

	credentials, err := w.creds.ConnectorCredentials(host.Name, w.spec)
	if err != nil {
		return err
	}

	if err := connector.Connect(host, credentials); err != nil {
		return err
	}
	w.connector = connector
	return nil
}

// Close tears down every worker's connector. Intended for process shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workers {
		close(w.queue)
		if w.connector != nil {
			_ = w.connector.Close()
		}
	}
}
