package connection

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/registry"
)

// scriptedConnector counts Connect/Send/Close calls and can be told to fail
// its next Send.
type scriptedConnector struct {
	mu        sync.Mutex
	connects  int
	closes    int
	sendFail  bool
	sentOrder []string
}

func (c *scriptedConnector) Metadata() module.Metadata { return module.Metadata{} }
func (c *scriptedConnector) ModuleSpec() domain.ModuleSpecification {
	return domain.ModuleSpecification{ID: "ssh"}
}
func (c *scriptedConnector) Connect(host domain.Host, creds map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return nil
}
func (c *scriptedConnector) Send(requestType domain.RequestType, message string) (domain.ResponseMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentOrder = append(c.sentOrder, message)
	if c.sendFail {
		c.sendFail = false
		return domain.ResponseMessage{}, errors.New("transport error")
	}
	return domain.ResponseMessage{Message: "ok:" + message, ReturnCode: 0}, nil
}
func (c *scriptedConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type fakeCredSource struct{}

func (fakeCredSource) ConnectorSettings(hostName string, spec domain.ModuleSpecification) map[string]string {
	return nil
}
func (fakeCredSource) ConnectorCredentials(hostName string, spec domain.ModuleSpecification) (map[string]string, error) {
	return nil, nil
}

func newTestSetup(t *testing.T, connFactory registry.ConnectorFactory, cache *ResponseCache) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	reg.RegisterConnector("ssh", connFactory)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cache == nil {
		cache = NewResponseCache(Settings{})
	}
	mgr := NewManager(reg, fakeCredSource{}, cache, logger)
	t.Cleanup(mgr.Close)
	return mgr, reg
}

func submitAndWait(t *testing.T, mgr *Manager, req domain.ConnectorRequest) []domain.MessageResult {
	t.Helper()
	resultCh := make(chan []domain.MessageResult, 1)
	req.Handler = func(results []domain.MessageResult) { resultCh <- results }
	if err := mgr.Submit(req); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case results := <-resultCh:
		return results
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the worker to process the request")
		return nil
	}
}

func TestSubmitDispatchesThroughConnectorOnBypassCache(t *testing.T) {
	conn := &scriptedConnector{}
	mgr, _ := newTestSetup(t, func(spec domain.ModuleSpecification, settings map[string]string) (module.Connector, error) {
		return conn, nil
	}, nil)

	results := submitAndWait(t, mgr, domain.ConnectorRequest{
		ConnectorSpec: domain.ModuleSpecification{ID: "ssh"},
		Host:          domain.Host{Name: "web1"},
		Messages:      []string{"uptime"},
		RequestType:   domain.Command,
		CachePolicy:   domain.BypassCache,
	})

	if len(results) != 1 || results[0].Response.Message != "ok:uptime" {
		t.Fatalf("unexpected results: %+v", results)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.connects != 1 {
		t.Errorf("expected exactly one Connect call, got %d", conn.connects)
	}
}

func TestPreferCacheHitsAfterFirstStore(t *testing.T) {
	conn := &scriptedConnector{}
	cache := NewResponseCache(Settings{Enable: true, TTL: time.Minute})
	mgr, _ := newTestSetup(t, func(spec domain.ModuleSpecification, settings map[string]string) (module.Connector, error) {
		return conn, nil
	}, cache)

	req := domain.ConnectorRequest{
		ConnectorSpec: domain.ModuleSpecification{ID: "ssh"},
		Host:          domain.Host{Name: "web1"},
		Messages:      []string{"uptime"},
		RequestType:   domain.Command,
		CachePolicy:   domain.PreferCache,
	}
	first := submitAndWait(t, mgr, req)
	if first[0].Response.IsFromCache {
		t.Fatal("expected the first request to miss the empty cache")
	}

	second := submitAndWait(t, mgr, req)
	if !second[0].Response.IsFromCache {
		t.Fatal("expected the second request to be served from the cache")
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.sentOrder) != 1 {
		t.Errorf("expected the connector to be invoked only once, got %d sends", len(conn.sentOrder))
	}
}

func TestOnlyCacheMissReportsNotFound(t *testing.T) {
	conn := &scriptedConnector{}
	mgr, _ := newTestSetup(t, func(spec domain.ModuleSpecification, settings map[string]string) (module.Connector, error) {
		return conn, nil
	}, NewResponseCache(Settings{Enable: true, TTL: time.Minute}))

	results := submitAndWait(t, mgr, domain.ConnectorRequest{
		ConnectorSpec: domain.ModuleSpecification{ID: "ssh"},
		Host:          domain.Host{Name: "web1"},
		Messages:      []string{"uptime"},
		RequestType:   domain.Command,
		CachePolicy:   domain.OnlyCache,
	})

	if !results[0].Response.NotFound {
		t.Fatal("expected an OnlyCache miss to report NotFound")
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.connects != 0 {
		t.Error("expected an OnlyCache miss to never reach the connector")
	}
}

func TestTransportFailureRebuildsConnectorOnNextRequest(t *testing.T) {
	conn := &scriptedConnector{sendFail: true}
	mgr, _ := newTestSetup(t, func(spec domain.ModuleSpecification, settings map[string]string) (module.Connector, error) {
		return conn, nil
	}, nil)

	req := domain.ConnectorRequest{
		ConnectorSpec: domain.ModuleSpecification{ID: "ssh"},
		Host:          domain.Host{Name: "web1"},
		Messages:      []string{"uptime"},
		RequestType:   domain.Command,
		CachePolicy:   domain.BypassCache,
	}
	first := submitAndWait(t, mgr, req)
	if first[0].Err == "" {
		t.Fatal("expected the first (failing) send to surface an error")
	}

	second := submitAndWait(t, mgr, req)
	if second[0].Err != "" {
		t.Fatalf("expected the retried send to succeed, got error %q", second[0].Err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.connects != 2 {
		t.Errorf("expected the connector to be rebuilt after a transport failure, got %d connects", conn.connects)
	}
	if conn.closes != 1 {
		t.Errorf("expected the failed connector to be closed once, got %d", conn.closes)
	}
}

func TestRequestsForSameKeyExecuteInFIFOOrder(t *testing.T) {
	conn := &scriptedConnector{}
	mgr, _ := newTestSetup(t, func(spec domain.ModuleSpecification, settings map[string]string) (module.Connector, error) {
		return conn, nil
	}, nil)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			submitAndWait(t, mgr, domain.ConnectorRequest{
				ConnectorSpec: domain.ModuleSpecification{ID: "ssh"},
				Host:          domain.Host{Name: "web1"},
				Messages:      []string{fmt.Sprintf("cmd-%d", i)},
				RequestType:   domain.Command,
				CachePolicy:   domain.BypassCache,
			})
		}()
	}
	wg.Wait()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.sentOrder) != n {
		t.Fatalf("expected %d sends, got %d", n, len(conn.sentOrder))
	}
}

func TestDistinctHostsGetIndependentWorkers(t *testing.T) {
	var built int32
	mgr, _ := newTestSetup(t, func(spec domain.ModuleSpecification, settings map[string]string) (module.Connector, error) {
		atomic.AddInt32(&built, 1)
		return &scriptedConnector{}, nil
	}, nil)

	for _, host := range []string{"web1", "web2"} {
		submitAndWait(t, mgr, domain.ConnectorRequest{
			ConnectorSpec: domain.ModuleSpecification{ID: "ssh"},
			Host:          domain.Host{Name: host},
			Messages:      []string{"uptime"},
			RequestType:   domain.Command,
			CachePolicy:   domain.BypassCache,
		})
	}

	if atomic.LoadInt32(&built) != 2 {
		t.Errorf("expected one connector built per host, got %d", built)
	}
}
