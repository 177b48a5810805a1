package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nmslite/nmslite/internal/auth"
	"github.com/nmslite/nmslite/internal/commandhandler"
	"github.com/nmslite/nmslite/internal/connection"
	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/hostmanager"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/monitormanager"
	"github.com/nmslite/nmslite/internal/registry"
)

const testSecret = "01234567890123456789012345678901"

type stubCommand struct {
	spec domain.ModuleSpecification
	opts domain.DisplayOptions
}

func (s *stubCommand) Metadata() module.Metadata {
	return module.Metadata{Spec: s.spec, DisplayOptions: s.opts}
}
func (s *stubCommand) ModuleSpec() domain.ModuleSpecification { return s.spec }
func (s *stubCommand) ConnectorSpec() (domain.ModuleSpecification, bool) {
	return domain.ModuleSpecification{}, false
}
func (s *stubCommand) ConnectorMessages(host domain.Host, targetIDs []string) ([]string, error) {
	return nil, nil
}
func (s *stubCommand) ProcessResponse(host domain.Host, responses []domain.ResponseMessage) (domain.CommandResult, error) {
	return domain.CommandResult{Message: "done", Criticality: domain.Normal}, nil
}

func newTestBridge(t *testing.T) (*Bridge, *auth.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	authSvc, err := auth.NewService(testSecret, "admin", "hunter2", time.Hour)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	hosts := hostmanager.New(logger, 16)
	hosts.Seed(domain.Host{Name: "web1"})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hosts.Run(ctx)

	reg := registry.New()
	connMgr := connection.NewManager(reg, noCredSource{}, connection.NewResponseCache(connection.Settings{}), logger)
	t.Cleanup(connMgr.Close)
	monitors := monitormanager.New(reg, connMgr, hosts, monitormanager.CacheSettings{}, logger)
	if err := monitors.Configure(nil); err != nil {
		t.Fatalf("monitors.Configure: %v", err)
	}

	spec := domain.ModuleSpecification{ID: "restart-service", Version: "latest"}
	reg.RegisterCommand("restart-service", func(spec domain.ModuleSpecification, settings map[string]string) (module.Command, error) {
		return &stubCommand{spec: spec}, nil
	})
	gatedSpec := domain.ModuleSpecification{ID: "docker-image-prune", Version: "latest"}
	reg.RegisterCommand("docker-image-prune", func(spec domain.ModuleSpecification, settings map[string]string) (module.Command, error) {
		return &stubCommand{spec: spec, opts: domain.DisplayOptions{ConfirmationText: "really prune?"}}, nil
	})
	commands := commandhandler.New(connMgr, hosts, logger)
	if err := commands.Configure(reg, []commandhandler.HostConfig{{
		Host: domain.Host{Name: "web1"},
		Commands: []commandhandler.CommandConfig{
			{Spec: spec},
			{Spec: gatedSpec},
		},
	}}); err != nil {
		t.Fatalf("commands.Configure: %v", err)
	}

	b := New(authSvc, hosts, monitors, commands, nil, logger)
	return b, authSvc
}

type noCredSource struct{}

func (noCredSource) ConnectorSettings(hostName string, spec domain.ModuleSpecification) map[string]string {
	return nil
}
func (noCredSource) ConnectorCredentials(hostName string, spec domain.ModuleSpecification) (map[string]string, error) {
	return nil, nil
}

func TestLoginWithValidCredentialsReturnsToken(t *testing.T) {
	b, _ := newTestBridge(t)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp auth.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a non-empty token")
	}
}

func TestLoginWithInvalidCredentialsReturns401(t *testing.T) {
	b, _ := newTestBridge(t)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	b, _ := newTestBridge(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hosts/", nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without a bearer token, got %d", rec.Code)
	}
}

func TestProtectedRouteAcceptsValidToken(t *testing.T) {
	b, authSvc := newTestBridge(t)

	resp, err := authSvc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hosts/", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExecuteAgainstConfirmationGatedCommandReturnsConfirmationPayload(t *testing.T) {
	b, authSvc := newTestBridge(t)
	resp, err := authSvc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	body, _ := json.Marshal(map[string]any{"target_ids": []string{}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hosts/web1/commands/docker-image-prune/execute", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result commandhandler.ExecuteResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.NeedsConfirmation || result.ConfirmationText != "really prune?" {
		t.Errorf("expected a confirmation payload, got %+v", result)
	}
}

func TestConfirmDispatchesGatedCommand(t *testing.T) {
	b, authSvc := newTestBridge(t)
	resp, err := authSvc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	body, _ := json.Marshal(map[string]any{"target_ids": []string{}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hosts/web1/commands/docker-image-prune/confirm", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result commandhandler.ExecuteResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.NeedsConfirmation {
		t.Error("expected ExecuteConfirmed to bypass the confirmation gate")
	}
}

func TestUnknownHostReturns404(t *testing.T) {
	b, authSvc := newTestBridge(t)
	resp, err := authSvc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hosts/ghost", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	b, _ := newTestBridge(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}
