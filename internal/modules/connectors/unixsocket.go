package connectors

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/settings"
)

const UnixSocketSpecID = "unix-socket-http"

// UnixSocket talks HTTP over a Unix domain socket, mirroring the
// "curl --unix-socket" pattern used by Docker-style daemons. The message is
// an HTTP path, optionally prefixed with a method ("POST /images/prune").
type UnixSocket struct {
	meta       module.Metadata
	socketPath string
	client     *http.Client
}

func NewUnixSocket(spec domain.ModuleSpecification, set map[string]string) (module.Connector, error) {
	path := settings.String(set, "socket_path", "/var/run/docker.sock")
	timeout := settings.Duration(set, "timeout_seconds", 15*time.Second)

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}

	return &UnixSocket{
		meta:       module.Metadata{Spec: spec},
		socketPath: path,
		client:     &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

func (u *UnixSocket) Metadata() module.Metadata             { return u.meta }
func (u *UnixSocket) ModuleSpec() domain.ModuleSpecification { return u.meta.Spec }

// Connect is a no-op: the Unix socket is dialed per-request by the HTTP
// transport's DialContext.
func (u *UnixSocket) Connect(host domain.Host, credentials map[string]string) error {
	return nil
}

func (u *UnixSocket) Send(requestType domain.RequestType, message string) (domain.ResponseMessage, error) {
	method, path := splitMethodPath(message)

	req, err := http.NewRequest(method, "http://unix"+path, nil)
	if err != nil {
		return domain.ResponseMessage{}, fmt.Errorf("unix-socket-http: build request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return domain.ResponseMessage{}, fmt.Errorf("unix-socket-http: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ResponseMessage{}, fmt.Errorf("unix-socket-http: read body: %w", err)
	}

	returnCode := 0
	if resp.StatusCode >= 400 {
		returnCode = resp.StatusCode
	}
	return domain.ResponseMessage{Message: string(body), ReturnCode: returnCode}, nil
}

func (u *UnixSocket) Close() error { return nil }

// splitMethodPath parses "METHOD /path" or bare "/path" (defaults to GET).
func splitMethodPath(message string) (method, path string) {
	for i, r := range message {
		if r == ' ' {
			return message[:i], message[i+1:]
		}
	}
	return http.MethodGet, message
}
