package connectors

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/settings"
)

const LocalSpecID = "local"

// Local runs messages through a POSIX shell on the machine the engine
// itself runs on, via os/exec with a timeout context.
type Local struct {
	meta    module.Metadata
	timeout time.Duration
	shell   string
}

func NewLocal(spec domain.ModuleSpecification, set map[string]string) (module.Connector, error) {
	return &Local{
		meta:    module.Metadata{Spec: spec},
		timeout: settings.Duration(set, "timeout_seconds", 30*time.Second),
		shell:   settings.String(set, "shell", "/bin/sh"),
	}, nil
}

func (l *Local) Metadata() module.Metadata             { return l.meta }
func (l *Local) ModuleSpec() domain.ModuleSpecification { return l.meta.Spec }

// Connect is a no-op: there is no remote handshake, only a local shell.
func (l *Local) Connect(host domain.Host, credentials map[string]string) error {
	return nil
}

func (l *Local) Send(requestType domain.RequestType, message string) (domain.ResponseMessage, error) {
	if requestType != domain.Command {
		return domain.ResponseMessage{}, fmt.Errorf("local: unsupported request type for this connector")
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.shell, "-c", message)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	returnCode := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			returnCode = exitErr.ExitCode()
		} else {
			return domain.ResponseMessage{}, fmt.Errorf("local: run %q: %w", message, err)
		}
	}

	out := stdout.String()
	if out == "" {
		out = stderr.String()
	}
	return domain.ResponseMessage{Message: out, ReturnCode: returnCode}, nil
}

func (l *Local) Close() error { return nil }
