package connectors

import (
	"fmt"
	"strings"
	"time"

	"github.com/masterzen/winrm"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/settings"
)

const WinRMSpecID = "winrm"

// WinRM executes PowerShell over Windows Remote Management, using basic
// auth or NTLM when a domain is supplied.
type WinRM struct {
	meta     module.Metadata
	port     int
	useHTTPS bool
	insecure bool
	timeout  time.Duration

	client *winrm.Client
}

func NewWinRM(spec domain.ModuleSpecification, set map[string]string) (module.Connector, error) {
	return &WinRM{
		meta:     module.Metadata{Spec: spec},
		port:     settings.Int(set, "port", 5985),
		useHTTPS: settings.Bool(set, "use_https", false),
		insecure: settings.Bool(set, "insecure", true),
		timeout:  settings.Duration(set, "timeout_seconds", 30*time.Second),
	}, nil
}

func (w *WinRM) Metadata() module.Metadata             { return w.meta }
func (w *WinRM) ModuleSpec() domain.ModuleSpecification { return w.meta.Spec }

func (w *WinRM) Connect(host domain.Host, credentials map[string]string) error {
	username := credentials["username"]
	password := credentials["password"]
	domain_ := credentials["domain"]

	endpoint := winrm.NewEndpoint(host.Address, w.port, w.useHTTPS, w.insecure, nil, nil, nil, w.timeout)

	var client *winrm.Client
	var err error
	if domain_ != "" {
		params := winrm.DefaultParameters
		params.TransportDecorator = func() winrm.Transporter {
			return &winrm.ClientNTLM{}
		}
		client, err = winrm.NewClientWithParameters(endpoint, fmt.Sprintf("%s\\%s", domain_, username), password, params)
	} else {
		client, err = winrm.NewClient(endpoint, username, password)
	}
	if err != nil {
		return fmt.Errorf("winrm: create client: %w", err)
	}

	w.client = client
	return nil
}

func (w *WinRM) Send(requestType domain.RequestType, message string) (domain.ResponseMessage, error) {
	if w.client == nil {
		return domain.ResponseMessage{}, fmt.Errorf("winrm: not connected")
	}
	if requestType != domain.Command {
		return domain.ResponseMessage{}, fmt.Errorf("winrm: unsupported request type for this connector")
	}

	stdout, stderr, exitCode, err := w.client.RunWithString(message, "")
	if err != nil {
		return domain.ResponseMessage{}, fmt.Errorf("winrm: execute: %w", err)
	}

	out := strings.TrimSpace(stdout)
	if out == "" {
		out = strings.TrimSpace(stderr)
	}
	return domain.ResponseMessage{Message: out, ReturnCode: exitCode}, nil
}

// Close is a no-op: WinRM connections are per-request/stateless.
func (w *WinRM) Close() error { return nil }
