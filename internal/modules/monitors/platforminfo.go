// Package monitors holds the illustrative built-in Monitor implementations:
// platform-info (the bootstrap base probe), uptime (an ordinary base probe)
// and docker-ps (an extension of platform-info).
package monitors

import (
	"strings"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/connectors"
)

const PlatformInfoID = "platform-info"

// PlatformInfo is the bootstrap probe the Monitor Manager dispatches via
// RefreshPlatformInfo. It carries invocation id 0 semantics at the caller
// (the Monitor Manager never assigns it one); the module itself is an
// ordinary base Monitor.
//
// It is connector-agnostic: it runs the same tiny uname/ver-style probe
// over whichever connector the host actually has configured, resolved once
// at construction time from the "connector" setting (the caller derives
// this from the host's own connectors document; it falls back to SSH when
// unset, e.g. in a test fixture that never sets it).
type PlatformInfo struct {
	meta          module.Metadata
	connectorSpec domain.ModuleSpecification
}

func NewPlatformInfo(spec domain.ModuleSpecification, settings map[string]string) (module.Monitor, error) {
	connectorID := settings["connector"]
	if connectorID == "" {
		connectorID = connectors.SSHSpecID
	}
	return &PlatformInfo{
		meta:          module.Metadata{Spec: spec},
		connectorSpec: domain.ModuleSpecification{ID: connectorID, Version: domain.LatestVersion},
	}, nil
}

func (p *PlatformInfo) Metadata() module.Metadata              { return p.meta }
func (p *PlatformInfo) ModuleSpec() domain.ModuleSpecification { return p.meta.Spec }

func (p *PlatformInfo) ConnectorSpec() (domain.ModuleSpecification, bool) {
	return p.connectorSpec, true
}

func (p *PlatformInfo) ConnectorMessages(host domain.Host, parent *domain.DataPoint) ([]string, error) {
	return []string{"uname -s 2>/dev/null || ver"}, nil
}

func (p *PlatformInfo) ProcessResponses(host domain.Host, responses []domain.ResponseMessage, parent *domain.DataPoint) (domain.DataPoint, error) {
	return domain.DataPoint{}, module.ErrFallback
}

func (p *PlatformInfo) ProcessResponse(host domain.Host, response domain.ResponseMessage, parent *domain.DataPoint) (domain.DataPoint, error) {
	os := "unknown"
	switch strings.ToLower(strings.TrimSpace(response.Message)) {
	case "linux":
		os = "linux"
	case "darwin":
		os = "darwin"
	default:
		if strings.Contains(strings.ToLower(response.Message), "windows") {
			os = "windows"
		}
	}
	return domain.DataPoint{
		Label:       "platform",
		Value:       os,
		Criticality: domain.Normal,
	}, nil
}
