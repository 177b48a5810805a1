package monitors

import (
	"strings"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/connectors"
)

const DockerPSID = "docker-ps"

// DockerPS is an extension of PlatformInfo: it only makes sense once the
// host's OS is known, and reads that OS from the parent DataPoint rather
// than probing it itself.
type DockerPS struct {
	meta module.Metadata
}

func NewDockerPS(spec domain.ModuleSpecification, _ map[string]string) (module.Monitor, error) {
	parent := domain.ModuleSpecification{ID: PlatformInfoID, Version: domain.LatestVersion}
	return &DockerPS{meta: module.Metadata{Spec: spec, ParentModule: &parent}}, nil
}

func (d *DockerPS) Metadata() module.Metadata              { return d.meta }
func (d *DockerPS) ModuleSpec() domain.ModuleSpecification { return d.meta.Spec }

func (d *DockerPS) ConnectorSpec() (domain.ModuleSpecification, bool) {
	return domain.ModuleSpecification{ID: connectors.SSHSpecID, Version: domain.LatestVersion}, true
}

func (d *DockerPS) ConnectorMessages(host domain.Host, parent *domain.DataPoint) ([]string, error) {
	if parent == nil || parent.Value == "windows" {
		// Nothing sensible to run; the empty result falls through to
		// ProcessResponse, which retains the parent's data point unchanged.
		return []string{"true"}, nil
	}
	return []string{"docker ps --format '{{.Names}}|{{.Status}}'"}, nil
}

func (d *DockerPS) ProcessResponses(host domain.Host, responses []domain.ResponseMessage, parent *domain.DataPoint) (domain.DataPoint, error) {
	if len(responses) == 0 {
		return domain.DataPoint{}, module.ErrFallback
	}
	lines := strings.Split(strings.TrimSpace(responses[0].Message), "\n")
	var containers []domain.DataPoint
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 2)
		name := parts[0]
		status := ""
		if len(parts) > 1 {
			status = parts[1]
		}
		containers = append(containers, domain.DataPoint{
			Label:       name,
			Value:       status,
			Criticality: criticalityForStatus(status),
		})
	}
	return domain.DataPoint{
		Label:       "docker-ps",
		Multivalue:  containers,
		Criticality: domain.Normal,
	}, nil
}

func (d *DockerPS) ProcessResponse(host domain.Host, response domain.ResponseMessage, parent *domain.DataPoint) (domain.DataPoint, error) {
	if parent != nil {
		return *parent, nil
	}
	return domain.EmptyDataPoint(), nil
}

func criticalityForStatus(status string) domain.Criticality {
	if strings.HasPrefix(strings.ToLower(status), "up") {
		return domain.Normal
	}
	return domain.Warning
}
