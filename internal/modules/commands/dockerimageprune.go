// Package commands holds the illustrative built-in Command implementations.
package commands

import (
	"encoding/json"
	"fmt"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/connectors"
)

const DockerImagePruneID = "docker-image-prune"

// DockerImagePrune reclaims unused Docker image storage.
type DockerImagePrune struct {
	meta module.Metadata
}

func NewDockerImagePrune(spec domain.ModuleSpecification, _ map[string]string) (module.Command, error) {
	return &DockerImagePrune{meta: module.Metadata{Spec: spec}}, nil
}

func (d *DockerImagePrune) Metadata() module.Metadata              { return d.meta }
func (d *DockerImagePrune) ModuleSpec() domain.ModuleSpecification { return d.meta.Spec }

func (d *DockerImagePrune) ConnectorSpec() (domain.ModuleSpecification, bool) {
	return domain.ModuleSpecification{ID: connectors.SSHSpecID, Version: domain.LatestVersion}, true
}

func (d *DockerImagePrune) ConnectorMessages(host domain.Host, targetIDs []string) ([]string, error) {
	return []string{"docker image prune -f --format '{{json .}}'"}, nil
}

func (d *DockerImagePrune) ProcessResponse(host domain.Host, responses []domain.ResponseMessage) (domain.CommandResult, error) {
	if len(responses) == 0 || responses[0].ReturnCode != 0 {
		return domain.EmptyAndCritical(0), fmt.Errorf("docker-image-prune: command failed")
	}

	var body struct {
		SpaceReclaimed int64 `json:"SpaceReclaimed"`
	}
	if err := json.Unmarshal([]byte(responses[0].Message), &body); err != nil {
		return domain.EmptyAndCritical(0), fmt.Errorf("docker-image-prune: parse output: %w", err)
	}

	return domain.CommandResult{
		Message:     fmt.Sprintf("Total reclaimed space: %d B", body.SpaceReclaimed),
		Criticality: domain.Info,
	}, nil
}
