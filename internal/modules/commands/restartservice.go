package commands

import (
	"fmt"
	"strings"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/connectors"
	"github.com/nmslite/nmslite/internal/modules/settings"
)

const RestartServiceID = "restart-service"

// RestartService restarts a named systemd/service unit and requires
// operator confirmation before it is dispatched.
type RestartService struct {
	meta module.Metadata
}

func NewRestartService(spec domain.ModuleSpecification, set map[string]string) (module.Command, error) {
	confirmation := settings.String(set, "confirmation_text", "Really restart this service?")
	return &RestartService{
		meta: module.Metadata{
			Spec:           spec,
			DisplayOptions: domain.DisplayOptions{ConfirmationText: confirmation},
		},
	}, nil
}

func (r *RestartService) Metadata() module.Metadata             { return r.meta }
func (r *RestartService) ModuleSpec() domain.ModuleSpecification { return r.meta.Spec }

func (r *RestartService) ConnectorSpec() (domain.ModuleSpecification, bool) {
	return domain.ModuleSpecification{ID: connectors.SSHSpecID, Version: domain.LatestVersion}, true
}

func (r *RestartService) ConnectorMessages(host domain.Host, targetIDs []string) ([]string, error) {
	if len(targetIDs) == 0 {
		return nil, fmt.Errorf("restart-service: target service name required")
	}
	service := targetIDs[0]
	return []string{fmt.Sprintf("systemctl restart %s", service)}, nil
}

func (r *RestartService) ProcessResponse(host domain.Host, responses []domain.ResponseMessage) (domain.CommandResult, error) {
	if len(responses) == 0 {
		return domain.EmptyAndCritical(0), fmt.Errorf("restart-service: no response")
	}
	resp := responses[0]
	if resp.ReturnCode != 0 {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", resp.ReturnCode)
		}
		return domain.CommandResult{Message: msg, Criticality: domain.Critical}, nil
	}
	return domain.CommandResult{Message: "service restarted", Criticality: domain.Normal}, nil
}
