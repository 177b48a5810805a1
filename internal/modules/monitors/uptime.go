package monitors

import (
	"fmt"
	"strings"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/connectors"
)

const UptimeID = "uptime"

// Uptime is an ordinary base monitor with no extensions of its own.
type Uptime struct {
	meta module.Metadata
}

func NewUptime(spec domain.ModuleSpecification, _ map[string]string) (module.Monitor, error) {
	return &Uptime{meta: module.Metadata{Spec: spec}}, nil
}

func (u *Uptime) Metadata() module.Metadata             { return u.meta }
func (u *Uptime) ModuleSpec() domain.ModuleSpecification { return u.meta.Spec }

func (u *Uptime) ConnectorSpec() (domain.ModuleSpecification, bool) {
	return domain.ModuleSpecification{ID: connectors.SSHSpecID, Version: domain.LatestVersion}, true
}

func (u *Uptime) ConnectorMessages(host domain.Host, parent *domain.DataPoint) ([]string, error) {
	return []string{"uptime"}, nil
}

func (u *Uptime) ProcessResponses(host domain.Host, responses []domain.ResponseMessage, parent *domain.DataPoint) (domain.DataPoint, error) {
	return domain.DataPoint{}, module.ErrFallback
}

func (u *Uptime) ProcessResponse(host domain.Host, response domain.ResponseMessage, parent *domain.DataPoint) (domain.DataPoint, error) {
	value := strings.TrimSpace(response.Message)
	if response.ReturnCode != 0 || value == "" {
		return domain.DataPoint{}, fmt.Errorf("uptime: command failed (exit %d)", response.ReturnCode)
	}
	return domain.DataPoint{Label: "uptime", Value: value, Criticality: domain.Normal}, nil
}
