package commands

import (
	"fmt"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
)

const OpenTerminalID = "open-terminal"

// OpenTerminal has no connector: its CommandAction tells the Command
// Handler to short-circuit the Connection Manager entirely and ask the
// frontend to spawn a local terminal.
type OpenTerminal struct {
	meta module.Metadata
}

func NewOpenTerminal(spec domain.ModuleSpecification, _ map[string]string) (module.Command, error) {
	return &OpenTerminal{
		meta: module.Metadata{
			Spec:           spec,
			DisplayOptions: domain.DisplayOptions{Action: domain.ActionTerminal},
		},
	}, nil
}

func (o *OpenTerminal) Metadata() module.Metadata             { return o.meta }
func (o *OpenTerminal) ModuleSpec() domain.ModuleSpecification { return o.meta.Spec }

func (o *OpenTerminal) ConnectorSpec() (domain.ModuleSpecification, bool) {
	return domain.ModuleSpecification{}, false
}

func (o *OpenTerminal) ConnectorMessages(host domain.Host, targetIDs []string) ([]string, error) {
	return nil, fmt.Errorf("open-terminal: no connector messages; handled as a Terminal action")
}

func (o *OpenTerminal) ProcessResponse(host domain.Host, responses []domain.ResponseMessage) (domain.CommandResult, error) {
	return domain.CommandResult{Message: "terminal opened", Criticality: domain.Normal}, nil
}
