// Package commandhandler implements the Command Handler: it dispatches
// operator-invoked commands through the Connection Manager, resolves
// confirmation and terminal short-circuits, and reports results back to the
// Host Manager — the command-side counterpart of the Monitor Manager, but
// without chaining.
package commandhandler

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nmslite/nmslite/internal/connection"
	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/registry"
)

// UpdateSender is the narrow interface the Command Handler needs from the
// Host Manager.
type UpdateSender interface {
	Send(domain.StateUpdateMessage)
}

type record struct {
	command module.Command
}

// CommandConfig is what Configure needs for one command on one host.
type CommandConfig struct {
	Spec     domain.ModuleSpecification
	Settings map[string]string
}

// HostConfig is what Configure needs for one host.
type HostConfig struct {
	Host     domain.Host
	Commands []CommandConfig
}

type hostEntry struct {
	host     domain.Host
	commands map[string]*record
}

// ExecuteResult is what Execute/ExecuteConfirmed return to the caller (the
// Frontend Bridge): the UI surface to open, and whether a confirmation is
// still pending.
type ExecuteResult struct {
	Action            domain.CommandAction
	NeedsConfirmation bool
	ConfirmationText  string
}

// Manager is the Command Handler.
type Manager struct {
	connMgr *connection.Manager
	sender  UpdateSender
	logger  *slog.Logger

	mu                sync.RWMutex
	hosts             map[string]*hostEntry
	invocationCounter int64
}

func New(connMgr *connection.Manager, sender UpdateSender, logger *slog.Logger) *Manager {
	return &Manager{
		connMgr: connMgr,
		sender:  sender,
		logger:  logger.With("component", "command_handler"),
		hosts:   make(map[string]*hostEntry),
	}
}

// Configure instantiates every configured command for every host, using the
// given registry factories.
func (m *Manager) Configure(reg *registry.Registry, hosts []HostConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hc := range hosts {
		entry := &hostEntry{host: hc.Host, commands: make(map[string]*record, len(hc.Commands))}
		for _, cc := range hc.Commands {
			cmd, err := reg.NewCommand(cc.Spec, cc.Settings)
			if err != nil {
				return fmt.Errorf("configure host %s: %w", hc.Host.Name, err)
			}
			entry.commands[cmd.ModuleSpec().ID] = &record{command: cmd}
		}
		m.hosts[hc.Host.Name] = entry
	}
	return nil
}

func (m *Manager) nextInvocationID() int64 {
	return atomic.AddInt64(&m.invocationCounter, 1)
}

// Descriptor is the catalog entry the Frontend Bridge lists per host.
type Descriptor struct {
	Spec           domain.ModuleSpecification
	DisplayOptions domain.DisplayOptions
}

// ListCommands returns a catalog entry for every command configured on
// hostName.
func (m *Manager) ListCommands(hostName string) ([]Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.hosts[hostName]
	if !ok {
		return nil, fmt.Errorf("host %s not configured", hostName)
	}

	out := make([]Descriptor, 0, len(entry.commands))
	for _, rec := range entry.commands {
		out = append(out, Descriptor{
			Spec:           rec.command.ModuleSpec(),
			DisplayOptions: rec.command.Metadata().DisplayOptions,
		})
	}
	return out, nil
}

func (m *Manager) resolve(hostName, commandID string) (*hostEntry, *record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.hosts[hostName]
	if !ok {
		return nil, nil, fmt.Errorf("host %s not configured", hostName)
	}
	rec, ok := entry.commands[commandID]
	if !ok {
		return nil, nil, fmt.Errorf("command %s not configured for host %s", commandID, hostName)
	}
	return entry, rec, nil
}

// Execute resolves and, unless a confirmation is required, dispatches the
// named command. A non-empty confirmation_text short-circuits dispatch and
// asks the caller to re-invoke via ExecuteConfirmed.
func (m *Manager) Execute(hostName, commandID string, targetIDs []string) (ExecuteResult, error) {
	entry, rec, err := m.resolve(hostName, commandID)
	if err != nil {
		return ExecuteResult{}, err
	}

	opts := rec.command.Metadata().DisplayOptions
	if opts.ConfirmationText != "" {
		return ExecuteResult{Action: opts.Action, NeedsConfirmation: true, ConfirmationText: opts.ConfirmationText}, nil
	}

	return m.dispatch(entry, rec, targetIDs)
}

// ExecuteConfirmed dispatches a command that declared a confirmation_text,
// bypassing the confirmation gate. The caller is expected to have already
// obtained operator confirmation out of band.
func (m *Manager) ExecuteConfirmed(hostName, commandID string, targetIDs []string) (ExecuteResult, error) {
	entry, rec, err := m.resolve(hostName, commandID)
	if err != nil {
		return ExecuteResult{}, err
	}
	return m.dispatch(entry, rec, targetIDs)
}

func (m *Manager) dispatch(entry *hostEntry, rec *record, targetIDs []string) (ExecuteResult, error) {
	cmd := rec.command
	opts := cmd.Metadata().DisplayOptions

	if opts.Action == domain.ActionTerminal {
		// Spawning the actual terminal process is a Frontend Bridge concern;
		// the core only reports which action the caller should surface.
		return ExecuteResult{Action: opts.Action}, nil
	}

	invocationID := m.nextInvocationID()

	connSpec, hasConnector := cmd.ConnectorSpec()
	if !hasConnector {
		result, err := cmd.ProcessResponse(entry.host, nil)
		if err != nil {
			result = domain.EmptyAndCritical(invocationID)
		}
		result.InvocationID = invocationID
		m.emit(entry.host.Name, cmd, result)
		return ExecuteResult{Action: opts.Action}, nil
	}

	messages, err := cmd.ConnectorMessages(entry.host, targetIDs)
	if err != nil {
		result := domain.EmptyAndCritical(invocationID)
		m.emit(entry.host.Name, cmd, result)
		return ExecuteResult{Action: opts.Action}, nil
	}

	req := domain.ConnectorRequest{
		ConnectorSpec: connSpec,
		SourceID:      cmd.ModuleSpec().ID,
		Host:          entry.host,
		Messages:      messages,
		RequestType:   domain.Command,
		CachePolicy:   domain.BypassCache,
		Handler: func(results []domain.MessageResult) {
			m.handleResults(entry.host, cmd, invocationID, results)
		},
	}
	if err := m.connMgr.Submit(req); err != nil {
		result := domain.EmptyAndCritical(invocationID)
		m.emit(entry.host.Name, cmd, result)
	}

	return ExecuteResult{Action: opts.Action}, nil
}

func (m *Manager) handleResults(host domain.Host, cmd module.Command, invocationID int64, results []domain.MessageResult) {
	responses := make([]domain.ResponseMessage, 0, len(results))
	for _, r := range results {
		if r.Err != "" {
			m.emit(host.Name, cmd, domain.EmptyAndCritical(invocationID))
			return
		}
		responses = append(responses, r.Response)
	}

	result, err := cmd.ProcessResponse(host, responses)
	if err != nil {
		result = domain.EmptyAndCritical(invocationID)
	}
	result.InvocationID = invocationID
	m.emit(host.Name, cmd, result)
}

func (m *Manager) emit(hostName string, cmd module.Command, result domain.CommandResult) {
	m.sender.Send(domain.StateUpdateMessage{
		HostName:       hostName,
		DisplayOptions: cmd.Metadata().DisplayOptions,
		ModuleSpec:     cmd.ModuleSpec(),
		CommandResult:  &result,
	})
}
