// Package registry is the Module Registry / Factory: it instantiates
// Monitor, Command and Connector modules from a (id, version) specification
// plus a settings map, via a singleton factory map keyed by module id.
package registry

import (
	"fmt"
	"sync"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
)

// MonitorFactory builds a Monitor instance from validated settings.
type MonitorFactory func(spec domain.ModuleSpecification, settings map[string]string) (module.Monitor, error)

// CommandFactory builds a Command instance from validated settings.
type CommandFactory func(spec domain.ModuleSpecification, settings map[string]string) (module.Command, error)

// ConnectorFactory builds a Connector instance from validated settings.
type ConnectorFactory func(spec domain.ModuleSpecification, settings map[string]string) (module.Connector, error)

// Registry holds factories for every known module id. Version is carried
// through to each factory but is not itself part of the lookup key: a
// module's id is 1:1 with its implementation, and "latest" is simply the
// default version a caller omits (see DESIGN.md's module-versioning entry).
type Registry struct {
	mu         sync.RWMutex
	monitors   map[string]MonitorFactory
	commands   map[string]CommandFactory
	connectors map[string]ConnectorFactory
}

// New creates an empty registry; call RegisterMonitor/RegisterCommand/
// RegisterConnector (or Builtins in internal/modules) to populate it.
func New() *Registry {
	return &Registry{
		monitors:   make(map[string]MonitorFactory),
		commands:   make(map[string]CommandFactory),
		connectors: make(map[string]ConnectorFactory),
	}
}

func (r *Registry) RegisterMonitor(id string, factory MonitorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors[id] = factory
}

func (r *Registry) RegisterCommand(id string, factory CommandFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[id] = factory
}

func (r *Registry) RegisterConnector(id string, factory ConnectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[id] = factory
}

func withDefaultVersion(spec domain.ModuleSpecification) domain.ModuleSpecification {
	if spec.Version == "" {
		spec.Version = domain.LatestVersion
	}
	return spec
}

// NewMonitor instantiates a Monitor from its specification and settings.
func (r *Registry) NewMonitor(spec domain.ModuleSpecification, settings map[string]string) (module.Monitor, error) {
	spec = withDefaultVersion(spec)
	r.mu.RLock()
	factory, ok := r.monitors[spec.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, &module.UnknownModuleError{Kind: "monitor", Spec: spec}
	}
	m, err := factory(spec, settings)
	if err != nil {
		return nil, fmt.Errorf("construct monitor %s: %w", spec, err)
	}
	return m, nil
}

// NewCommand instantiates a Command from its specification and settings.
func (r *Registry) NewCommand(spec domain.ModuleSpecification, settings map[string]string) (module.Command, error) {
	spec = withDefaultVersion(spec)
	r.mu.RLock()
	factory, ok := r.commands[spec.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, &module.UnknownModuleError{Kind: "command", Spec: spec}
	}
	c, err := factory(spec, settings)
	if err != nil {
		return nil, fmt.Errorf("construct command %s: %w", spec, err)
	}
	return c, nil
}

// NewConnector instantiates a Connector from its specification and settings.
func (r *Registry) NewConnector(spec domain.ModuleSpecification, settings map[string]string) (module.Connector, error) {
	spec = withDefaultVersion(spec)
	r.mu.RLock()
	factory, ok := r.connectors[spec.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, &module.UnknownModuleError{Kind: "connector", Spec: spec}
	}
	c, err := factory(spec, settings)
	if err != nil {
		return nil, fmt.Errorf("construct connector %s: %w", spec, err)
	}
	return c, nil
}

// KnownMonitorIDs returns the registered monitor ids, for validating config
// at load time.
func (r *Registry) KnownMonitorIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.monitors))
	for id := range r.monitors {
		ids = append(ids, id)
	}
	return ids
}
