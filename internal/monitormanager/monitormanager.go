// Package monitormanager implements the Monitor Manager: the two-level
// scheduler that chains base monitors to their extensions, assigns
// invocation ids, and applies per-request cache policy.
package monitormanager

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmslite/nmslite/internal/connection"
	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/registry"
)

// UpdateSender is the narrow interface the Monitor Manager needs from the
// Host Manager: a non-blocking, soft-failing send.
type UpdateSender interface {
	Send(domain.StateUpdateMessage)
}

// CacheSettings mirrors the main config's cache_settings block, used to
// resolve a request's CachePolicy when the caller does not supply one
// explicitly.
type CacheSettings struct {
	EnableCache         bool
	PreferCache         bool
	ProvideInitialValue bool
}

func (c CacheSettings) resolve() domain.CachePolicy {
	if c.EnableCache && c.PreferCache {
		return domain.PreferCache
	}
	return domain.BypassCache
}

// record is a configured monitor instance plus the scheduling metadata the
// manager needs but the module itself does not carry.
type record struct {
	monitor    module.Monitor
	category   string
	isCritical bool
}

func (r *record) spec() domain.ModuleSpecification { return r.monitor.ModuleSpec() }
func (r *record) isBase() bool                      { return r.monitor.Metadata().ParentModule == nil }

// MonitorConfig is what Configure needs for one monitor on one host.
type MonitorConfig struct {
	Spec       domain.ModuleSpecification
	Category   string
	IsCritical bool
	Settings   map[string]string
}

// HostConfig is what Configure needs for one host.
type HostConfig struct {
	Host     domain.Host
	Monitors []MonitorConfig
}

type hostEntry struct {
	host     domain.Host
	monitors map[string]*record // monitor id -> record
}

// Manager is the Monitor Manager.
type Manager struct {
	registry *registry.Registry
	connMgr  *connection.Manager
	sender   UpdateSender
	cache    CacheSettings
	logger   *slog.Logger

	mu                sync.RWMutex
	hosts             map[string]*hostEntry
	invocationCounter int64
}

func New(reg *registry.Registry, connMgr *connection.Manager, sender UpdateSender, cache CacheSettings, logger *slog.Logger) *Manager {
	return &Manager{
		registry: reg,
		connMgr:  connMgr,
		sender:   sender,
		cache:    cache,
		logger:   logger.With("component", "monitor_manager"),
		hosts:    make(map[string]*hostEntry),
	}
}

// Configure instantiates every configured monitor for every host and seeds
// each non-base (extension) monitor with an initial NoData state update.
func (m *Manager) Configure(hosts []HostConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hc := range hosts {
		entry := &hostEntry{host: hc.Host, monitors: make(map[string]*record, len(hc.Monitors))}
		for _, mc := range hc.Monitors {
			mon, err := m.registry.NewMonitor(mc.Spec, mc.Settings)
			if err != nil {
				return fmt.Errorf("configure host %s: %w", hc.Host.Name, err)
			}
			entry.monitors[mon.ModuleSpec().ID] = &record{monitor: mon, category: mc.Category, isCritical: mc.IsCritical}
		}
		m.hosts[hc.Host.Name] = entry

		for _, rec := range entry.monitors {
			if rec.isBase() {
				continue
			}
			m.sender.Send(domain.StateUpdateMessage{
				HostName:   hc.Host.Name,
				ModuleSpec: rec.spec(),
				DataPoint:  ptr(domain.EmptyDataPoint()),
			})
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// Descriptor is the catalog entry the Frontend Bridge lists per host: a
// monitor's identity, category and display metadata, without exposing the
// module instance itself.
type Descriptor struct {
	Spec           domain.ModuleSpecification
	Category       string
	IsCritical     bool
	IsBase         bool
	DisplayOptions domain.DisplayOptions
}

// ListMonitors returns a catalog entry for every monitor configured on
// hostName.
func (m *Manager) ListMonitors(hostName string) ([]Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.hosts[hostName]
	if !ok {
		return nil, fmt.Errorf("host %s not configured", hostName)
	}

	out := make([]Descriptor, 0, len(entry.monitors))
	for _, rec := range entry.monitors {
		out = append(out, Descriptor{
			Spec:           rec.spec(),
			Category:       rec.category,
			IsCritical:     rec.isCritical,
			IsBase:         rec.isBase(),
			DisplayOptions: rec.monitor.Metadata().DisplayOptions,
		})
	}
	return out, nil
}

// nextInvocationID advances the counter by 1 and returns the new value.
// Across N concurrent dispatches the returned ids form a contiguous
// ascending block, since the counter only ever moves forward under
// atomic.AddInt64.
func (m *Manager) nextInvocationID() int64 {
	return atomic.AddInt64(&m.invocationCounter, 1)
}

// buildChains partitions a selected set of monitors into dispatch chains:
// one chain per selected base (the base followed by every other monitor on
// the host whose parent module is that base), plus one singleton chain per
// selected extension whose base was not itself selected. An extension
// selected alongside its own base is folded into that base's chain and not
// dispatched twice.
func buildChains(entry *hostEntry, selected []*record) [][]*record {
	selectedSet := make(map[string]bool, len(selected))
	for _, r := range selected {
		selectedSet[r.spec().ID] = true
	}

	var chains [][]*record
	for _, rec := range selected {
		if !rec.isBase() {
			parentSpec := rec.monitor.Metadata().ParentModule
			if parentSpec != nil && selectedSet[parentSpec.ID] {
				continue // folded into its base's chain below
			}
			chains = append(chains, []*record{rec})
			continue
		}

		chain := []*record{rec}
		for _, other := range entry.monitors {
			if other == rec {
				continue
			}
			parentSpec := other.monitor.Metadata().ParentModule
			if parentSpec != nil && parentSpec.Equal(rec.spec()) {
				chain = append(chain, other)
			}
		}
		chains = append(chains, chain)
	}
	return chains
}

// RefreshPlatformInfo dispatches the bootstrap platform-info probe for one
// host. It does not consume an invocation id: the resulting DataPoint
// carries invocation id 0 throughout, since it is infrastructure the other
// monitors depend on rather than a user-visible polling cycle.
func (m *Manager) RefreshPlatformInfo(hostName string, policy *domain.CachePolicy) error {
	m.mu.RLock()
	entry, ok := m.hosts[hostName]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("host %s not configured", hostName)
	}

	m.mu.RLock()
	rec, ok := entry.monitors["platform-info"]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("platform-info not configured for host %s", hostName)
	}

	effective := m.cache.resolve()
	if m.cache.ProvideInitialValue {
		effective = domain.PreferCache
	}
	if policy != nil {
		effective = *policy
	}

	m.dispatchChain(entry.host, []*record{rec}, nil, 0, effective)
	return nil
}

// RefreshMonitorsOfCategory refreshes every monitor on hostName tagged with
// category, each base consuming its own invocation id.
func (m *Manager) RefreshMonitorsOfCategory(hostName, category string) ([]int64, error) {
	return m.refreshCategory(hostName, category, nil)
}

// RefreshMonitorsOfCategoryControl is RefreshMonitorsOfCategory with an
// explicit cache policy override.
func (m *Manager) RefreshMonitorsOfCategoryControl(hostName, category string, policy domain.CachePolicy) ([]int64, error) {
	return m.refreshCategory(hostName, category, &policy)
}

func (m *Manager) refreshCategory(hostName, category string, policy *domain.CachePolicy) ([]int64, error) {
	m.mu.RLock()
	entry, ok := m.hosts[hostName]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("host %s not configured", hostName)
	}
	var selected []*record
	for _, rec := range entry.monitors {
		if rec.category == category {
			selected = append(selected, rec)
		}
	}
	m.mu.RUnlock()

	return m.dispatchSelected(entry, selected, policy), nil
}

// RefreshMonitorsByID refreshes a single monitor by id (and, if it is a
// base, every registered extension of that base on the same host).
func (m *Manager) RefreshMonitorsByID(hostName, monitorID string) (int64, error) {
	m.mu.RLock()
	entry, ok := m.hosts[hostName]
	if !ok {
		m.mu.RUnlock()
		return 0, fmt.Errorf("host %s not configured", hostName)
	}
	rec, ok := entry.monitors[monitorID]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("monitor %s not configured for host %s", monitorID, hostName)
	}

	ids := m.dispatchSelected(entry, []*record{rec}, nil)
	if len(ids) == 0 {
		return 0, fmt.Errorf("monitor %s produced no dispatch", monitorID)
	}
	return ids[0], nil
}

func (m *Manager) dispatchSelected(entry *hostEntry, selected []*record, policy *domain.CachePolicy) []int64 {
	effective := m.cache.resolve()
	if policy != nil {
		effective = *policy
	}

	m.mu.RLock()
	chains := buildChains(entry, selected)
	m.mu.RUnlock()

	ids := make([]int64, 0, len(chains))
	for _, chain := range chains {
		id := m.nextInvocationID()
		ids = append(ids, id)
		m.dispatchChain(entry.host, chain, nil, id, effective)
	}
	return ids
}

// chainState is the continuation carried between one chain link's dispatch
// and its response handler.
type chainState struct {
	host         domain.Host
	chain        []*record
	index        int
	invocationID int64
	cachePolicy  domain.CachePolicy
	parent       *domain.DataPoint
	errors       []domain.ErrorMessage
}

// dispatchChain starts (or restarts, for a fresh invocation) a chain walk
// at index 0.
func (m *Manager) dispatchChain(host domain.Host, chain []*record, parent *domain.DataPoint, invocationID int64, policy domain.CachePolicy) {
	state := &chainState{host: host, chain: chain, invocationID: invocationID, cachePolicy: policy, parent: parent}
	m.dispatchStep(state)
}

func (m *Manager) dispatchStep(state *chainState) {
	rec := state.chain[state.index]
	mon := rec.monitor

	connSpec, hasConnector := mon.ConnectorSpec()
	if !hasConnector {
		dp, err := mon.ProcessResponse(state.host, domain.ResponseMessage{}, state.parent)
		m.afterProcess(state, rec, dp, err)
		return
	}

	messages, err := mon.ConnectorMessages(state.host, state.parent)
	if err != nil {
		m.fail(state, rec, err)
		return
	}
	if len(messages) == 0 {
		dp, err := mon.ProcessResponse(state.host, domain.ResponseMessage{}, state.parent)
		m.afterProcess(state, rec, dp, err)
		return
	}

	req := domain.ConnectorRequest{
		ConnectorSpec: connSpec,
		SourceID:      mon.ModuleSpec().ID,
		Host:          state.host,
		Messages:      messages,
		RequestType:   domain.Command,
		CachePolicy:   state.cachePolicy,
		Handler: func(results []domain.MessageResult) {
			m.handleResults(state, rec, results)
		},
	}
	if err := m.connMgr.Submit(req); err != nil {
		m.fail(state, rec, err)
	}
}

// handleResults implements the response-handling algorithm: partition
// responses from errors, silently abort on an OnlyCache miss, resolve via
// ProcessResponses falling back to per-response ProcessResponse when the
// monitor has no collective opinion, then continue the chain or emit the
// final state update.
func (m *Manager) handleResults(state *chainState, rec *record, results []domain.MessageResult) {
	mon := rec.monitor

	responses := make([]domain.ResponseMessage, 0, len(results))
	for _, r := range results {
		if r.Response.NotFound {
			// OnlyCache miss: abort silently, no state update, no error.
			return
		}
		if r.Err != "" {
			state.errors = append(state.errors, domain.ErrorMessage{Criticality: domain.Error, Message: r.Err})
			continue
		}
		responses = append(responses, r.Response)
	}

	dp, err := mon.ProcessResponses(state.host, responses, state.parent)
	if module.IsFallback(err) {
		if len(responses) == 0 {
			m.fail(state, rec, fmt.Errorf("%s: no responses to process", mon.ModuleSpec().ID))
			return
		}
		dp, err = mon.ProcessResponse(state.host, responses[0], state.parent)
	}
	m.afterProcess(state, rec, dp, err)
}

func (m *Manager) afterProcess(state *chainState, rec *record, dp domain.DataPoint, err error) {
	if err != nil {
		m.fail(state, rec, err)
		return
	}

	dp.InvocationID = state.invocationID
	dp.Timestamp = time.Now()

	if state.index+1 < len(state.chain) {
		state.index++
		state.parent = &dp
		m.dispatchStep(state)
		return
	}

	m.emit(state, rec, dp)
}

func (m *Manager) fail(state *chainState, rec *record, err error) {
	state.errors = append(state.errors, domain.ErrorMessage{Criticality: domain.Error, Message: err.Error()})

	dp := domain.EmptyDataPoint()
	if state.parent != nil {
		dp = *state.parent
	}
	dp.InvocationID = state.invocationID
	m.emit(state, rec, dp)
}

func (m *Manager) emit(state *chainState, rec *record, dp domain.DataPoint) {
	m.sender.Send(domain.StateUpdateMessage{
		HostName:       state.host.Name,
		DisplayOptions: rec.monitor.Metadata().DisplayOptions,
		ModuleSpec:     rec.spec(),
		DataPoint:      &dp,
		Errors:         state.errors,
	})
}
