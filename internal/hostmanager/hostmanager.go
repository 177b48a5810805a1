// Package hostmanager implements the Host Manager: the single-owner store
// of authoritative per-host state, fed by a channel of StateUpdateMessages
// and read by everyone else only through copies.
package hostmanager

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nmslite/nmslite/internal/domain"
)

// HostState is the per-host authoritative record: the Host itself, the
// latest DataPoint per monitor id, the latest CommandResult per (command
// id, invocation id), and the derived display status.
type HostState struct {
	Host            domain.Host
	DataPoints      map[string]domain.DataPoint     // monitor id -> latest
	CommandResults  map[string]domain.CommandResult // "commandID#invocationID" -> result
	Down            bool
}

func newHostState(h domain.Host) *HostState {
	return &HostState{
		Host:           h,
		DataPoints:     make(map[string]domain.DataPoint),
		CommandResults: make(map[string]domain.CommandResult),
	}
}

// Snapshot is an immutable copy handed to readers outside the update loop:
// every other component reads host state only via a snapshot getter that
// returns a copy, never the live map.
type Snapshot struct {
	Host           domain.Host
	DataPoints     map[string]domain.DataPoint
	CommandResults map[string]domain.CommandResult
	Down           bool
}

func (s *HostState) snapshot() Snapshot {
	dp := make(map[string]domain.DataPoint, len(s.DataPoints))
	for k, v := range s.DataPoints {
		dp[k] = v
	}
	cr := make(map[string]domain.CommandResult, len(s.CommandResults))
	for k, v := range s.CommandResults {
		cr[k] = v
	}
	return Snapshot{Host: s.Host, DataPoints: dp, CommandResults: cr, Down: s.Down}
}

// DisplayListener is notified after every applied StateUpdateMessage; the
// Frontend Bridge installs one to push snapshots to connected clients.
type DisplayListener func(hostName string, snapshot Snapshot)

// HistoryListener is notified with the raw message that was just applied;
// the History Store installs one to persist every data point and command
// result. Unlike DisplayListener it sees the message itself rather than a
// snapshot, since it records deltas, not current state.
type HistoryListener func(domain.StateUpdateMessage)

// Manager is the Host Manager.
type Manager struct {
	logger          *slog.Logger
	updates         chan domain.StateUpdateMessage
	listener        DisplayListener
	historyListener HistoryListener

	mu    sync.RWMutex
	hosts map[string]*HostState
}

func New(logger *slog.Logger, bufferSize int) *Manager {
	return &Manager{
		logger:  logger.With("component", "host_manager"),
		updates: make(chan domain.StateUpdateMessage, bufferSize),
		hosts:   make(map[string]*HostState),
	}
}

// Seed registers a host's static record. Called once at configure time;
// never touched again outside the update loop.
func (m *Manager) Seed(h domain.Host) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[h.Name] = newHostState(h)
}

// SetDisplayListener installs the push callback used to forward snapshots
// to the Frontend Bridge. Must be called before Run.
func (m *Manager) SetDisplayListener(l DisplayListener) {
	m.listener = l
}

// SetHistoryListener installs the callback used to forward raw updates to
// the History Store. Must be called before Run.
func (m *Manager) SetHistoryListener(l HistoryListener) {
	m.historyListener = l
}

// Updates returns the channel Monitor Manager / Command Handler send
// StateUpdateMessages on.
func (m *Manager) Updates() chan<- domain.StateUpdateMessage {
	return m.updates
}

// Send delivers a StateUpdateMessage, treating a full channel as a logged
// soft error rather than blocking the sender.
func (m *Manager) Send(msg domain.StateUpdateMessage) {
	select {
	case m.updates <- msg:
	default:
		m.logger.Warn("state update channel full, dropping message", "host", msg.HostName)
	}
}

// Run is the Host Manager's single-owner update loop: it is the only
// goroutine that ever mutates HostState.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.updates:
			if !ok {
				return
			}
			if msg.Stop {
				return
			}
			m.apply(msg)
		}
	}
}

func (m *Manager) apply(msg domain.StateUpdateMessage) {
	m.mu.Lock()
	state, ok := m.hosts[msg.HostName]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("state update for unknown host", "host", msg.HostName)
		return
	}

	if msg.DataPoint != nil {
		state.DataPoints[msg.ModuleSpec.ID] = *msg.DataPoint
	}
	if msg.CommandResult != nil {
		key := msg.ModuleSpec.ID + "#" + strconv.FormatInt(msg.CommandResult.InvocationID, 10)
		state.CommandResults[key] = *msg.CommandResult
	}

	state.Down = anyCritical(state.DataPoints)
	snap := state.snapshot()
	m.mu.Unlock()

	if m.listener != nil {
		m.listener(msg.HostName, snap)
	}
	if m.historyListener != nil {
		m.historyListener(msg)
	}
}

func anyCritical(dataPoints map[string]domain.DataPoint) bool {
	for _, dp := range dataPoints {
		if dp.Criticality == domain.Critical {
			return true
		}
	}
	return false
}

// GetHost returns a read-only snapshot copy of a host's state.
func (m *Manager) GetHost(name string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.hosts[name]
	if !ok {
		return Snapshot{}, false
	}
	return state.snapshot(), true
}

// ListHosts returns snapshot copies of every known host.
func (m *Manager) ListHosts() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.hosts))
	for _, state := range m.hosts {
		out = append(out, state.snapshot())
	}
	return out
}
