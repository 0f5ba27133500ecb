package trading

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/config"
)

// ManagerState is the position manager loop state.
type ManagerState string

const (
	ManagerStopped ManagerState = "STOPPED"
	ManagerActive  ManagerState = "ACTIVE"
	ManagerHalted  ManagerState = "HALTED"
)

// Manager periodically evaluates management rules against the current book
// and executes the commands they produce. Too many consecutive failed ticks
// halt the loop; a halted manager stays up but stops acting until Resume.
type Manager struct {
	cfg   config.ManagerConfig
	lc    *Lifecycle
	gw    *broker.Gateway
	rules []ManagementRule
	log   zerolog.Logger

	mu       sync.Mutex
	state    ManagerState
	failures int
	marks    map[string]float64

	now func() time.Time
}

// NewManager creates a manager with the given rule set.
func NewManager(cfg config.ManagerConfig, lc *Lifecycle, gw *broker.Gateway, rules []ManagementRule, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:   cfg,
		lc:    lc,
		gw:    gw,
		rules: rules,
		log:   log.With().Str("component", "manager").Logger(),
		state: ManagerStopped,
		marks: make(map[string]float64),
	}
}

// State returns the current loop state.
func (m *Manager) State() ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetMark feeds the latest trade price for a symbol into rule evaluation.
func (m *Manager) SetMark(symbol string, price float64) {
	m.mu.Lock()
	m.marks[symbol] = price
	m.mu.Unlock()
}

// Resume clears a halt and re-arms the failure counter.
func (m *Manager) Resume() {
	m.mu.Lock()
	if m.state == ManagerHalted {
		m.state = ManagerActive
		m.failures = 0
	}
	m.mu.Unlock()
}

// Run ticks until the context is cancelled. Stop takes effect at the next
// tick boundary.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	if m.state == ManagerStopped {
		m.state = ManagerActive
	}
	m.mu.Unlock()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.state = ManagerStopped
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one evaluation pass. Halted managers do nothing.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	if m.state != ManagerActive {
		m.mu.Unlock()
		return
	}
	marks := make(map[string]float64, len(m.marks))
	for k, v := range m.marks {
		marks[k] = v
	}
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	m.mu.Unlock()

	snap, err := m.snapshot(ctx, marks, now())
	if err != nil {
		m.recordFailure(err)
		return
	}

	var failed bool
	for _, g := range snap.Groups {
		if !g.Active() {
			continue
		}
		for _, rule := range m.rules {
			cmd := rule.Evaluate(&g, snap)
			if cmd == nil {
				continue
			}
			m.log.Info().
				Str("rule", rule.Name()).
				Str("group_id", g.GroupID).
				Str("symbol", g.Symbol).
				Str("command", string(cmd.Kind)).
				Str("reason", cmd.Reason).
				Msg("rule fired")
			if err := m.lc.Execute(ctx, cmd); err != nil {
				m.log.Error().Err(err).Str("rule", rule.Name()).Msg("command failed")
				failed = true
			}
		}
	}

	if failed {
		m.recordFailure(nil)
	} else {
		m.mu.Lock()
		m.failures = 0
		m.mu.Unlock()
	}
}

func (m *Manager) snapshot(ctx context.Context, marks map[string]float64, at time.Time) (*Snapshot, error) {
	positions, err := m.gw.Positions(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		At:        at,
		Groups:    m.lc.Groups(),
		Positions: positions,
		Marks:     marks,
	}, nil
}

func (m *Manager) recordFailure(err error) {
	m.mu.Lock()
	m.failures++
	halt := m.cfg.MaxConsecutiveFailures > 0 && m.failures >= m.cfg.MaxConsecutiveFailures
	if halt {
		m.state = ManagerHalted
	}
	failures := m.failures
	m.mu.Unlock()

	ev := m.log.Warn()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Int("consecutive_failures", failures).Msg("tick failed")
	if halt {
		m.log.Error().Int("consecutive_failures", failures).Msg("manager halted; requires resume")
	}
}
