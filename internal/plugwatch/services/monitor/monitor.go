// Package monitor keeps the hosts file in step with the plug: it watches the
// stream of readings and rewrites the managed block on every state change.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/haukened/plugwatch/internal/plugwatch/common/clock"
	"github.com/haukened/plugwatch/internal/plugwatch/common/log"
	"github.com/haukened/plugwatch/internal/plugwatch/domain"
)

// Error message constants for consistent error handling
const (
	errSourceRequired  = "blocklist source is required"
	errHostsRequired   = "hosts applier is required"
	errStatesRequired  = "state source is required"
	errBlocklistFailed = "%w: load blocklist: %w"
)

// BlocklistSource supplies the hosts to block.
type BlocklistSource interface {
	Load() ([]string, error)
}

// HostsApplier writes or removes the managed block.
type HostsApplier interface {
	Apply(ctx context.Context, shouldBlock bool, blocklist []string) error
}

// StateSource produces plug readings until ctx is done or a read fails.
type StateSource interface {
	Readings(ctx context.Context) iter.Seq2[domain.PlugState, error]
}

// Phase is the lifecycle stage of a Monitor.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseSynced
	PhaseTerminating
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseSynced:
		return "synced"
	case PhaseTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Transition describes an observed change of plug state.
type Transition struct {
	From domain.PlugState
	To   domain.PlugState
	At   time.Time
}

// Initial reports whether this is the first reading of the run.
func (t Transition) Initial() bool { return t.From == domain.PlugUnknown }

// Options configures a Monitor.
type Options struct {
	// required parameters
	Blocklist BlocklistSource
	Hosts     HostsApplier
	States    StateSource
	// OnTransition, when set, is called for every observed state change.
	OnTransition func(Transition)
	// options to inject for testing purposes
	Clock  clock.Clock
	Logger log.Logger
}

// Monitor is the single control loop of the daemon.
type Monitor struct {
	blocklist    BlocklistSource
	hosts        HostsApplier
	states       StateSource
	onTransition func(Transition)
	clock        clock.Clock
	logger       log.Logger
	phase        atomic.Int32
}

// New validates opts and returns a Monitor in PhaseStarting.
func New(opts Options) (*Monitor, error) {
	if opts.Blocklist == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errSourceRequired)
	}
	if opts.Hosts == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errHostsRequired)
	}
	if opts.States == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errStatesRequired)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Monitor{
		blocklist:    opts.Blocklist,
		hosts:        opts.Hosts,
		states:       opts.States,
		onTransition: opts.OnTransition,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}, nil
}

// Phase returns the current lifecycle stage. Safe for concurrent use.
func (m *Monitor) Phase() Phase { return Phase(m.phase.Load()) }

func (m *Monitor) setPhase(p Phase) {
	if Phase(m.phase.Swap(int32(p))) != p {
		m.logger.Debug(map[string]any{"phase": p.String()}, "phase changed")
	}
}

// Run loads the blocklist, then applies the state of every reading that
// differs from the last successfully applied one.
//
// Run returns nil when ctx is cancelled. It returns an error on a fatal
// condition: a blocklist that cannot be loaded, a failed device read, or a
// non-transient hosts file error. A transient hosts file error is logged and
// the same target is attempted again on the next reading.
func (m *Monitor) Run(ctx context.Context) error {
	m.setPhase(PhaseStarting)
	defer m.setPhase(PhaseTerminating)

	list, err := m.blocklist.Load()
	if err != nil {
		if !errors.Is(err, domain.ErrConfiguration) {
			err = fmt.Errorf(errBlocklistFailed, domain.ErrConfiguration, err)
		}
		return err
	}
	m.logger.Info(map[string]any{"count": len(list), "hosts": list}, "hosts to block while the plug is on")

	lastObserved := domain.PlugUnknown
	lastApplied := domain.PlugUnknown

	for state, err := range m.states.Readings(ctx) {
		if err != nil {
			return err
		}
		if state != lastObserved {
			m.observe(lastObserved, state)
			lastObserved = state
		}
		if !state.IsTransition(lastApplied) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		if err := m.hosts.Apply(ctx, state.ShouldBlock(), list); err != nil {
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				break
			}
			if domain.IsTransient(err) {
				m.logger.Warn(map[string]any{
					"state": state.String(),
					"error": err,
				}, "could not update hosts file, will retry on next reading")
				continue
			}
			return err
		}
		lastApplied = state
		m.setPhase(PhaseSynced)
	}

	m.logger.Info(map[string]any{"state": lastApplied.String()}, "monitor stopped")
	return nil
}

// observe logs a state change and notifies the transition hook.
func (m *Monitor) observe(from, to domain.PlugState) {
	t := Transition{From: from, To: to, At: m.clock.Now()}
	if t.Initial() {
		m.logger.Info(map[string]any{"state": to.String()}, "Initial state: "+to.String())
	} else {
		m.logger.Info(map[string]any{"from": from.String(), "state": to.String()}, "Device is now "+to.String())
	}
	if m.onTransition != nil {
		m.onTransition(t)
	}
}
