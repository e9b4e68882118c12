package monitor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/plugwatch/internal/plugwatch/common/clock"
	"github.com/haukened/plugwatch/internal/plugwatch/domain"
)

var (
	on  = domain.PlugOn
	off = domain.PlugOff
)

type MockBlocklist struct {
	mock.Mock
}

func (m *MockBlocklist) Load() ([]string, error) {
	args := m.Called()
	list, _ := args.Get(0).([]string)
	return list, args.Error(1)
}

type MockHosts struct {
	mock.Mock
}

func (m *MockHosts) Apply(ctx context.Context, shouldBlock bool, blocklist []string) error {
	args := m.Called(ctx, shouldBlock, blocklist)
	return args.Error(0)
}

// scriptedStates yields a fixed list of readings, then ends as if cancelled.
// A non-nil err is yielded after the readings.
type scriptedStates struct {
	readings []domain.PlugState
	err      error
	pulled   int
	// hook runs before reading i is yielded
	hook func(i int)
}

func (s *scriptedStates) Readings(ctx context.Context) iter.Seq2[domain.PlugState, error] {
	return func(yield func(domain.PlugState, error) bool) {
		for i, r := range s.readings {
			if ctx.Err() != nil {
				return
			}
			if s.hook != nil {
				s.hook(i)
			}
			s.pulled++
			if !yield(r, nil) {
				return
			}
		}
		if s.err != nil {
			s.pulled++
			yield(domain.PlugUnknown, s.err)
		}
	}
}

var testList = []string{"twitter.com", "x.com"}

func newTestMonitor(t *testing.T, hosts *MockHosts, states StateSource) *Monitor {
	t.Helper()
	bl := &MockBlocklist{}
	bl.On("Load").Return(testList, nil)
	m, err := New(Options{
		Blocklist: bl,
		Hosts:     hosts,
		States:    states,
		Clock:     &clock.MockClock{CurrentTime: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	return m
}

func TestNew(t *testing.T) {
	bl, h, s := &MockBlocklist{}, &MockHosts{}, &scriptedStates{}
	tests := []struct {
		name string
		opts Options
	}{
		{"no blocklist", Options{Hosts: h, States: s}},
		{"no hosts", Options{Blocklist: bl, States: s}},
		{"no states", Options{Blocklist: bl, Hosts: h}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}

	m, err := New(Options{Blocklist: bl, Hosts: h, States: s})
	require.NoError(t, err)
	assert.Equal(t, PhaseStarting, m.Phase())
	assert.IsType(t, clock.RealClock{}, m.clock)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "starting", PhaseStarting.String())
	assert.Equal(t, "synced", PhaseSynced.String())
	assert.Equal(t, "terminating", PhaseTerminating.String())
	assert.Equal(t, "Phase(9)", Phase(9).String())
}

func TestRun_AppliesOnlyOnEdges(t *testing.T) {
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, mock.Anything, testList).Return(nil)
	states := &scriptedStates{readings: []domain.PlugState{on, on, on, off, off, on}}
	m := newTestMonitor(t, hosts, states)

	require.NoError(t, m.Run(context.Background()))

	hosts.AssertNumberOfCalls(t, "Apply", 3)
	var got []bool
	for _, c := range hosts.Calls {
		got = append(got, c.Arguments.Bool(1))
	}
	assert.Equal(t, []bool{true, false, true}, got)
	assert.Equal(t, PhaseTerminating, m.Phase())
}

func TestRun_InitialReadingAlwaysApplies(t *testing.T) {
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, false, testList).Return(nil).Once()
	m := newTestMonitor(t, hosts, &scriptedStates{readings: []domain.PlugState{off, off}})

	require.NoError(t, m.Run(context.Background()))
	hosts.AssertExpectations(t)
}

func TestRun_ReachesSynced(t *testing.T) {
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, true, testList).Return(nil)
	var m *Monitor
	var phases []Phase
	states := &scriptedStates{
		readings: []domain.PlugState{on, on},
		hook:     func(int) { phases = append(phases, m.Phase()) },
	}
	m = newTestMonitor(t, hosts, states)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, []Phase{PhaseStarting, PhaseSynced}, phases)
}

func TestRun_PermissionErrorIsFatal(t *testing.T) {
	permErr := fmt.Errorf("%w: replace /etc/hosts: %w", domain.ErrHostsPermission, errors.New("permission denied"))
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, true, testList).Return(permErr).Once()
	states := &scriptedStates{readings: []domain.PlugState{on, off, on}}
	m := newTestMonitor(t, hosts, states)

	err := m.Run(context.Background())

	assert.ErrorIs(t, err, domain.ErrHostsPermission)
	assert.Equal(t, 1, states.pulled, "no readings may be taken after a fatal error")
	hosts.AssertNumberOfCalls(t, "Apply", 1)
	assert.Equal(t, PhaseTerminating, m.Phase())
}

func TestRun_NotFoundIsFatal(t *testing.T) {
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, false, testList).Return(domain.ErrHostsNotFound)
	m := newTestMonitor(t, hosts, &scriptedStates{readings: []domain.PlugState{off, on}})

	assert.ErrorIs(t, m.Run(context.Background()), domain.ErrHostsNotFound)
	hosts.AssertNumberOfCalls(t, "Apply", 1)
}

func TestRun_TransientErrorRetriesSameTarget(t *testing.T) {
	ioErr := fmt.Errorf("%w: disk full", domain.ErrHostsIO)
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, true, testList).Return(ioErr).Once()
	hosts.On("Apply", mock.Anything, true, testList).Return(nil).Once()
	hosts.On("Apply", mock.Anything, false, testList).Return(nil).Once()
	states := &scriptedStates{readings: []domain.PlugState{on, on, on, off}}
	m := newTestMonitor(t, hosts, states)

	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, 4, states.pulled)
	hosts.AssertExpectations(t)
	hosts.AssertNumberOfCalls(t, "Apply", 3)
}

func TestRun_TransientErrorThenStateFlipsBack(t *testing.T) {
	// ON applied, OFF fails, then ON again: nothing to do because ON is still applied.
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, true, testList).Return(nil).Once()
	hosts.On("Apply", mock.Anything, false, testList).Return(domain.ErrHostsIO).Once()
	m := newTestMonitor(t, hosts, &scriptedStates{readings: []domain.PlugState{on, off, on}})

	require.NoError(t, m.Run(context.Background()))
	hosts.AssertExpectations(t)
	hosts.AssertNumberOfCalls(t, "Apply", 2)
}

func TestRun_DeviceErrorIsFatal(t *testing.T) {
	devErr := fmt.Errorf("%w: connect 10.0.0.2:9999: refused", domain.ErrDeviceUnreachable)
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, true, testList).Return(nil)
	m := newTestMonitor(t, hosts, &scriptedStates{readings: []domain.PlugState{on}, err: devErr})

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceUnreachable)
	hosts.AssertNumberOfCalls(t, "Apply", 1)
}

func TestRun_BlocklistErrorIsConfiguration(t *testing.T) {
	bl := &MockBlocklist{}
	bl.On("Load").Return(nil, errors.New("no such file"))
	hosts := &MockHosts{}
	states := &scriptedStates{readings: []domain.PlugState{on}}
	m, err := New(Options{Blocklist: bl, Hosts: hosts, States: states})
	require.NoError(t, err)

	err = m.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Zero(t, states.pulled)
	hosts.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_CancellationReturnsNil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, true, testList).Return(nil).Once()
	states := &scriptedStates{
		readings: []domain.PlugState{on, off, on},
		hook: func(i int) {
			if i == 1 {
				cancel()
			}
		},
	}
	m := newTestMonitor(t, hosts, states)

	assert.NoError(t, m.Run(ctx))
	hosts.AssertNumberOfCalls(t, "Apply", 1)
}

func TestRun_ApplyInterruptedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, true, testList).
		Run(func(mock.Arguments) { cancel() }).
		Return(context.Canceled)
	m := newTestMonitor(t, hosts, &scriptedStates{readings: []domain.PlugState{on, off}})

	assert.NoError(t, m.Run(ctx))
	hosts.AssertNumberOfCalls(t, "Apply", 1)
}

func TestRun_ReportsTransitions(t *testing.T) {
	hosts := &MockHosts{}
	hosts.On("Apply", mock.Anything, mock.Anything, testList).Return(nil)
	var got []Transition
	bl := &MockBlocklist{}
	bl.On("Load").Return(testList, nil)
	now := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := New(Options{
		Blocklist:    bl,
		Hosts:        hosts,
		States:       &scriptedStates{readings: []domain.PlugState{off, off, on}},
		OnTransition: func(t Transition) { got = append(got, t) },
		Clock:        &clock.MockClock{CurrentTime: now},
	})
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background()))

	require.Len(t, got, 2)
	assert.True(t, got[0].Initial())
	assert.Equal(t, Transition{From: domain.PlugUnknown, To: off, At: now}, got[0])
	assert.Equal(t, Transition{From: off, To: on, At: now}, got[1])
	assert.False(t, got[1].Initial())
}
