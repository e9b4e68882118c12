// Package poller turns periodic device reads into a lazy sequence of plug states.
package poller

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
	errReaderRequired = "state reader is required"
	errBadInterval    = "poll interval must be positive, got %v"
	errBadRetries     = "device retries must not be negative, got %d"
)

// StateReader queries the device once.
type StateReader interface {
	ReadState(ctx context.Context) (domain.PlugState, error)
}

// Options configures a Poller.
type Options struct {
	// required parameters
	Reader   StateReader
	Interval time.Duration
	// Retries is how many extra attempts a failed read gets, one interval apart.
	Retries int
	// options to inject for testing purposes
	Clock  clock.Clock
	Logger log.Logger
}

// Poller reads the device on a fixed interval.
type Poller struct {
	reader   StateReader
	interval time.Duration
	retries  int
	clock    clock.Clock
	logger   log.Logger
}

// New validates opts and returns a Poller.
func New(opts Options) (*Poller, error) {
	if opts.Reader == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errReaderRequired)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("%w: "+errBadInterval, domain.ErrConfiguration, opts.Interval)
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("%w: "+errBadRetries, domain.ErrConfiguration, opts.Retries)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Poller{
		reader:   opts.Reader,
		interval: opts.Interval,
		retries:  opts.Retries,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}, nil
}

// Readings returns an infinite sequence of plug states. The first read happens
// as soon as iteration starts and each later one after the interval.
//
// The sequence ends silently once ctx is done. A read that still fails after
// the configured retries is yielded as (PlugUnknown, err), with err wrapping
// domain.ErrDeviceUnreachable, and ends the sequence.
//
// The returned sequence is single-use; ranging over it again yields nothing.
func (p *Poller) Readings(ctx context.Context) iter.Seq2[domain.PlugState, error] {
	var started atomic.Bool
	return func(yield func(domain.PlugState, error) bool) {
		if !started.CompareAndSwap(false, true) {
			return
		}
		for first := true; ; first = false {
			if ctx.Err() != nil {
				return
			}
			if !first {
				if err := p.clock.Sleep(ctx, p.interval); err != nil {
					return
				}
				if ctx.Err() != nil {
					return
				}
			}

			state, err := p.read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(domain.PlugUnknown, err)
				return
			}
			if !yield(state, nil) {
				return
			}
		}
	}
}

// read queries the device, retrying up to p.retries times.
func (p *Poller) read(ctx context.Context) (domain.PlugState, error) {
	for attempt := 0; ; attempt++ {
		state, err := p.reader.ReadState(ctx)
		if err == nil {
			if attempt > 0 {
				p.logger.Info(map[string]any{"attempts": attempt + 1}, "device reachable again")
			}
			return state, nil
		}
		if !errors.Is(err, domain.ErrDeviceUnreachable) {
			err = fmt.Errorf("%w: %w", domain.ErrDeviceUnreachable, err)
		}
		if attempt >= p.retries || ctx.Err() != nil {
			return domain.PlugUnknown, err
		}

		p.logger.Warn(map[string]any{
			"attempt": attempt + 1,
			"retries": p.retries,
			"error":   err,
		}, "device read failed, retrying")
		if serr := p.clock.Sleep(ctx, p.interval); serr != nil {
			return domain.PlugUnknown, err
		}
	}
}
