package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrStopped is returned to command sources once the scheduler has exited.
var ErrStopped = errors.New("scheduler stopped")

// State is the lifecycle position of the polling loop.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateNotifying
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateNotifying:
		return "notifying"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Cycle describes one polling pass handed to the Handler.
type Cycle struct {
	ID      string
	Number  int
	Started time.Time

	notifying func()
}

// MarkNotifying moves the scheduler into StateNotifying for the rest of the cycle.
func (c Cycle) MarkNotifying() {
	if c.notifying != nil {
		c.notifying()
	}
}

// Handler does the work of a cycle and applies threshold changes.
type Handler interface {
	RunCycle(ctx context.Context, cycle Cycle) error
	SetThreshold(routeID string, threshold decimal.Decimal) error
}

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// MaxRuntime bounds the whole run; zero means unlimited.
	MaxRuntime     time.Duration
	RunImmediately bool
}

// Scheduler drives polling cycles and accepts commands between them.
type Scheduler struct {
	opts     Options
	logger   zerolog.Logger
	state    atomic.Int32
	commands chan Command
	done     chan struct{}
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:     opts,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		commands: make(chan Command),
		done:     make(chan struct{}),
	}
}

// State reports the current state; safe for concurrent use.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug().Stringer("from", prev).Stringer("to", st).Msg("state change")
	}
}

// Submit hands cmd to the running scheduler and waits for its result. Commands are
// only accepted while the scheduler is waiting between cycles.
func (s *Scheduler) Submit(ctx context.Context, cmd Command) error {
	reply := make(chan error, 1)
	cmd.reply = reply

	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks until a Stop command, the runtime budget, or ctx ends the loop.
// Cancellation of ctx is reported as ctx.Err(); the other stop conditions return nil.
func (s *Scheduler) Run(ctx context.Context, h Handler) error {
	defer close(s.done)
	defer s.setState(StateStopped)

	var deadline <-chan time.Time
	if s.opts.MaxRuntime > 0 {
		budget := time.NewTimer(s.opts.MaxRuntime)
		defer budget.Stop()
		deadline = budget.C
	}

	delay := s.opts.StartupDelay
	if !s.opts.RunImmediately {
		delay = time.Until(s.nextTick(time.Now().UTC().Add(delay)))
	}

	for n := 1; ; n++ {
		select {
		case <-deadline:
			s.logger.Info().Dur("max_runtime", s.opts.MaxRuntime).Msg("runtime budget exhausted")
			return nil
		default:
		}

		s.setState(StateWaiting)
		run, err := s.wait(ctx, h, delay, deadline)
		if err != nil || !run {
			return err
		}

		s.runCycle(ctx, h, n)
		delay = time.Until(s.nextTick(time.Now().UTC()))
	}
}

func (s *Scheduler) runCycle(ctx context.Context, h Handler, n int) {
	cycle := Cycle{
		ID:        uuid.NewString(),
		Number:    n,
		Started:   time.Now().UTC(),
		notifying: func() { s.setState(StateNotifying) },
	}
	s.setState(StatePolling)

	log := s.logger.With().Str("cycle_id", cycle.ID).Int("cycle", n).Logger()
	log.Info().Msg("executing polling cycle")

	if err := h.RunCycle(ctx, cycle); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(cycle.Started)).Msg("cycle finished with errors")
		return
	}
	log.Info().Dur("elapsed", time.Since(cycle.Started)).Msg("cycle finished")
}

// wait sleeps for d while serving commands. It reports whether a cycle should run.
func (s *Scheduler) wait(ctx context.Context, h Handler, d time.Duration, deadline <-chan time.Time) (bool, error) {
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	s.logger.Debug().Time("next_cycle", time.Now().UTC().Add(d)).Msg("waiting for next cycle")

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			s.logger.Info().Dur("max_runtime", s.opts.MaxRuntime).Msg("runtime budget exhausted")
			return false, nil
		case <-timer.C:
			return true, nil
		case cmd := <-s.commands:
			switch cmd.Kind {
			case CommandStop:
				s.logger.Info().Msg("stop requested")
				cmd.respond(nil)
				return false, nil
			case CommandRecheck:
				s.logger.Info().Msg("recheck requested")
				cmd.respond(nil)
				return true, nil
			case CommandSetThreshold:
				err := h.SetThreshold(cmd.RouteID, cmd.Threshold)
				if err != nil {
					s.logger.Warn().Err(err).Str("route", cmd.RouteID).Msg("threshold change rejected")
				} else {
					s.logger.Info().Str("route", cmd.RouteID).Str("threshold", cmd.Threshold.String()).Msg("threshold changed")
				}
				cmd.respond(err)
			default:
				cmd.respond(fmt.Errorf("unknown command %s", cmd.Kind))
			}
		}
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}
