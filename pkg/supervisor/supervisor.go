package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kappal-app/agentstack/pkg/logging"
	"github.com/kappal-app/agentstack/pkg/stack"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultGracePeriod = 10 * time.Second
	// killTimeout bounds the force-kill of a straggler and the wait for it to
	// go away.
	killTimeout = 10 * time.Second
)

// Process is one launched service.
type Process interface {
	Name() string
	// Terminate sends the graceful termination signal.
	Terminate(ctx context.Context) error
	Kill(ctx context.Context) error
	// Exited is closed once the process is gone.
	Exited() <-chan struct{}
	// ExitStatus is only meaningful after Exited is closed.
	ExitStatus() int
}

// Runtime turns a resolved descriptor into a running process.
type Runtime interface {
	Launch(ctx context.Context, svc stack.ServiceDescriptor) (Process, error)
}

// Status is a point-in-time view of one service.
type Status struct {
	Name       string `json:"name" yaml:"name"`
	State      State  `json:"state" yaml:"state"`
	ExitStatus int    `json:"exit_status" yaml:"exit_status"`
}

type member struct {
	svc   stack.ServiceDescriptor
	proc  Process
	state State
	exit  int
}

// Unit supervises a fixed set of services as one lifecycle.
type Unit struct {
	rt      Runtime
	grace   time.Duration
	members []*member

	mu      sync.Mutex
	started bool
	crashes []error
	changed chan struct{}
}

// Option configures a Unit.
type Option func(*Unit)

// WithGracePeriod sets how long Stop waits after the termination signal
// before force-killing.
func WithGracePeriod(d time.Duration) Option {
	return func(u *Unit) {
		if d > 0 {
			u.grace = d
		}
	}
}

// NewUnit prepares the services for launch in the given order.
func NewUnit(rt Runtime, services []stack.ServiceDescriptor, opts ...Option) *Unit {
	u := &Unit{
		rt:      rt,
		grace:   DefaultGracePeriod,
		changed: make(chan struct{}, 1),
	}
	for _, svc := range services {
		u.members = append(u.members, &member{svc: svc, state: StatePending})
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Start launches every service in order. If one fails to launch, the peers
// already running are stopped and the launch error is returned. There is no
// retry.
func (u *Unit) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.started {
		u.mu.Unlock()
		return errors.New("unit already started")
	}
	u.started = true
	u.mu.Unlock()

	for _, m := range u.members {
		if err := u.setState(m, StatePending, StateStarting); err != nil {
			return err
		}
		logging.Info("supervisor", "Starting %s", m.svc.Name)

		proc, err := u.rt.Launch(ctx, m.svc)
		if err != nil {
			_ = u.setState(m, StateStarting, StateCrashed)
			launchErr := &LaunchError{Service: m.svc.Name, Err: err}
			logging.Error("supervisor", launchErr, "Launch failed, stopping started services")

			stopErr := u.Stop(context.WithoutCancel(ctx))
			return errors.Join(launchErr, stopErr)
		}

		u.mu.Lock()
		m.proc = proc
		err = transition(m.svc.Name, &m.state, StateStarting, StateRunning)
		u.mu.Unlock()
		if err != nil {
			return err
		}
		u.notify()
		go u.watch(m)
	}
	return nil
}

// Wait blocks until every service has reached a terminal state or ctx is
// cancelled. It returns the crashes observed so far, nil if there were none.
// A crash is never propagated to the peer.
func (u *Unit) Wait(ctx context.Context) error {
	for {
		if u.allTerminal() {
			return u.crashErr()
		}
		select {
		case <-ctx.Done():
			return u.crashErr()
		case <-u.changed:
		}
	}
}

// Stop gracefully terminates every live service in parallel, force-killing
// those still running after the grace period. Services that never launched
// are marked stopped.
func (u *Unit) Stop(ctx context.Context) error {
	var live []*member
	u.mu.Lock()
	for _, m := range u.members {
		switch m.state {
		case StatePending:
			_ = transition(m.svc.Name, &m.state, StatePending, StateStopped)
		case StateRunning:
			_ = transition(m.svc.Name, &m.state, StateRunning, StateStopping)
			live = append(live, m)
		}
	}
	u.mu.Unlock()
	u.notify()

	procs := make([]Process, 0, len(live))
	for _, m := range live {
		procs = append(procs, m.proc)
	}
	err := Terminate(ctx, procs, u.grace)

	for _, m := range live {
		select {
		case <-m.proc.Exited():
			u.markExited(m)
		default:
		}
	}
	return err
}

// Status returns the services' states in launch order.
func (u *Unit) Status() []Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Status, 0, len(u.members))
	for _, m := range u.members {
		out = append(out, Status{Name: m.svc.Name, State: m.state, ExitStatus: m.exit})
	}
	return out
}

func (u *Unit) watch(m *member) {
	<-m.proc.Exited()
	u.markExited(m)
}

// markExited records the exit of m. An exit while running is a crash; an
// exit while stopping completes the stop.
func (u *Unit) markExited(m *member) {
	u.mu.Lock()
	var crash *CrashError
	switch m.state {
	case StateRunning:
		m.exit = m.proc.ExitStatus()
		_ = transition(m.svc.Name, &m.state, StateRunning, StateCrashed)
		crash = &CrashError{Service: m.svc.Name, ExitStatus: m.exit}
		u.crashes = append(u.crashes, crash)
	case StateStopping:
		m.exit = m.proc.ExitStatus()
		_ = transition(m.svc.Name, &m.state, StateStopping, StateStopped)
	}
	u.mu.Unlock()

	if crash != nil {
		logging.Error("supervisor", crash, "Service %s is no longer running; peers keep running", m.svc.Name)
	} else {
		logging.Debug("supervisor", "%s exited with status %d", m.svc.Name, m.exit)
	}
	u.notify()
}

func (u *Unit) setState(m *member, from, to State) error {
	u.mu.Lock()
	err := transition(m.svc.Name, &m.state, from, to)
	u.mu.Unlock()
	u.notify()
	return err
}

func (u *Unit) notify() {
	select {
	case u.changed <- struct{}{}:
	default:
	}
}

func (u *Unit) allTerminal() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, m := range u.members {
		if !IsTerminal(m.state) {
			return false
		}
	}
	return true
}

func (u *Unit) crashErr() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return errors.Join(u.crashes...)
}

// Terminate stops procs in parallel: each gets the graceful signal and up to
// grace to exit before it is killed. It waits for all of them.
func Terminate(ctx context.Context, procs []Process, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	errs := make([]error, len(procs))
	var g errgroup.Group
	for i, p := range procs {
		g.Go(func() error {
			errs[i] = stopOne(ctx, p, grace)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func stopOne(ctx context.Context, p Process, grace time.Duration) error {
	select {
	case <-p.Exited():
		return nil
	default:
	}

	logging.Info("supervisor", "Stopping %s", p.Name())
	if err := p.Terminate(ctx); err != nil {
		logging.Warn("supervisor", "Failed to signal %s: %v", p.Name(), err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.Exited():
		return nil
	case <-timer.C:
		logging.Warn("supervisor", "%s did not exit within %s, killing", p.Name(), grace)
	case <-ctx.Done():
		logging.Warn("supervisor", "Stop of %s interrupted, killing", p.Name())
	}

	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), killTimeout)
	defer cancel()
	if err := p.Kill(killCtx); err != nil {
		return fmt.Errorf("failed to kill %s: %w", p.Name(), err)
	}
	select {
	case <-p.Exited():
		return nil
	case <-killCtx.Done():
		return fmt.Errorf("%s still running after kill: %w", p.Name(), killCtx.Err())
	}
}
