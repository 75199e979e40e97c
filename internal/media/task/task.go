// Package task runs a unit of work repeatedly on a dedicated goroutine, with
// the ability to park the loop between units and to stop it for good.
package task

import (
	"context"
	"sync"
)

type State int32

const (
	Paused State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Paused:
		return "paused"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StepFunc performs one unit of work. ctx is cancelled as soon as the task is
// paused or stopped; a step blocked on anything must return promptly then.
type StepFunc func(ctx context.Context)

// Task starts Paused. Run drives the loop and returns once the task is
// stopped.
type Task struct {
	name string
	step StepFunc

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	busy   bool
	ctx    context.Context
	cancel context.CancelFunc
}

func New(name string, step StepFunc) *Task {
	t := &Task{
		name:  name,
		step:  step,
		state: Paused,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *Task) Name() string {
	return t.name
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) Run() {
	for {
		t.mu.Lock()
		for t.state == Paused {
			t.cond.Wait()
		}
		if t.state == Stopped {
			t.mu.Unlock()
			return
		}
		ctx := t.ctx
		t.busy = true
		t.mu.Unlock()

		t.step(ctx)

		t.mu.Lock()
		t.busy = false
		t.cond.Broadcast()
		t.mu.Unlock()
	}
}

// Resume lets the loop run. It does nothing unless the task is paused.
func (t *Task) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Paused {
		return
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.state = Running
	t.cond.Broadcast()
}

// Pause interrupts the current step and returns once the loop is parked.
// It must not be called from the task's own step.
func (t *Task) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Running {
		return
	}
	t.state = Paused
	t.interrupt()
}

// Stop ends the loop permanently and waits for the current step to finish.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Stopped {
		return
	}
	t.state = Stopped
	t.interrupt()
}

// interrupt must be called with t.mu held.
func (t *Task) interrupt() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.cond.Broadcast()
	for t.busy {
		t.cond.Wait()
	}
}
