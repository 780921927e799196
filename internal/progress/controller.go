package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Mode int

const (
	// ModeStrict waits for the task to unwind after an abort.
	ModeStrict Mode = iota
	// ModeLenient returns as soon as the abort cleanups ran.
	ModeLenient
)

func (m Mode) String() string {
	if m == ModeLenient {
		return "lenient"
	}
	return "strict"
}

// ParseMode maps config strings onto modes; empty means strict.
func ParseMode(raw string) (Mode, error) {
	switch raw {
	case "", "strict":
		return ModeStrict, nil
	case "lenient":
		return ModeLenient, nil
	default:
		return ModeStrict, fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

type State int

const (
	StateBefore State = iota
	StateRunning
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	default:
		return "before"
	}
}

var (
	ErrAborted     = errors.New("progress: aborted")
	ErrAlreadyRun  = errors.New("progress: controller already ran")
	ErrLateCleanup = errors.New("progress: cleanup registered after abort")
	ErrInvalidMode = errors.New("progress: invalid mode")
)

// TimeoutError is the abort cause when a call's deadline expires.
type TimeoutError = protocol.TimeoutError

// Cleanup undoes work of an aborted call. cause is the abort error.
type Cleanup func(cause error) error

// Task is the body of a call.
type Task func(p *Progress) (any, error)

type Options struct {
	Mode  Mode
	OnLog func(message string)
}

// Controller coordinates one call: it owns the abort signal, the deadline
// and the cleanup stack.
type Controller struct {
	mode  Mode
	onLog func(string)

	mu           sync.Mutex
	state        State
	err          error
	pendingAbort error
	cleanups     []Cleanup
	logs         []string
	ctx          context.Context
	cancel       context.CancelCauseFunc
	aborted      chan struct{}
	done         chan struct{}
}

func NewController(opts Options) *Controller {
	return &Controller{
		mode:    opts.Mode,
		onLog:   opts.OnLog,
		aborted: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the abort cause once the controller is aborted.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Logs returns the messages logged while running.
func (c *Controller) Logs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.logs...)
}

// Abort moves a running controller to aborted. Calls after the first, or
// after the controller settled, are no-ops. An abort before Run is
// remembered and applied as soon as Run starts.
func (c *Controller) Abort(err error) {
	if err == nil {
		err = ErrAborted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateBefore:
		if c.pendingAbort == nil {
			c.pendingAbort = err
		}
	case StateRunning:
		c.abortLocked(err)
	}
}

func (c *Controller) abortLocked(err error) {
	c.state = StateAborted
	c.err = err
	close(c.aborted)
	c.cancel(err)
}

type outcome struct {
	value any
	err   error
}

// Run executes task once. timeout <= 0 disables the deadline. Cancelling
// ctx aborts the call with the context cause.
func (c *Controller) Run(ctx context.Context, task Task, timeout time.Duration) (any, error) {
	c.mu.Lock()
	if c.state != StateBefore {
		c.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	c.ctx = runCtx
	c.cancel = cancel
	c.state = StateRunning
	preAborted := c.pendingAbort != nil
	if preAborted {
		c.abortLocked(c.pendingAbort)
	}
	c.mu.Unlock()
	defer close(c.done)
	defer cancel(nil)
	if preAborted {
		return nil, c.Err()
	}

	start := time.Now()
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			c.Abort(&TimeoutError{Timeout: timeout, Elapsed: time.Since(start)})
		})
		defer timer.Stop()
	}
	stop := context.AfterFunc(ctx, func() {
		c.Abort(context.Cause(ctx))
	})
	defer stop()

	taskDone := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				taskDone <- outcome{err: fmt.Errorf("progress: task panic: %v", r)}
			}
		}()
		v, err := task(&Progress{c: c})
		taskDone <- outcome{value: v, err: err}
	}()

	select {
	case out := <-taskDone:
		c.mu.Lock()
		if c.state == StateRunning {
			if out.err == nil {
				c.state = StateFinished
				c.mu.Unlock()
				return out.value, nil
			}
			c.abortLocked(out.err)
			c.mu.Unlock()
			c.runCleanups(out.err)
			return nil, out.err
		}
		err := c.err
		c.mu.Unlock()
		c.runCleanups(err)
		return nil, err
	case <-c.aborted:
		err := c.Err()
		if c.mode == ModeStrict {
			<-taskDone
		}
		c.runCleanups(err)
		return nil, err
	}
}

func (c *Controller) runCleanups(cause error) {
	c.mu.Lock()
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()
	for i := len(cleanups) - 1; i >= 0; i-- {
		runCleanup(cleanups[i], cause)
	}
}

func runCleanup(fn Cleanup, cause error) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("progress.Controller.runCleanup recovered")
		}
	}()
	if err := fn(cause); err != nil {
		log.Warn().Err(err).Msg("progress.Controller.runCleanup failed")
	}
}

func (c *Controller) register(fn Cleanup, runIfSettled bool) error {
	c.mu.Lock()
	switch c.state {
	case StateRunning:
		c.cleanups = append(c.cleanups, fn)
		c.mu.Unlock()
		return nil
	case StateAborted:
		cause := c.err
		c.mu.Unlock()
		if !runIfSettled && c.mode == ModeStrict {
			return ErrLateCleanup
		}
		runCleanup(fn, cause)
		return nil
	default:
		c.mu.Unlock()
		if runIfSettled {
			runCleanup(fn, nil)
		}
		return nil
	}
}

func (c *Controller) log(message string) {
	c.mu.Lock()
	running := c.state == StateRunning
	if running {
		c.logs = append(c.logs, message)
	}
	c.mu.Unlock()
	if running && c.onLog != nil {
		c.onLog(message)
	}
}
