package progress

import (
	"context"
	"reflect"
	"time"
)

// Progress is the task-facing view of a Controller.
type Progress struct {
	c *Controller
}

// Context is cancelled with the abort cause when the call aborts.
func (p *Progress) Context() context.Context {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return p.c.ctx
}

func (p *Progress) Log(message string) { p.c.log(message) }

// Aborted is closed once the call is aborted.
func (p *Progress) Aborted() <-chan struct{} { return p.c.aborted }

func (p *Progress) Err() error { return p.c.Err() }

func (p *Progress) Running() bool { return p.c.State() == StateRunning }

func (p *Progress) Mode() Mode { return p.c.mode }

// CleanupWhenAborted registers fn to run only if the call ends aborted,
// failed or timed out. After an abort, strict controllers reject fn with
// ErrLateCleanup and lenient ones run it immediately.
func (p *Progress) CleanupWhenAborted(fn Cleanup) error {
	return p.c.register(fn, false)
}

// Race waits for ch or the abort signal, whichever comes first.
func Race[T any](p *Progress, ch <-chan T) (T, error) {
	var zero T
	select {
	case <-p.c.aborted:
		return zero, p.c.Err()
	default:
	}
	select {
	case v := <-ch:
		return v, nil
	case <-p.c.aborted:
		return zero, p.c.Err()
	}
}

// RaceAny waits for the first of chs or the abort signal and reports the
// index of the channel that fired.
func RaceAny[T any](p *Progress, chs ...<-chan T) (T, int, error) {
	var zero T
	if len(chs) == 0 {
		return zero, -1, nil
	}
	cases := make([]reflect.SelectCase, 0, len(chs)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(p.c.aborted)})
	for _, ch := range chs {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
	}
	select {
	case <-p.c.aborted:
		return zero, -1, p.c.Err()
	default:
	}
	chosen, v, ok := reflect.Select(cases)
	if chosen == 0 {
		return zero, -1, p.c.Err()
	}
	if !ok {
		return zero, chosen - 1, nil
	}
	out, _ := v.Interface().(T)
	return out, chosen - 1, nil
}

type settled[T any] struct {
	value T
	err   error
}

// Await runs fn in its own goroutine and races its result against the
// abort signal.
func Await[T any](p *Progress, fn func() (T, error)) (T, error) {
	ch := make(chan settled[T], 1)
	go func() {
		v, err := fn()
		ch <- settled[T]{value: v, err: err}
	}()
	res, err := Race(p, ch)
	if err != nil {
		return res.value, err
	}
	return res.value, res.err
}

// RaceWithCleanup is Await for work that produces something needing
// cleanup. If the call is no longer running when fn settles, cleanup runs
// on the value right away; otherwise it is registered for the abort path.
func RaceWithCleanup[T any](p *Progress, fn func() (T, error), cleanup func(T)) (T, error) {
	ch := make(chan settled[T], 1)
	go func() {
		v, err := fn()
		if err == nil {
			_ = p.c.register(func(error) error {
				cleanup(v)
				return nil
			}, true)
		}
		ch <- settled[T]{value: v, err: err}
	}()
	res, err := Race(p, ch)
	if err != nil {
		var zero T
		return zero, err
	}
	return res.value, res.err
}

// Wait sleeps for d unless the call aborts first.
func Wait(p *Progress, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	_, err := Race(p, timer.C)
	return err
}
