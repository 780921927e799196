package progress

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/edgerpc/internal/testutil/testlog"
)

func TestRunReturnsTaskResult(t *testing.T) {
	testlog.Start(t)

	c := NewController(Options{})
	cleaned := false
	v, err := c.Run(context.Background(), func(p *Progress) (any, error) {
		if err := p.CleanupWhenAborted(func(error) error { cleaned = true; return nil }); err != nil {
			return nil, err
		}
		return "ok", nil
	}, time.Second)
	if err != nil || v != "ok" {
		t.Fatalf("unexpected result: %v %v", v, err)
	}
	if cleaned {
		t.Fatalf("cleanup must not run on success")
	}
	if c.State() != StateFinished {
		t.Fatalf("unexpected state: %s", c.State())
	}
	if _, err := c.Run(context.Background(), func(*Progress) (any, error) { return nil, nil }, 0); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("expected ErrAlreadyRun, got %v", err)
	}
}

func TestTimeoutRunsCleanupsBeforeRejecting(t *testing.T) {
	testlog.Start(t)

	c := NewController(Options{Mode: ModeStrict})
	var mu sync.Mutex
	var order []int
	record := func(n int) Cleanup {
		return func(cause error) error {
			var te *TimeoutError
			if !errors.As(cause, &te) {
				t.Errorf("cleanup saw unexpected cause: %v", cause)
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil
		}
	}

	never := make(chan struct{})
	start := time.Now()
	_, err := c.Run(context.Background(), func(p *Progress) (any, error) {
		_ = p.CleanupWhenAborted(record(1))
		_ = p.CleanupWhenAborted(record(2))
		_, err := Race(p, never)
		return nil, err
	}, 50*time.Millisecond)
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if err.Error() != "Timeout 50ms exceeded." {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if te.Elapsed < 50*time.Millisecond {
		t.Fatalf("elapsed recorded too early: %v", te.Elapsed)
	}
	if elapsed > time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(order, []int{2, 1}) {
		t.Fatalf("cleanups must run in reverse order before rejection, got %v", order)
	}
	if c.State() != StateAborted {
		t.Fatalf("unexpected state: %s", c.State())
	}
}

func TestAbortTwiceIsNoop(t *testing.T) {
	testlog.Start(t)

	first := errors.New("first")
	c := NewController(Options{})
	started := make(chan struct{})
	go func() {
		<-started
		c.Abort(first)
		c.Abort(errors.New("second"))
	}()
	_, err := c.Run(context.Background(), func(p *Progress) (any, error) {
		close(started)
		<-p.Aborted()
		return nil, p.Err()
	}, 0)
	if !errors.Is(err, first) {
		t.Fatalf("expected first abort error, got %v", err)
	}
	c.Abort(errors.New("third"))
	if !errors.Is(c.Err(), first) {
		t.Fatalf("late abort changed error: %v", c.Err())
	}
}

func TestRunSettlesOnceUnderRacingAborts(t *testing.T) {
	testlog.Start(t)

	c := NewController(Options{})
	var wg sync.WaitGroup
	ready := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			c.Abort(errors.New("racer"))
		}()
	}
	var cleanups atomic.Int32
	_, err := c.Run(context.Background(), func(p *Progress) (any, error) {
		_ = p.CleanupWhenAborted(func(error) error { cleanups.Add(1); return nil })
		close(ready)
		_, err := Race(p, make(chan struct{}))
		return nil, err
	}, 0)
	wg.Wait()
	if err == nil || err.Error() != "racer" {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanups.Load() != 1 {
		t.Fatalf("cleanup ran %d times", cleanups.Load())
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done must be closed after Run")
	}
}

func TestStrictWaitsForTaskUnwind(t *testing.T) {
	testlog.Start(t)

	c := NewController(Options{Mode: ModeStrict})
	var unwound atomic.Bool
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Abort(errors.New("stop"))
	}()
	_, err := c.Run(context.Background(), func(p *Progress) (any, error) {
		_, err := Race(p, make(chan struct{}))
		time.Sleep(30 * time.Millisecond)
		unwound.Store(true)
		return nil, err
	}, 0)
	if err == nil {
		t.Fatalf("expected abort error")
	}
	if !unwound.Load() {
		t.Fatalf("strict run returned before the task unwound")
	}
}

func TestStrictRunsCleanupsAfterTaskUnwinds(t *testing.T) {
	testlog.Start(t)

	c := NewController(Options{Mode: ModeStrict})
	var unwound atomic.Bool
	var sawUnwound atomic.Bool
	var ran atomic.Int32
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Abort(errors.New("stop"))
	}()
	_, err := c.Run(context.Background(), func(p *Progress) (any, error) {
		if err := p.CleanupWhenAborted(func(error) error {
			ran.Add(1)
			sawUnwound.Store(unwound.Load())
			return nil
		}); err != nil {
			return nil, err
		}
		_, err := Race(p, make(chan struct{}))
		time.Sleep(30 * time.Millisecond)
		unwound.Store(true)
		return nil, err
	}, 0)
	if err == nil || err.Error() != "stop" {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran.Load() != 1 {
		t.Fatalf("cleanup ran %d times", ran.Load())
	}
	if !sawUnwound.Load() {
		t.Fatalf("cleanup ran while the task was still working")
	}
}

func TestLenientReturnsWithoutWaiting(t *testing.T) {
	testlog.Start(t)

	c := NewController(Options{Mode: ModeLenient})
	release := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Abort(errors.New("stop"))
	}()
	_, err := c.Run(context.Background(), func(p *Progress) (any, error) {
		defer close(exited)
		<-release
		return "late", nil
	}, 0)
	if err == nil || err.Error() != "stop" {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-exited:
		t.Fatalf("lenient run waited for the task")
	default:
	}
	close(release)
	<-exited
}

func TestLateCleanupRegistration(t *testing.T) {
	testlog.Start(t)

	for _, mode := range []Mode{ModeStrict, ModeLenient} {
		c := NewController(Options{Mode: mode})
		var ran atomic.Bool
		var regErr error
		registered := make(chan struct{})
		_, _ = c.Run(context.Background(), func(p *Progress) (any, error) {
			defer close(registered)
			c.Abort(errors.New("stop"))
			regErr = p.CleanupWhenAborted(func(error) error { ran.Store(true); return nil })
			return nil, p.Err()
		}, 0)
		<-registered
		switch mode {
		case ModeStrict:
			if !errors.Is(regErr, ErrLateCleanup) || ran.Load() {
				t.Fatalf("strict: expected rejection, got err=%v ran=%v", regErr, ran.Load())
			}
		case ModeLenient:
			if regErr != nil || !ran.Load() {
				t.Fatalf("lenient: expected immediate run, got err=%v ran=%v", regErr, ran.Load())
			}
		}
	}
}

func TestTaskErrorRunsCleanupsDespiteFaultyOnes(t *testing.T) {
	testlog.Start(t)

	boom := errors.New("boom")
	c := NewController(Options{})
	var ran []string
	_, err := c.Run(context.Background(), func(p *Progress) (any, error) {
		_ = p.CleanupWhenAborted(func(error) error { ran = append(ran, "first"); return nil })
		_ = p.CleanupWhenAborted(func(error) error { panic("cleanup exploded") })
		_ = p.CleanupWhenAborted(func(error) error { ran = append(ran, "third"); return errors.New("ignored") })
		return nil, boom
	}, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("original error must survive cleanups, got %v", err)
	}
	if !reflect.DeepEqual(ran, []string{"third", "first"}) {
		t.Fatalf("unexpected cleanup order: %v", ran)
	}
	if c.State() != StateAborted {
		t.Fatalf("failed task should end aborted, got %s", c.State())
	}
}

func TestTaskPanicBecomesError(t *testing.T) {
	testlog.Start(t)

	c := NewController(Options{})
	_, err := c.Run(context.Background(), func(*Progress) (any, error) { panic("bad handler") }, 0)
	if err == nil || err.Error() != "progress: task panic: bad handler" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAbortBeforeRunSkipsTask(t *testing.T) {
	testlog.Start(t)

	c := NewController(Options{})
	cause := errors.New("disposed")
	c.Abort(cause)
	called := false
	_, err := c.Run(context.Background(), func(*Progress) (any, error) { called = true; return nil, nil }, 0)
	if !errors.Is(err, cause) || called {
		t.Fatalf("expected pre-run abort, got err=%v called=%v", err, called)
	}
}

func TestParentContextCancelAborts(t *testing.T) {
	testlog.Start(t)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewController(Options{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.Run(ctx, func(p *Progress) (any, error) {
		<-p.Aborted()
		if p.Context().Err() == nil {
			return nil, errors.New("run context still live after abort")
		}
		return nil, p.Err()
	}, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLogOnlyWhileRunning(t *testing.T) {
	testlog.Start(t)

	var seen []string
	c := NewController(Options{OnLog: func(m string) { seen = append(seen, m) }})
	var saved *Progress
	_, err := c.Run(context.Background(), func(p *Progress) (any, error) {
		saved = p
		p.Log("waiting for key")
		p.Log("key arrived")
		return nil, nil
	}, 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	saved.Log("after finish")
	if !reflect.DeepEqual(c.Logs(), []string{"waiting for key", "key arrived"}) {
		t.Fatalf("unexpected logs: %v", c.Logs())
	}
	if len(seen) != 2 {
		t.Fatalf("unexpected OnLog calls: %v", seen)
	}
}

func TestParseMode(t *testing.T) {
	testlog.Start(t)

	if m, err := ParseMode(""); err != nil || m != ModeStrict {
		t.Fatalf("unexpected default mode: %v %v", m, err)
	}
	if m, err := ParseMode("lenient"); err != nil || m != ModeLenient {
		t.Fatalf("unexpected lenient mode: %v %v", m, err)
	}
	if _, err := ParseMode("eager"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}
