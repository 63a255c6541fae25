package connwatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testBackoff() Backoff {
	return Backoff{
		Initial:    time.Millisecond,
		Max:        4 * time.Millisecond,
		Multiplier: 2,
		Interval:   5 * time.Millisecond,
		Timeout:    100 * time.Millisecond,
	}
}

// scripted returns a probe that yields results in order, then repeats
// the last one.
func scripted(results ...error) ProbeFunc {
	var mu sync.Mutex
	i := 0
	return func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		err := results[min(i, len(results)-1)]
		i++
		return err
	}
}

func TestDefaultBackoff(t *testing.T) {
	b := Backoff{}.withDefaults()
	if b != DefaultBackoff() {
		t.Errorf("zero Backoff defaults = %+v", b)
	}
	if b.Initial != 2*time.Second || b.Max != time.Minute || b.Interval != 30*time.Second {
		t.Errorf("DefaultBackoff = %+v", b)
	}
}

func TestCheck_BackoffGrowsAndResets(t *testing.T) {
	down := errors.New("connection refused")
	w := New(Config{
		Name:    "llamafarm",
		Probe:   scripted(down, down, down, down, nil, down),
		Backoff: testBackoff(),
	})
	ctx := context.Background()

	want := []time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
		5 * time.Millisecond, // up: poll interval
		1 * time.Millisecond, // down again: backoff restarts
	}
	for i, d := range want {
		if got := w.check(ctx); got != d {
			t.Errorf("check %d delay = %v, want %v", i, got, d)
		}
	}
	if s := w.Status(); s.Checks != len(want) || s.Ready || s.LastError != "connection refused" {
		t.Errorf("status = %+v", s)
	}
}

func TestCheck_OnChangeOnlyOnTransitions(t *testing.T) {
	down := errors.New("down")
	var changes []bool
	w := New(Config{
		Name:     "llamafarm",
		Probe:    scripted(down, down, nil, nil, down, nil),
		Backoff:  testBackoff(),
		OnChange: func(_ context.Context, s Status) { changes = append(changes, s.Ready) },
	})

	for range 6 {
		w.check(context.Background())
	}

	want := []bool{false, true, false, true}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, changes[i], want[i])
		}
	}
	if !w.Ready() {
		t.Error("expected ready after final success")
	}
}

func TestCheck_ProbeTimeout(t *testing.T) {
	w := New(Config{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff: Backoff{Timeout: 5 * time.Millisecond},
	})
	w.check(context.Background())
	if w.Ready() {
		t.Error("timed-out probe reported ready")
	}
	if w.Status().LastError != context.DeadlineExceeded.Error() {
		t.Errorf("LastError = %q", w.Status().LastError)
	}
}

func TestStart_RecoversAndStops(t *testing.T) {
	ready := make(chan struct{})
	var once sync.Once
	w := Start(context.Background(), Config{
		Name:    "llamafarm",
		Probe:   scripted(errors.New("down"), errors.New("down"), nil),
		Backoff: testBackoff(),
		OnChange: func(_ context.Context, s Status) {
			if s.Ready {
				once.Do(func() { close(ready) })
			}
		},
	})

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never saw the service come up")
	}
	w.Stop()
	w.Stop()

	checks := w.Status().Checks
	time.Sleep(20 * time.Millisecond)
	if w.Status().Checks != checks {
		t.Error("watcher kept probing after Stop")
	}
}

func TestNew_PanicsOnMisconfiguration(t *testing.T) {
	for name, cfg := range map[string]Config{
		"no name":  {Probe: scripted(nil)},
		"no probe": {Name: "x"},
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			New(cfg)
		})
	}
}
