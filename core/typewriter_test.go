package orchestration

import (
	"testing"
	"time"
)

func TestTypewriterIsIdleUntilStarted(t *testing.T) {
	w := newTypewriter(time.Millisecond)
	w.Push("hi")

	if w.C() != nil || w.IsRunning() {
		t.Fatalf("expected push to only enqueue")
	}
	if w.Len() != 2 {
		t.Fatalf("expected queue depth 2, got %d", w.Len())
	}
}

func TestTypewriterEnsureRunningNeverDuplicates(t *testing.T) {
	w := newTypewriter(time.Millisecond)
	defer w.Stop()

	if !w.EnsureRunning() {
		t.Fatalf("expected first call to start ticking")
	}
	c := w.C()
	w.Push("more")
	if w.EnsureRunning() {
		t.Fatalf("expected second call to keep the running ticker")
	}
	if w.C() != c {
		t.Fatalf("expected the tick channel to stay the same")
	}
}

func TestTypewriterTypesOneRunePerTickAndStopsWhenEmpty(t *testing.T) {
	w := newTypewriter(time.Millisecond)
	w.Push("ab")
	w.EnsureRunning()

	var typed []rune
	timeout := time.After(time.Second)
	for w.IsRunning() {
		select {
		case <-w.C():
			if r, ok := w.Tick(); ok {
				typed = append(typed, r)
			}
		case <-timeout:
			t.Fatalf("typewriter did not go idle, typed %q", string(typed))
		}
	}

	if string(typed) != "ab" {
		t.Fatalf("expected %q, got %q", "ab", string(typed))
	}
	if w.C() != nil {
		t.Fatalf("expected idle typewriter to have no tick channel")
	}
}

func TestTypewriterDrainStopsAndEmpties(t *testing.T) {
	w := newTypewriter(time.Hour)
	w.Push("rest")
	w.EnsureRunning()

	if got := w.Drain(); got != "rest" {
		t.Fatalf("expected %q, got %q", "rest", got)
	}
	if w.IsRunning() || w.Len() != 0 {
		t.Fatalf("expected drained typewriter to be idle and empty")
	}
}
