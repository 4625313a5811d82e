package orchestration

import "time"

const defaultTypingInterval = 10 * time.Millisecond

// typewriter paces queued text so that it is revealed one character per tick,
// regardless of how it arrived from the network. It is not safe for
// concurrent use, the owning response pipeline drives it from a single
// goroutine.
type typewriter struct {
	interval time.Duration
	buffer   *textBuffer
	ticker   *time.Ticker
}

func newTypewriter(interval time.Duration) *typewriter {
	if interval <= 0 {
		interval = defaultTypingInterval
	}

	return &typewriter{interval: interval, buffer: newTextBuffer()}
}

// Push only enqueues, it never starts or restarts the ticker.
func (w *typewriter) Push(text string) {
	w.buffer.Push(text)
}

// EnsureRunning starts ticking if not already ticking and reports whether a
// new ticker was started.
func (w *typewriter) EnsureRunning() bool {
	if w.ticker != nil {
		return false
	}

	w.ticker = time.NewTicker(w.interval)
	return true
}

// C is nil while idle so selecting on it blocks.
func (w *typewriter) C() <-chan time.Time {
	if w.ticker == nil {
		return nil
	}
	return w.ticker.C
}

// Tick pops the next character. The ticker is stopped once the queue is empty
// and stays stopped until the next EnsureRunning.
func (w *typewriter) Tick() (rune, bool) {
	r, ok := w.buffer.Pop()
	if !ok {
		w.Stop()
	}
	return r, ok
}

func (w *typewriter) IsRunning() bool {
	return w.ticker != nil
}

// Len is the number of characters still waiting to be typed.
func (w *typewriter) Len() int {
	return w.buffer.Len()
}

// Drain stops ticking and returns everything still queued.
func (w *typewriter) Drain() string {
	w.Stop()
	return w.buffer.Drain()
}

func (w *typewriter) Stop() {
	if w.ticker == nil {
		return
	}

	w.ticker.Stop()
	w.ticker = nil
}
