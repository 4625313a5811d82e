package orchestration

import "sync"

// textBuffer is a FIFO queue of characters waiting to be typed out.
type textBuffer struct {
	mu       sync.Mutex
	runes    []rune
	consumed int
}

func newTextBuffer() *textBuffer {
	return &textBuffer{}
}

func (b *textBuffer) Push(text string) {
	if text == "" {
		return
	}

	b.mu.Lock()
	b.runes = append(b.runes, []rune(text)...)
	b.mu.Unlock()
}

func (b *textBuffer) Pop() (rune, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consumed >= len(b.runes) {
		return 0, false
	}

	r := b.runes[b.consumed]
	b.consumed++
	b.compact()
	return r, true
}

// Drain empties the buffer and returns everything that was still queued.
func (b *textBuffer) Drain() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := string(b.runes[b.consumed:])
	b.runes = nil
	b.consumed = 0
	return text
}

func (b *textBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.runes) - b.consumed
}

func (b *textBuffer) compact() {
	switch {
	case b.consumed == len(b.runes):
		b.runes = b.runes[:0]
		b.consumed = 0
	case b.consumed > 1024 && b.consumed*2 > len(b.runes):
		b.runes = append(b.runes[:0], b.runes[b.consumed:]...)
		b.consumed = 0
	}
}
