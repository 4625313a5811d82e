package orchestration

import "testing"

func TestTextBufferPopsRunesInOrder(t *testing.T) {
	b := newTextBuffer()
	b.Push("hé")
	b.Push("")
	b.Push("🙂!")

	var got []rune
	for {
		r, ok := b.Pop()
		if !ok {
			break
		}
		got = append(got, r)
	}

	if string(got) != "hé🙂!" {
		t.Fatalf("expected %q, got %q", "hé🙂!", string(got))
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", b.Len())
	}
}

func TestTextBufferDrainReturnsRemainder(t *testing.T) {
	b := newTextBuffer()
	b.Push("hello")
	b.Pop()
	b.Pop()

	if got := b.Drain(); got != "llo" {
		t.Fatalf("expected drained %q, got %q", "llo", got)
	}
	if _, ok := b.Pop(); ok {
		t.Fatalf("expected nothing after drain")
	}
}

func TestTextBufferCompactsLongQueues(t *testing.T) {
	b := newTextBuffer()
	for range 3000 {
		b.Push("a")
	}
	for range 2000 {
		b.Pop()
	}
	b.Push("b")

	if b.Len() != 1001 {
		t.Fatalf("expected 1001 queued runes, got %d", b.Len())
	}
	if got := b.Drain(); got[len(got)-1] != 'b' {
		t.Fatalf("expected last rune to be preserved after compaction, got %q", got[len(got)-1:])
	}
}
