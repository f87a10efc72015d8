package termbuf

import (
	"reflect"
	"testing"
)

func TestBuffer_BasicLineSplitting(t *testing.T) {
	b := New(10)
	b.Append([]byte("hello\nworld\n"))

	got := b.LastNRaw(10)
	want := []string{"hello", "world"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LastNRaw = %v, want %v", got, want)
	}
}

func TestBuffer_CarriageReturnDiscardsLine(t *testing.T) {
	b := New(10)
	b.Append([]byte("garbage\rclean\n"))

	got := b.LastNRaw(1)
	if got[0] != "clean" {
		t.Errorf("got %q, want %q", got[0], "clean")
	}
}

func TestBuffer_BackspacePopsChar(t *testing.T) {
	b := New(10)
	b.Append([]byte("abcd\b\b\n"))

	got := b.LastNRaw(1)
	if got[0] != "ab" {
		t.Errorf("got %q, want %q", got[0], "ab")
	}
}

func TestBuffer_TabExpandsToNextMultipleOf8(t *testing.T) {
	b := New(10)
	b.Append([]byte("ab\tcd\n"))

	got := b.LastNRaw(1)
	if len(got[0]) != 10 { // "ab" + 6 spaces to col 8 + "cd"
		t.Errorf("got %q (len %d), want len 10", got[0], len(got[0]))
	}
}

func TestBuffer_RingDiscardsOldest(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Append([]byte("line\n"))
	}
	got := b.LastNRaw(10)
	if len(got) != 3 {
		t.Errorf("expected ring capped at 3, got %d lines", len(got))
	}
}

func TestBuffer_PlainStripsANSI(t *testing.T) {
	b := New(10)
	b.Append([]byte("\x1b[31mError\x1b[0m: bad\n"))

	raw := b.LastNRaw(1)[0]
	plain := b.LastNPlain(1)[0]

	if raw == plain {
		t.Errorf("expected raw and plain forms to differ")
	}
	if plain != "Error: bad" {
		t.Errorf("plain = %q", plain)
	}
}

func TestStripANSI_Idempotent(t *testing.T) {
	input := "\x1b[1;32mok\x1b[0m plain \x1b]0;title\x07tail"
	once := StripANSI(input)
	twice := StripANSI(once)
	if once != twice {
		t.Errorf("StripANSI not idempotent: %q != %q", once, twice)
	}
}

func TestBuffer_TotalLinesSurvivesRingEviction(t *testing.T) {
	b := New(2)
	b.Append([]byte("one\ntwo\nthree\nfour\n"))

	if b.TotalLines() != 4 {
		t.Errorf("TotalLines = %d, want 4", b.TotalLines())
	}
	if got := b.LastNRaw(2); !reflect.DeepEqual(got, []string{"three", "four"}) {
		t.Errorf("LastNRaw = %v", got)
	}
}

func TestBuffer_PlainEqualsStripOfRaw(t *testing.T) {
	b := New(10)
	b.Append([]byte("\x1b[31mred\x1b[0m\nplain\n"))

	rawLines := b.LastNRaw(2)
	plainLines := b.LastNPlain(2)
	for i := range rawLines {
		if StripANSI(rawLines[i]) != plainLines[i] {
			t.Errorf("line %d: strip(raw) = %q, plain = %q", i, StripANSI(rawLines[i]), plainLines[i])
		}
	}
}
