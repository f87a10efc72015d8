// Package termbuf turns a raw PTY byte stream into a bounded ring of
// completed lines, handling UTF-8 decoding, carriage control characters,
// and ANSI escape sequences.
package termbuf

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ansiCSI matches ANSI CSI/OSC-style escape sequences for plain-text
// reads; raw reads retain them.
var ansiCSI = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~]|\][^\x07\x1B]*(?:\x07|\x1B\\))`)

const tabWidth = 8

// Buffer accumulates PTY output into a bounded ring of completed lines.
// It is not safe for concurrent use — callers must serialize Append
// calls, matching the single-pipeline-goroutine ownership model.
type Buffer struct {
	capacity int
	lines    []string // ring storage
	start    int       // index of oldest line
	count    int       // number of valid lines
	total    int       // lines ever pushed, never reset by eviction

	current strings.Builder
	decodeBuf []byte
}

// New creates a Buffer with the given ring capacity (default 1000 when
// capacity <= 0).
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer{
		capacity: capacity,
		lines:    make([]string, capacity),
	}
}

// Append decodes a chunk of raw PTY bytes, appending completed lines to
// the ring and updating the in-progress current line.
func (b *Buffer) Append(chunk []byte) {
	b.decodeBuf = append(b.decodeBuf, chunk...)

	for len(b.decodeBuf) > 0 {
		r, size := utf8.DecodeRune(b.decodeBuf)
		if r == utf8.RuneError && size <= 1 {
			if len(b.decodeBuf) < utf8.UTFMax {
				// Might be a truncated multi-byte sequence; wait for
				// more bytes unless this is clearly not valid UTF-8.
				if !utf8.FullRune(b.decodeBuf) {
					return
				}
			}
			// Not valid UTF-8 even with more bytes: fall back to a
			// single-byte (Latin-1-like) decode for this byte.
			b.handleRune(rune(b.decodeBuf[0]))
			b.decodeBuf = b.decodeBuf[1:]
			continue
		}
		b.handleRune(r)
		b.decodeBuf = b.decodeBuf[size:]
	}
}

func (b *Buffer) handleRune(r rune) {
	switch r {
	case '\n':
		b.pushLine(b.current.String())
		b.current.Reset()
	case '\r':
		b.current.Reset()
	case '\b':
		s := b.current.String()
		if len(s) > 0 {
			_, size := utf8.DecodeLastRuneInString(s)
			b.current.Reset()
			b.current.WriteString(s[:len(s)-size])
		}
	case '\t':
		col := b.current.Len()
		next := ((col / tabWidth) + 1) * tabWidth
		for i := col; i < next; i++ {
			b.current.WriteByte(' ')
		}
	default:
		if r < 0x20 || (r >= 0x80 && r <= 0x9F) {
			// Drop other C0/C1 control characters (ANSI CSI sequences
			// are multi-rune and pass through individually; they are
			// stripped later on plain-text reads instead of here, so
			// the raw ring still shows the original escape bytes).
			if r == 0x1B {
				b.current.WriteRune(r)
			}
			return
		}
		b.current.WriteRune(r)
	}
}

func (b *Buffer) pushLine(line string) {
	idx := (b.start + b.count) % b.capacity
	b.lines[idx] = line
	if b.count < b.capacity {
		b.count++
	} else {
		b.start = (b.start + 1) % b.capacity
	}
	b.total++
}

// TotalLines is the number of completed lines ever pushed, unaffected
// by ring eviction. Callers that need to observe newly completed lines
// without a callback hook can diff this before/after Append and pull
// that many lines from LastNPlain/LastNRaw.
func (b *Buffer) TotalLines() int { return b.total }

// LastNRaw returns up to n most recent completed lines, oldest first,
// with ANSI sequences retained.
func (b *Buffer) LastNRaw(n int) []string {
	return b.lastN(n, false)
}

// LastNPlain returns up to n most recent completed lines, oldest first,
// with ANSI sequences stripped.
func (b *Buffer) LastNPlain(n int) []string {
	return b.lastN(n, true)
}

func (b *Buffer) lastN(n int, plain bool) []string {
	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		idx := (b.start + b.count - n + i) % b.capacity
		line := b.lines[idx]
		if plain {
			line = StripANSI(line)
		}
		out[i] = line
	}
	return out
}

// CurrentLine returns the in-progress (not yet newline-terminated) line.
func (b *Buffer) CurrentLine() string { return b.current.String() }

// Search runs re against raw or plain forms of every buffered line and
// returns the matching lines, oldest first.
func (b *Buffer) Search(re *regexp.Regexp, plain bool) []string {
	all := b.lastN(b.count, plain)
	var out []string
	for _, line := range all {
		if re.MatchString(line) {
			out = append(out, line)
		}
	}
	return out
}

// StripANSI removes ANSI CSI/OSC escape sequences from s.
func StripANSI(s string) string {
	return ansiCSI.ReplaceAllString(s, "")
}
