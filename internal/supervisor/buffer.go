package supervisor

import (
	"bytes"
	"sync"
)

// Bounded Buffer Accumulator (spec §4.A). An append-only text/byte
// accumulator with a hard maxSize and soft trimSize (trimSize < maxSize):
// when an append pushes the total length past maxSize, the buffer is
// reduced to its most recent trimSize bytes. Simplified from the
// teacher's multi-reader replayBuffer (internal/egg/server.go) — this
// component has a single owner and no concurrent readers (spec §5: each
// session's buffers are owned exclusively by that session), so the
// reader-cursor backpressure machinery is dropped; the trim/cut logic is
// kept.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	maxSize   int
	trimSize  int
	safeTrim  bool // when true, trims at an ANSI-safe cut point near trimSize
}

func newBoundedBuffer(maxSize, trimSize int, safeTrim bool) *boundedBuffer {
	if trimSize >= maxSize {
		trimSize = maxSize / 2
	}
	return &boundedBuffer{
		buf:      make([]byte, 0, 4096),
		maxSize:  maxSize,
		trimSize: trimSize,
		safeTrim: safeTrim,
	}
}

// append adds data, trimming the buffer to its most recent trimSize bytes
// if the result exceeds maxSize.
func (b *boundedBuffer) append(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, data...)
	if len(b.buf) <= b.maxSize {
		return
	}

	minOffset := len(b.buf) - b.trimSize
	cut := minOffset
	if b.safeTrim {
		cut = findSafeCut(b.buf, minOffset)
	}
	b.buf = append([]byte(nil), b.buf[cut:]...)
}

// value returns a copy of the full buffer contents.
func (b *boundedBuffer) value() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

// length returns the exact current length.
func (b *boundedBuffer) length() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// clear empties the buffer.
func (b *boundedBuffer) clear() {
	b.mu.Lock()
	b.buf = b.buf[:0]
	b.mu.Unlock()
}

// set replaces the buffer contents wholesale.
func (b *boundedBuffer) set(value []byte) {
	b.mu.Lock()
	b.buf = append([]byte(nil), value...)
	b.mu.Unlock()
}

// Terminal-safe cut-point boundaries, in priority order, adapted from the
// teacher's findSafeCut (internal/egg/server.go) — a supplemented
// refinement (SPEC_FULL.md "ANSI-aware safe-cut trimming") over spec
// §4.A's plain "reduced to the most recent trimSize" requirement, used
// only by the raw terminal buffer (not the processed/JSON buffers).
var (
	syncUpdateEnd  = []byte("\x1b[?2026l")
	eraseLineReset = []byte("\x1b[2K\x1b[G")
)

// findSafeCut searches forward from minOffset for the nearest safe
// terminal-state boundary, within a bounded window, so a trim that finds
// one does not leave a half-rendered escape sequence at the head of the
// buffer. Falls back to minOffset itself if no boundary is found in the
// window, in which case the head may start mid-sequence.
func findSafeCut(buf []byte, minOffset int) int {
	if minOffset < 0 {
		minOffset = 0
	}
	if minOffset >= len(buf) {
		return len(buf)
	}
	searchEnd := minOffset + 64*1024
	if searchEnd > len(buf) {
		searchEnd = len(buf)
	}
	window := buf[minOffset:searchEnd]

	if idx := bytes.Index(window, syncUpdateEnd); idx >= 0 {
		return minOffset + idx + len(syncUpdateEnd)
	}
	if idx := bytes.Index(window, eraseLineReset); idx >= 0 {
		return minOffset + idx
	}
	if idx := bytes.Index(window, []byte("\r\n")); idx >= 0 {
		return minOffset + idx + 2
	}
	return minOffset
}
