package supervisor

import (
	"context"
	"time"

	"claudeman/internal/classifier"
)

// autoAcceptWriter sends the synthesized "Enter" keystroke through the
// preferred write path (spec §4.K, same preference as the Respawn
// Controller's writer).
type autoAcceptWriter func(data []byte) error

// autoAccept implements the Auto-Accept Sub-controller (spec §4.K): when
// the child displays a small numbered-choice menu, synthesize an Enter
// keystroke after a silence window, unless an elicitation dialog is in
// progress. Grounded directly on spec §4.K (no teacher equivalent — the
// teacher has no auto-accept concept); the cheap-pre-filter-before-AI-gate
// shape mirrors the Terminal Parser's own pre-check habit (patterns.go /
// parser.go), itself grounded on the teacher's readPTY substring
// pre-checks.
type autoAccept struct {
	enabled  bool
	delay    time.Duration
	aiGated  bool
	aiTimeout time.Duration

	classifier classifier.Classifier

	write autoAcceptWriter
	bag   *timerBag

	watching       bool
	elicitation    bool
	bytesThisCycle int
	lastByteAt     time.Time

	timerID int

	tailFn func() string

	onSent func()
}

func newAutoAccept(bag *timerBag, enabled bool, delay time.Duration, aiGated bool, aiTimeout time.Duration, cls classifier.Classifier, write autoAcceptWriter, tailFn func() string) *autoAccept {
	return &autoAccept{
		enabled:   enabled,
		delay:     delay,
		aiGated:   aiGated,
		aiTimeout: aiTimeout,
		classifier: cls,
		write:     write,
		bag:       bag,
		timerID:   -1,
		tailFn:    tailFn,
	}
}

// onRespawnStateChanged tracks whether the owning session is in the
// respawn controller's "watching" state, the only state the gate permits
// (spec §4.K Gate).
func (a *autoAccept) onRespawnStateChanged(next RespawnState) {
	a.watching = next == RespawnWatching
}

// onWorkingDetected clears the elicitation flag: a new turn has started
// (spec §4.K "Working patterns clear the elicitation flag").
func (a *autoAccept) onWorkingDetected() {
	a.elicitation = false
}

// onElicitation marks that an external elicitation dialog is in progress,
// suppressing auto-accept until the next working pattern.
func (a *autoAccept) onElicitation() {
	a.elicitation = true
}

// onChunk runs the pre-filter and, if it passes and the gate is open,
// (re)schedules the delayed send (spec §4.K).
func (a *autoAccept) onChunk(rawChunk string, strippedChunk string, now time.Time) {
	if len(rawChunk) > 0 {
		a.bytesThisCycle += len(rawChunk)
		a.lastByteAt = now
	}

	if a.timerID >= 0 {
		a.bag.cancel(a.timerID)
		a.timerID = -1
	}

	if !a.passesPreFilter(rawChunk, strippedChunk) {
		return
	}
	if !a.gateOpen() {
		return
	}

	a.timerID = a.bag.after(a.delay, a.fire)
}

// passesPreFilter checks the tail of the session's accumulated terminal
// buffer (spec §4.K "tail of the processed buffer"), not just the single
// PTY read that triggered this call: a menu's selector glyph and its
// numbered-list line can land in separate 4096-byte PTY reads, and a
// single-chunk check would never see them together. Falls back to the
// triggering chunk itself when no tailFn is wired.
func (a *autoAccept) passesPreFilter(rawChunk, strippedChunk string) bool {
	raw, stripped := rawChunk, strippedChunk
	if a.tailFn != nil {
		raw = tailLastBytes(a.tailFn(), 4*1024)
		stripped = stripANSI(raw)
	}
	if hasWorkingLexeme(stripped) {
		return false
	}
	return hasMenuSelector(raw) && hasSmallNumberedList(stripped)
}

func (a *autoAccept) gateOpen() bool {
	return a.enabled && a.bytesThisCycle > 0 && a.watching && !a.elicitation
}

func (a *autoAccept) fire() {
	if !a.gateOpen() {
		return
	}

	if !a.aiGated || a.classifier == nil {
		a.send()
		return
	}

	tail := ""
	if a.tailFn != nil {
		tail = tailLastBytes(a.tailFn(), 8*1024)
	}

	verdict, err := withTimeout(context.Background(), a.aiTimeout, "auto-accept ai check", func(ctx context.Context) (classifier.MenuVerdict, error) {
		return a.classifier.CheckMenu(ctx, tail)
	})
	if err != nil || verdict != classifier.VerdictMenuApproval {
		return
	}
	a.send()
}

func (a *autoAccept) send() {
	if a.write != nil {
		_ = a.write([]byte("\r"))
	}
	a.bytesThisCycle = 0
	if a.onSent != nil {
		a.onSent()
	}
}

// resetCycle is called at the start of each respawn/interactive cycle so
// "at least one byte of output this cycle" (spec §4.K Gate) starts false.
func (a *autoAccept) resetCycle() {
	a.bytesThisCycle = 0
}

func tailLastBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
