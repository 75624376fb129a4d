package supervisor

import (
	"context"
	"errors"
	"time"

	"claudeman/internal/classifier"
)

// idleState is the Idle Detector's own small state machine (spec §4.I).
// Distinct from RespawnState (component J), which tracks the maintenance
// cycle driven by confirmedIdle assertions.
type idleState int

const (
	idleWatching idleState = iota
	idleConfirming
	idleAIChecking
)

func (s idleState) String() string {
	switch s {
	case idleWatching:
		return "watching"
	case idleConfirming:
		return "confirming_idle"
	case idleAIChecking:
		return "ai_checking"
	default:
		return "unknown"
	}
}

// idleSource names which signal started (or bypassed) the confirmation
// timer, used only to compute the reported confidence level.
type idleSource int

const (
	sourceCompletionMessage idleSource = iota
	sourceQuietStream
	sourceStopHook
	sourceIdlePrompt
)

// idleDetector implements spec §4.I: a multi-layer signal aggregator that
// decides when a child has finished a conversational turn. Grounded on the
// teacher's Session.idleDuration (internal/egg/idle_test.go): idle time is
// measured as "now minus the most recent of {start, lastInput,
// lastOutput}", generalized here into a quiet-stream timer rather than a
// polled duration, since spec §4.I wants a timer-driven confirmation flow
// rather than a poll.
type idleDetector struct {
	noOutputTimeout     time.Duration
	completionConfirm   time.Duration
	workingAbsenceWin   time.Duration
	aiEnabled           bool
	aiCheckTimeout      time.Duration

	classifier classifier.Classifier

	bag             *timerBag
	quietTimerID    int
	confirmTimerID  int
	state           idleState

	lastByteAt time.Time

	transcriptTail func() string

	onConfirmedIdle  func(confidence int)
	onAICheckStarted func()
	onLog            func(string)
}

func newIdleDetector(bag *timerBag, noOutputTimeout, completionConfirm, workingAbsenceWin time.Duration, aiCheckTimeout time.Duration, cls classifier.Classifier, transcriptTail func() string) *idleDetector {
	if completionConfirm > noOutputTimeout {
		completionConfirm = noOutputTimeout
	}
	return &idleDetector{
		noOutputTimeout:   noOutputTimeout,
		completionConfirm: completionConfirm,
		workingAbsenceWin: workingAbsenceWin,
		aiEnabled:         cls != nil,
		aiCheckTimeout:    aiCheckTimeout,
		classifier:        cls,
		bag:               bag,
		state:             idleWatching,
		transcriptTail:    transcriptTail,
		quietTimerID:      -1,
		confirmTimerID:    -1,
	}
}

// onByte resets the quiet-stream timer (signal 2): no bytes for
// noOutputTimeout starts the confirmation timer, same as a completion
// message.
func (d *idleDetector) onByte(now time.Time) {
	d.lastByteAt = now
	if d.quietTimerID >= 0 {
		d.bag.cancel(d.quietTimerID)
	}
	d.quietTimerID = d.bag.after(d.noOutputTimeout, func() {
		d.startConfirmation(sourceQuietStream)
	})
}

// onCompletionMessage is signal 1.
func (d *idleDetector) onCompletionMessage() {
	d.startConfirmation(sourceCompletionMessage)
}

// onStopHook is the strong (100% confidence) hook signal.
func (d *idleDetector) onStopHook() {
	d.startConfirmation(sourceStopHook)
}

// onIdlePromptHook is the strongest hook signal: it bypasses the
// confirmation timer and the AI classifier entirely.
func (d *idleDetector) onIdlePromptHook() {
	d.cancelConfirmation()
	d.raiseConfirmedIdle(100)
}

// onWorkingOrSubstantialOutput cancels any in-flight confirmation and
// returns to watching; a new turn has visibly started.
func (d *idleDetector) onWorkingOrSubstantialOutput() {
	if d.state != idleWatching {
		d.cancelConfirmation()
		d.state = idleWatching
	}
}

func (d *idleDetector) startConfirmation(src idleSource) {
	if d.state != idleWatching {
		return
	}
	d.state = idleConfirming
	d.confirmTimerID = d.bag.after(d.completionConfirm, func() {
		d.confirmationExpired(src)
	})
}

func (d *idleDetector) cancelConfirmation() {
	if d.confirmTimerID >= 0 {
		d.bag.cancel(d.confirmTimerID)
		d.confirmTimerID = -1
	}
}

func (d *idleDetector) confirmationExpired(src idleSource) {
	if !d.aiEnabled {
		d.raiseConfirmedIdle(confidenceFor(src, false))
		return
	}

	d.state = idleAIChecking
	if d.onAICheckStarted != nil {
		d.onAICheckStarted()
	}

	tail := ""
	if d.transcriptTail != nil {
		tail = d.transcriptTail()
	}

	verdict, err := withTimeout(context.Background(), d.aiCheckTimeout, "idle ai check", func(ctx context.Context) (classifier.IdleVerdict, error) {
		return d.classifier.CheckIdle(ctx, tail)
	})
	if err != nil {
		if errors.Is(err, classifier.ErrCooldown) {
			// Can't check right now; fall back to the heuristic signal
			// rather than blocking the whole cycle on the cooldown.
			d.log("ai idle check on cooldown, falling back to heuristic")
			d.raiseConfirmedIdle(confidenceFor(src, false))
			return
		}
		// Timeout or classifier failure: treat like a "working" verdict.
		d.log("ai idle check failed: " + err.Error())
		d.state = idleWatching
		return
	}

	if verdict == classifier.VerdictIdle {
		d.raiseConfirmedIdle(confidenceFor(src, true))
		return
	}
	d.state = idleWatching
}

func (d *idleDetector) raiseConfirmedIdle(confidence int) {
	d.state = idleWatching
	d.confirmTimerID = -1
	if d.onConfirmedIdle != nil {
		d.onConfirmedIdle(confidence)
	}
}

func (d *idleDetector) log(msg string) {
	if d.onLog != nil {
		d.onLog(msg)
	}
}

func confidenceFor(src idleSource, aiConfirmed bool) int {
	switch src {
	case sourceIdlePrompt, sourceStopHook:
		return 100
	}
	if aiConfirmed {
		return 80
	}
	return 60
}
