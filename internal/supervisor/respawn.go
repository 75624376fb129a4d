package supervisor

import "time"

// RespawnState is the Respawn Controller's state machine (spec §4.J).
type RespawnState int

const (
	RespawnStopped RespawnState = iota
	RespawnWatching
	RespawnConfirmingIdle
	RespawnAIChecking
	RespawnSendingUpdate
	RespawnWaitingUpdate
	RespawnSendingClear
	RespawnWaitingClear
	RespawnSendingInit
	RespawnWaitingInit
)

func (s RespawnState) String() string {
	switch s {
	case RespawnStopped:
		return "stopped"
	case RespawnWatching:
		return "watching"
	case RespawnConfirmingIdle:
		return "confirming_idle"
	case RespawnAIChecking:
		return "ai_checking"
	case RespawnSendingUpdate:
		return "sending_update"
	case RespawnWaitingUpdate:
		return "waiting_update"
	case RespawnSendingClear:
		return "sending_clear"
	case RespawnWaitingClear:
		return "waiting_clear"
	case RespawnSendingInit:
		return "sending_init"
	case RespawnWaitingInit:
		return "waiting_init"
	default:
		return "unknown"
	}
}

func (s RespawnState) paused() bool {
	return s == RespawnStopped
}

// respawnWriter is the preferred-write-path contract the controller sends
// steps through: the multiplexer if available, falling back to a direct
// PTY write (spec §4.J "preferred write path (multiplexer if available)").
type respawnWriter func(data []byte) error

// respawnController implements the Respawn Controller (spec §4.J): a
// maintenance-cycle state machine driven by the Idle Detector's
// confirmedIdle signal. There is no teacher equivalent (the teacher has no
// maintenance-prompt concept); grounded directly on spec §4.J's transition
// diagram and per-step behavior, with the timer-bag/withTimeout
// suspension-point idiom grounded on timers.go (itself grounded on the
// teacher's liberal use of time.AfterFunc-style deferred work throughout
// internal/egg).
type respawnController struct {
	enabled bool

	updatePrompt   string
	sendClear      bool
	sendInit       bool
	initPrompt     string
	interStepDelay time.Duration
	noOutputTimeout time.Duration

	write respawnWriter

	bag   *timerBag
	state RespawnState
	cycle int

	waitTimerID int
	paused      bool
	frozenState RespawnState

	onStateChanged     func(prev, next RespawnState)
	onCycleStarted     func(n int)
	onCycleCompleted   func()
	onStepSent         func(step string)
	onStepCompleted    func(step string)
	onAutoAcceptSent   func()
	onLog              func(string)
}

func newRespawnController(bag *timerBag, enabled bool, updatePrompt string, sendClear, sendInit bool, initPrompt string, interStepDelay, noOutputTimeout time.Duration, write respawnWriter) *respawnController {
	initial := RespawnStopped
	if enabled {
		initial = RespawnWatching
	}
	return &respawnController{
		enabled:         enabled,
		updatePrompt:    updatePrompt,
		sendClear:       sendClear,
		sendInit:        sendInit,
		initPrompt:      initPrompt,
		interStepDelay:  interStepDelay,
		noOutputTimeout: noOutputTimeout,
		write:           write,
		bag:             bag,
		state:           initial,
		waitTimerID:     -1,
	}
}

// awaitingStep reports whether the controller is currently waiting on a
// step's completion, i.e. a confirmedIdle signal should advance the step
// rather than start a new cycle.
func (c *respawnController) awaitingStep() bool {
	switch c.state {
	case RespawnWaitingUpdate, RespawnWaitingClear, RespawnWaitingInit:
		return true
	default:
		return false
	}
}

func (c *respawnController) transition(next RespawnState) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	if c.onStateChanged != nil {
		c.onStateChanged(prev, next)
	}
}

// onConfirmedIdle is the Idle Detector's trigger (spec §4.J
// "watching ->(confirmedIdle) confirming_idle").
func (c *respawnController) onConfirmedIdle() {
	if !c.enabled || c.paused || c.state != RespawnWatching {
		return
	}
	c.transition(RespawnConfirmingIdle)
	if c.onCycleStarted != nil {
		c.onCycleStarted(c.cycle + 1)
	}
	c.transition(RespawnSendingUpdate)
	c.sendStep(RespawnSendingUpdate, RespawnWaitingUpdate, "update", c.updatePrompt)
}

// onWorkingDetected is spec §4.J's "any non-watching,non-stopped ->(working
// detected) watching (cancel cycle)".
func (c *respawnController) onWorkingDetected() {
	if c.state == RespawnStopped || c.state == RespawnWatching {
		return
	}
	c.cancelWait()
	c.transition(RespawnWatching)
}

func (c *respawnController) sendStep(sendingState, waitingState RespawnState, name, text string) {
	if c.write != nil {
		_ = c.write(append([]byte(text), '\r'))
	}
	if c.onStepSent != nil {
		c.onStepSent(name)
	}
	c.transition(waitingState)
	c.waitTimerID = c.bag.after(c.noOutputTimeout, func() {
		c.stepTimedOut(name)
	})
}

// onStepIdleConfirmed is called by the session wiring when the Idle
// Detector confirms idle while a step is in a waiting_* state (spec §4.J
// "Wait for the step to complete using the same Idle Detector contract").
func (c *respawnController) onStepIdleConfirmed() {
	c.cancelWait()
	switch c.state {
	case RespawnWaitingUpdate:
		if c.onStepCompleted != nil {
			c.onStepCompleted("update")
		}
		c.afterDelay(c.advanceAfterUpdate)
	case RespawnWaitingClear:
		if c.onStepCompleted != nil {
			c.onStepCompleted("clear")
		}
		c.afterDelay(c.advanceAfterClear)
	case RespawnWaitingInit:
		if c.onStepCompleted != nil {
			c.onStepCompleted("init")
		}
		c.afterDelay(c.completeCycle)
	}
}

func (c *respawnController) stepTimedOut(name string) {
	// A step that never completes is treated the same as completion: the
	// cycle must not hang forever (noOutputTimeout already bounds it).
	c.log("respawn step " + name + " timed out, advancing anyway")
	c.onStepIdleConfirmed()
}

func (c *respawnController) log(msg string) {
	if c.onLog != nil {
		c.onLog(msg)
	}
}

func (c *respawnController) afterDelay(next func()) {
	c.waitTimerID = c.bag.after(c.interStepDelay, next)
}

func (c *respawnController) advanceAfterUpdate() {
	if c.sendClear {
		c.transition(RespawnSendingClear)
		c.sendStep(RespawnSendingClear, RespawnWaitingClear, "clear", "/clear")
		return
	}
	c.advanceAfterClear()
}

func (c *respawnController) advanceAfterClear() {
	if c.sendInit {
		c.transition(RespawnSendingInit)
		c.sendStep(RespawnSendingInit, RespawnWaitingInit, "init", c.initPrompt)
		return
	}
	c.completeCycle()
}

func (c *respawnController) completeCycle() {
	c.cycle++
	c.transition(RespawnWatching)
	if c.onCycleCompleted != nil {
		c.onCycleCompleted()
	}
}

func (c *respawnController) cancelWait() {
	if c.waitTimerID >= 0 {
		c.bag.cancel(c.waitTimerID)
		c.waitTimerID = -1
	}
}

// pause freezes the current state; resume only returns to watching if the
// frozen state was watching (spec §4.J).
func (c *respawnController) pause() {
	if c.paused {
		return
	}
	c.paused = true
	c.frozenState = c.state
}

func (c *respawnController) resume() {
	if !c.paused {
		return
	}
	c.paused = false
	if c.frozenState == RespawnWatching {
		c.transition(RespawnWatching)
	}
}

// stop cancels all timers and transitions to stopped regardless of state
// (spec §4.J); the cycle counter is preserved (it resets only on explicit
// reconfiguration).
func (c *respawnController) stop() {
	c.cancelWait()
	c.enabled = false
	c.transition(RespawnStopped)
}
