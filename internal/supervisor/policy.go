package supervisor

import "time"

// policyWriter sends a policy command (e.g. "/compact", "/clear") through
// the preferred write path, the same contract as the Respawn Controller's
// writer.
type policyWriter func(data []byte) error

// tokenPolicy implements the Token/Context Policies of spec §4.L:
// auto-compact and auto-clear, both triggered by token-counter updates and
// gated by idle polling and a post-send debounce guard. No teacher
// equivalent exists (the teacher has no context-window concept); grounded
// directly on spec §4.L, with the timer-bag polling idiom grounded on
// timers.go.
type tokenPolicy struct {
	compactEnabled   bool
	compactThreshold int
	compactPrompt    string
	compactGuard     time.Duration

	clearEnabled   bool
	clearThreshold int
	clearGuard     time.Duration

	pollInterval time.Duration

	write policyWriter
	bag   *timerBag

	tokens *TokenState

	isStopped func() bool
	isIdle    func() bool

	compacting bool
	clearing   bool

	onAutoCompact func()
	onAutoClear   func()
	onLog         func(string)
}

func newTokenPolicy(bag *timerBag, tokens *TokenState, compactEnabled bool, compactThreshold int, compactPrompt string, compactGuard time.Duration, clearEnabled bool, clearThreshold int, clearGuard time.Duration, pollInterval time.Duration, write policyWriter, isStopped, isIdle func() bool) *tokenPolicy {
	return &tokenPolicy{
		compactEnabled:   compactEnabled,
		compactThreshold: compactThreshold,
		compactPrompt:    compactPrompt,
		compactGuard:     compactGuard,
		clearEnabled:     clearEnabled,
		clearThreshold:   clearThreshold,
		clearGuard:       clearGuard,
		pollInterval:     pollInterval,
		write:            write,
		bag:              bag,
		tokens:           tokens,
		isStopped:        isStopped,
		isIdle:           isIdle,
	}
}

// onTokenUpdate runs after every token counter update (spec §4.L "Run
// after every token counter update").
func (p *tokenPolicy) onTokenUpdate() {
	if p.isStopped != nil && p.isStopped() {
		return
	}
	input, output, _ := p.tokens.snapshot()
	total := input + output

	if p.clearEnabled && !p.clearing && !p.compacting && total >= p.clearThreshold {
		p.clearing = true
		p.pollForIdleThenClear()
		return
	}
	if p.compactEnabled && !p.compacting && !p.clearing && total >= p.compactThreshold {
		p.compacting = true
		p.pollForIdleThenCompact()
	}
}

func (p *tokenPolicy) pollForIdleThenCompact() {
	if p.isStopped != nil && p.isStopped() {
		p.compacting = false
		return
	}
	if p.isIdle == nil || p.isIdle() {
		p.sendCompact()
		return
	}
	p.bag.after(p.pollInterval, p.pollForIdleThenCompact)
}

func (p *tokenPolicy) sendCompact() {
	if p.write != nil {
		cmd := "/compact"
		if p.compactPrompt != "" {
			cmd = "/compact " + p.compactPrompt
		}
		p.log("auto-compact threshold reached, sending " + cmd)
		_ = p.write([]byte(cmd + "\r"))
	}
	if p.onAutoCompact != nil {
		p.onAutoCompact()
	}
	p.bag.after(p.compactGuard, func() {
		p.compacting = false
	})
}

func (p *tokenPolicy) pollForIdleThenClear() {
	if p.isStopped != nil && p.isStopped() {
		p.clearing = false
		return
	}
	if p.isIdle == nil || p.isIdle() {
		p.sendClear()
		return
	}
	p.bag.after(p.pollInterval, p.pollForIdleThenClear)
}

func (p *tokenPolicy) sendClear() {
	if p.write != nil {
		p.log("auto-clear threshold reached, sending /clear")
		_ = p.write([]byte("/clear\r"))
	}
	p.tokens.reset()
	if p.onAutoClear != nil {
		p.onAutoClear()
	}
	p.bag.after(p.clearGuard, func() {
		p.clearing = false
	})
}

func (p *tokenPolicy) log(msg string) {
	if p.onLog != nil {
		p.onLog(msg)
	}
}
