// Package classifier provides the optional AI-assisted confirmation used
// by the Idle Detector and Auto-Accept sub-controller: a small, deadline-
// bound call over a truncated transcript window that returns a verdict
// from a closed taxonomy. Spec.md leaves the exact prompt/verdict
// taxonomy unspecified; SPEC_FULL.md's Open Question decision fixes it
// as two independent two-state enums so the classifier stays agnostic of
// its caller's domain. Adapted from the teacher's internal/llm.Provider /
// NewDummyProvider pattern.
package classifier

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// IdleVerdict is the result of an idle-confirmation check (spec §4.I signal 5).
type IdleVerdict int

const (
	VerdictWorking IdleVerdict = iota
	VerdictIdle
)

func (v IdleVerdict) String() string {
	if v == VerdictIdle {
		return "idle"
	}
	return "working"
}

// MenuVerdict is the result of an auto-accept menu check (spec §4.K).
type MenuVerdict int

const (
	VerdictOther MenuVerdict = iota
	VerdictMenuApproval
)

func (v MenuVerdict) String() string {
	if v == VerdictMenuApproval {
		return "menu-approval"
	}
	return "other"
}

// ErrCooldown is returned when a call is attempted while the rate limiter
// has no tokens available; the wrapped classifier is not called. The idle
// detector answers it by falling back to its heuristic signal, not by
// treating it as a timeout.
var ErrCooldown = errors.New("classifier: on cooldown")

// Classifier is the collaborator contract: given a transcript window,
// decide whether the child is idle or working. Implementations must
// respect ctx's deadline (spec §5 "AI classifier invocations are given
// hard deadlines").
type Classifier interface {
	CheckIdle(ctx context.Context, transcript string) (IdleVerdict, error)
	CheckMenu(ctx context.Context, transcript string) (MenuVerdict, error)
}

// Gated wraps a Classifier with a token-bucket cooldown so a flaky or slow
// classifier cannot be invoked more than once per window, matching spec
// §4.I/§4.K's "subject to a cooldown after any result" rule.
type Gated struct {
	inner   Classifier
	limiter *rate.Limiter
}

// NewGated builds a Gated classifier that permits at most one call per
// cooldown, with a burst of 1 (no queuing — a call either has a token or
// it doesn't).
func NewGated(inner Classifier, cooldown time.Duration) *Gated {
	if cooldown <= 0 {
		cooldown = time.Second
	}
	return &Gated{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(cooldown), 1),
	}
}

func (g *Gated) CheckIdle(ctx context.Context, transcript string) (IdleVerdict, error) {
	if !g.limiter.Allow() {
		return VerdictWorking, ErrCooldown
	}
	return g.inner.CheckIdle(ctx, transcript)
}

func (g *Gated) CheckMenu(ctx context.Context, transcript string) (MenuVerdict, error) {
	if !g.limiter.Allow() {
		return VerdictOther, ErrCooldown
	}
	return g.inner.CheckMenu(ctx, transcript)
}

// Dummy is a canned-response classifier for tests and for running without
// a configured model, mirroring the teacher's DummyProvider: simple
// substring heuristics over the transcript tail rather than a real call.
type Dummy struct {
	// Delay simulates model latency, useful for exercising timeout paths.
	Delay time.Duration
}

func NewDummy(delay time.Duration) *Dummy {
	return &Dummy{Delay: delay}
}

func (d *Dummy) sleep(ctx context.Context) error {
	if d.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(d.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dummy) CheckIdle(ctx context.Context, transcript string) (IdleVerdict, error) {
	if err := d.sleep(ctx); err != nil {
		return VerdictWorking, err
	}
	tail := strings.ToLower(lastN(transcript, 512))
	for _, lex := range []string{"thinking", "writing", "reading", "running"} {
		if strings.Contains(tail, lex) {
			return VerdictWorking, nil
		}
	}
	return VerdictIdle, nil
}

func (d *Dummy) CheckMenu(ctx context.Context, transcript string) (MenuVerdict, error) {
	if err := d.sleep(ctx); err != nil {
		return VerdictOther, err
	}
	tail := strings.ToLower(lastN(transcript, 512))
	if strings.Contains(tail, "❯ 1.") || strings.Contains(tail, "select an option") {
		return VerdictMenuApproval, nil
	}
	return VerdictOther, nil
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
