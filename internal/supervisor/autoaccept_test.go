package supervisor

import (
	"testing"
	"time"

	"claudeman/internal/classifier"
)

const sampleMenu = "Do you want to proceed?\n❯ 1. Yes\n  2. No, and tell Claude what to do differently\n"

func newTestAutoAccept(t *testing.T, aiGated bool, cls classifier.Classifier) (*autoAccept, *timerBag, *int) {
	t.Helper()
	bag := newTimerBag()
	sent := 0
	a := newAutoAccept(bag, true, 5*time.Millisecond, aiGated, 20*time.Millisecond, cls, func(data []byte) error {
		sent++
		return nil
	}, func() string { return sampleMenu })
	a.watching = true
	return a, bag, &sent
}

func TestAutoAcceptSendsAfterDelayWhenGateOpen(t *testing.T) {
	a, bag, sent := newTestAutoAccept(t, false, nil)
	defer bag.stopAll()

	a.onChunk(sampleMenu, stripANSI(sampleMenu), time.Now())

	time.Sleep(50 * time.Millisecond)
	if *sent != 1 {
		t.Fatalf("sent = %d, want 1", *sent)
	}
}

func TestAutoAcceptSkipsWhenWorkingLexemePresent(t *testing.T) {
	a, bag, sent := newTestAutoAccept(t, false, nil)
	defer bag.stopAll()

	chunk := sampleMenu + "Thinking..."
	a.tailFn = func() string { return chunk }
	a.onChunk(chunk, stripANSI(chunk), time.Now())

	time.Sleep(50 * time.Millisecond)
	if *sent != 0 {
		t.Fatalf("sent = %d, want 0 (working lexeme present)", *sent)
	}
}

func TestAutoAcceptSkipsWhenNotWatching(t *testing.T) {
	a, bag, sent := newTestAutoAccept(t, false, nil)
	defer bag.stopAll()
	a.watching = false

	a.onChunk(sampleMenu, stripANSI(sampleMenu), time.Now())
	time.Sleep(50 * time.Millisecond)
	if *sent != 0 {
		t.Fatalf("sent = %d, want 0 (not watching)", *sent)
	}
}

func TestAutoAcceptSkipsDuringElicitation(t *testing.T) {
	a, bag, sent := newTestAutoAccept(t, false, nil)
	defer bag.stopAll()
	a.onElicitation()

	a.onChunk(sampleMenu, stripANSI(sampleMenu), time.Now())
	time.Sleep(50 * time.Millisecond)
	if *sent != 0 {
		t.Fatalf("sent = %d, want 0 (elicitation in progress)", *sent)
	}
}

func TestAutoAcceptWorkingClearsElicitation(t *testing.T) {
	a, bag, sent := newTestAutoAccept(t, false, nil)
	defer bag.stopAll()
	a.onElicitation()
	a.onWorkingDetected()

	a.onChunk(sampleMenu, stripANSI(sampleMenu), time.Now())
	time.Sleep(50 * time.Millisecond)
	if *sent != 1 {
		t.Fatalf("sent = %d, want 1 (elicitation cleared by working pattern)", *sent)
	}
}

func TestAutoAcceptAIGateRequiresMenuApprovalVerdict(t *testing.T) {
	a, bag, sent := newTestAutoAccept(t, true, classifier.NewDummy(0))
	defer bag.stopAll()

	a.onChunk(sampleMenu, stripANSI(sampleMenu), time.Now())
	time.Sleep(50 * time.Millisecond)
	if *sent != 1 {
		t.Fatalf("sent = %d, want 1 (dummy classifier approves a numbered menu)", *sent)
	}
}

func TestAutoAcceptRespawnStateGatesWatching(t *testing.T) {
	a, bag, sent := newTestAutoAccept(t, false, nil)
	defer bag.stopAll()
	a.watching = false
	a.onRespawnStateChanged(RespawnSendingUpdate)
	a.onChunk(sampleMenu, stripANSI(sampleMenu), time.Now())
	time.Sleep(30 * time.Millisecond)
	if *sent != 0 {
		t.Fatalf("sent = %d, want 0 while respawn state is not watching", *sent)
	}

	a.onRespawnStateChanged(RespawnWatching)
	a.onChunk(sampleMenu, stripANSI(sampleMenu), time.Now())
	time.Sleep(30 * time.Millisecond)
	if *sent != 1 {
		t.Fatalf("sent = %d, want 1 once respawn state is watching", *sent)
	}
}

func TestAutoAcceptDetectsMenuSplitAcrossChunks(t *testing.T) {
	bag := newTimerBag()
	defer bag.stopAll()
	sent := 0

	// The selector glyph and the numbered-list line arrive as two separate
	// PTY reads, as a 4096-byte read boundary can split a rendered menu.
	first := "Do you want to proceed?\n❯ 1. Yes\n"
	second := "  2. No, and tell Claude what to do differently\n"
	var buf string

	a := newAutoAccept(bag, true, 5*time.Millisecond, false, 20*time.Millisecond, nil, func(data []byte) error {
		sent++
		return nil
	}, func() string { return buf })
	a.watching = true

	buf = first
	a.onChunk(first, stripANSI(first), time.Now())
	time.Sleep(20 * time.Millisecond)
	if sent != 0 {
		t.Fatalf("sent = %d, want 0 (numbered list not yet visible)", sent)
	}

	buf += second
	a.onChunk(second, stripANSI(second), time.Now())
	time.Sleep(30 * time.Millisecond)
	if sent != 1 {
		t.Fatalf("sent = %d, want 1 once the full menu is visible across chunks", sent)
	}
}
