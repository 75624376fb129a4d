package supervisor

import (
	"testing"
	"time"
)

func TestTokenPolicyAutoCompactSendsWhenIdleAboveThreshold(t *testing.T) {
	bag := newTimerBag()
	defer bag.stopAll()
	tokens := &TokenState{}
	tokens.restore(200_000, 100_000, 0)

	var sent []string
	idle := true
	p := newTokenPolicy(bag, tokens, true, 250_000, "focus", 10*time.Millisecond,
		false, 0, 5*time.Millisecond, 5*time.Millisecond,
		func(data []byte) error { sent = append(sent, string(data)); return nil },
		func() bool { return false }, func() bool { return idle })

	p.onTokenUpdate()
	time.Sleep(30 * time.Millisecond)

	if len(sent) != 1 || sent[0] != "/compact focus\r" {
		t.Fatalf("sent = %v", sent)
	}
}

func TestTokenPolicyAutoCompactWaitsForIdle(t *testing.T) {
	bag := newTimerBag()
	defer bag.stopAll()
	tokens := &TokenState{}
	tokens.restore(200_000, 100_000, 0)

	var sent []string
	idle := false
	p := newTokenPolicy(bag, tokens, true, 250_000, "", 10*time.Millisecond,
		false, 0, 5*time.Millisecond, 5*time.Millisecond,
		func(data []byte) error { sent = append(sent, string(data)); return nil },
		func() bool { return false }, func() bool { return idle })

	p.onTokenUpdate()
	time.Sleep(15 * time.Millisecond)
	if len(sent) != 0 {
		t.Fatalf("sent = %v, want none while not idle", sent)
	}

	idle = true
	time.Sleep(20 * time.Millisecond)
	if len(sent) != 1 {
		t.Fatalf("sent = %v, want 1 once idle", sent)
	}
}

func TestTokenPolicyAutoClearResetsTokensAndGuards(t *testing.T) {
	bag := newTimerBag()
	defer bag.stopAll()
	tokens := &TokenState{}
	tokens.restore(400_000, 100_000, 0)

	var sent []string
	p := newTokenPolicy(bag, tokens, false, 0, "", 0,
		true, 450_000, 10*time.Millisecond, 5*time.Millisecond,
		func(data []byte) error { sent = append(sent, string(data)); return nil },
		func() bool { return false }, func() bool { return true })

	p.onTokenUpdate()
	time.Sleep(20 * time.Millisecond)

	if len(sent) != 1 || sent[0] != "/clear\r" {
		t.Fatalf("sent = %v", sent)
	}
	input, output, _ := tokens.snapshot()
	if input != 0 || output != 0 {
		t.Fatalf("tokens = %d/%d, want reset to 0/0", input, output)
	}

	// A second update before the guard expires must not re-trigger.
	p.onTokenUpdate()
	time.Sleep(5 * time.Millisecond)
	if len(sent) != 1 {
		t.Fatalf("sent = %v, want still 1 (guard active)", sent)
	}
}

func TestTokenPolicyRespectsIsStopped(t *testing.T) {
	bag := newTimerBag()
	defer bag.stopAll()
	tokens := &TokenState{}
	tokens.restore(200_000, 100_000, 0)

	var sent []string
	p := newTokenPolicy(bag, tokens, true, 250_000, "", 10*time.Millisecond,
		false, 0, 5*time.Millisecond, 5*time.Millisecond,
		func(data []byte) error { sent = append(sent, string(data)); return nil },
		func() bool { return true }, func() bool { return true })

	p.onTokenUpdate()
	time.Sleep(20 * time.Millisecond)
	if len(sent) != 0 {
		t.Fatalf("sent = %v, want none once stopped", sent)
	}
}
