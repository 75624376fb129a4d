package supervisor

import (
	"testing"
	"time"

	"claudeman/internal/classifier"
)

func newTestIdleDetector(t *testing.T, cls classifier.Classifier) (*idleDetector, *timerBag) {
	t.Helper()
	bag := newTimerBag()
	d := newIdleDetector(bag, 30*time.Millisecond, 5*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond, cls, func() string { return "" })
	return d, bag
}

func TestIdleDetectorCompletionMessageRaisesConfirmedIdle(t *testing.T) {
	d, bag := newTestIdleDetector(t, nil)
	defer bag.stopAll()

	confirmed := make(chan int, 1)
	d.onConfirmedIdle = func(c int) { confirmed <- c }

	d.onCompletionMessage()

	select {
	case c := <-confirmed:
		if c != 60 {
			t.Fatalf("confidence = %d, want 60", c)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for confirmedIdle")
	}
}

func TestIdleDetectorWorkingCancelsConfirmation(t *testing.T) {
	d, bag := newTestIdleDetector(t, nil)
	defer bag.stopAll()

	confirmed := make(chan int, 1)
	d.onConfirmedIdle = func(c int) { confirmed <- c }

	d.onCompletionMessage()
	d.onWorkingOrSubstantialOutput()

	select {
	case c := <-confirmed:
		t.Fatalf("unexpected confirmedIdle after working reset: %d", c)
	case <-time.After(50 * time.Millisecond):
		// expected: no confirmation fired
	}
}

func TestIdleDetectorStopHookIsFullConfidence(t *testing.T) {
	d, bag := newTestIdleDetector(t, nil)
	defer bag.stopAll()

	confirmed := make(chan int, 1)
	d.onConfirmedIdle = func(c int) { confirmed <- c }
	d.onStopHook()

	select {
	case c := <-confirmed:
		if c != 100 {
			t.Fatalf("confidence = %d, want 100", c)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for confirmedIdle")
	}
}

func TestIdleDetectorIdlePromptBypassesConfirmation(t *testing.T) {
	d, bag := newTestIdleDetector(t, nil)
	defer bag.stopAll()

	confirmed := make(chan int, 1)
	d.onConfirmedIdle = func(c int) { confirmed <- c }
	d.onIdlePromptHook()

	select {
	case c := <-confirmed:
		if c != 100 {
			t.Fatalf("confidence = %d, want 100", c)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("expected immediate confirmedIdle, bypassing the timer")
	}
}

func TestIdleDetectorAIConfirmationRaisesHigherConfidence(t *testing.T) {
	d, bag := newTestIdleDetector(t, classifier.NewDummy(0))
	defer bag.stopAll()

	confirmed := make(chan int, 1)
	started := make(chan struct{}, 1)
	d.onConfirmedIdle = func(c int) { confirmed <- c }
	d.onAICheckStarted = func() { started <- struct{}{} }

	d.onCompletionMessage()

	select {
	case <-started:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected ai check to start")
	}

	select {
	case c := <-confirmed:
		if c != 80 {
			t.Fatalf("confidence = %d, want 80", c)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for AI-confirmed idle")
	}
}

func TestIdleDetectorQuietStreamTimerStartsConfirmation(t *testing.T) {
	d, bag := newTestIdleDetector(t, nil)
	defer bag.stopAll()

	confirmed := make(chan int, 1)
	d.onConfirmedIdle = func(c int) { confirmed <- c }
	d.onByte(time.Now())

	select {
	case <-confirmed:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timed out waiting for quiet-stream confirmedIdle")
	}
}
