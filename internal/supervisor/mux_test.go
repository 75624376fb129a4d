package supervisor

import "testing"

func TestSessionNameIsDeterministic(t *testing.T) {
	a := sessionName("abc-123")
	b := sessionName("abc-123")
	if a != b {
		t.Fatalf("sessionName must be deterministic: %q vs %q", a, b)
	}
	if a != "claudeman-abc-123" {
		t.Fatalf("unexpected session name: %q", a)
	}
}

func TestMuxAdapterUnavailableWithNoScreenBinary(t *testing.T) {
	m := &muxAdapter{} // simulate screen not found on PATH
	if m.isAvailable() {
		t.Fatalf("expected unavailable adapter with empty screenBin")
	}
}

func TestAttachArgsUsesSecondaryAttachFlag(t *testing.T) {
	m := &muxAdapter{screenBin: "/usr/bin/screen"}
	args := m.attachArgs("sess-1")
	if len(args) != 2 || args[0] != "-x" || args[1] != sessionName("sess-1") {
		t.Fatalf("unexpected attach args: %v", args)
	}
}

func TestSetAttachedTracksPerSessionState(t *testing.T) {
	m := newMuxAdapter()
	if m.isAttached("sess-1") {
		t.Fatalf("expected sess-1 not attached initially")
	}

	m.setAttached("sess-1", true)
	if !m.isAttached("sess-1") {
		t.Fatalf("expected sess-1 attached after setAttached(true)")
	}
	if m.isAttached("sess-2") {
		t.Fatalf("setAttached must not leak state across session ids")
	}

	m.setAttached("sess-1", false)
	if m.isAttached("sess-1") {
		t.Fatalf("expected sess-1 detached after setAttached(false)")
	}
}
