package supervisor

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPTYAdapterSpawnDeliversOutputAndExit(t *testing.T) {
	var mu sync.Mutex
	var received []byte
	exitCh := make(chan int, 1)

	p := newPTYAdapter(
		func(b []byte) {
			mu.Lock()
			received = append(received, b...)
			mu.Unlock()
		},
		func(code int) { exitCh <- code },
	)

	if err := p.spawn("/bin/sh", []string{"-c", "echo hello-pty"}, []string{"PATH=/usr/bin:/bin"}, "", 80, 24); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	select {
	case code := <-exitCh:
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(string(received), "hello-pty") {
		t.Errorf("expected output to contain hello-pty, got %q", string(received))
	}
}

func TestPTYAdapterDoubleSpawnFails(t *testing.T) {
	p := newPTYAdapter(nil, nil)
	if err := p.spawn("/bin/sh", []string{"-c", "sleep 0.2"}, nil, "", 80, 24); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	if err := p.spawn("/bin/sh", []string{"-c", "sleep 0.2"}, nil, "", 80, 24); err != ErrAlreadySpawned {
		t.Errorf("expected ErrAlreadySpawned, got %v", err)
	}
}

func TestPTYAdapterWriteBeforeSpawnIsNoOp(t *testing.T) {
	p := newPTYAdapter(nil, nil)
	if ok := p.write([]byte("x")); ok {
		t.Errorf("expected write before spawn to report false")
	}
}

func TestPTYAdapterWriteAfterExitIsNoOp(t *testing.T) {
	exitCh := make(chan int, 1)
	p := newPTYAdapter(nil, func(code int) { exitCh <- code })
	if err := p.spawn("/bin/sh", []string{"-c", "true"}, nil, "", 80, 24); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	<-exitCh
	time.Sleep(20 * time.Millisecond)
	if ok := p.write([]byte("x")); ok {
		t.Errorf("expected write after exit to report false")
	}
}

func TestPTYAdapterPidBeforeSpawnIsZero(t *testing.T) {
	p := newPTYAdapter(nil, nil)
	if got := p.pid(); got != 0 {
		t.Errorf("pid before spawn = %d, want 0", got)
	}
}
