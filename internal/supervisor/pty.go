package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// PTY Adapter (spec §4.C). Spawns a child in a real PTY, delivers bytes
// via callbacks, and exposes write/resize/stop. Grounded on the teacher's
// internal/egg/server.go RunSession/readPTY (pty.StartWithSize, 4096-byte
// read loop) and shutdown (graceful SIGTERM-then-SIGKILL sequence),
// generalized from a single gRPC-served session into a standalone,
// reusable adapter.
type ptyAdapter struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu       sync.Mutex
	spawned  bool
	exited   bool
	exitCode int

	onData func([]byte)
	onExit func(int)
}

// ErrAlreadySpawned is returned by spawn on a reused adapter.
var ErrAlreadySpawned = errors.New("supervisor: pty already spawned")

// ErrNotSpawned is returned by operations requiring a live PTY before spawn.
var ErrNotSpawned = errors.New("supervisor: pty not spawned")

func newPTYAdapter(onData func([]byte), onExit func(int)) *ptyAdapter {
	return &ptyAdapter{onData: onData, onExit: onExit}
}

// spawn starts name with args in a PTY sized cols x rows, environment env
// ("K=V" entries), working directory cwd. Exactly one onExit callback will
// fire, exactly once, when the child exits (spec §4.C "Exit must be
// observable exactly once").
func (p *ptyAdapter) spawn(name string, args []string, env []string, cwd string, cols, rows int) error {
	p.mu.Lock()
	if p.spawned {
		p.mu.Unlock()
		return ErrAlreadySpawned
	}
	p.spawned = true
	p.mu.Unlock()

	cmd := exec.Command(name, args...)
	cmd.Env = env
	cmd.Dir = cwd
	// Child becomes its own process-group leader so stop() can deliver
	// SIGKILL to the whole group, not just the leader (spec §9
	// "graceful-then-forceful termination... SIGKILL the process group").
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	size := &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		p.mu.Lock()
		p.spawned = false
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.ptmx = ptmx
	p.mu.Unlock()

	go p.readLoop()
	go p.waitLoop()
	return nil
}

func (p *ptyAdapter) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if p.onData != nil {
				p.onData(data)
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *ptyAdapter) waitLoop() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.mu.Unlock()
	p.ptmx.Close()
	if p.onExit != nil {
		p.onExit(code)
	}
}

// write delivers bytes to the child's stdin. A no-op (returns false) if
// the PTY has not been spawned or the child has already exited (spec
// §4.C "writes before spawn or after exit are no-ops").
func (p *ptyAdapter) write(data []byte) bool {
	p.mu.Lock()
	ptmx, exited := p.ptmx, p.exited
	p.mu.Unlock()
	if ptmx == nil || exited {
		return false
	}
	_, err := ptmx.Write(data)
	return err == nil
}

// resize retunes the PTY's terminal size.
func (p *ptyAdapter) resize(cols, rows int) error {
	p.mu.Lock()
	ptmx := p.ptmx
	p.mu.Unlock()
	if ptmx == nil {
		return ErrNotSpawned
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// stop performs graceful-then-forceful termination (spec §9): SIGTERM the
// leader, wait gracePeriod, then SIGKILL the leader and its whole process
// group.
func (p *ptyAdapter) stop(gracePeriod time.Duration) {
	p.mu.Lock()
	cmd, ptmx, exited := p.cmd, p.ptmx, p.exited
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil || exited {
		return
	}

	pgid := cmd.Process.Pid
	cmd.Process.Signal(syscall.SIGTERM)

	timer := time.NewTimer(gracePeriod)
	defer timer.Stop()
	<-timer.C

	p.mu.Lock()
	stillRunning := !p.exited
	p.mu.Unlock()
	if !stillRunning {
		return
	}

	cmd.Process.Kill()
	_ = unix.Kill(-pgid, unix.SIGKILL)
	if ptmx != nil {
		ptmx.Close()
	}
}

// pid returns the child's process id, or 0 before spawn.
func (p *ptyAdapter) pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
