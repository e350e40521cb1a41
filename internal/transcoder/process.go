package transcoder

import (
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process is one live ffmpeg invocation producing a stream on stdout.
type Process struct {
	cmd    *exec.Cmd
	stdout io.Reader
	grace  time.Duration

	exited   chan struct{}
	waitOnce sync.Once
	waitErr  error
	termOnce sync.Once

	onExit func(*Process)
}

// PID returns the process id, or 0 if the process never started.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Output is the fragmented MP4 byte stream.
func (p *Process) Output() io.Reader {
	return p.stdout
}

// Wait reaps the process after the output has been fully consumed. Safe to
// call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
		if p.onExit != nil {
			p.onExit(p)
		}
	})
	return p.waitErr
}

// Terminate asks the process to exit with SIGTERM and escalates to SIGKILL
// after the grace period. Idempotent; calling it on an already-exited
// process is a no-op.
func (p *Process) Terminate() {
	p.termOnce.Do(func() {
		select {
		case <-p.exited:
			return
		default:
		}
		if p.cmd.Process == nil {
			return
		}

		_ = p.cmd.Process.Signal(syscall.SIGTERM)

		select {
		case <-p.exited:
		case <-time.After(p.grace):
			_ = p.cmd.Process.Kill()
		}
	})
}
