package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrSpawnFailed wraps any failure to launch ffmpeg.
var ErrSpawnFailed = errors.New("failed to spawn ffmpeg")

// ErrStartupTimeout means ffmpeg launched but produced no output in time,
// which usually indicates a file it cannot read.
var ErrStartupTimeout = errors.New("ffmpeg produced no output before the startup timeout")

// commandContext is swapped out in tests to avoid spawning real ffmpeg.
var commandContext = exec.CommandContext

// Manager launches and tracks ffmpeg stream processes.
type Manager struct {
	ffmpegPath     string
	startupTimeout time.Duration
	terminateGrace time.Duration
	logger         hclog.Logger

	mu   sync.Mutex
	live map[int]*Process
}

// NewManager creates a process manager.
func NewManager(ffmpegPath string, startupTimeout, terminateGrace time.Duration, logger hclog.Logger) *Manager {
	return &Manager{
		ffmpegPath:     ffmpegPath,
		startupTimeout: startupTimeout,
		terminateGrace: terminateGrace,
		logger:         logger.Named("transcoder"),
		live:           make(map[int]*Process),
	}
}

// Start launches ffmpeg for the given spec and blocks until the process has
// produced its first output byte or the startup timeout elapses. The caller
// owns the returned process and must call Wait after draining Output.
func (m *Manager) Start(ctx context.Context, spec StartSpec) (*Process, error) {
	args := buildStreamArgs(spec)
	cmd := commandContext(ctx, m.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	proc := &Process{
		cmd:    cmd,
		grace:  m.terminateGrace,
		exited: make(chan struct{}),
		onExit: m.release,
	}

	m.logger.Info("started stream process",
		"pid", proc.PID(),
		"media", spec.MediaPath,
		"offset", spec.OffsetSeconds,
		"audio_track", spec.AudioTrack)

	first, err := m.awaitFirstByte(stdout)
	if err != nil {
		proc.stdout = stdout
		proc.Terminate()
		go proc.Wait()
		return nil, err
	}
	proc.stdout = io.MultiReader(first, stdout)

	m.mu.Lock()
	m.live[proc.PID()] = proc
	m.mu.Unlock()

	return proc, nil
}

// awaitFirstByte reads the first byte of output with a deadline. The byte is
// returned as a reader to prepend to the rest of the stream.
func (m *Manager) awaitFirstByte(r io.Reader) (io.Reader, error) {
	type readResult struct {
		n   int
		err error
	}

	buf := make([]byte, 1)
	ch := make(chan readResult, 1)
	go func() {
		n, err := r.Read(buf)
		ch <- readResult{n, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, res.err)
		}
		return bytes.NewReader(buf[:res.n]), nil
	case <-time.After(m.startupTimeout):
		return nil, ErrStartupTimeout
	}
}

// ActiveCount reports the number of live stream processes.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Shutdown terminates every live process. Used on server exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	procs := make([]*Process, 0, len(m.live))
	for _, p := range m.live {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	for _, p := range procs {
		m.logger.Info("terminating stream process on shutdown", "pid", p.PID())
		p.Terminate()
		go p.Wait()
	}
}

func (m *Manager) release(p *Process) {
	m.mu.Lock()
	delete(m.live, p.PID())
	m.mu.Unlock()
}
