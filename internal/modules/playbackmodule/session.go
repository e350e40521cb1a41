// Package playbackmodule serves media streams over HTTP: ffmpeg-backed
// fragmented MP4 delivery, track listing, thumbnails and watch progress.
package playbackmodule

import (
	"sync"
	"time"

	"vetito/internal/transcoder"
)

// nowFunc is swapped out in tests.
var nowFunc = time.Now

// Session is one client's live stream. A client has at most one session per
// media file; starting a new stream with the same key replaces the old one.
type Session struct {
	Key           string    `json:"key"`
	MediaID       int64     `json:"media_id"`
	OffsetSeconds int       `json:"offset_seconds"`
	AudioTrack    int       `json:"audio_track"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`

	proc *transcoder.Process
}

// EstimatedPosition approximates the client's playhead: the seek offset
// plus wall time since the stream started. Used to persist progress when a
// session is replaced without a final progress report.
func (s *Session) EstimatedPosition() int64 {
	return int64(s.OffsetSeconds) + int64(time.Since(s.StartedAt).Seconds())
}

// SessionManager tracks live stream sessions by key.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty session table.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Take removes and returns the session for a key, or nil. The caller
// terminates the returned session's process before starting a replacement,
// so two processes never interleave output to one client.
func (m *SessionManager) Take(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[key]
	delete(m.sessions, key)
	return s
}

// Put registers a new live session.
func (m *SessionManager) Put(s *Session) {
	m.mu.Lock()
	m.sessions[s.Key] = s
	m.mu.Unlock()
}

// Release removes a session only if it still owns the given process. A
// session replaced mid-stream must not remove its successor.
func (m *SessionManager) Release(key string, proc *transcoder.Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok && s.proc == proc {
		delete(m.sessions, key)
	}
}

// Active returns a snapshot of live sessions.
func (m *SessionManager) Active() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// ForMedia returns the live session for one media file, or nil.
func (m *SessionManager) ForMedia(mediaID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.MediaID == mediaID {
			cp := *s
			return &cp
		}
	}
	return nil
}
