// Package jobs runs subtitle generation in the background: single jobs and
// per-series batches, with bounded engine concurrency, cancellation and
// progress tracking.
package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"vetito/internal/subtitles"
)

// Job states. pending jobs wait for an engine slot; processing jobs hold
// one; the rest are terminal.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateCancelled  = "cancelled"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// ErrBatchNotFound is returned for unknown batch ids.
var ErrBatchNotFound = errors.New("batch not found")

// JobStatus is the tracked state of one generation job.
type JobStatus struct {
	ID        string `json:"id"`
	MediaID   int64  `json:"media_id"`
	MediaPath string `json:"-"`
	BatchID   string `json:"batch_id,omitempty"`

	Language       string `json:"language,omitempty"`
	Translate      bool   `json:"translate"`
	TargetLanguage string `json:"target_language,omitempty"`
	AudioTrack     int    `json:"audio_track"`
	AudioLanguage  string `json:"audio_language,omitempty"`

	State    string `json:"state"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`

	Result *subtitles.GenerateResult `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job reached a final state.
func (j *JobStatus) Terminal() bool {
	switch j.State {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// BatchStatus is the tracked state of one batch of episode jobs.
type BatchStatus struct {
	ID       string `json:"id"`
	SeriesID int64  `json:"series_id"`
	Season   *int   `json:"season,omitempty"`

	State     string           `json:"state"`
	JobIDs    []string         `json:"job_ids"`
	Total     int              `json:"total"`
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
	Errors    map[int64]string `json:"errors,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Store holds job and batch state in memory. Jobs do not survive a restart;
// a restarted server simply has an empty queue.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*JobStatus
	batches map[string]*BatchStatus
	logger  hclog.Logger
}

// NewStore creates an empty job store.
func NewStore(logger hclog.Logger) *Store {
	return &Store{
		jobs:    make(map[string]*JobStatus),
		batches: make(map[string]*BatchStatus),
		logger:  logger.Named("jobstore"),
	}
}

func (s *Store) putJob(j *JobStatus) {
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
}

func (s *Store) putBatch(b *BatchStatus) {
	s.mu.Lock()
	s.batches[b.ID] = b
	s.mu.Unlock()
}

// Job returns a copy of one job's status.
func (s *Store) Job(id string) (*JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// Batch returns a copy of one batch's status.
func (s *Store) Batch(id string) (*BatchStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	cp := copyBatch(b)
	return cp, nil
}

// updateJob applies fn to a job under the write lock and returns the
// updated copy.
func (s *Store) updateJob(id string, fn func(*JobStatus)) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	fn(j)
	cp := *j
	return &cp, nil
}

func (s *Store) updateBatch(id string, fn func(*BatchStatus)) (*BatchStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	fn(b)
	return copyBatch(b), nil
}

func copyBatch(b *BatchStatus) *BatchStatus {
	cp := *b
	cp.JobIDs = append([]string(nil), b.JobIDs...)
	if b.Errors != nil {
		cp.Errors = make(map[int64]string, len(b.Errors))
		for id, msg := range b.Errors {
			cp.Errors[id] = msg
		}
	}
	return &cp
}

// ActiveJobs lists pending and processing jobs, oldest first.
func (s *Store) ActiveJobs() []*JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*JobStatus
	for _, j := range s.jobs {
		if !j.Terminal() {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// StartCleanup prunes terminal jobs and batches older than retention until
// the context ends.
func (s *Store) StartCleanup(ctx context.Context, retention, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup(retention)
			}
		}
	}()
}

func (s *Store) cleanup(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.jobs {
		if j.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	for id, b := range s.batches {
		if b.CompletedAt != nil && b.CompletedAt.Before(cutoff) {
			delete(s.batches, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("pruned finished jobs", "count", removed)
	}
}
