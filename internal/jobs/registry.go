package jobs

import (
	"context"
	"sync"
)

// cancelRegistry maps live job ids to their context cancel functions.
type cancelRegistry struct {
	mu sync.Mutex
	m  map[string]context.CancelFunc
}

func newCancelRegistry() cancelRegistry {
	return cancelRegistry{m: make(map[string]context.CancelFunc)}
}

func (r *cancelRegistry) add(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.m[jobID] = cancel
	r.mu.Unlock()
}

func (r *cancelRegistry) remove(jobID string) {
	r.mu.Lock()
	delete(r.m, jobID)
	r.mu.Unlock()
}

// cancel invokes a job's cancel function if the job is live. No-op for
// unknown or already finished jobs.
func (r *cancelRegistry) cancel(jobID string) {
	r.mu.Lock()
	fn := r.m[jobID]
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}
