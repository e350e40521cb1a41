package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"vetito/internal/database"
	"vetito/internal/events"
	"vetito/internal/metadata"
	"vetito/internal/metrics"
	"vetito/internal/subtitles"
)

// ErrNoEpisodes is returned when a batch request matches no episodes.
var ErrNoEpisodes = errors.New("no episodes found for batch")

// Engine runs one subtitle generation. Satisfied by subtitles.Engine.
type Engine interface {
	Generate(ctx context.Context, req subtitles.GenerateRequest, progress subtitles.ProgressFunc) (*subtitles.GenerateResult, error)
}

// MediaResolver looks media up for job submission. Satisfied by
// mediastore.Store.
type MediaResolver interface {
	FindByID(id int64) (*database.MediaFile, error)
	EpisodesBySeries(seriesID int64) ([]database.MediaFile, error)
	EpisodesBySeason(seriesID int64, season int) ([]database.MediaFile, error)
}

// SubmitRequest describes a single generation job.
type SubmitRequest struct {
	MediaID        int64  `json:"media_id"`
	Language       string `json:"language,omitempty"`
	Translate      bool   `json:"translate"`
	TargetLanguage string `json:"target_language,omitempty"`
	AudioTrack     int    `json:"audio_track"`
	// AudioLanguage, when set, overrides AudioTrack by probing the media
	// and picking the matching track at execution time.
	AudioLanguage string `json:"audio_language,omitempty"`
}

// BatchRequest describes a batch over a series, optionally restricted to
// one season.
type BatchRequest struct {
	SeriesID       int64  `json:"series_id"`
	Season         *int   `json:"season,omitempty"`
	Language       string `json:"language,omitempty"`
	Translate      bool   `json:"translate"`
	TargetLanguage string `json:"target_language,omitempty"`
	AudioTrack     int    `json:"audio_track"`
	AudioLanguage  string `json:"audio_language,omitempty"`
}

// Prober inspects track layouts for audio language selection. Satisfied by
// metadata.Inspector; may be nil, which disables language-based selection.
type Prober interface {
	Probe(ctx context.Context, path string) (*metadata.MediaInfo, error)
}

// Orchestrator schedules generation jobs. Engine invocations are gated by a
// weighted semaphore sized to the configured concurrency; the inference
// backend is effectively single-capacity, so the default weight is 1.
type Orchestrator struct {
	store  *Store
	engine Engine
	media  MediaResolver
	prober Prober
	sem    *semaphore.Weighted
	bus    *events.Bus
	logger hclog.Logger

	baseCtx   context.Context
	cancelAll context.CancelFunc

	cancels cancelRegistry

	admitMu  sync.Mutex
	lastTurn chan struct{}
}

// admission keeps submissions starting in submission order: a job contends
// for an engine slot only after the previous submission has claimed one.
type admission struct {
	prev <-chan struct{}
	turn chan struct{}
}

func (o *Orchestrator) admit() *admission {
	o.admitMu.Lock()
	defer o.admitMu.Unlock()
	a := &admission{prev: o.lastTurn, turn: make(chan struct{})}
	o.lastTurn = a.turn
	return a
}

// NewOrchestrator creates a job orchestrator.
func NewOrchestrator(store *Store, engine Engine, media MediaResolver, prober Prober, concurrency int64, bus *events.Bus, logger hclog.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     store,
		engine:    engine,
		media:     media,
		prober:    prober,
		sem:       semaphore.NewWeighted(concurrency),
		bus:       bus,
		logger:    logger.Named("jobs"),
		baseCtx:   ctx,
		cancelAll: cancel,
		cancels:   newCancelRegistry(),
	}
}

// Shutdown cancels every running and queued job.
func (o *Orchestrator) Shutdown() {
	o.cancelAll()
}

// Submit queues one generation job and returns its initial status.
func (o *Orchestrator) Submit(req SubmitRequest) (*JobStatus, error) {
	media, err := o.media.FindByID(req.MediaID)
	if err != nil {
		return nil, err
	}

	job := o.newJob(req, "", media)
	o.store.putJob(job)
	o.logger.Info("queued subtitle job", "job_id", job.ID, "media_id", media.ID)

	go o.execute(job.ID, o.admit())

	cp := *job
	return &cp, nil
}

// Status returns one job's current state.
func (o *Orchestrator) Status(jobID string) (*JobStatus, error) {
	return o.store.Job(jobID)
}

// Active lists jobs that have not reached a terminal state.
func (o *Orchestrator) Active() []*JobStatus {
	return o.store.ActiveJobs()
}

// Cancel stops a job. Pending jobs are cancelled immediately and never
// start; processing jobs stop at the engine's next checkpoint. Cancelling a
// terminal job is a no-op.
func (o *Orchestrator) Cancel(jobID string) (*JobStatus, error) {
	updated, err := o.store.updateJob(jobID, func(j *JobStatus) {
		if j.State == StatePending {
			o.finishLocked(j, StateCancelled, "cancelled before start")
		}
	})
	if err != nil {
		return nil, err
	}

	o.cancels.cancel(jobID)

	if updated.State == StateCancelled {
		metrics.JobsTotal.WithLabelValues(StateCancelled).Inc()
		o.publishJobEvent(events.TypeJobCancelled, updated)
	}
	return updated, nil
}

// SubmitBatch queues one job per episode and processes them sequentially in
// (season, episode) order.
func (o *Orchestrator) SubmitBatch(req BatchRequest) (*BatchStatus, error) {
	var (
		episodes []database.MediaFile
		err      error
	)
	if req.Season != nil {
		episodes, err = o.media.EpisodesBySeason(req.SeriesID, *req.Season)
	} else {
		episodes, err = o.media.EpisodesBySeries(req.SeriesID)
	}
	if err != nil {
		return nil, err
	}
	if len(episodes) == 0 {
		return nil, fmt.Errorf("%w: series %d", ErrNoEpisodes, req.SeriesID)
	}

	batch := &BatchStatus{
		ID:        uuid.NewString(),
		SeriesID:  req.SeriesID,
		Season:    req.Season,
		State:     StatePending,
		Total:     len(episodes),
		CreatedAt: time.Now().UTC(),
	}

	sub := SubmitRequest{
		Language:       req.Language,
		Translate:      req.Translate,
		TargetLanguage: req.TargetLanguage,
		AudioTrack:     req.AudioTrack,
		AudioLanguage:  req.AudioLanguage,
	}
	for i := range episodes {
		sub.MediaID = episodes[i].ID
		job := o.newJob(sub, batch.ID, &episodes[i])
		o.store.putJob(job)
		batch.JobIDs = append(batch.JobIDs, job.ID)
	}
	o.store.putBatch(batch)
	o.logger.Info("queued subtitle batch",
		"batch_id", batch.ID, "series_id", req.SeriesID, "episodes", len(episodes))

	go o.runBatch(batch.ID)

	cp := *batch
	cp.JobIDs = append([]string(nil), batch.JobIDs...)
	return &cp, nil
}

// BatchStatus returns one batch's current state.
func (o *Orchestrator) BatchStatus(batchID string) (*BatchStatus, error) {
	return o.store.Batch(batchID)
}

// CancelBatch stops a batch: the running episode is cancelled at its next
// checkpoint, queued episodes never start.
func (o *Orchestrator) CancelBatch(batchID string) (*BatchStatus, error) {
	updated, err := o.store.updateBatch(batchID, func(b *BatchStatus) {
		if b.CompletedAt == nil {
			b.State = StateCancelled
		}
	})
	if err != nil {
		return nil, err
	}

	for _, jobID := range updated.JobIDs {
		if _, err := o.Cancel(jobID); err != nil {
			o.logger.Warn("failed to cancel batch job", "job_id", jobID, "error", err)
		}
	}
	return o.store.Batch(batchID)
}

func (o *Orchestrator) newJob(req SubmitRequest, batchID string, media *database.MediaFile) *JobStatus {
	return &JobStatus{
		ID:             uuid.NewString(),
		MediaID:        media.ID,
		MediaPath:      media.Path,
		BatchID:        batchID,
		Language:       req.Language,
		Translate:      req.Translate,
		TargetLanguage: req.TargetLanguage,
		AudioTrack:     req.AudioTrack,
		AudioLanguage:  req.AudioLanguage,
		State:          StatePending,
		Message:        "queued",
		CreatedAt:      time.Now().UTC(),
	}
}

// execute runs one job to a terminal state. Blocks until done. adm is nil
// for batch episodes, which are ordered by their batch loop instead.
func (o *Orchestrator) execute(jobID string, adm *admission) {
	var passTurn func()
	if adm != nil {
		passTurn = sync.OnceFunc(func() { close(adm.turn) })
		defer passTurn()
		if adm.prev != nil {
			// Wait our turn even if already cancelled; the chain must
			// stay intact for later submissions.
			<-adm.prev
		}
	}

	job, err := o.store.Job(jobID)
	if err != nil || job.Terminal() {
		return
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	o.cancels.add(jobID, cancel)
	defer o.cancels.remove(jobID)

	metrics.QueueDepth.Inc()
	acquireErr := o.sem.Acquire(ctx, 1)
	metrics.QueueDepth.Dec()
	if acquireErr != nil {
		o.finish(jobID, StateCancelled, "cancelled while queued", nil, nil)
		return
	}
	defer o.sem.Release(1)
	if passTurn != nil {
		// Slot claimed; the next submission may start contending.
		passTurn()
	}

	// The transition to processing is atomic with the terminal check so a
	// cancel landing between slot acquisition and here can never be undone.
	started := time.Now()
	current, err := o.store.updateJob(jobID, func(j *JobStatus) {
		if j.Terminal() {
			return
		}
		j.State = StateProcessing
		j.Message = "started"
		j.StartedAt = &started
	})
	if err != nil || current.State != StateProcessing {
		return
	}

	audioTrack := job.AudioTrack
	if job.AudioLanguage != "" && o.prober != nil {
		if info, probeErr := o.prober.Probe(ctx, job.MediaPath); probeErr == nil {
			audioTrack = metadata.SelectAudioTrack(info.Audio, job.AudioLanguage)
		} else {
			o.logger.Warn("audio language selection failed, using default track",
				"job_id", jobID, "error", probeErr)
		}
	}

	result, genErr := o.engine.Generate(ctx, subtitles.GenerateRequest{
		MediaPath:      job.MediaPath,
		AudioTrack:     audioTrack,
		Language:       job.Language,
		Translate:      job.Translate,
		TargetLanguage: job.TargetLanguage,
	}, func(pct int, msg string) {
		updated, _ := o.store.updateJob(jobID, func(j *JobStatus) {
			j.Progress = pct
			j.Message = msg
		})
		if updated != nil {
			o.publishJobEvent(events.TypeJobProgress, updated)
		}
	})

	switch {
	case genErr == nil:
		metrics.JobDuration.Observe(time.Since(started).Seconds())
		o.finish(jobID, StateCompleted, "completed", result, nil)
	case errors.Is(genErr, context.Canceled) || ctx.Err() != nil:
		// A cancelled job kills the external tool mid-run, and the engine
		// reports that as a step error; the job context decides whether
		// this run was cancelled or genuinely failed.
		o.finish(jobID, StateCancelled, "cancelled", nil, nil)
	default:
		o.finish(jobID, StateFailed, "failed", nil, genErr)
	}
}

// runBatch processes a batch's jobs one at a time. A failed episode does
// not stop the batch; the batch completes with the failure counted.
func (o *Orchestrator) runBatch(batchID string) {
	batch, err := o.store.updateBatch(batchID, func(b *BatchStatus) {
		if b.State == StatePending {
			b.State = StateProcessing
		}
	})
	if err != nil {
		return
	}

	for _, jobID := range batch.JobIDs {
		current, err := o.store.Batch(batchID)
		if err != nil || current.State == StateCancelled {
			break
		}

		o.execute(jobID, nil)

		job, err := o.store.Job(jobID)
		if err != nil {
			continue
		}
		updated, _ := o.store.updateBatch(batchID, func(b *BatchStatus) {
			switch job.State {
			case StateCompleted:
				b.Completed++
			case StateFailed:
				b.Failed++
				if b.Errors == nil {
					b.Errors = make(map[int64]string)
				}
				b.Errors[job.MediaID] = job.Error
			}
		})
		if updated != nil {
			o.publishBatchEvent(events.TypeBatchProgress, updated)
		}
	}

	now := time.Now().UTC()
	final, _ := o.store.updateBatch(batchID, func(b *BatchStatus) {
		b.CompletedAt = &now
		if b.State != StateCancelled {
			// Partial failure still counts as a completed batch.
			b.State = StateCompleted
		}
	})
	if final != nil {
		o.logger.Info("batch finished",
			"batch_id", batchID, "state", final.State,
			"completed", final.Completed, "failed", final.Failed)
		o.publishBatchEvent(events.TypeBatchProgress, final)
	}
}

// finish moves a job to a terminal state and publishes the matching event.
func (o *Orchestrator) finish(jobID, state, message string, result *subtitles.GenerateResult, cause error) {
	updated, err := o.store.updateJob(jobID, func(j *JobStatus) {
		if j.Terminal() {
			return
		}
		o.finishLocked(j, state, message)
		j.Result = result
		if cause != nil {
			j.Error = cause.Error()
		}
	})
	if err != nil || updated.State != state {
		return
	}

	metrics.JobsTotal.WithLabelValues(state).Inc()

	eventType := events.TypeJobCompleted
	switch state {
	case StateFailed:
		eventType = events.TypeJobFailed
		o.logger.Error("subtitle job failed", "job_id", jobID, "error", updated.Error)
	case StateCancelled:
		eventType = events.TypeJobCancelled
	default:
		o.logger.Info("subtitle job completed", "job_id", jobID, "media_id", updated.MediaID)
	}
	o.publishJobEvent(eventType, updated)
}

// finishLocked mutates a job already held under the store lock.
func (o *Orchestrator) finishLocked(j *JobStatus, state, message string) {
	now := time.Now().UTC()
	j.State = state
	j.Message = message
	j.CompletedAt = &now
	if state == StateCompleted {
		j.Progress = 100
	}
}

func (o *Orchestrator) publishJobEvent(eventType string, j *JobStatus) {
	o.bus.Publish(events.New(eventType, map[string]any{
		"job_id":   j.ID,
		"batch_id": j.BatchID,
		"media_id": j.MediaID,
		"state":    j.State,
		"progress": j.Progress,
		"message":  j.Message,
	}))
}

func (o *Orchestrator) publishBatchEvent(eventType string, b *BatchStatus) {
	o.bus.Publish(events.New(eventType, map[string]any{
		"batch_id":  b.ID,
		"series_id": b.SeriesID,
		"state":     b.State,
		"total":     b.Total,
		"completed": b.Completed,
		"failed":    b.Failed,
	}))
}
