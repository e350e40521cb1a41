// Package subtitlemodule exposes the subtitle HTTP surface: track content
// delivery, capability probing and generation job management.
package subtitlemodule

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"vetito/internal/jobs"
	"vetito/internal/mediastore"
	"vetito/internal/metadata"
	"vetito/internal/subtitles"
)

// Prober inspects media track layouts. Satisfied by metadata.Inspector.
type Prober interface {
	Probe(ctx context.Context, path string) (*metadata.MediaInfo, error)
}

// APIHandler wires the subtitle endpoints.
type APIHandler struct {
	media        *mediastore.Store
	inspector    Prober
	engine       *subtitles.Engine
	orchestrator *jobs.Orchestrator
	ffmpegPath   string
	logger       hclog.Logger
}

// NewAPIHandler creates the subtitle handler.
func NewAPIHandler(media *mediastore.Store, inspector Prober, engine *subtitles.Engine, orchestrator *jobs.Orchestrator, ffmpegPath string, logger hclog.Logger) *APIHandler {
	return &APIHandler{
		media:        media,
		inspector:    inspector,
		engine:       engine,
		orchestrator: orchestrator,
		ffmpegPath:   ffmpegPath,
		logger:       logger.Named("subtitles"),
	}
}

// RegisterRoutes mounts the subtitle endpoints. The router cannot mix
// static and parameter segments at the same depth, so everything under
// /subtitles is registered parameterized and dispatched by segment value;
// the externally visible paths are unchanged.
func (h *APIHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/subtitles/:a", h.dispatchOne)
	r.GET("/subtitles/:a/:b", h.dispatchTwoGet)
	r.POST("/subtitles/:a/:b", h.dispatchTwoPost)
	r.DELETE("/subtitles/:a/:b", h.dispatchTwoDelete)
	r.GET("/subtitles/:a/:b/:c", h.dispatchThreeGet)
	r.DELETE("/subtitles/:a/:b/:c", h.dispatchThreeDelete)
}

// GET /subtitles/capabilities | /subtitles/active
func (h *APIHandler) dispatchOne(c *gin.Context) {
	switch c.Param("a") {
	case "capabilities":
		h.Capabilities(c)
	case "active":
		h.ActiveJobs(c)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}

// GET /subtitles/jobs/:jobId | /subtitles/:mediaId/:index
func (h *APIHandler) dispatchTwoGet(c *gin.Context) {
	if c.Param("a") == "jobs" {
		h.JobStatus(c, c.Param("b"))
		return
	}
	h.Content(c)
}

// POST /subtitles/batch/generate | /subtitles/:mediaId/generate
func (h *APIHandler) dispatchTwoPost(c *gin.Context) {
	if c.Param("b") != "generate" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if c.Param("a") == "batch" {
		h.GenerateBatch(c)
		return
	}
	h.Generate(c)
}

// DELETE /subtitles/jobs/:jobId
func (h *APIHandler) dispatchTwoDelete(c *gin.Context) {
	if c.Param("a") != "jobs" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.CancelJob(c, c.Param("b"))
}

// GET /subtitles/batch/jobs/:jobId
func (h *APIHandler) dispatchThreeGet(c *gin.Context) {
	if c.Param("a") != "batch" || c.Param("b") != "jobs" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.BatchStatus(c, c.Param("c"))
}

// DELETE /subtitles/batch/jobs/:jobId
func (h *APIHandler) dispatchThreeDelete(c *gin.Context) {
	if c.Param("a") != "batch" || c.Param("b") != "jobs" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.CancelBatch(c, c.Param("c"))
}

// Capabilities reports whether the generation pipeline is usable.
func (h *APIHandler) Capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Capabilities(c.Request.Context()))
}

// ActiveJobs lists jobs that are queued or running.
func (h *APIHandler) ActiveJobs(c *gin.Context) {
	active := h.orchestrator.Active()
	c.JSON(http.StatusOK, gin.H{"count": len(active), "jobs": active})
}

func (h *APIHandler) lookupMedia(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid media id"})
		return 0, false
	}
	return id, true
}

// Content serves one subtitle track as WebVTT, shifted by the offset query
// parameter to match a stream started mid-file. The index addresses the
// combined list: external sidecar files first, then embedded streams.
func (h *APIHandler) Content(c *gin.Context) {
	mediaID, ok := h.lookupMedia(c, "a")
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("b"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subtitle index"})
		return
	}

	media, err := h.media.FindByID(mediaID)
	if err != nil {
		if errors.Is(err, mediastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	info, err := h.inspector.Probe(c.Request.Context(), media.Path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	track, err := subtitles.ResolveTrack(media.Path, info.Subtitles, index)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	segments, err := subtitles.LoadTrack(c.Request.Context(), h.ffmpegPath, media.Path, track)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	offsetSeconds, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	vtt := subtitles.ToVTT(segments, time.Duration(offsetSeconds)*time.Second)
	c.Data(http.StatusOK, "text/vtt; charset=utf-8", []byte(vtt))
}

type generateBody struct {
	AudioTrackIndex int     `json:"audio_track_index"`
	SourceLanguage  *string `json:"source_language"`
	TargetLanguage  *string `json:"target_language"`
}

// Generate queues a generation job for one media file.
func (h *APIHandler) Generate(c *gin.Context) {
	mediaID, ok := h.lookupMedia(c, "a")
	if !ok {
		return
	}

	var body generateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	req := jobs.SubmitRequest{
		MediaID:    mediaID,
		AudioTrack: body.AudioTrackIndex,
	}
	if body.SourceLanguage != nil {
		req.Language = *body.SourceLanguage
	}
	if body.TargetLanguage != nil {
		req.Translate = true
		req.TargetLanguage = *body.TargetLanguage
	}

	job, err := h.orchestrator.Submit(req)
	if err != nil {
		if errors.Is(err, mediastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

// JobStatus returns a job snapshot.
func (h *APIHandler) JobStatus(c *gin.Context, jobID string) {
	job, err := h.orchestrator.Status(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob cancels a job; cancelling a finished job is a no-op.
func (h *APIHandler) CancelJob(c *gin.Context, jobID string) {
	job, err := h.orchestrator.Cancel(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// Batch target types.
const (
	targetSeries = "series"
	targetSeason = "season"
)

type batchBody struct {
	TargetType             string  `json:"target_type"`
	TargetID               int64   `json:"target_id"`
	SeasonNumber           *int    `json:"season_number"`
	PreferredAudioLanguage *string `json:"preferred_audio_language"`
	SourceLanguage         *string `json:"source_language"`
	TargetLanguage         *string `json:"target_language"`
}

// GenerateBatch queues one job per episode of a series or season.
func (h *APIHandler) GenerateBatch(c *gin.Context) {
	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	req := jobs.BatchRequest{SeriesID: body.TargetID}
	switch body.TargetType {
	case targetSeries:
	case targetSeason:
		if body.SeasonNumber == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "season_number required for season batches"})
			return
		}
		req.Season = body.SeasonNumber
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_type must be series or season"})
		return
	}

	if body.PreferredAudioLanguage != nil {
		req.AudioLanguage = *body.PreferredAudioLanguage
	}
	if body.SourceLanguage != nil {
		req.Language = *body.SourceLanguage
	}
	if body.TargetLanguage != nil {
		req.Translate = true
		req.TargetLanguage = *body.TargetLanguage
	}

	batch, err := h.orchestrator.SubmitBatch(req)
	if err != nil {
		if errors.Is(err, jobs.ErrNoEpisodes) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": batch.ID})
}

// BatchStatus returns a batch snapshot.
func (h *APIHandler) BatchStatus(c *gin.Context, batchID string) {
	batch, err := h.orchestrator.BatchStatus(batchID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// CancelBatch cancels a batch: the running episode stops at its next
// checkpoint, queued episodes never start.
func (h *APIHandler) CancelBatch(c *gin.Context, batchID string) {
	batch, err := h.orchestrator.CancelBatch(batchID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, batch)
}
