package playbackmodule

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"vetito/internal/database"
	"vetito/internal/events"
	"vetito/internal/mediastore"
	"vetito/internal/metadata"
	"vetito/internal/metrics"
	"vetito/internal/subtitles"
	"vetito/internal/transcoder"
)

// Prober inspects media track layouts. Satisfied by metadata.Inspector.
type Prober interface {
	Probe(ctx context.Context, path string) (*metadata.MediaInfo, error)
	CacheSize() int
}

// APIHandler wires the playback endpoints.
type APIHandler struct {
	media     *mediastore.Store
	inspector Prober
	manager   *transcoder.Manager
	sessions  *SessionManager
	bus       *events.Bus
	logger    hclog.Logger
}

// NewAPIHandler creates the playback handler.
func NewAPIHandler(media *mediastore.Store, inspector Prober, manager *transcoder.Manager, bus *events.Bus, logger hclog.Logger) *APIHandler {
	return &APIHandler{
		media:     media,
		inspector: inspector,
		manager:   manager,
		sessions:  NewSessionManager(),
		bus:       bus,
		logger:    logger.Named("playback"),
	}
}

// Sessions exposes the live session table for diagnostics.
func (h *APIHandler) Sessions() *SessionManager {
	return h.sessions
}

// RegisterRoutes mounts the playback endpoints.
func (h *APIHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/stream/:id", h.Stream)
	r.GET("/stream/:id/diagnostic", h.Diagnostic)
	r.GET("/media/:id/tracks", h.Tracks)
	r.GET("/media/:id/thumbnail", h.Thumbnail)
	r.GET("/progress/:id", h.GetProgress)
	r.POST("/progress/:id", h.SaveProgress)
}

func (h *APIHandler) lookupMedia(c *gin.Context) *database.MediaFile {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid media id"})
		return nil
	}
	media, err := h.media.FindByID(id)
	if err != nil {
		if errors.Is(err, mediastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil
	}
	return media
}

// Stream starts an ffmpeg process for the requested media and relays its
// fragmented MP4 output to the client. Seeking and audio track switches are
// expressed as new requests; the previous process for the same session is
// terminated before the new one starts relaying.
func (h *APIHandler) Stream(c *gin.Context) {
	media := h.lookupMedia(c)
	if media == nil {
		return
	}

	offset, _ := strconv.Atoi(c.DefaultQuery("start", "0"))
	if offset < 0 {
		offset = 0
	}

	info, err := h.inspector.Probe(c.Request.Context(), media.Path)
	if err != nil {
		// Probe failure means tracks unknown, not unplayable: stream the
		// first audio track and transcode everything.
		h.logger.Warn("probe failed, streaming with defaults",
			"media_id", media.ID, "error", err)
		metrics.StreamsStarted.WithLabelValues("probe_error").Inc()
		info = &metadata.MediaInfo{}
	}
	metrics.ProbeCacheSize.Set(float64(h.inspector.CacheSize()))

	audioTrack := metadata.SelectAudioTrack(info.Audio, c.Query("lang"))
	if v := c.Query("audio"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(info.Audio) {
			audioTrack = n
		}
	}

	var videoCodec string
	if len(info.Video) > 0 {
		videoCodec = info.Video[0].Codec
	}
	var audioCodec string
	for _, t := range info.Audio {
		if t.Index == audioTrack {
			audioCodec = t.Codec
		}
	}

	sessionKey := c.Query("session")
	if sessionKey == "" {
		sessionKey = c.ClientIP() + "-" + c.Param("id")
	}

	// Replace any previous stream for this session before producing new
	// output, so the client never sees interleaved fragments.
	if old := h.sessions.Take(sessionKey); old != nil {
		h.logger.Info("replacing stream session",
			"session", sessionKey, "old_pid", old.PID, "media_id", old.MediaID)
		if err := h.media.SaveProgress(old.MediaID, old.EstimatedPosition(), false); err != nil {
			h.logger.Warn("failed to persist progress for replaced session", "error", err)
		}
		old.proc.Terminate()
		h.bus.Publish(events.New(events.TypeStreamReplaced, map[string]any{
			"session": sessionKey, "media_id": old.MediaID,
		}))
	}

	proc, err := h.manager.Start(c.Request.Context(), transcoder.StartSpec{
		MediaPath:     media.Path,
		OffsetSeconds: offset,
		AudioTrack:    audioTrack,
		VideoCodec:    videoCodec,
		AudioCodec:    audioCodec,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, transcoder.ErrStartupTimeout) {
			status = http.StatusGatewayTimeout
		}
		metrics.StreamsStarted.WithLabelValues("spawn_error").Inc()
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	sess := &Session{
		Key:           sessionKey,
		MediaID:       media.ID,
		OffsetSeconds: offset,
		AudioTrack:    audioTrack,
		PID:           proc.PID(),
		StartedAt:     nowFunc(),
		proc:          proc,
	}
	h.sessions.Put(sess)
	metrics.StreamsStarted.WithLabelValues("ok").Inc()
	metrics.ActiveStreams.Set(float64(h.manager.ActiveCount()))
	h.bus.Publish(events.New(events.TypeStreamStarted, map[string]any{
		"session": sessionKey, "media_id": media.ID, "offset": offset,
	}))

	c.Header("Content-Type", "video/mp4")
	c.Header("X-Stream-Start-Offset", strconv.Itoa(offset))
	c.Status(http.StatusOK)

	// Client disconnect cancels the request context, which kills ffmpeg;
	// the copy then ends on EOF.
	_, copyErr := io.Copy(c.Writer, proc.Output())
	if copyErr != nil {
		h.logger.Debug("stream relay ended", "session", sessionKey, "error", copyErr)
	}
	_ = proc.Wait()

	h.sessions.Release(sessionKey, proc)
	metrics.ActiveStreams.Set(float64(h.manager.ActiveCount()))
	h.bus.Publish(events.New(events.TypeStreamStopped, map[string]any{
		"session": sessionKey, "media_id": media.ID,
	}))
}

// Tracks lists the selectable audio tracks and available subtitles for a
// media file, combined with its watch state. External sidecar files come
// before embedded subtitle tracks; subtitle indexes address that combined
// list.
func (h *APIHandler) Tracks(c *gin.Context) {
	media := h.lookupMedia(c)
	if media == nil {
		return
	}

	info, err := h.inspector.Probe(c.Request.Context(), media.Path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Keep the library row's probe summary current; watched derivation and
	// the thumbnail default both read the stored duration.
	if info.DurationSeconds > 0 && info.DurationSeconds != media.DurationSeconds {
		var videoCodec, audioCodec string
		if len(info.Video) > 0 {
			videoCodec = info.Video[0].Codec
		}
		if len(info.Audio) > 0 {
			audioCodec = info.Audio[0].Codec
		}
		if err := h.media.UpdateProbeSummary(media.ID, info.DurationSeconds, info.Container, videoCodec, audioCodec); err != nil {
			h.logger.Warn("failed to store probe summary", "media_id", media.ID, "error", err)
		} else {
			media.DurationSeconds = info.DurationSeconds
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"media_id":         media.ID,
		"duration":         info.DurationSeconds,
		"current_position": media.CurrentPosition,
		"is_watched":       media.IsWatched,
		"container":        info.Container,
		"video":            info.Video,
		"audio_tracks":     info.Audio,
		"subtitle_tracks":  subtitles.ListTracks(media.Path, info.Subtitles),
	})
}

// Thumbnail extracts one frame as JPEG. Defaults to 10% into the file when
// no timestamp is given.
func (h *APIHandler) Thumbnail(c *gin.Context) {
	media := h.lookupMedia(c)
	if media == nil {
		return
	}

	at := -1
	if v := c.Query("timestamp"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			at = n
		}
	}
	if at < 0 {
		at = int(media.DurationSeconds * 0.1)
	}
	width, _ := strconv.Atoi(c.DefaultQuery("width", "0"))

	data, err := h.manager.Thumbnail(c.Request.Context(), media.Path, at, width)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Diagnostic reports the live stream state for one media file.
func (h *APIHandler) Diagnostic(c *gin.Context) {
	media := h.lookupMedia(c)
	if media == nil {
		return
	}

	resp := gin.H{
		"media_id":       media.ID,
		"active":         false,
		"active_streams": h.manager.ActiveCount(),
	}
	if sess := h.sessions.ForMedia(media.ID); sess != nil {
		resp["active"] = true
		resp["session"] = sess
	}
	c.JSON(http.StatusOK, resp)
}

// GetProgress returns the stored watch position.
func (h *APIHandler) GetProgress(c *gin.Context) {
	media := h.lookupMedia(c)
	if media == nil {
		return
	}

	progress, err := h.media.GetProgress(media.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, progress)
}

// SaveProgress records a playback position and replies 204.
func (h *APIHandler) SaveProgress(c *gin.Context) {
	media := h.lookupMedia(c)
	if media == nil {
		return
	}

	var body struct {
		Position  int64 `json:"current_position_seconds"`
		IsWatched bool  `json:"is_watched"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	if err := h.media.SaveProgress(media.ID, body.Position, body.IsWatched); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
