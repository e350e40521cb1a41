package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vetito/internal/config"
	"vetito/internal/database"
	"vetito/internal/events"
	"vetito/internal/jobs"
	"vetito/internal/mediastore"
	"vetito/internal/metadata"
	"vetito/internal/modules/playbackmodule"
	"vetito/internal/modules/subtitlemodule"
	"vetito/internal/subtitles"
	"vetito/internal/transcoder"
)

type staticProber struct{}

func (staticProber) Probe(ctx context.Context, path string) (*metadata.MediaInfo, error) {
	return &metadata.MediaInfo{DurationSeconds: 100}, nil
}

func (staticProber) CacheSize() int { return 0 }

type noopEngine struct{}

func (noopEngine) Generate(ctx context.Context, req subtitles.GenerateRequest, progress subtitles.ProgressFunc) (*subtitles.GenerateResult, error) {
	return &subtitles.GenerateResult{}, nil
}

func newTestRouter(t *testing.T) (*Deps, http.Handler) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.MediaFile{}))
	store := mediastore.New(db)

	logger := hclog.NewNullLogger()
	bus := events.NewBus()
	manager := transcoder.NewManager("ffmpeg", time.Second, time.Second, logger)
	orch := jobs.NewOrchestrator(jobs.NewStore(logger), noopEngine{}, store, nil, 1, bus, logger)
	t.Cleanup(orch.Shutdown)

	dir := t.TempDir()
	model := filepath.Join(dir, "model.bin")
	require.NoError(t, os.WriteFile(model, []byte("w"), 0o644))
	engine := subtitles.NewEngine(
		subtitles.NewTranscriber("ffmpeg", "whisper-cli", model, time.Minute, logger),
		subtitles.NewOllamaClient("http://127.0.0.1:1", "llama3.1", logger),
		"fpcalc", false, logger)

	deps := Deps{
		Playback:     playbackmodule.NewAPIHandler(store, staticProber{}, manager, bus, logger),
		Subtitles:    subtitlemodule.NewAPIHandler(store, staticProber{}, engine, orch, "ffmpeg", logger),
		Orchestrator: orch,
		Transcoder:   manager,
		Bus:          bus,
		Logger:       logger,
	}
	return &deps, NewRouter(config.Defaults(), deps)
}

func TestHealth(t *testing.T) {
	_, router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsExposed(t *testing.T) {
	_, router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSystemStatus(t *testing.T) {
	_, router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/system/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"active_streams":0`)
	assert.Contains(t, body, `"active_jobs":0`)
	assert.Contains(t, body, `"goroutines"`)
}

func TestCORSPreflightAllowed(t *testing.T) {
	_, router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/health", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventSocketRelaysBusEvents(t *testing.T) {
	deps, router := newTestRouter(t)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// The subscription is registered during the upgrade handshake; wait
	// until the bus sees it before publishing.
	require.Eventually(t, func() bool {
		return deps.Bus.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	deps.Bus.Publish(events.New(events.TypeJobProgress, map[string]any{"job_id": "j1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.TypeJobProgress, got.Type)
	assert.Equal(t, "j1", got.Data["job_id"])
}
