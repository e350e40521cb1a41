package playbackmodule

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vetito/internal/database"
	"vetito/internal/events"
	"vetito/internal/mediastore"
	"vetito/internal/metadata"
	"vetito/internal/transcoder"
)

type fakeProber struct {
	info *metadata.MediaInfo
	err  error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*metadata.MediaInfo, error) {
	return f.info, f.err
}

func (f *fakeProber) CacheSize() int { return 0 }

func defaultProbeInfo() *metadata.MediaInfo {
	return &metadata.MediaInfo{
		DurationSeconds: 3600,
		Container:       "matroska,webm",
		Video:           []metadata.VideoTrack{{Index: 0, Codec: "h264", Width: 1920, Height: 1080}},
		Audio: []metadata.AudioTrack{
			{Index: 0, Codec: "aac", Language: "eng", Default: true},
			{Index: 1, Codec: "ac3", Language: "hun"},
		},
		Subtitles: []metadata.SubtitleTrack{
			{Index: 0, Codec: "subrip", Language: "eng"},
		},
	}
}

// fakeFFmpeg writes a stub executable that records its arguments and emits
// the given shell body.
func fakeFFmpeg(t *testing.T, body string) (binPath, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	binPath = filepath.Join(dir, "ffmpeg")
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" >> %q\n%s\n", argsFile, body)
	require.NoError(t, os.WriteFile(binPath, []byte(script), 0o755))
	return binPath, argsFile
}

type fixture struct {
	router  *gin.Engine
	handler *APIHandler
	store   *mediastore.Store
	media   *database.MediaFile
	prober  *fakeProber
	args    string
}

func newFixture(t *testing.T, ffmpegBody string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.MediaFile{}))
	store := mediastore.New(db)

	mediaPath := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(mediaPath, []byte("x"), 0o644))
	media := &database.MediaFile{
		ID: 1, Path: mediaPath, Title: "Movie",
		MediaType: database.MediaTypeMovie, DurationSeconds: 3600,
	}
	require.NoError(t, db.Create(media).Error)

	bin, argsFile := fakeFFmpeg(t, ffmpegBody)
	manager := transcoder.NewManager(bin, 2*time.Second, 200*time.Millisecond, hclog.NewNullLogger())
	t.Cleanup(manager.Shutdown)

	prober := &fakeProber{info: defaultProbeInfo()}
	h := NewAPIHandler(store, prober, manager, events.NewBus(), hclog.NewNullLogger())
	router := gin.New()
	h.RegisterRoutes(router)

	return &fixture{router: router, handler: h, store: store, media: media, prober: prober, args: argsFile}
}

func (f *fixture) do(method, url, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStreamRelaysOutput(t *testing.T) {
	f := newFixture(t, "printf 'stream-bytes'")

	w := f.do(http.MethodGet, "/stream/1?start=30", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Equal(t, "30", w.Header().Get("X-Stream-Start-Offset"))
	assert.Equal(t, "stream-bytes", w.Body.String())
}

func TestStreamUnknownMedia(t *testing.T) {
	f := newFixture(t, "printf x")

	w := f.do(http.MethodGet, "/stream/99", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamAudioSelection(t *testing.T) {
	f := newFixture(t, "printf x")

	// lang picks the Hungarian track (type-relative index 1).
	w := f.do(http.MethodGet, "/stream/1?lang=hu", "")
	require.Equal(t, http.StatusOK, w.Code)

	args, err := os.ReadFile(f.args)
	require.NoError(t, err)
	assert.Contains(t, string(args), "0:a:1")

	// Explicit audio index overrides language.
	w = f.do(http.MethodGet, "/stream/1?lang=hu&audio=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	args, err = os.ReadFile(f.args)
	require.NoError(t, err)
	assert.Contains(t, string(args), "0:a:0")
}

func TestStreamSeekOffsetInArgs(t *testing.T) {
	f := newFixture(t, "printf x")

	w := f.do(http.MethodGet, "/stream/1?start=125", "")
	require.Equal(t, http.StatusOK, w.Code)

	args, err := os.ReadFile(f.args)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-ss 125")
}

// A failed probe means tracks unknown, not unplayable: the stream falls
// back to the first audio track and transcodes everything.
func TestStreamProbeFailureFallsBackToDefaults(t *testing.T) {
	f := newFixture(t, "printf 'stream-bytes'")
	f.prober.info = nil
	f.prober.err = metadata.ErrProbeFailed

	w := f.do(http.MethodGet, "/stream/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stream-bytes", w.Body.String())

	args, err := os.ReadFile(f.args)
	require.NoError(t, err)
	assert.Contains(t, string(args), "0:a:0")
	assert.Contains(t, string(args), "libx264")
	assert.Contains(t, string(args), "-c:a aac")
}

func TestStreamSessionReplacement(t *testing.T) {
	f := newFixture(t, "printf x; sleep 1")

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- f.do(http.MethodGet, "/stream/1?session=abc&start=600", "")
	}()

	// Wait for the first session to register.
	require.Eventually(t, func() bool {
		return len(f.handler.Sessions().Active()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	w2 := f.do(http.MethodGet, "/stream/1?session=abc&start=700", "")
	assert.Equal(t, http.StatusOK, w2.Code)

	select {
	case w1 := <-first:
		assert.Equal(t, http.StatusOK, w1.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("replaced stream never finished")
	}

	// Replacing the session persisted the old playhead estimate.
	p, err := f.store.GetProgress(1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Position, int64(600))
}

func TestTracksListsExternalBeforeEmbedded(t *testing.T) {
	f := newFixture(t, "printf x")

	// Sidecar next to the media file.
	sidecar := strings.TrimSuffix(f.media.Path, ".mkv") + ".hu.srt"
	require.NoError(t, os.WriteFile(sidecar, []byte("1\n00:00:01,000 --> 00:00:02,000\nhi\n"), 0o644))

	w := f.do(http.MethodGet, "/media/1/tracks", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `"duration":3600`)
	extPos := strings.Index(body, `"type":"external"`)
	embPos := strings.Index(body, `"type":"embedded"`)
	require.GreaterOrEqual(t, extPos, 0)
	require.GreaterOrEqual(t, embPos, 0)
	assert.Less(t, extPos, embPos)
	assert.Contains(t, body, `"language":"hu"`)
}

// A probe refreshes the stored container summary so watched derivation and
// thumbnail defaults see the real duration.
func TestTracksStoresProbeSummary(t *testing.T) {
	f := newFixture(t, "printf x")
	// Row predates any probe.
	require.NoError(t, f.store.UpdateProbeSummary(1, 0, "", "", ""))

	w := f.do(http.MethodGet, "/media/1/tracks", "")
	require.Equal(t, http.StatusOK, w.Code)

	m, err := f.store.FindByID(1)
	require.NoError(t, err)
	assert.Equal(t, float64(3600), m.DurationSeconds)
	assert.Equal(t, "matroska,webm", m.Container)
	assert.Equal(t, "h264", m.VideoCodec)
	assert.Equal(t, "aac", m.AudioCodec)
}

func TestThumbnail(t *testing.T) {
	f := newFixture(t, "printf 'jpeg-data'")

	w := f.do(http.MethodGet, "/media/1/thumbnail?timestamp=60&width=320", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg-data", w.Body.String())

	args, err := os.ReadFile(f.args)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-ss 60")
	assert.Contains(t, string(args), "-vframes 1")
}

func TestDiagnosticInactive(t *testing.T) {
	f := newFixture(t, "printf x")

	w := f.do(http.MethodGet, "/stream/1/diagnostic", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":false`)
}

func TestProgressRoundTrip(t *testing.T) {
	f := newFixture(t, "printf x")

	w := f.do(http.MethodPost, "/progress/1", `{"current_position_seconds": 1234}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodGet, "/progress/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"position":1234`)
	assert.Contains(t, w.Body.String(), `"is_watched":false`)
}

func TestProgressMarksWatched(t *testing.T) {
	f := newFixture(t, "printf x")

	w := f.do(http.MethodPost, "/progress/1", `{"current_position_seconds": 3590}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodGet, "/progress/1", "")
	assert.Contains(t, w.Body.String(), `"is_watched":true`)
}

func TestProgressBadBody(t *testing.T) {
	f := newFixture(t, "printf x")

	w := f.do(http.MethodPost, "/progress/1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
