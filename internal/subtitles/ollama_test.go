package subtitles

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoTranslator answers /api/generate by upper-casing each numbered line.
func echoTranslator(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var reply strings.Builder
		for _, line := range strings.Split(req.Prompt, "\n") {
			line = strings.TrimSpace(line)
			var n int
			if _, err := fmt.Sscanf(line, "%d.", &n); err != nil {
				continue
			}
			dot := strings.Index(line, ".")
			fmt.Fprintf(&reply, "%d. %s\n", n, strings.ToUpper(strings.TrimSpace(line[dot+1:])))
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: reply.String()})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaAvailable(t *testing.T) {
	srv := echoTranslator(t)
	c := NewOllamaClient(srv.URL, "llama3.1", hclog.NewNullLogger())
	assert.True(t, c.Available(context.Background()))

	down := NewOllamaClient("http://127.0.0.1:1", "llama3.1", hclog.NewNullLogger())
	assert.False(t, down.Available(context.Background()))
}

func TestTranslatePreservesTiming(t *testing.T) {
	srv := echoTranslator(t)
	c := NewOllamaClient(srv.URL, "llama3.1", hclog.NewNullLogger())

	in := []Segment{
		{Start: time.Second, End: 2 * time.Second, Text: "hello"},
		{Start: 3 * time.Second, End: 4 * time.Second, Text: "world"},
	}
	out, err := c.Translate(context.Background(), in, "Hungarian")
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "HELLO", out[0].Text)
	assert.Equal(t, "WORLD", out[1].Text)
	assert.Equal(t, in[0].Start, out[0].Start)
	assert.Equal(t, in[1].End, out[1].End)
	// Input untouched.
	assert.Equal(t, "hello", in[0].Text)
}

func TestTranslateBatches(t *testing.T) {
	srv := echoTranslator(t)
	c := NewOllamaClient(srv.URL, "llama3.1", hclog.NewNullLogger())

	var in []Segment
	for i := 0; i < batchSize+5; i++ {
		in = append(in, Segment{Text: fmt.Sprintf("line %d", i)})
	}
	out, err := c.Translate(context.Background(), in, "German")
	require.NoError(t, err)
	require.Len(t, out, batchSize+5)
	assert.Equal(t, "LINE 0", out[0].Text)
	assert.Equal(t, fmt.Sprintf("LINE %d", batchSize+4), out[len(out)-1].Text)
}

func TestTranslateServerDown(t *testing.T) {
	c := NewOllamaClient("http://127.0.0.1:1", "llama3.1", hclog.NewNullLogger())

	_, err := c.Translate(context.Background(), []Segment{{Text: "hello"}}, "Hungarian")
	assert.ErrorIs(t, err, ErrTranslationUnavailable)
}

func TestTranslateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := NewOllamaClient(srv.URL, "llama3.1", hclog.NewNullLogger())

	_, err := c.Translate(context.Background(), []Segment{{Text: "hello"}}, "Hungarian")
	assert.ErrorIs(t, err, ErrTranslationUnavailable)
}

func TestApplyTranslationsDroppedLinesKeepOriginal(t *testing.T) {
	batch := []Segment{{Text: "one"}, {Text: "two"}, {Text: "three"}}
	applyTranslations(batch, "1. EGY\n3. HÁROM\n")

	assert.Equal(t, "EGY", batch[0].Text)
	assert.Equal(t, "two", batch[1].Text)
	assert.Equal(t, "HÁROM", batch[2].Text)
}
