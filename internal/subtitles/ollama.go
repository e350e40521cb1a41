package subtitles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrTranslationUnavailable means translation was explicitly requested but
// the ollama backend is unreachable or errored. Generation never falls back
// to untranslated output silently; the caller decides.
var ErrTranslationUnavailable = errors.New("translation unavailable")

// OllamaClient translates subtitle segments through a local ollama server.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
	logger  hclog.Logger
}

// NewOllamaClient creates a translation client.
func NewOllamaClient(baseURL, model string, logger hclog.Logger) *OllamaClient {
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger.Named("ollama"),
	}
}

// Available reports whether the ollama server answers.
func (c *OllamaClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// batchSize bounds how many cues go into one prompt. Larger batches drift:
// the model starts merging or dropping lines.
const batchSize = 20

// Translate returns a copy of the segments with text translated to the
// target language. Timing is preserved; only text changes. Any backend
// failure is reported as ErrTranslationUnavailable.
func (c *OllamaClient) Translate(ctx context.Context, segments []Segment, targetLanguage string) ([]Segment, error) {
	out := make([]Segment, len(segments))
	copy(out, segments)

	for start := 0; start < len(out); start += batchSize {
		end := start + batchSize
		if end > len(out) {
			end = len(out)
		}
		if err := c.translateBatch(ctx, out[start:end], targetLanguage); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *OllamaClient) translateBatch(ctx context.Context, batch []Segment, targetLanguage string) error {
	var prompt strings.Builder
	fmt.Fprintf(&prompt,
		"Translate the following numbered subtitle lines to %s. "+
			"Reply with the same numbered lines, one per line, translation only, no commentary.\n\n",
		targetLanguage)
	for i, s := range batch {
		fmt.Fprintf(&prompt, "%d. %s\n", i+1, strings.ReplaceAll(s.Text, "\n", " "))
	}

	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt.String()})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTranslationUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTranslationUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrTranslationUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama returned status %d", ErrTranslationUnavailable, resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrTranslationUnavailable, err)
	}

	applyTranslations(batch, parsed.Response)
	return nil
}

// applyTranslations matches "N. text" reply lines back to segments by
// number. Lines the model dropped keep their original text.
func applyTranslations(batch []Segment, reply string) {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var n int
		var text string
		if _, err := fmt.Sscanf(line, "%d.", &n); err != nil {
			continue
		}
		if dot := strings.Index(line, "."); dot >= 0 {
			text = strings.TrimSpace(line[dot+1:])
		}
		if n >= 1 && n <= len(batch) && text != "" {
			batch[n-1].Text = text
		}
	}
}
