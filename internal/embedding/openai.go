package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgallion1/docgraph/internal/llm"
	"github.com/dgallion1/docgraph/internal/retry"
)

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int // expected width; 0 discovers it from the first response
	Timeout    time.Duration
}

// OpenAIClient calls an OpenAI-compatible /embeddings endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	dims       atomic.Int64
	httpClient *http.Client
	policy     retry.Policy
	stats      *llm.Stats
	log        *slog.Logger
}

// NewOpenAIClient creates a client. stats may be nil.
func NewOpenAIClient(cfg Config, stats *llm.Stats, log *slog.Logger) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &OpenAIClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		policy:     retry.Default,
		stats:      stats,
		log:        log,
	}
	c.dims.Store(int64(cfg.Dimensions))
	return c
}

// SetRetryPolicy overrides the default retry policy.
func (c *OpenAIClient) SetRetryPolicy(p retry.Policy) { c.policy = p }

func (c *OpenAIClient) Dimensions() int { return int(c.dims.Load()) }

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch embeds texts in one request, returning vectors in input order.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	vecs, err := retry.Do(ctx, c.policy, c.log, "embedding.batch", func(ctx context.Context) ([][]float32, error) {
		start := time.Now()
		v, err := c.send(ctx, body, len(texts))
		c.stats.Observe(time.Since(start), err)
		return v, err
	})
	if err != nil {
		return nil, err
	}
	c.checkDimensions(len(vecs[0]))
	return vecs, nil
}

// checkDimensions adopts the width returned by the service when it differs
// from the configured or previously seen one.
func (c *OpenAIClient) checkDimensions(got int) {
	want := c.dims.Load()
	if want == int64(got) {
		return
	}
	if c.dims.CompareAndSwap(want, int64(got)) && want != 0 {
		c.log.Warn("embedding dimension mismatch, adjusting", "configured", want, "returned", got)
	}
}

func (c *OpenAIClient) send(ctx context.Context, body []byte, n int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Transport(fmt.Errorf("embeddings api: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, retry.Transport(fmt.Errorf("read response: %w", err))
	}
	if err := retry.Status(resp.StatusCode, payload); err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embeddings api status %d: %s", resp.StatusCode, retry.Truncate(string(payload), 200))
	}

	var out embedResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Data) != n {
		return nil, fmt.Errorf("embeddings api returned %d vectors for %d inputs", len(out.Data), n)
	}

	vecs := make([][]float32, n)
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= n || vecs[d.Index] != nil {
			return nil, fmt.Errorf("embeddings api returned bad index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embeddings api returned empty vector at %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	width := len(vecs[0])
	for i, v := range vecs {
		if len(v) != width {
			return nil, fmt.Errorf("embeddings api returned mixed widths (%d vs %d at %d)", width, len(v), i)
		}
	}
	return vecs, nil
}

// Close releases resources.
func (c *OpenAIClient) Close() {
	c.httpClient.CloseIdleConnections()
}
