package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docgraph/internal/retry"
)

// keyField holds the caller's record id in the point payload. Qdrant point
// ids must be UUIDs or integers, so the key is hashed into a UUID.
const keyField = "_key"

const textField = "_text"

// QdrantClient talks to the Qdrant REST API.
type QdrantClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	policy     retry.Policy
	log        *slog.Logger
}

var _ Index = (*QdrantClient)(nil)

func NewQdrantClient(baseURL, apiKey string, log *slog.Logger) *QdrantClient {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &QdrantClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		policy: retry.Default,
		log:    log,
	}
}

// SetRetryPolicy overrides the default retry policy.
func (c *QdrantClient) SetRetryPolicy(p retry.Policy) { c.policy = p }

// PointID maps a record key to its stable Qdrant point id.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

type qdrantCollectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (c *QdrantClient) EnsureCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("vectorindex: invalid dimension %d", dim)
	}
	var info qdrantCollectionInfo
	status, err := c.do(ctx, http.MethodGet, c.collectionURL(name), nil, &info)
	if err != nil && status != http.StatusNotFound {
		return fmt.Errorf("get collection %s: %w", name, err)
	}
	if status == http.StatusOK {
		if got := info.Result.Config.Params.Vectors.Size; got != dim {
			return fmt.Errorf("%w: collection %s has %d, want %d", ErrDimensionMismatch, name, got, dim)
		}
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	if _, err := c.do(ctx, http.MethodPut, c.collectionURL(name), body, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	c.log.Info("qdrant: collection created", "collection", name, "dim", dim)
	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (c *QdrantClient) Upsert(ctx context.Context, collection string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	points := make([]qdrantPoint, len(recs))
	for i, r := range recs {
		payload := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[keyField] = r.ID
		payload[textField] = r.Text
		points[i] = qdrantPoint{ID: PointID(r.ID), Vector: r.Vector, Payload: payload}
	}
	u := c.collectionURL(collection) + "/points?wait=true"
	if _, err := c.do(ctx, http.MethodPut, u, map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (c *QdrantClient) Query(ctx context.Context, collection string, vec []float32, topK int, f Filter) ([]Match, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	body := map[string]any{
		"vector":       vec,
		"limit":        max(topK, 1),
		"with_payload": true,
	}
	if len(f) > 0 {
		body["filter"] = qdrantFilter(f)
	}
	var resp qdrantSearchResponse
	if _, err := c.do(ctx, http.MethodPost, c.collectionURL(collection)+"/points/search", body, &resp); err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	out := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		m := Match{Distance: 1 - r.Score, Metadata: make(map[string]any, len(r.Payload))}
		for k, v := range r.Payload {
			switch k {
			case keyField:
				m.ID, _ = v.(string)
			case textField:
				m.Text, _ = v.(string)
			default:
				m.Metadata[k] = v
			}
		}
		if m.ID == "" {
			m.ID = fmt.Sprint(r.ID)
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *QdrantClient) Delete(ctx context.Context, collection string, f Filter) error {
	if len(f) == 0 {
		return fmt.Errorf("vectorindex: delete requires a filter")
	}
	if err := f.validate(); err != nil {
		return err
	}
	u := c.collectionURL(collection) + "/points/delete?wait=true"
	status, err := c.do(ctx, http.MethodPost, u, map[string]any{"filter": qdrantFilter(f)}, nil)
	if status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

func (c *QdrantClient) DeleteCollection(ctx context.Context, collection string) error {
	status, err := c.do(ctx, http.MethodDelete, c.collectionURL(collection), nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", collection, err)
	}
	return nil
}

func (c *QdrantClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *QdrantClient) collectionURL(name string) string {
	return c.baseURL + "/collections/" + url.PathEscape(name)
}

// qdrantFilter builds a must-match clause in sorted key order.
func qdrantFilter(f Filter) map[string]any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	must := make([]map[string]any, len(keys))
	for i, k := range keys {
		must[i] = map[string]any{"key": k, "match": map[string]any{"value": f[k]}}
	}
	return map[string]any{"must": must}
}

// do sends a JSON request with retries and decodes the response into out
// when non-nil. The final HTTP status is returned alongside any error.
func (c *QdrantClient) do(ctx context.Context, method, u string, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
	}
	return retry.Do(ctx, c.policy, c.log, "qdrant "+method, func(ctx context.Context) (int, error) {
		var rdr io.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rdr)
		if err != nil {
			return 0, fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, retry.Transport(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			if rerr := retry.Status(resp.StatusCode, respBody); rerr != nil {
				return resp.StatusCode, rerr
			}
			return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, fmt.Errorf("decode response: %w", err)
			}
		}
		return resp.StatusCode, nil
	})
}
