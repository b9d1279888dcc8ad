// Package catalyst talks to the content API of a catalyst server.
package catalyst

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"catalyst-migrator/pkg/types"

	"go.uber.org/zap"
)

const (
	defaultTimeout   = 20 * time.Minute
	pointerBatchSize = 100
	maxErrorBody     = 4096
)

// StatusError is returned for unexpected HTTP answers on read requests.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client is a catalyst content API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retry      RetryPolicy
	logger     *zap.Logger
}

type Option func(*Client)

// WithTimeout bounds every call made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
		retry:   DefaultRetryPolicy(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = &http.Client{Timeout: c.timeout}
	return c
}

// EntitiesByPointers returns the active entities for pointers, in the order
// the server answers them. Large pointer lists are split into batches.
func (c *Client) EntitiesByPointers(ctx context.Context, pointers []string) ([]types.Entity, error) {
	var entities []types.Entity
	for start := 0; start < len(pointers); start += pointerBatchSize {
		end := min(start+pointerBatchSize, len(pointers))

		payload, err := json.Marshal(struct {
			Pointers []string `json:"pointers"`
		}{Pointers: pointers[start:end]})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}

		var batch []types.Entity
		if err := c.getJSON(ctx, http.MethodPost, "/content/entities/active", payload, &batch); err != nil {
			return nil, fmt.Errorf("failed to fetch entities by pointers: %w", err)
		}
		entities = append(entities, batch...)
	}
	return entities, nil
}

// CollectionEntities returns the active entities of an off-chain collection.
func (c *Client) CollectionEntities(ctx context.Context, urn string) ([]types.Entity, error) {
	var resp struct {
		Entities []types.Entity `json:"entities"`
	}
	path := "/content/entities/active/collections/" + url.PathEscape(urn)
	if err := c.getJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch collection %s: %w", urn, err)
	}
	return resp.Entities, nil
}

// Resolve downloads a blob. It satisfies storage.Resolver.
func (c *Client) Resolve(ctx context.Context, hash types.ContentHash) ([]byte, error) {
	var data []byte
	err := c.retry.do(ctx, c.logger, "download", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/content/contents/"+url.PathEscape(string(hash)), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to perform request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return types.ErrContentNotFound
		}
		if resp.StatusCode != http.StatusOK {
			return statusError(req, resp)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, method, path string, body []byte, target any) error {
	return c.retry.do(ctx, c.logger, method+" "+path, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to perform request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return statusError(req, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	})
}

func statusError(req *http.Request, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
