package catalyst

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"catalyst-migrator/pkg/types"

	"go.uber.org/zap"
)

// DeployRequest is everything the content server needs to accept an entity.
type DeployRequest struct {
	EntityID  types.ContentHash
	AuthChain types.AuthChain
	// Files maps content hash to bytes. The entity file must be included
	// under EntityID.
	Files map[types.ContentHash][]byte
}

// DeployError is returned when the content server rejects a deployment.
type DeployError struct {
	EntityID   types.ContentHash
	StatusCode int
	Errors     []string
}

func (e *DeployError) Error() string {
	msg := strings.Join(e.Errors, "; ")
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("deployment of %s rejected with status %d: %s", e.EntityID, e.StatusCode, msg)
}

// DeployResponse is the content server's answer to an accepted deployment.
type DeployResponse struct {
	CreationTimestamp int64 `json:"creationTimestamp"`
}

// Deploy submits an entity as multipart/form-data to /content/entities.
// Deployments are not retried.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (*DeployResponse, error) {
	if _, ok := req.Files[req.EntityID]; !ok {
		return nil, fmt.Errorf("entity file %s missing from deployment", req.EntityID)
	}

	body, contentType, err := encodeDeployment(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/content/entities", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug("Submitting deployment",
		zap.String("entity_id", string(req.EntityID)),
		zap.Int("files", len(req.Files)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DeployError{
			EntityID:   req.EntityID,
			StatusCode: resp.StatusCode,
			Errors:     parseDeployErrors(data),
		}
	}

	var out DeployResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return &out, nil
}

func encodeDeployment(req DeployRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("entityId", string(req.EntityID)); err != nil {
		return nil, "", fmt.Errorf("failed to write entityId: %w", err)
	}
	for i, link := range req.AuthChain {
		fields := [][2]string{
			{fmt.Sprintf("authChain[%d][type]", i), string(link.Type)},
			{fmt.Sprintf("authChain[%d][payload]", i), link.Payload},
			{fmt.Sprintf("authChain[%d][signature]", i), link.Signature},
		}
		for _, f := range fields {
			if err := w.WriteField(f[0], f[1]); err != nil {
				return nil, "", fmt.Errorf("failed to write auth chain: %w", err)
			}
		}
	}

	hashes := make([]string, 0, len(req.Files))
	for h := range req.Files {
		hashes = append(hashes, string(h))
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		part, err := w.CreateFormFile(h, h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := part.Write(req.Files[types.ContentHash(h)]); err != nil {
			return nil, "", fmt.Errorf("failed to write file part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// parseDeployErrors extracts the server's error list. Catalysts answer
// either {"errors": [...]} or {"error": "..."}.
func parseDeployErrors(data []byte) []string {
	var payload struct {
		Errors []string `json:"errors"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if len(payload.Errors) > 0 {
			return payload.Errors
		}
		if payload.Error != "" {
			return []string{payload.Error}
		}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return []string{text}
}
