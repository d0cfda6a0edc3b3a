// Package httpmodel implements triage.Model against a JSON model server.
package httpmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/acuity/internal/triage"
)

// maxResponseBytes caps how much of a reply is read.
const maxResponseBytes = 64 << 10

// Client posts feature vectors to a model server.
type Client struct {
	url        string
	version    string
	httpClient *http.Client
}

// New returns a Client for the predict endpoint at url. version is sent with
// every request and reported as the classifier's model version.
func New(url, version string) *Client {
	return &Client{
		url:     url,
		version: version,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type predictRequest struct {
	ModelVersion string          `json:"model_version"`
	Features     triage.Features `json:"features"`
}

type predictResponse struct {
	Level      *int     `json:"esi_level"`
	Confidence *float64 `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// Version implements triage.Model.
func (c *Client) Version() string { return c.version }

// Predict implements triage.Model. Deadlines come from ctx.
func (c *Client) Predict(ctx context.Context, f triage.Features) (*triage.Prediction, error) {
	body, err := json.Marshal(predictRequest{ModelVersion: c.version, Features: f})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server error %d: %s", resp.StatusCode, string(respBody))
	}

	var out predictResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Level == nil {
		return nil, fmt.Errorf("model server response missing esi_level")
	}
	return &triage.Prediction{
		Level:      triage.Level(*out.Level),
		Confidence: out.Confidence,
		Reasons:    out.Reasons,
	}, nil
}
