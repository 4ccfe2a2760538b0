package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 3

	policiesPrefix = "/v1/policies/"
	dataPrefix     = "/v1/data/"
)

// ErrEngineUnavailable marks failures caused by the remote evaluation engine
// being unreachable, timing out, or answering with an unexpected status.
// Callers match it with errors.Is.
var ErrEngineUnavailable = errors.New("policy engine unavailable")

// Client issues policy publish, delete, and decision queries against a
// remote OPA-compatible engine. It holds no mutable state beyond the
// underlying connection pool and is safe for concurrent use.
type Client struct {
	logger  *logrus.Logger
	client  *retryablehttp.Client
	baseURL string
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	log := logger.WithField("component", "engine-client").Logger
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = defaultTimeout
	retryClient.RetryMax = maxRetries
	retryClient.Logger = log
	return &Client{
		logger:  log,
		client:  retryClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Publish writes a named policy's raw rule text into the engine's policy
// store. The write replaces any existing policy with the same identifier.
func (c *Client) Publish(ctx context.Context, identifier, content string) error {
	endpoint := c.baseURL + policiesPrefix + url.PathEscape(identifier)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("fail to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fail to publish policy %s: %v: %w", identifier, err, ErrEngineUnavailable)
	}
	defer c.closer(resp.Body)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("fail to read publish response for %s: %v: %w", identifier, err, ErrEngineUnavailable)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.WithFields(logrus.Fields{
			"identifier":  identifier,
			"status_code": resp.StatusCode,
			"body":        string(body),
		}).Error("Failed to publish policy")
		return fmt.Errorf("fail to publish policy %s: status: %d: %w", identifier, resp.StatusCode, ErrEngineUnavailable)
	}
	return nil
}

// Delete removes a named policy from the engine's store. Absence is not an
// error: 404 counts as success so deletes stay idempotent across retries.
func (c *Client) Delete(ctx context.Context, identifier string) error {
	endpoint := c.baseURL + policiesPrefix + url.PathEscape(identifier)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("fail to build delete request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fail to delete policy %s: %v: %w", identifier, err, ErrEngineUnavailable)
	}
	defer c.closer(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		body, _ := io.ReadAll(resp.Body)
		c.logger.WithFields(logrus.Fields{
			"identifier":  identifier,
			"status_code": resp.StatusCode,
			"body":        string(body),
		}).Error("Failed to delete policy")
		return fmt.Errorf("fail to delete policy %s: status: %d: %w", identifier, resp.StatusCode, ErrEngineUnavailable)
	}
}

type queryRequest struct {
	Input interface{} `json:"input"`
}

type queryResponse struct {
	Result json.RawMessage `json:"result"`
}

// Query posts an evaluation request to a decision path (e.g.
// "logfilter/deny") and returns the engine's result list. A missing result
// field means the decision produced no objections and yields a nil list.
func (c *Client) Query(ctx context.Context, decisionPath string, input interface{}) ([]interface{}, error) {
	payload, err := json.Marshal(queryRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("fail to marshal query input: %w", err)
	}

	endpoint := c.baseURL + dataPrefix + strings.TrimLeft(decisionPath, "/")
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("fail to build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fail to query %s: %v: %w", decisionPath, err, ErrEngineUnavailable)
	}
	defer c.closer(resp.Body)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fail to read query response for %s: %v: %w", decisionPath, err, ErrEngineUnavailable)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.WithFields(logrus.Fields{
			"decision_path": decisionPath,
			"status_code":   resp.StatusCode,
			"body":          string(body),
		}).Error("Failed to query engine")
		return nil, fmt.Errorf("fail to query %s: status: %d: %w", decisionPath, resp.StatusCode, ErrEngineUnavailable)
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("fail to unmarshal query response for %s: %w", decisionPath, err)
	}
	if len(qr.Result) == 0 || string(qr.Result) == "null" {
		return nil, nil
	}

	var results []interface{}
	if err := json.Unmarshal(qr.Result, &results); err != nil {
		return nil, fmt.Errorf("fail to unmarshal query result for %s: %w", decisionPath, err)
	}
	return results, nil
}

func (c *Client) closer(body io.Closer) {
	if err := body.Close(); err != nil {
		c.logger.Errorf("failed to close response body: %s", err)
	}
}
