package attrsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const backendTimeout = 10 * time.Second

// Backend persists attribute changes for one directory service.
type Backend interface {
	Name() string
	UpdateAttribute(ctx context.Context, userID, attribute string, value interface{}) error
}

// UpdateFunc adapts a plain function into a Backend.
type UpdateFunc struct {
	ServiceName string
	Update      func(ctx context.Context, userID, attribute string, value interface{}) error
}

func (f UpdateFunc) Name() string {
	return f.ServiceName
}

func (f UpdateFunc) UpdateAttribute(ctx context.Context, userID, attribute string, value interface{}) error {
	return f.Update(ctx, userID, attribute, value)
}

// HTTPBackend posts attribute updates to a directory service's REST
// endpoint as `{user_id, attribute, value}`.
type HTTPBackend struct {
	name     string
	endpoint string
	client   *retryablehttp.Client
}

func NewHTTPBackend(name, endpoint string, logger *logrus.Logger) *HTTPBackend {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = backendTimeout
	retryClient.Logger = logger
	return &HTTPBackend{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   retryClient,
	}
}

func (b *HTTPBackend) Name() string {
	return b.name
}

type attributeUpdate struct {
	UserID    string      `json:"user_id"`
	Attribute string      `json:"attribute"`
	Value     interface{} `json:"value"`
}

func (b *HTTPBackend) UpdateAttribute(ctx context.Context, userID, attribute string, value interface{}) error {
	payload, err := json.Marshal(attributeUpdate{UserID: userID, Attribute: attribute, Value: value})
	if err != nil {
		return fmt.Errorf("fail to marshal attribute update: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("fail to build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("fail to update %s on %s: %w", attribute, b.name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fail to update %s on %s: status: %d, body: %s", attribute, b.name, resp.StatusCode, string(body))
	}
	return nil
}
