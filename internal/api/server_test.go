package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/policyedge/gateway/config"
	"github.com/policyedge/gateway/internal/attrsync"
	"github.com/policyedge/gateway/internal/decision"
	"github.com/policyedge/gateway/internal/syncer"
)

type stubRouter struct {
	logResult      decision.Result
	artifactResult decision.Result
	lastLogInput   interface{}
	lastArtifacts  []interface{}
}

func (s *stubRouter) EvaluateLog(_ context.Context, payload interface{}) decision.Result {
	s.lastLogInput = payload
	return s.logResult
}

func (s *stubRouter) EvaluateArtifacts(_ context.Context, artifacts []interface{}) decision.Result {
	s.lastArtifacts = artifacts
	return s.artifactResult
}

type stubSyncer struct {
	status  syncer.Status
	reloads int
}

func (s *stubSyncer) ForceReload(_ context.Context) syncer.Status {
	s.reloads++
	return s.status
}

func (s *stubSyncer) Status() syncer.Status {
	return s.status
}

type stubAttrEngine struct {
	result attrsync.Result
}

func (s *stubAttrEngine) Apply(_ context.Context, req attrsync.ChangeRequest) attrsync.Result {
	res := s.result
	res.Request = req
	return res
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(router DecisionRouter, policySyncer PolicySyncer, attrEngine AttributeEngine) *echo.Echo {
	srv := NewServer(config.GatewayConfig{}, testLogger(), router, policySyncer, attrEngine, nil)
	return srv.buildEcho()
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	e := newTestServer(&stubRouter{}, &stubSyncer{}, nil)

	rec := doJSON(e, http.MethodGet, "/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAttributesRouteAbsentWithoutEngine(t *testing.T) {
	e := newTestServer(&stubRouter{}, &stubSyncer{}, nil)

	rec := doJSON(e, http.MethodPost, "/attributes/change", `{}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
