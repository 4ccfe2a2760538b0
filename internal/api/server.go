package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/policyedge/gateway/config"
	"github.com/policyedge/gateway/internal/attrsync"
	"github.com/policyedge/gateway/internal/decision"
	"github.com/policyedge/gateway/internal/logging"
	"github.com/policyedge/gateway/internal/metrics"
	"github.com/policyedge/gateway/internal/syncer"
)

// DecisionRouter is the decision surface the server dispatches to.
type DecisionRouter interface {
	EvaluateLog(ctx context.Context, payload interface{}) decision.Result
	EvaluateArtifacts(ctx context.Context, artifacts []interface{}) decision.Result
}

// PolicySyncer is the synchronization surface exposed on the admin routes.
type PolicySyncer interface {
	ForceReload(ctx context.Context) syncer.Status
	Status() syncer.Status
}

// AttributeEngine fans user-attribute changes out to directory backends.
type AttributeEngine interface {
	Apply(ctx context.Context, req attrsync.ChangeRequest) attrsync.Result
}

type requestValidator struct {
	validator *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Server is the gateway's HTTP surface. It dispatches into the decision
// router and the policy syncer and serializes their results.
type Server struct {
	cfg         config.GatewayConfig
	logger      *logrus.Logger
	router      DecisionRouter
	syncer      PolicySyncer
	attrEngine  AttributeEngine
	httpMetrics *metrics.HTTPMetrics

	echo *echo.Echo
}

func NewServer(
	cfg config.GatewayConfig,
	logger *logrus.Logger,
	router DecisionRouter,
	policySyncer PolicySyncer,
	attrEngine AttributeEngine,
	httpMetrics *metrics.HTTPMetrics,
) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger.WithField("service", "gateway-server").Logger,
		router:      router,
		syncer:      policySyncer,
		attrEngine:  attrEngine,
		httpMetrics: httpMetrics,
	}
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.CORS())
	e.Use(logging.Middleware(s.logger))
	if s.httpMetrics != nil {
		e.Use(s.httpMetrics.Middleware())
	}

	e.Validator = &requestValidator{validator: validator.New()}

	e.GET("/", s.Home)
	e.GET("/ping", s.Ping)

	e.POST("/check-log", s.CheckLog)
	e.POST("/logs/check", s.CheckLog)
	e.POST("/gatekeeper/validate", s.ValidateArtifacts)

	policiesGroup := e.Group("/policies")
	policiesGroup.POST("/reload", s.ReloadPolicies)
	policiesGroup.GET("/status", s.PolicyStatus)

	if s.attrEngine != nil {
		e.POST("/attributes/change", s.ChangeAttribute)
	}

	return e
}

// StartServer blocks serving HTTP until Shutdown is called.
func (s *Server) StartServer() error {
	s.echo = s.buildEcho()
	return s.echo.Start(fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port))
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.echo == nil {
		return nil
	}
	return s.echo.Shutdown(ctx)
}

func (s *Server) Home(c echo.Context) error {
	return c.String(http.StatusOK, "Policy gateway is running.")
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "Policy gateway is running.")
}
