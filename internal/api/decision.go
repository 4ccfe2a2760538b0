package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/policyedge/gateway/internal/decision"
)

// CheckLog evaluates one log record against the log-compliance policy.
// The record may arrive bare or wrapped under a "log" key.
func (s *Server) CheckLog(c echo.Context) error {
	var payload interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		s.logger.WithError(err).Error("Failed to parse log check request")
		return c.JSON(http.StatusBadRequest, LogCheckResponse{
			Allowed: false,
			Error:   msgRequestParseFailed,
		})
	}

	result := s.router.EvaluateLog(c.Request().Context(), payload)
	switch result.Outcome {
	case decision.Denied:
		return c.JSON(http.StatusForbidden, LogCheckResponse{
			Allowed: false,
			Reasons: result.Reasons,
		})
	case decision.Unavailable:
		return c.JSON(http.StatusServiceUnavailable, LogCheckResponse{
			Allowed: false,
			Error:   msgEngineUnavailable,
		})
	default:
		return c.JSON(http.StatusOK, LogCheckResponse{
			Allowed: true,
			Message: msgLogAllowed,
		})
	}
}

// ValidateArtifacts evaluates a set of artifact descriptors for admission.
func (s *Server) ValidateArtifacts(c echo.Context) error {
	var req ArtifactCheckRequest
	if err := c.Bind(&req); err != nil {
		s.logger.WithError(err).Error("Failed to parse artifact check request")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: msgRequestParseFailed})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "artifacts field is required"})
	}

	result := s.router.EvaluateArtifacts(c.Request().Context(), req.Artifacts)
	switch result.Outcome {
	case decision.Denied:
		return c.JSON(http.StatusUnprocessableEntity, ArtifactCheckResponse{
			Allowed:    false,
			Violations: result.Reasons,
		})
	case decision.Unavailable:
		return c.JSON(http.StatusServiceUnavailable, ArtifactCheckResponse{
			Allowed:    false,
			Violations: []interface{}{},
			Error:      msgEngineUnavailable,
		})
	default:
		return c.JSON(http.StatusOK, ArtifactCheckResponse{
			Allowed:    true,
			Violations: []interface{}{},
		})
	}
}
