package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/policyedge/gateway/internal/attrsync"
)

// ChangeAttribute fans one user-attribute change out to the configured
// directory backends and reports the per-service outcome.
func (s *Server) ChangeAttribute(c echo.Context) error {
	var req attrsync.ChangeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.WithError(err).Error("Failed to parse attribute change request")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: msgRequestParseFailed})
	}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}

	result := s.attrEngine.Apply(c.Request().Context(), req)
	resp := AttributeChangeResponse{
		Success:    result.Success(),
		Successful: result.Successful,
		Failures:   result.FailureMessages(),
	}
	if !result.Success() {
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
