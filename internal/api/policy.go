package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ReloadPolicies clears the reconciliation store and republishes every rule
// file currently on disk, then returns the fresh status snapshot.
func (s *Server) ReloadPolicies(c echo.Context) error {
	s.logger.Info("policy reload requested")
	status := s.syncer.ForceReload(c.Request().Context())
	return c.JSON(http.StatusOK, status)
}

// PolicyStatus returns the synchronization status snapshot. It always
// succeeds, even while the engine is unreachable; the snapshot carries the
// last known error.
func (s *Server) PolicyStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.syncer.Status())
}
