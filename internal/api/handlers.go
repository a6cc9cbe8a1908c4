package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"courseframework/pkg/components"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/health", Method: http.MethodGet, Description: "Health check"},
	{Path: "/api/plugins", Method: http.MethodGet, Description: "Registered plugins and their initialization state"},
	{Path: "/api/components/:name?tenant=", Method: http.MethodGet, Description: "Resolve a component for the caller"},
	{Path: "/api/theme", Method: http.MethodGet, Description: "Current theme"},
	{Path: "/api/theme", Method: http.MethodPut, Description: "Change the theme"},
	{Path: "/api/tenants/:tenant/ui", Method: http.MethodPut, Description: "Register tenant component overrides"},
	{Path: "/api/tenants/:tenant/ui", Method: http.MethodDelete, Description: "Revoke tenant component overrides"},
	{Path: "/api/audit", Method: http.MethodGet, Description: "Access audit (system admins)"},
	{Path: "/api/events", Method: http.MethodPost, Description: "Forward a user action onto the event bus"},
	{Path: "/ws/events?types=", Method: http.MethodGet, Description: "Stream bus events over a websocket"},
}

// ThemeRequest is the body of PUT /api/theme.
type ThemeRequest struct {
	Theme string `json:"theme"`
}

// EventRequest is the body of POST /api/events.
type EventRequest struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (s *Server) handleSitemap(c echo.Context) error {
	return c.JSON(http.StatusOK, endpoints)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlugins(c echo.Context) error {
	return c.JSON(http.StatusOK, s.host.Registry().Statuses())
}

// handleGetComponent resolves a component. A denied or unknown component
// answers 403 with the fallback placeholder so clients can still render.
func (s *Server) handleGetComponent(c echo.Context) error {
	name := c.Param("name")
	res := s.host.Resolve(name, accessContext(c), c.QueryParam("tenant"))
	if !res.Granted {
		return c.JSON(http.StatusForbidden, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetTheme(c echo.Context) error {
	return c.JSON(http.StatusOK, ThemeRequest{Theme: s.host.Components().GetTheme()})
}

func (s *Server) handleSetTheme(c echo.Context) error {
	var req ThemeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.host.Components().SetTheme(req.Theme, accessContext(c)); err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, ThemeRequest{Theme: s.host.Components().GetTheme()})
}

func (s *Server) handleRegisterTenantUI(c echo.Context) error {
	var set components.Set
	if err := json.NewDecoder(c.Request().Body).Decode(&set); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.host.Components().RegisterTenantUI(c.Param("tenant"), set, accessContext(c)); err != nil {
		return s.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRevokeTenantUI(c echo.Context) error {
	if err := s.host.Components().RevokeTenantUI(c.Param("tenant"), accessContext(c)); err != nil {
		return s.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAudit(c echo.Context) error {
	audit, err := s.host.Components().GetAccessAudit(accessContext(c))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, audit)
}

func (s *Server) handleDispatch(c echo.Context) error {
	var req EventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e, err := s.host.Dispatch(accessContext(c), req.Type, req.Data)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusAccepted, e)
}

// httpError maps registry and host errors onto HTTP statuses. Denials carry
// a fixed message so responses do not reveal which components exist.
func (s *Server) httpError(err error) error {
	switch {
	case errors.Is(err, components.ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, components.ErrAccessDenied.Error())
	default:
		s.logger.Debug("Request rejected", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
