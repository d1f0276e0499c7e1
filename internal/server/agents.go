package server

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/analyst/internal/agents"
	"github.com/mohammad-safakhou/analyst/internal/runtime"
	"github.com/mohammad-safakhou/analyst/internal/store"
)

// AgentsHandler lists available agents and manages user custom agents.
type AgentsHandler struct {
	Resolver *agents.Resolver
	Store    *store.Store
}

func (h *AgentsHandler) Register(g *echo.Group, secret []byte) {
	g.GET("", h.list, runtime.OptionalAuthMiddleware(secret))
	g.POST("/custom", h.createCustom, runtime.EchoAuthMiddleware(secret))
	g.DELETE("/custom/:name", h.deleteCustom, runtime.EchoAuthMiddleware(secret))
}

// List
//
//	@Summary	List available agents
//	@Tags		agents
//	@Produce	json
//	@Success	200	{object}	AgentListResponse
//	@Router		/api/agents [get]
func (h *AgentsHandler) list(c echo.Context) error {
	defs, err := h.Resolver.Available(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	var resp AgentListResponse
	for _, d := range defs {
		info := AgentInfo{Name: d.Name, Kind: string(d.Kind), Description: d.Description, Inputs: d.Inputs}
		switch d.Kind {
		case agents.KindStandard:
			resp.Standard = append(resp.Standard, info)
		case agents.KindTemplate:
			resp.Template = append(resp.Template, info)
		case agents.KindCustom:
			resp.Custom = append(resp.Custom, info)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AgentsHandler) createCustom(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage not configured")
	}
	var req CustomAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name required")
	}
	if agents.IsStandard(req.Name) || agents.IsTemplate(req.Name) {
		return echo.NewHTTPError(http.StatusConflict, "name collides with a builtin agent")
	}
	uid := userID(c)
	id, err := h.Store.CreateCustomAgent(c.Request().Context(), agents.CustomAgent{
		UserID:      uid,
		Name:        req.Name,
		Description: req.Description,
		Prompt:      req.Prompt,
		Inputs:      req.Inputs,
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return echo.NewHTTPError(http.StatusConflict, "agent already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Resolver.Invalidate(c.Request().Context(), uid)
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *AgentsHandler) deleteCustom(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage not configured")
	}
	uid := userID(c)
	if err := h.Store.DeleteCustomAgent(c.Request().Context(), uid, c.Param("name")); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "agent not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Resolver.Invalidate(c.Request().Context(), uid)
	return c.NoContent(http.StatusNoContent)
}

// UsageHandler reports per-user usage totals.
type UsageHandler struct {
	Store *store.Store
}

func (h *UsageHandler) Register(g *echo.Group, secret []byte) {
	g.GET("/summary", h.summary, runtime.EchoAuthMiddleware(secret))
}

func (h *UsageHandler) summary(c echo.Context) error {
	totals, err := h.Store.UsageTotalsForUser(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, totals)
}
