package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
	"github.com/mohammad-safakhou/analyst/internal/runtime"
	"github.com/mohammad-safakhou/analyst/internal/session"
)

// SessionHandler exposes session-boundary operations: dataset swaps, resets,
// user binding and model settings.
type SessionHandler struct {
	Sessions  *session.Store
	Defaults  modelcfg.Settings
	SessionID func(echo.Context) (string, error)
}

func (h *SessionHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.OptionalAuthMiddleware(secret))
	g.GET("", h.get)
	g.POST("/dataset", h.updateDataset)
	g.POST("/reset-dataset", h.resetDataset)
	g.POST("/user", h.setUser)
	g.GET("/model-settings", h.getModelSettings)
	g.POST("/model-settings", h.setModelSettings)
	g.POST("/model-settings/reset", h.resetModelSettings)
}

func (h *SessionHandler) get(c echo.Context) error {
	rec, err := h.record(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSessionResponse(rec))
}

func (h *SessionHandler) updateDataset(c echo.Context) error {
	sid, err := h.SessionID(c)
	if err != nil {
		return err
	}
	if _, err := h.Sessions.GetOrCreate(sid); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var req DatasetUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.Sessions.UpdateDataset(sid, req.Name, req.FrameName, req.Description)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, toSessionResponse(rec))
}

func (h *SessionHandler) resetDataset(c echo.Context) error {
	sid, err := h.SessionID(c)
	if err != nil {
		return err
	}
	if _, err := h.Sessions.GetOrCreate(sid); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.Sessions.ResetToDefault(sid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toSessionResponse(rec))
}

func (h *SessionHandler) setUser(c echo.Context) error {
	sid, err := h.SessionID(c)
	if err != nil {
		return err
	}
	if _, err := h.Sessions.GetOrCreate(sid); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	uid := userID(c)
	if uid == "" {
		var req SetUserRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		uid = req.UserID
	}
	if uid == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id required")
	}
	rec, err := h.Sessions.SetUser(sid, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toSessionResponse(rec))
}

func (h *SessionHandler) getModelSettings(c echo.Context) error {
	rec, err := h.record(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec.ModelSettings)
}

// setModelSettings updates the app-level settings. Every session picks the
// new safeguarded settings up on its next request.
func (h *SessionHandler) setModelSettings(c echo.Context) error {
	var req ModelSettingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model required")
	}
	settings := modelcfg.ApplySafeguards(modelcfg.Settings{
		Provider:            req.Provider,
		Model:               req.Model,
		Temperature:         req.Temperature,
		MaxTokens:           req.MaxTokens,
		MaxCompletionTokens: req.MaxCompletionTokens,
	})
	h.Sessions.SetDefaultModelSettings(settings)
	return c.JSON(http.StatusOK, settings)
}

func (h *SessionHandler) resetModelSettings(c echo.Context) error {
	h.Sessions.SetDefaultModelSettings(h.Defaults)
	return c.JSON(http.StatusOK, h.Defaults)
}

func (h *SessionHandler) record(c echo.Context) (session.Record, error) {
	sid, err := h.SessionID(c)
	if err != nil {
		return session.Record{}, err
	}
	rec, err := h.Sessions.GetOrCreate(sid)
	if err != nil {
		return session.Record{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if uid := userID(c); uid != "" && rec.UserID != uid {
		if rec, err = h.Sessions.SetUser(sid, uid); err != nil {
			return session.Record{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return rec, nil
}

func toSessionResponse(rec session.Record) SessionResponse {
	return SessionResponse{
		ID:            rec.ID,
		ChatID:        rec.ChatID,
		UserID:        rec.UserID,
		Dataset:       rec.Dataset,
		FrameName:     rec.FrameName,
		Description:   rec.Description,
		ModelSettings: rec.ModelSettings,
	}
}
