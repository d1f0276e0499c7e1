package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	appconfig "github.com/mohammad-safakhou/analyst/config"
	"github.com/mohammad-safakhou/analyst/internal/agents"
	"github.com/mohammad-safakhou/analyst/internal/executor"
	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
	"github.com/mohammad-safakhou/analyst/internal/runtime"
	"github.com/mohammad-safakhou/analyst/internal/session"
)

// ChatHandler serves the streaming chat endpoint. Responses are NDJSON: one
// {"agent","content","status"} object per line, flushed per frame.
type ChatHandler struct {
	Sessions  *session.Store
	Exec      *executor.Executor
	SessionID func(echo.Context) (string, error)
	Routing   appconfig.LLMRoutingConfig
}

func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.POST("/chat", h.chat, runtime.OptionalAuthMiddleware(secret))
	g.POST("/chat/:agent", h.direct, runtime.OptionalAuthMiddleware(secret))
}

// Chat
//
//	@Summary		Run a chat turn
//	@Description	Plans and executes agents for a query, streaming NDJSON result frames
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Param			X-Session-ID	header		string		true	"Session id"
//	@Param			payload			body		ChatRequest	true	"Chat payload"
//	@Success		200				{string}	string		"NDJSON frame stream"
//	@Failure		400				{object}	HTTPError
//	@Failure		504				{object}	HTTPError
//	@Failure		500				{object}	HTTPError
//	@Router			/api/chat [post]
func (h *ChatHandler) chat(c echo.Context) error {
	sid, err := h.SessionID(c)
	if err != nil {
		return err
	}
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := h.Sessions.GetOrCreate(sid)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if uid := userID(c); uid != "" && rec.UserID != uid {
		if rec, err = h.Sessions.SetUser(sid, uid); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	res := c.Response()
	emitter := &ndjsonEmitter{res: res}

	result := h.Exec.Execute(c.Request().Context(), executor.Request{
		Session:   rec,
		Query:     req.Query,
		Streaming: true,
	}, emitter)

	if result.State == executor.StateFatal {
		if !emitter.started {
			if result.Timeout {
				return echo.NewHTTPError(http.StatusGatewayTimeout, result.Err.Error())
			}
			return echo.NewHTTPError(http.StatusInternalServerError, result.Err.Error())
		}
		// stream already open: report as a trailing error frame
		_ = emitter.Emit(executor.Frame{Agent: "system", Content: result.Err.Error(), Status: executor.StatusError})
		return nil
	}

	h.remember(sid, req.Query, result)
	return nil
}

// Direct chat
//
//	@Summary		Invoke named agents directly
//	@Description	Runs the named agents in order without planning, on the same query, and returns the merged output
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Param			agent			path		string		true	"Agent name, comma-joined for several"
//	@Param			X-Session-ID	header		string		true	"Session id"
//	@Param			payload			body		ChatRequest	true	"Chat payload"
//	@Success		200				{object}	DirectChatResponse
//	@Failure		400				{object}	HTTPError
//	@Failure		504				{object}	HTTPError
//	@Failure		500				{object}	HTTPError
//	@Router			/api/chat/{agent} [post]
func (h *ChatHandler) direct(c echo.Context) error {
	sid, err := h.SessionID(c)
	if err != nil {
		return err
	}
	names := c.Param("agent")
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := h.Sessions.GetOrCreate(sid)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if uid := userID(c); uid != "" && rec.UserID != uid {
		if rec, err = h.Sessions.SetUser(sid, uid); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	// direct answers may route to a dedicated model
	if h.Routing.Chat != "" {
		rec.ModelSettings.Model = h.Routing.Chat
		rec.ModelSettings.Provider = modelcfg.ProviderForModel(h.Routing.Chat)
	}

	res, err := h.Exec.Direct(c.Request().Context(), executor.DirectRequest{
		Session:    rec,
		AgentNames: names,
		Query:      req.Query,
	})
	if err != nil {
		var nf *agents.NotFoundError
		var to *executor.TimeoutError
		switch {
		case errors.As(err, &nf),
			errors.Is(err, executor.ErrNoDataset),
			errors.Is(err, executor.ErrEmptyQuery):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.As(err, &to):
			return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	_, _ = h.Sessions.AppendMessage(sid, "user", req.Query)
	_, _ = h.Sessions.AppendMessage(sid, "assistant", res.Response)

	return c.JSON(http.StatusOK, DirectChatResponse{
		AgentName: names,
		Query:     req.Query,
		Response:  res.Response,
		SessionID: sid,
	})
}

// remember appends the turn to the session's recent window.
func (h *ChatHandler) remember(sid, query string, result executor.Result) {
	if strings.TrimSpace(query) == "" {
		return
	}
	_, _ = h.Sessions.AppendMessage(sid, "user", query)
	if len(result.Results) > 0 {
		var parts []string
		for _, agent := range result.Plan.Agents {
			if content, ok := result.Results[agent]; ok {
				parts = append(parts, content)
			}
		}
		_, _ = h.Sessions.AppendMessage(sid, "assistant", strings.Join(parts, "\n"))
	}
}

// ndjsonEmitter writes frames as newline-delimited JSON, flushing after each
// line so clients see steps as they complete.
type ndjsonEmitter struct {
	res     *echo.Response
	started bool
}

func (e *ndjsonEmitter) Emit(f executor.Frame) error {
	if !e.started {
		e.res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
		e.res.Header().Set("Cache-Control", "no-cache")
		e.res.WriteHeader(http.StatusOK)
		e.started = true
	}
	line, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := e.res.Write(append(line, '\n')); err != nil {
		return err
	}
	e.res.Flush()
	return nil
}
