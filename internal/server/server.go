package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/mohammad-safakhou/analyst/config"
	"github.com/mohammad-safakhou/analyst/internal/agents"
	"github.com/mohammad-safakhou/analyst/internal/executor"
	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
	"github.com/mohammad-safakhou/analyst/internal/planner"
	"github.com/mohammad-safakhou/analyst/internal/provider"
	"github.com/mohammad-safakhou/analyst/internal/runtime"
	"github.com/mohammad-safakhou/analyst/internal/session"
	"github.com/mohammad-safakhou/analyst/internal/store"
	"github.com/mohammad-safakhou/analyst/internal/usage"
)

// Run wires every component and serves HTTP on addr until the process ends.
func Run(cfg *appconfig.Config, addr string) error {
	e := newEcho(cfg.Telemetry.Enabled)

	ctx := context.Background()

	// storage is optional: without Postgres the service still answers chat
	// requests, it just cannot persist users, custom agents or usage rows
	var st *store.Store
	if cfg.Storage.Postgres.URL != "" || cfg.Storage.Postgres.Host != "" {
		dsn, err := store.BuildDSN(cfg.Storage.Postgres)
		if err != nil {
			return err
		}
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			log.Printf("[SERVER] migrations: %v", err)
		}
		st, err = store.NewWithDSN(ctx, dsn)
		if err != nil {
			return err
		}
	}

	var rdb *redis.Client
	if addr := cfg.Storage.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	registry, err := provider.NewRegistry(cfg.LLM)
	if err != nil {
		return err
	}

	defaults := modelcfg.ApplySafeguards(modelcfg.Settings{
		Provider:    cfg.LLM.Defaults.Provider,
		Model:       cfg.LLM.Defaults.Model,
		Temperature: cfg.LLM.Defaults.Temperature,
		MaxTokens:   intPtr(cfg.LLM.Defaults.MaxTokens),
	})
	sessions := session.NewStore(session.Defaults{
		Dataset:       cfg.Session.DefaultDataset,
		FrameName:     cfg.Session.DefaultFrameName,
		ModelSettings: defaults,
		MaxRecent:     cfg.Session.MaxRecentMessages,
	})

	go session.NewJanitor(sessions, cfg.Session.IdleTTL, cfg.Session.SweepInterval, nil).Run(ctx)

	var customSource agents.CustomSource
	var sink usage.Sink
	if st != nil {
		customSource = st
		sink = st
	}
	resolver := agents.NewResolver(customSource, rdb, cfg.Agents.CustomCacheTTL, nil)
	meter := usage.NewMeter(sink, usage.NewTiktokenCounter(), nil)
	plnr := planner.NewPlanner(registry, cfg.LLM.Routing, nil)
	exec := executor.New(plnr, resolver, registry, meter, cfg.Executor, nil)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	sid := sessionIDExtractor(cfg.Session)

	chat := &ChatHandler{Sessions: sessions, Exec: exec, SessionID: sid, Routing: cfg.LLM.Routing}
	chat.Register(api, secret)

	sess := &SessionHandler{Sessions: sessions, Defaults: defaults, SessionID: sid}
	sess.Register(api.Group("/session"), secret)

	ah := &AgentsHandler{Resolver: resolver, Store: st}
	ah.Register(api.Group("/agents"), secret)

	if st != nil {
		uh := &UsageHandler{Store: st}
		uh.Register(api.Group("/usage"), secret)
	}

	log.Printf("[SERVER] listening on %s", addr)
	return e.Start(addr)
}

func newEcho(metrics bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization", "X-Session-ID"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	if metrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
	return e
}

// sessionIDExtractor reads the session id from the configured header with a
// query-param fallback. Requests without one are rejected with 400.
func sessionIDExtractor(cfg appconfig.SessionConfig) func(echo.Context) (string, error) {
	header := cfg.HeaderName
	if header == "" {
		header = "X-Session-ID"
	}
	param := cfg.QueryParamFallback
	if param == "" {
		param = "session_id"
	}
	return func(c echo.Context) (string, error) {
		if id := c.Request().Header.Get(header); id != "" {
			return id, nil
		}
		if id := c.QueryParam(param); id != "" {
			return id, nil
		}
		return "", echo.NewHTTPError(http.StatusBadRequest, "missing session id")
	}
}

func intPtr(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func userID(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok {
		return v
	}
	return ""
}
