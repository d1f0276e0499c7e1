package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	appconfig "github.com/mohammad-safakhou/analyst/config"
	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
	"github.com/mohammad-safakhou/analyst/internal/session"
)

func newTestSessionHandler() *SessionHandler {
	defaults := modelcfg.Settings{Provider: "openai", Model: "gpt-4o-mini", Temperature: 1.0}
	return &SessionHandler{
		Sessions:  session.NewStore(session.Defaults{ModelSettings: defaults}),
		Defaults:  defaults,
		SessionID: sessionIDExtractor(appconfig.SessionConfig{}),
	}
}

func invoke(t *testing.T, fn echo.HandlerFunc, method, target, sessionID, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	rec := httptest.NewRecorder()
	return rec, fn(e.NewContext(req, rec))
}

func TestSessionGetCreatesWithDefaults(t *testing.T) {
	h := newTestSessionHandler()
	rec, err := invoke(t, h.get, http.MethodGet, "/api/session", "s1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Dataset != "Housing.csv" || resp.FrameName != "df" {
		t.Fatalf("unexpected defaults: %+v", resp)
	}
	if resp.ChatID == "" {
		t.Fatalf("expected a chat id")
	}
}

func TestSessionGetRequiresSessionID(t *testing.T) {
	h := newTestSessionHandler()
	_, err := invoke(t, h.get, http.MethodGet, "/api/session", "", "")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSessionDatasetUpdateAndReset(t *testing.T) {
	h := newTestSessionHandler()
	rec, err := invoke(t, h.updateDataset, http.MethodPost, "/api/session/dataset", "s1",
		`{"name":"sales.csv","frame_name":"sales","description":"monthly sales"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Dataset != "sales.csv" || resp.FrameName != "sales" {
		t.Fatalf("dataset not updated: %+v", resp)
	}

	rec, err = invoke(t, h.resetDataset, http.MethodPost, "/api/session/reset-dataset", "s1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Dataset != "Housing.csv" {
		t.Fatalf("reset did not restore default: %+v", resp)
	}
}

func TestSessionDatasetUpdateRejectsEmptyName(t *testing.T) {
	h := newTestSessionHandler()
	_, err := invoke(t, h.updateDataset, http.MethodPost, "/api/session/dataset", "s1", `{"name":""}`)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestModelSettingsUpdateAppliesSafeguards(t *testing.T) {
	h := newTestSessionHandler()
	rec, err := invoke(t, h.setModelSettings, http.MethodPost, "/api/session/model-settings", "s1",
		`{"provider":"openai","model":"o1-mini","temperature":0.2}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got modelcfg.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if got.Temperature != 1 {
		t.Fatalf("expected reasoning model temperature pinned to 1, got %v", got.Temperature)
	}

	rec, err = invoke(t, h.getModelSettings, http.MethodGet, "/api/session/model-settings", "s2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if got.Model != "o1-mini" {
		t.Fatalf("new session did not see updated settings: %+v", got)
	}
}

func TestModelSettingsReset(t *testing.T) {
	h := newTestSessionHandler()
	if _, err := invoke(t, h.setModelSettings, http.MethodPost, "/api/session/model-settings", "s1",
		`{"provider":"anthropic","model":"claude-3-7-sonnet-latest","temperature":0.5}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := invoke(t, h.resetModelSettings, http.MethodPost, "/api/session/model-settings/reset", "s1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := h.Sessions.DefaultModelSettings()
	if got.Model != "gpt-4o-mini" {
		t.Fatalf("reset did not restore defaults: %+v", got)
	}
}

func TestModelSettingsRequiresModel(t *testing.T) {
	h := newTestSessionHandler()
	_, err := invoke(t, h.setModelSettings, http.MethodPost, "/api/session/model-settings", "s1", `{"provider":"openai"}`)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSetUserBindsSession(t *testing.T) {
	h := newTestSessionHandler()
	rec, err := invoke(t, h.setUser, http.MethodPost, "/api/session/user", "s1", `{"user_id":"u-42"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.UserID != "u-42" {
		t.Fatalf("user not bound: %+v", resp)
	}
}
