package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nkotha/voicebridge/internal/app"
	"github.com/nkotha/voicebridge/internal/config"
	"github.com/nkotha/voicebridge/internal/session"
)

type nopEmitter struct{}

func (nopEmitter) Emit(any) {}

func TestHealthz(t *testing.T) {
	a := app.New(config.Config{SarvamAPIKey: "key"})
	defer a.Shutdown()
	e := New(a)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || !resp.APIKeyConfigured || resp.ActiveSessions != 0 {
		t.Fatalf("unexpected health response: %+v", resp)
	}
}

func TestHealthz_ReportsMissingKey(t *testing.T) {
	a := app.New(config.Config{})
	defer a.Shutdown()
	e := New(a)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.APIKeyConfigured {
		t.Fatal("expected api_key_configured false")
	}
}

func TestHistory_UnknownSession(t *testing.T) {
	a := app.New(config.Config{})
	defer a.Shutdown()
	e := New(a)

	r := httptest.NewRequest(http.MethodGet, "/api/history/nope", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHistory_KnownSession(t *testing.T) {
	a := app.New(config.Config{})
	defer a.Shutdown()
	sess := session.New("abc", a.Config, a.NewRunner("abc"), nopEmitter{})
	a.Add(sess)
	e := New(a)

	r := httptest.NewRequest(http.MethodGet, "/api/history/abc", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp historyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "abc" {
		t.Fatalf("session_id = %q", resp.SessionID)
	}
}
