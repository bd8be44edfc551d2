package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/p-n-ai/study-tracker/internal/api"
	"github.com/p-n-ai/study-tracker/internal/docstore"
	"github.com/p-n-ai/study-tracker/internal/identity"
	"github.com/p-n-ai/study-tracker/internal/platform/config"
)

func TestHealthEndpoints(t *testing.T) {
	failing := func(context.Context) error { return errors.New("store down") }

	tests := []struct {
		name       string
		path       string
		ready      func(context.Context) error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz without remote store returns 200",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
		{
			name:       "readyz with healthy store returns 200",
			path:       "/readyz",
			ready:      func(context.Context) error { return nil },
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
		{
			name:       "readyz with failing store returns 503",
			path:       "/readyz",
			ready:      failing,
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"unavailable"}`,
		},
		{
			name:       "healthz ignores store health",
			path:       "/healthz",
			ready:      failing,
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMux(nil, tt.ready)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNewMux_RegistersAPI(t *testing.T) {
	app := api.NewServer(api.Config{
		Store:          docstore.NewMemoryStore(),
		Namespace:      "artifacts",
		AppID:          "study-tracker",
		Verifier:       identity.NewVerifier("secret", time.Hour),
		AllowAnonymous: true,
	})
	mux := newMux(app, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/templates", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string][]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, ok := body["templates"]; !ok || len(got) != 0 {
		t.Errorf("templates = %v, want empty list", got)
	}
}

func TestOpenBackend_Memory(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Backend: config.BackendMemory}}

	b, err := openBackend(t.Context(), cfg)
	if err != nil {
		t.Fatalf("openBackend() error = %v", err)
	}
	defer b.close()

	if _, ok := b.store.(*docstore.MemoryStore); !ok {
		t.Errorf("store = %T, want *docstore.MemoryStore", b.store)
	}
	if b.ready != nil {
		t.Error("memory backend should not have a readiness check")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantJSON  bool
		wantDebug bool
	}{
		{"json info", config.LogConfig{Level: "info", Format: "json"}, true, false},
		{"text debug", config.LogConfig{Level: "debug", Format: "text"}, false, true},
		{"bad level falls back to info", config.LogConfig{Level: "loud", Format: "json"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.cfg)

			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			logger.Info("hello", "k", "v")
			if got := strings.HasPrefix(buf.String(), "{"); got != tt.wantJSON {
				t.Errorf("output %q json = %v, want %v", buf.String(), got, tt.wantJSON)
			}
		})
	}
}
