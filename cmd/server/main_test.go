package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-academy/internal/platform/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.Storage.Backend = "memory"
	cfg.Progress.Latency = 0
	cfg.CatalogPath = ""
	return cfg
}

func TestHealthEndpoints(t *testing.T) {
	a, err := setup(t.Context(), testConfig(t))
	if err != nil {
		t.Fatalf("setup() error = %v", err)
	}
	defer a.Close()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `"status":"healthy"`,
		},
		{
			name:       "readyz returns 200",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `"status":"ready"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			a.handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestSetup_FileBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "file"
	cfg.Storage.Dir = filepath.Join(t.TempDir(), "data")

	a, err := setup(t.Context(), cfg)
	if err != nil {
		t.Fatalf("setup() error = %v", err)
	}
	defer a.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/u1/enrollments/typing-speed", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("enroll = %d %s", rec.Code, rec.Body.String())
	}

	matches, _ := filepath.Glob(filepath.Join(cfg.Storage.Dir, "*.json"))
	if len(matches) != 1 {
		t.Errorf("storage dir has %d blobs, want 1", len(matches))
	}
}

func TestSetup_MissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.CatalogPath = filepath.Join(t.TempDir(), "missing")

	if _, err := setup(t.Context(), cfg); err == nil {
		t.Fatal("setup() with missing catalog dir should return error")
	}
}
