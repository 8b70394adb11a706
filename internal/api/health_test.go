package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		pingErr      error
		wantStatus   int
		wantOverall  string
		wantPostgres string
	}{
		{name: "healthy", wantStatus: http.StatusOK, wantOverall: "ok", wantPostgres: "ok"},
		{
			name:         "postgres down",
			pingErr:      errors.New("connection refused"),
			wantStatus:   http.StatusServiceUnavailable,
			wantOverall:  "degraded",
			wantPostgres: "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := NewHealthHandler(fakePinger{err: tt.pingErr})

			app := fiber.New()
			app.Get("/api/v1/health", handler.Health)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			var env struct {
				Data struct {
					Status   string `json:"status"`
					Postgres string `json:"postgres"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &env); err != nil {
				t.Fatalf("decode body: %v\nraw: %s", err, body)
			}
			if env.Data.Status != tt.wantOverall {
				t.Errorf("data.status = %q, want %q", env.Data.Status, tt.wantOverall)
			}
			if env.Data.Postgres != tt.wantPostgres {
				t.Errorf("data.postgres = %q, want %q", env.Data.Postgres, tt.wantPostgres)
			}
		})
	}
}
