package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/taskilo/api/internal/domain"
	"github.com/taskilo/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type readyzBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Checks  map[string]struct {
		Status    string  `json:"status"`
		Detail    string  `json:"detail"`
		LatencyMS float64 `json:"latencyMs"`
	} `json:"checks"`
	Details []string `json:"details"`
}

func serveReadyz(t *testing.T, h *HealthHandlers) (*httptest.ResponseRecorder, readyzBody) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body readyzBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	return rr, body
}

func TestHealthz_ReportsBuildAndUptime(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != domain.HealthStatusOK || body["version"] != "1.4.0" || body["commitSha"] != "abc123" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["uptime"] != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %v", body["uptime"])
	}
}

func TestReadyz_WithoutSystemServiceFallsBackToLiveness(t *testing.T) {
	rr, body := serveReadyz(t, NewHealthHandlers())
	if rr.Code != http.StatusOK || body.Status != domain.HealthStatusOK {
		t.Fatalf("expected liveness answer, got %d %+v", rr.Code, body)
	}
}

func TestReadyz_ReportsCheckoutCheck(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 1, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.4.0"}),
		WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Uptime: time.Minute,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: now},
				"checkout":  {Status: domain.HealthStatusOK, Detail: "2 active sessions"},
			},
		}}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr, body := serveReadyz(t, h)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body.Version != "1.4.0" {
		t.Fatalf("expected build version fallback, got %q", body.Version)
	}
	if body.Checks["checkout"].Detail != "2 active sessions" {
		t.Fatalf("expected checkout detail, got %+v", body.Checks["checkout"])
	}
	if body.Checks["firestore"].LatencyMS != 12 {
		t.Fatalf("expected firestore latency 12ms, got %v", body.Checks["firestore"].LatencyMS)
	}
}

func TestReadyz_StatusCodes(t *testing.T) {
	cases := []struct {
		name    string
		status  string
		check   string
		code    int
		details int
	}{
		{name: "degraded optional dependency stays ready", status: domain.HealthStatusDegraded, check: "pubsub", code: http.StatusOK, details: 1},
		{name: "failed required dependency", status: domain.HealthStatusError, check: "firestore", code: http.StatusServiceUnavailable, details: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
				Status: tc.status,
				Checks: map[string]domain.SystemHealthCheck{
					tc.check: {Status: tc.status, Error: "unreachable"},
				},
			}}))
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rr.Code)
			}
			var body readyzBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.status || len(body.Details) != tc.details || body.Details[0] != tc.check+": unreachable" {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestReadyz_ReportFailure(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("collect failed")}))
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
