package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/taskilo/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("draft_not_found", "draft\nmissing", http.StatusNotFound).WithDetails(map[string]any{
		"draftId": "tmpjob_1",
		"status":  999,
	}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "draft_not_found" || body["message"] != "draft missing" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["status"].(float64) != http.StatusNotFound {
		t.Fatalf("details must not override status, got %v", body["status"])
	}
	if body["trace_id"] != "trace-1" || body["draftId"] != "tmpjob_1" {
		t.Fatalf("expected trace id and details, got %v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Amount int64 `json:"amount"`
	}

	var out payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":7500}`))
	if err := DecodeJSON(req, 0, &out); err != nil || out.Amount != 7500 {
		t.Fatalf("expected amount 7500, got %+v (%v)", out, err)
	}

	cases := map[string]struct {
		body   string
		limit  int64
		status int
	}{
		"empty":          {body: "  ", status: http.StatusBadRequest},
		"unknown field":  {body: `{"amount":1,"extra":true}`, status: http.StatusBadRequest},
		"trailing data":  {body: `{"amount":1}{"amount":2}`, status: http.StatusBadRequest},
		"over the limit": {body: `{"amount":123456789}`, limit: 8, status: http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			err := DecodeJSON(req, tc.limit, &payload{})
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := BodyError(err).Status; got != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, got)
			}
		})
	}
}
