package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz(t *testing.T) {
	router := newTestRouter(newFakeImportStore(), newTestRunner())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
}

func TestReadyz(t *testing.T) {
	router := newTestRouter(newFakeImportStore(), newTestRunner())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := newTestRouter(newFakeImportStore(), newTestRunner())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestPing(t *testing.T) {
	router := newTestRouter(newFakeImportStore(), newTestRunner())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestPipelineMetricsIsPublic(t *testing.T) {
	router := newTestRouter(newFakeImportStore(), newTestRunner())

	req := httptest.NewRequest(http.MethodGet, "/v1/metrics/pipeline", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["imports_completed"]; !ok {
		t.Error("expected imports_completed in the snapshot")
	}
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(newFakeImportStore(), newTestRunner())

	req := httptest.NewRequest(http.MethodGet, "/v1/statement-imports", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRejectsForeignSignature(t *testing.T) {
	router := newTestRouter(newFakeImportStore(), newTestRunner())

	req := httptest.NewRequest(http.MethodGet, "/v1/statement-imports", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "some-other-secret", "user-1"))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRejectsMalformedHeader(t *testing.T) {
	router := newTestRouter(newFakeImportStore(), newTestRunner())

	req := httptest.NewRequest(http.MethodGet, "/v1/statement-imports", nil)
	req.Header.Set("Authorization", "Token abc123")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
