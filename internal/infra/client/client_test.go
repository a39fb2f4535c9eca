package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/infra/client"
	"github.com/mcravero/statement-ingest/internal/infra/resilience"
)

func retryCfg() resilience.Config {
	return resilience.Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Retryable:      domain.IsRetryable,
	}
}

func recognitionClient(t *testing.T, url string) *client.RecognitionClient {
	t.Helper()
	cb := resilience.NewCircuitBreaker("recognition", resilience.BreakerConfig{FailureThreshold: 50, Cooldown: time.Minute})
	return client.NewRecognitionClient(http.DefaultClient, url, "test-key", "doc-model", cb, retryCfg())
}

func TestRecognize_Success(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/v1/documents/recognize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"doc-model","pages_processed":2,"pages":[{"index":0,"markdown":"# Page 1"},{"index":1,"markdown":"# Page 2"}]}`))
	}))
	defer srv.Close()

	doc, err := recognitionClient(t, srv.URL).Recognize(context.Background(), "https://files.example.com/stmt.pdf", 2)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(doc.Pages))
	}
	if doc.Markdown() != "# Page 1\n\n# Page 2" {
		t.Errorf("unexpected joined markdown %q", doc.Markdown())
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRecognize_RejectsBadSource(t *testing.T) {
	c := recognitionClient(t, "http://unused")

	cases := []string{
		"ftp://files.example.com/stmt.pdf",
		"file:///etc/passwd",
		"data:application/pdf;base64",
		"not a url",
	}
	for _, source := range cases {
		_, err := c.Recognize(context.Background(), source, 0)
		var vErr *domain.ErrValidation
		if !errors.As(err, &vErr) {
			t.Errorf("source %q: expected validation error, got %v", source, err)
		}
	}

	if _, err := c.Recognize(context.Background(), "https://files.example.com/a.pdf", -1); err == nil {
		t.Error("expected validation error for negative pages")
	}
}

func TestRecognize_AuthErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := recognitionClient(t, srv.URL).Recognize(context.Background(), "https://files.example.com/a.pdf", 0)
	var authErr *domain.ErrAuth
	if !errors.As(err, &authErr) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call for auth failure, got %d", calls)
	}
}

func TestRecognize_RateLimitCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := recognitionClient(t, srv.URL).Recognize(context.Background(), "https://files.example.com/a.pdf", 0)
	var rlErr *domain.ErrRateLimit
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rlErr.RetryAfterSeconds != 30 {
		t.Errorf("expected retry-after 30, got %d", rlErr.RetryAfterSeconds)
	}
}

func TestRecognize_ServerErrorsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := recognitionClient(t, srv.URL).Recognize(context.Background(), "https://files.example.com/a.pdf", 0)
	var trErr *domain.ErrTransient
	if !errors.As(err, &trErr) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestRecognize_EmptyPagesIsProcessingError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"model":"doc-model","pages":[]}`))
	}))
	defer srv.Close()

	_, err := recognitionClient(t, srv.URL).Recognize(context.Background(), "https://files.example.com/a.pdf", 0)
	var pErr *domain.ErrProcessing
	if !errors.As(err, &pErr) {
		t.Fatalf("expected processing error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("malformed success must not be retried, got %d calls", calls)
	}
}

func TestRecognize_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker("recognition", resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	cfg := resilience.Config{MaxRetries: 0, InitialBackoff: time.Millisecond, Retryable: domain.IsRetryable}
	c := client.NewRecognitionClient(http.DefaultClient, srv.URL, "", "doc-model", cb, cfg)

	for i := 0; i < 2; i++ {
		c.Recognize(context.Background(), "https://files.example.com/a.pdf", 0)
	}

	_, err := c.Recognize(context.Background(), "https://files.example.com/a.pdf", 0)
	var openErr *domain.ErrCircuitOpen
	if !errors.As(err, &openErr) {
		t.Fatalf("expected circuit open error, got %v", err)
	}
}

func structuringClient(t *testing.T, url string) *client.StructuringClient {
	t.Helper()
	cb := resilience.NewCircuitBreaker("structuring", resilience.BreakerConfig{FailureThreshold: 50, Cooldown: time.Minute})
	return client.NewStructuringClient(http.DefaultClient, url, "test-key", "llm-model", cb, retryCfg(), nil)
}

func TestExtractStatement_ParsesFencedOutput(t *testing.T) {
	content := "```json\n" +
		`{"closing_balance": 1250.75, "transactions": [{"date": "2024-01-15", "description": "GROCERY STORE", "amount": -45.20, "transaction_type": "purchase"}]}` +
		"\n```"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
			"usage":   map[string]int{"prompt_tokens": 900, "completion_tokens": 120},
		})
	}))
	defer srv.Close()

	stmt, err := structuringClient(t, srv.URL).ExtractStatement(context.Background(), "# Statement\n01/15 GROCERY STORE -45.20")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if stmt.ClosingBalance == nil || *stmt.ClosingBalance != 1250.75 {
		t.Errorf("unexpected closing balance %v", stmt.ClosingBalance)
	}
	if len(stmt.Transactions) != 1 || stmt.Transactions[0].Description != "GROCERY STORE" {
		t.Fatalf("unexpected transactions %+v", stmt.Transactions)
	}
}

func TestExtractStatement_GarbageOutputIsProcessingError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"choices":[{"message":{"content":"I could not find any transactions."}}]}`))
	}))
	defer srv.Close()

	_, err := structuringClient(t, srv.URL).ExtractStatement(context.Background(), "some markdown")
	var pErr *domain.ErrProcessing
	if !errors.As(err, &pErr) {
		t.Fatalf("expected processing error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("parse failures must not be retried, got %d calls", calls)
	}
}

func TestExtractStatement_EmptyMarkdownRejected(t *testing.T) {
	_, err := structuringClient(t, "http://unused").ExtractStatement(context.Background(), "   ")
	var vErr *domain.ErrValidation
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
