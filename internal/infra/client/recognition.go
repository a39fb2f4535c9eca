// Package client contains HTTP adapters for the external recognition and
// structuring services, with retry, circuit breaking and tracing applied
// around every call.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// maxInlineBytes caps the decoded size of data-URL payloads.
const maxInlineBytes = 50 << 20

// RecognitionClient calls the document recognition (OCR) service.
type RecognitionClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewRecognitionClient creates a new RecognitionClient.
func NewRecognitionClient(httpClient *http.Client, baseURL, apiKey, model string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *RecognitionClient {
	return &RecognitionClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		cb:         cb,
		cfg:        cfg,
	}
}

type recognizeRequest struct {
	Model  string `json:"model"`
	Source string `json:"source"`
	Pages  int    `json:"pages,omitempty"`
}

type recognizeResponse struct {
	Model          string `json:"model"`
	PagesProcessed int    `json:"pages_processed"`
	Pages          []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
		Tables   int    `json:"tables"`
		Images   int    `json:"images"`
	} `json:"pages"`
}

// Recognize converts a document into per-page markdown. Source must be an
// http(s) URL or a data URL with at most 50 MB of inline payload; pages is
// a hint and may be zero.
func (c *RecognitionClient) Recognize(ctx context.Context, source string, pages int) (*domain.RecognizedDocument, error) {
	ctx, span := tracer.Start(ctx, "RecognitionClient.Recognize")
	defer span.End()
	span.SetAttributes(attribute.Int("document.pages_hint", pages))

	if err := validateSource(source); err != nil {
		return nil, err
	}
	if pages < 0 {
		return nil, &domain.ErrValidation{Field: "pages", Message: "must not be negative"}
	}

	var doc domain.RecognizedDocument

	result, err := c.cb.Execute(func() (any, error) {
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := json.Marshal(recognizeRequest{Model: c.model, Source: source, Pages: pages})
			if err != nil {
				return err
			}

			endpoint := fmt.Sprintf("%s/v1/documents/recognize", c.baseURL)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if c.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+c.apiKey)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return classifyTransport("recognition", err)
			}
			defer resp.Body.Close()

			if err := classifyStatus("recognition", resp); err != nil {
				return err
			}

			var out recognizeResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return &domain.ErrProcessing{Stage: "recognition", Message: "unparseable response body"}
			}
			return buildDocument(&out, &doc)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &doc, nil
	})

	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "recognition"}
		}
		return nil, err
	}

	return result.(*domain.RecognizedDocument), nil
}

// buildDocument validates the wire response and fills doc. A success
// response with no usable pages is a processing error, not a retry.
func buildDocument(out *recognizeResponse, doc *domain.RecognizedDocument) error {
	if len(out.Pages) == 0 {
		return &domain.ErrProcessing{Stage: "recognition", Message: "response contains no pages"}
	}

	doc.Model = out.Model
	doc.Pages = doc.Pages[:0]
	nonEmpty := 0
	for _, p := range out.Pages {
		if p.Index < 0 {
			return &domain.ErrProcessing{Stage: "recognition", Message: fmt.Sprintf("negative page index %d", p.Index)}
		}
		if strings.TrimSpace(p.Markdown) != "" {
			nonEmpty++
		}
		doc.Pages = append(doc.Pages, domain.RecognizedPage{
			Index:    p.Index,
			Markdown: p.Markdown,
			Tables:   p.Tables,
			Images:   p.Images,
		})
	}
	if nonEmpty == 0 {
		return &domain.ErrProcessing{Stage: "recognition", Message: "all pages empty"}
	}

	doc.PagesProcessed = out.PagesProcessed
	if doc.PagesProcessed == 0 {
		doc.PagesProcessed = len(out.Pages)
	}
	return nil
}

// validateSource accepts http(s) URLs and bounded data URLs.
func validateSource(source string) error {
	if strings.HasPrefix(source, "data:") {
		idx := strings.Index(source, ",")
		if idx < 0 {
			return &domain.ErrValidation{Field: "source", Message: "malformed data URL"}
		}
		payload := source[idx+1:]
		if base64.StdEncoding.DecodedLen(len(payload)) > maxInlineBytes {
			return &domain.ErrValidation{Field: "source", Message: "inline document exceeds 50 MB"}
		}
		return nil
	}

	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &domain.ErrValidation{Field: "source", Message: "unsupported document source"}
	}
	return nil
}

// classifyStatus maps an upstream HTTP status onto the error taxonomy.
// Returns nil for 2xx.
func classifyStatus(service string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.ErrAuth{Service: service, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.ErrRateLimit{Service: service, RetryAfterSeconds: parseRetryAfter(resp)}
	case resp.StatusCode == http.StatusRequestTimeout:
		return &domain.ErrTimeout{Operation: service + " request"}
	case resp.StatusCode >= 500:
		return &domain.ErrTransient{Service: service, Status: resp.StatusCode}
	default:
		return &domain.ErrProcessing{Stage: service, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
}

// classifyTransport maps transport-level failures. Timeouts are retryable,
// cancellation propagates untouched.
func classifyTransport(service string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &domain.ErrTimeout{Operation: service + " call", Err: err}
	}
	return &domain.ErrTransient{Service: service, Err: err}
}

func parseRetryAfter(resp *http.Response) int {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return secs
		}
	}
	return 0
}
