package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/infra/observability"
	"github.com/mcravero/statement-ingest/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// maxPromptChars caps the full structuring prompt; statement text beyond
// the budget is truncated rather than failing the call.
const maxPromptChars = 25000

const extractionSystemPrompt = "You are a precise bank statement analyst. " +
	"You extract structured data from OCR text of bank statements and respond with JSON only, no commentary."

const extractionInstructions = `Extract every transaction and the account details from the bank statement text below.

Respond with a single JSON object using exactly this schema:
{
  "account_info": {"bank_name": "", "account_number": "", "account_type": ""},
  "statement_period": {"start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD"},
  "opening_balance": 0.0,
  "closing_balance": 0.0,
  "available_balance": 0.0,
  "transactions": [
    {"date": "YYYY-MM-DD", "description": "", "amount": 0.0, "transaction_type": "", "reference": "", "balance": 0.0}
  ]
}

Rules:
- amount is negative for debits and positive for credits
- transaction_type is one of: deposit, withdrawal, transfer, payment, fee, interest, purchase, refund, atm, check, other
- copy descriptions verbatim from the statement
- omit balance fields you cannot find rather than guessing
- dates must be ISO format YYYY-MM-DD

Statement text:
`

// StructuringClient calls the LLM service that turns recognized markdown
// into a structured statement.
type StructuringClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	metrics    *observability.Metrics
}

// NewStructuringClient creates a new StructuringClient. Metrics may be nil.
func NewStructuringClient(httpClient *http.Client, baseURL, apiKey, model string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics) *StructuringClient {
	return &StructuringClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		cb:         cb,
		cfg:        cfg,
		metrics:    metrics,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ExtractStatement runs one structuring call over the given markdown span.
func (c *StructuringClient) ExtractStatement(ctx context.Context, markdown string) (*domain.StructuredStatement, error) {
	ctx, span := tracer.Start(ctx, "StructuringClient.ExtractStatement")
	defer span.End()
	span.SetAttributes(attribute.Int("markdown.chars", len(markdown)))

	if strings.TrimSpace(markdown) == "" {
		return nil, &domain.ErrValidation{Field: "markdown", Message: "empty statement text"}
	}

	prompt := buildPrompt(markdown)
	var stmt domain.StructuredStatement

	result, err := c.cb.Execute(func() (any, error) {
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := json.Marshal(chatRequest{
				Model: c.model,
				Messages: []chatMessage{
					{Role: "system", Content: extractionSystemPrompt},
					{Role: "user", Content: prompt},
				},
				Temperature: 0,
			})
			if err != nil {
				return err
			}

			endpoint := fmt.Sprintf("%s/v1/chat/completions", c.baseURL)
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
				return classifyTransport("structuring", err)
			}
			defer resp.Body.Close()

			if err := classifyStatus("structuring", resp); err != nil {
				return err
			}

			var out chatResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return &domain.ErrProcessing{Stage: "structuring", Message: "unparseable response body"}
			}
			if len(out.Choices) == 0 {
				return &domain.ErrProcessing{Stage: "structuring", Message: "response contains no choices"}
			}
			if c.metrics != nil {
				c.metrics.RecordTokens(out.Usage.PromptTokens, out.Usage.CompletionTokens)
			}

			cleaned := cleanModelJSON(out.Choices[0].Message.Content)
			var parsed domain.StructuredStatement
			if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
				return &domain.ErrProcessing{Stage: "structuring", Message: "model output is not valid JSON"}
			}
			stmt = parsed
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &stmt, nil
	})

	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "structuring"}
		}
		return nil, err
	}

	return result.(*domain.StructuredStatement), nil
}

func buildPrompt(markdown string) string {
	budget := maxPromptChars - len(extractionInstructions)
	if len(markdown) > budget {
		markdown = markdown[:budget]
	}
	return extractionInstructions + markdown
}

// cleanModelJSON strips code fences and any prose around the outermost
// JSON object. Models wrap output in markdown despite instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
