// Package domain defines the core business entities for the statement
// ingestion service. These models are independent of external services and
// represent the canonical data structures used throughout the pipeline.
package domain

import (
	"strings"
	"time"
)

// ============================================================
// Statement imports
// ============================================================

// ImportStatus is the lifecycle state of a statement import.
type ImportStatus string

const (
	// ImportStatusPending marks an upload that has not been claimed yet.
	ImportStatusPending ImportStatus = "pending"
	// ImportStatusProcessing marks an import claimed by the pipeline.
	ImportStatusProcessing ImportStatus = "processing"
	// ImportStatusCompleted is terminal; zero imported transactions is valid.
	ImportStatusCompleted ImportStatus = "completed"
	// ImportStatusFailed is terminal; ErrorMessage carries the reason.
	ImportStatusFailed ImportStatus = "failed"
)

// StatementImport is one row per uploaded file per import attempt.
// Rows are created as "pending" by the uploader; only pending rows may be
// claimed by the pipeline, which is the guard against duplicate processing.
type StatementImport struct {
	ID                   string         `json:"id"`
	UserID               string         `json:"user_id"`
	AccountID            string         `json:"account_id"`
	FilePath             string         `json:"file_path"`
	FileHash             string         `json:"file_hash"`
	Status               ImportStatus   `json:"status"`
	TotalTransactions    int            `json:"total_transactions"`
	ImportedTransactions int            `json:"imported_transactions"`
	FailedTransactions   int            `json:"failed_transactions"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	Metadata             ImportMetadata `json:"metadata"`
	CorrelationID        string         `json:"correlation_id,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// ImportMetadata is the free-form metadata blob on a statement import.
// Dates are canonical YYYY-MM-DD strings; ExtractedBalance is nil until a
// balance has been found by either the structuring step or the regex
// fallback.
type ImportMetadata struct {
	ExtractionMethod string   `json:"extraction_method,omitempty"`
	BankName         string   `json:"bank_name,omitempty"`
	AccountNumber    string   `json:"account_number,omitempty"`
	PeriodStart      string   `json:"statement_period_start,omitempty"`
	PeriodEnd        string   `json:"statement_period_end,omitempty"`
	ExtractedBalance *float64 `json:"extracted_balance,omitempty"`
	BalanceSource    string   `json:"balance_source,omitempty"`
	BalanceUpdated   bool     `json:"balance_updated,omitempty"`
	PagesProcessed   int      `json:"pages_processed,omitempty"`
}

// ============================================================
// Recognition output
// ============================================================

// RecognizedPage is one page of markdown produced by the recognition service.
type RecognizedPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
	Tables   int    `json:"tables,omitempty"`
	Images   int    `json:"images,omitempty"`
}

// RecognizedDocument is the validated output of a recognition call.
type RecognizedDocument struct {
	Pages          []RecognizedPage `json:"pages"`
	Model          string           `json:"model"`
	PagesProcessed int              `json:"pages_processed"`
}

// Markdown joins all page contents in page order.
func (d *RecognizedDocument) Markdown() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Markdown)
	}
	return strings.Join(parts, "\n\n")
}

// ============================================================
// Structured statement (LLM output)
// ============================================================

// AccountInfo is the account identification block of a structured statement.
type AccountInfo struct {
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountType   string `json:"account_type,omitempty"`
}

// StatementPeriod is the date range a statement covers. Dates are
// YYYY-MM-DD strings; either side may be empty when the model could not
// locate it.
type StatementPeriod struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// CandidateTransaction is a transaction as emitted by the structuring step.
// It is transient: candidates exist only between structuring and
// validation, and are discarded when validation rejects them.
type CandidateTransaction struct {
	Date        string   `json:"date"`
	Description string   `json:"description"`
	Amount      float64  `json:"amount"`
	Type        string   `json:"transaction_type,omitempty"`
	Reference   string   `json:"reference,omitempty"`
	Balance     *float64 `json:"balance,omitempty"`
}

// StructuredStatement is the fixed JSON schema the structuring service
// must produce, and the shape stored in the OCR result cache.
type StructuredStatement struct {
	AccountInfo      *AccountInfo           `json:"account_info,omitempty"`
	StatementPeriod  *StatementPeriod       `json:"statement_period,omitempty"`
	OpeningBalance   *float64               `json:"opening_balance,omitempty"`
	ClosingBalance   *float64               `json:"closing_balance,omitempty"`
	AvailableBalance *float64               `json:"available_balance,omitempty"`
	Transactions     []CandidateTransaction `json:"transactions"`
}

// ============================================================
// Validation
// ============================================================

// Confidence is the validator's qualitative classification of how well a
// candidate transaction is evidenced in the recognized text.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// AtLeast reports whether c meets the given minimum tier.
func (c Confidence) AtLeast(min Confidence) bool {
	rank := map[Confidence]int{ConfidenceLow: 1, ConfidenceMedium: 2, ConfidenceHigh: 3}
	return rank[c] >= rank[min]
}

// ValidatedTransaction is a candidate that passed validation, annotated
// with the confidence tier it earned.
type ValidatedTransaction struct {
	CandidateTransaction
	Confidence Confidence `json:"confidence"`
}

// RejectedTransaction records why a candidate was discarded.
type RejectedTransaction struct {
	CandidateTransaction
	Reason string `json:"reason"`
}

// ============================================================
// Persisted transactions
// ============================================================

// Transaction is a stored, validated transaction row. Amounts follow the
// sign convention positive = income, negative = expense; this is enforced
// by normalization before insert regardless of what the model returned.
// Rows are never mutated by the pipeline after insert.
type Transaction struct {
	ID                string    `json:"id,omitempty"`
	UserID            string    `json:"user_id"`
	AccountID         string    `json:"account_id"`
	StatementImportID string    `json:"statement_import_id"`
	Date              string    `json:"date"`
	Description       string    `json:"description"`
	Amount            float64   `json:"amount"`
	Type              string    `json:"type"`
	Reference         string    `json:"reference,omitempty"`
	CategoryID        *string   `json:"category_id,omitempty"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
}

// ============================================================
// Accounts
// ============================================================

// Account is the bank account a statement belongs to. Balance is mutated
// as a pipeline side effect; for liability accounts BalanceOwed holds the
// positive amount owed and Balance mirrors it negated.
type Account struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	AccountType string    `json:"account_type"`
	Balance     float64   `json:"balance"`
	BalanceOwed *float64  `json:"balance_owed,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsLiability reports whether the account stores balances as amounts owed.
func (a *Account) IsLiability() bool {
	switch strings.ToLower(a.AccountType) {
	case "credit", "credit_card", "loan", "line_of_credit":
		return true
	}
	return false
}

// ============================================================
// OCR result cache
// ============================================================

// OCRResult is a cache entry keyed by (file_hash, ocr_content_hash).
// FileHash identifies byte-identical uploads; ContentHash is a digest of
// the recognized markdown and guards against reusing an entry whose
// recognized content no longer matches.
type OCRResult struct {
	ID             string               `json:"id,omitempty"`
	FileHash       string               `json:"file_hash"`
	ContentHash    string               `json:"ocr_content_hash,omitempty"`
	MarkdownText   string               `json:"markdown_text"`
	StructuredData *StructuredStatement `json:"structured_data,omitempty"`
	PagesCount     int                  `json:"pages_count"`
	CreatedAt      time.Time            `json:"created_at,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at,omitempty"`
}

// ============================================================
// Persistence outcomes
// ============================================================

// InsertResult is the partial-success bookkeeping for a batch insert run.
// Attempted counts unique post-deduplication rows submitted for insert,
// so Attempted == Inserted + Failed always holds.
type InsertResult struct {
	Attempted  int `json:"attempted"`
	Inserted   int `json:"inserted"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

// BalanceUpdateResult records the outcome of the idempotent balance write.
type BalanceUpdateResult struct {
	Applied bool    `json:"applied"`
	Skipped string  `json:"skipped,omitempty"` // reason when not applied
	Balance float64 `json:"balance,omitempty"`
}

// ============================================================
// Metrics
// ============================================================

// PipelineMetrics is a point-in-time snapshot of pipeline counters,
// served by GET /v1/metrics/pipeline.
type PipelineMetrics struct {
	ImportsCompleted     int64   `json:"imports_completed"`
	ImportsFailed        int64   `json:"imports_failed"`
	ErrorRate            float64 `json:"error_rate"`
	TransactionsInserted int64   `json:"transactions_inserted"`
	TransactionsRejected int64   `json:"transactions_rejected"`
	DuplicatesSkipped    int64   `json:"duplicates_skipped"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
	TokensUsed           int64   `json:"tokens_used"`
	EstimatedCostUSD     float64 `json:"estimated_cost_usd"`
	Period               string  `json:"period"`
}
