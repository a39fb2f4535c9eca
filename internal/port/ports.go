// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/mcravero/statement-ingest/internal/domain"
)

// Recognizer converts an uploaded document into per-page markdown.
// Source is an http(s) or data URL; pages is a hint for page count and
// may be zero when unknown.
type Recognizer interface {
	Recognize(ctx context.Context, source string, pages int) (*domain.RecognizedDocument, error)
}

// Structurer turns a span of recognized markdown into a structured
// statement. Callers are responsible for chunking oversized documents;
// one call maps to one model invocation.
type Structurer interface {
	ExtractStatement(ctx context.Context, markdown string) (*domain.StructuredStatement, error)
}

// FileStore resolves uploaded statement files in object storage.
type FileStore interface {
	SignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// ImportStore defines all data operations for the ingestion pipeline.
// Implemented by the Supabase adapter (or any other persistence layer).
type ImportStore interface {
	// Statement imports
	GetStatementImport(ctx context.Context, importID string) (*domain.StatementImport, error)
	// ClaimStatementImport transitions pending -> processing atomically and
	// returns nil, nil when the row was not in pending (already claimed).
	ClaimStatementImport(ctx context.Context, importID string) (*domain.StatementImport, error)
	UpdateStatementImport(ctx context.Context, importID string, updates map[string]any) error
	ListStatementImports(ctx context.Context, userID string, page, pageSize int) ([]domain.StatementImport, error)
	ListCompletedImports(ctx context.Context, accountID string) ([]domain.StatementImport, error)

	// Transactions
	InsertTransactions(ctx context.Context, txns []domain.Transaction) error
	ListTransactionsByDateRange(ctx context.Context, accountID, from, to string) ([]domain.Transaction, error)

	// OCR results
	GetOCRResult(ctx context.Context, fileHash string) (*domain.OCRResult, error)
	UpsertOCRResult(ctx context.Context, result *domain.OCRResult) error
	DeleteOCRResult(ctx context.Context, fileHash string) error

	// Accounts
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, accountID string, updates map[string]any) error
}
