package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mcravero/statement-ingest/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Transactions: rows in transactions
// ============================================================

// txnRow holds exactly the columns an insert sets. The domain struct
// carries server-populated fields (id, created_at) that must not be
// sent on insert.
type txnRow struct {
	UserID            string  `json:"user_id"`
	AccountID         string  `json:"account_id"`
	StatementImportID string  `json:"statement_import_id"`
	Date              string  `json:"date"`
	Description       string  `json:"description"`
	Amount            float64 `json:"amount"`
	Type              string  `json:"type"`
	Reference         string  `json:"reference,omitempty"`
}

// InsertTransactions bulk-inserts one batch. Exactly one attempt: the
// persister owns the per-batch retry budget, so retrying here would
// multiply it.
func (c *Client) InsertTransactions(ctx context.Context, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Supabase.InsertTransactions")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(txns)))

	rows := make([]txnRow, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, txnRow{
			UserID:            t.UserID,
			AccountID:         t.AccountID,
			StatementImportID: t.StatementImportID,
			Date:              t.Date,
			Description:       t.Description,
			Amount:            t.Amount,
			Type:              t.Type,
			Reference:         t.Reference,
		})
	}

	return c.execute(func() error {
		_, err := c.doPost(ctx, "transactions", rows, preferMinimal)
		return err
	})
}

// ListTransactionsByDateRange returns the stored rows inside [from, to],
// restricted to the columns the dedup key needs.
func (c *Client) ListTransactionsByDateRange(ctx context.Context, accountID, from, to string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTransactionsByDateRange")
	defer span.End()
	span.SetAttributes(
		attribute.String("range.from", from),
		attribute.String("range.to", to),
	)

	var rows []domain.Transaction
	err := c.executeWithRetry(ctx, func() error {
		path := fmt.Sprintf("transactions?account_id=eq.%s&date=gte.%s&date=lte.%s&select=reference,description,date,amount&order=date.asc",
			accountID, from, to)
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			rows = nil
			return nil
		}
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decode transactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
