package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mcravero/statement-ingest/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Accounts: rows in accounts
// ============================================================

// GetAccount fetches one account row. Absence is nil, nil; the balance
// side effect treats it as a skip, not a failure.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var account *domain.Account
	err := c.executeWithRetry(ctx, func() error {
		path := fmt.Sprintf("accounts?id=eq.%s&limit=1", accountID)
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			return nil
		}
		var rows []domain.Account
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decode accounts: %w", err)
		}
		if len(rows) > 0 {
			account = &rows[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// UpdateAccount patches balance columns on an account row.
func (c *Client) UpdateAccount(ctx context.Context, accountID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	err := c.executeWithRetry(ctx, func() error {
		_, err := c.doPatch(ctx, fmt.Sprintf("accounts?id=eq.%s", accountID), updates, preferMinimal)
		return err
	})
	if err != nil {
		return err
	}

	c.logger.Info("supabase: account updated",
		zap.String("account_id", accountID),
		zap.Any("updates", updates),
	)
	return nil
}
