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
// Statement imports: rows in statement_imports
// ============================================================

// GetStatementImport fetches one import row. Absence is nil, nil.
func (c *Client) GetStatementImport(ctx context.Context, importID string) (*domain.StatementImport, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetStatementImport")
	defer span.End()
	span.SetAttributes(attribute.String("import.id", importID))

	var imp *domain.StatementImport
	err := c.executeWithRetry(ctx, func() error {
		path := fmt.Sprintf("statement_imports?id=eq.%s&limit=1", importID)
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		rows, err := decodeImports(body)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			imp = &rows[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return imp, nil
}

// ClaimStatementImport is the compare-and-set pending -> processing.
// The status filter makes the update conditional, so two workers racing
// on the same import see exactly one non-empty response. Returns nil,
// nil when the row was not pending. Deliberately not retried: a lost
// response after a successful write would read as already-claimed.
func (c *Client) ClaimStatementImport(ctx context.Context, importID string) (*domain.StatementImport, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ClaimStatementImport")
	defer span.End()
	span.SetAttributes(attribute.String("import.id", importID))

	var imp *domain.StatementImport
	err := c.execute(func() error {
		path := fmt.Sprintf("statement_imports?id=eq.%s&status=eq.pending", importID)
		body, err := c.doPatch(ctx, path, map[string]any{"status": string(domain.ImportStatusProcessing)}, preferRepresentation)
		if err != nil {
			return err
		}
		rows, err := decodeImports(body)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			imp = &rows[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if imp == nil {
		c.logger.Debug("supabase: import not pending, claim returned no rows",
			zap.String("import_id", importID))
	}
	return imp, nil
}

// UpdateStatementImport patches arbitrary columns on an import row.
// Status transitions, counts and metadata all go through here.
func (c *Client) UpdateStatementImport(ctx context.Context, importID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateStatementImport")
	defer span.End()
	span.SetAttributes(attribute.String("import.id", importID))

	return c.executeWithRetry(ctx, func() error {
		path := fmt.Sprintf("statement_imports?id=eq.%s", importID)
		_, err := c.doPatch(ctx, path, updates, preferMinimal)
		return err
	})
}

// ListStatementImports returns one page of a user's imports, newest first.
func (c *Client) ListStatementImports(ctx context.Context, userID string, page, pageSize int) ([]domain.StatementImport, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListStatementImports")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	var rows []domain.StatementImport
	err := c.executeWithRetry(ctx, func() error {
		path := fmt.Sprintf("statement_imports?user_id=eq.%s&order=created_at.desc&limit=%d&offset=%d",
			userID, pageSize, (page-1)*pageSize)
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		rows, err = decodeImports(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListCompletedImports returns the completed imports for an account,
// used by the balance recency guard.
func (c *Client) ListCompletedImports(ctx context.Context, accountID string) ([]domain.StatementImport, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListCompletedImports")
	defer span.End()

	var rows []domain.StatementImport
	err := c.executeWithRetry(ctx, func() error {
		path := fmt.Sprintf("statement_imports?account_id=eq.%s&status=eq.completed&select=id,metadata&order=created_at.desc",
			accountID)
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		rows, err = decodeImports(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func decodeImports(body []byte) ([]domain.StatementImport, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var rows []domain.StatementImport
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode statement imports: %w", err)
	}
	return rows, nil
}
