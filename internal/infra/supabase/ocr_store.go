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
// OCR result cache: rows in ocr_results, keyed by file_hash
// ============================================================

// ocrRow holds the columns an upsert sets.
type ocrRow struct {
	FileHash       string                      `json:"file_hash"`
	ContentHash    string                      `json:"ocr_content_hash,omitempty"`
	MarkdownText   string                      `json:"markdown_text"`
	StructuredData *domain.StructuredStatement `json:"structured_data,omitempty"`
	PagesCount     int                         `json:"pages_count"`
}

// GetOCRResult fetches the cached extraction for a file hash. Absence
// is nil, nil.
func (c *Client) GetOCRResult(ctx context.Context, fileHash string) (*domain.OCRResult, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetOCRResult")
	defer span.End()
	span.SetAttributes(attribute.String("file.hash", fileHash))

	var res *domain.OCRResult
	err := c.executeWithRetry(ctx, func() error {
		path := fmt.Sprintf("ocr_results?file_hash=eq.%s&limit=1", fileHash)
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			return nil
		}
		var rows []domain.OCRResult
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decode ocr results: %w", err)
		}
		if len(rows) > 0 {
			res = &rows[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UpsertOCRResult stores a fresh extraction, replacing any previous
// entry for the same file hash.
func (c *Client) UpsertOCRResult(ctx context.Context, result *domain.OCRResult) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertOCRResult")
	defer span.End()
	span.SetAttributes(attribute.String("file.hash", result.FileHash))

	row := ocrRow{
		FileHash:       result.FileHash,
		ContentHash:    result.ContentHash,
		MarkdownText:   result.MarkdownText,
		StructuredData: result.StructuredData,
		PagesCount:     result.PagesCount,
	}
	return c.executeWithRetry(ctx, func() error {
		_, err := c.doPost(ctx, "ocr_results?on_conflict=file_hash", row, preferUpsert)
		return err
	})
}

// DeleteOCRResult drops a cache entry whose recognized content no
// longer matches the upload.
func (c *Client) DeleteOCRResult(ctx context.Context, fileHash string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteOCRResult")
	defer span.End()
	span.SetAttributes(attribute.String("file.hash", fileHash))

	return c.executeWithRetry(ctx, func() error {
		return c.doDelete(ctx, fmt.Sprintf("ocr_results?file_hash=eq.%s", fileHash))
	})
}
