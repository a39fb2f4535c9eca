package service

import (
	"context"
	"sort"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/infra/observability"
	"github.com/mcravero/statement-ingest/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Extraction method labels recorded in import metadata.
const (
	MethodSingle  = "ocr+llm"
	MethodChunked = "ocr+llm+chunked"
	MethodCached  = "cache"
)

// Structuring orchestrates model calls over a recognized document,
// chunking oversized documents and merging the partial statements.
type Structuring struct {
	client      port.Structurer
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewStructuring creates the structuring orchestrator.
func NewStructuring(client port.Structurer, concurrency int, logger *zap.Logger, metrics *observability.Metrics) *Structuring {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Structuring{client: client, concurrency: concurrency, logger: logger, metrics: metrics}
}

// Extract structures the document. Below the size thresholds this is one
// model call over the full text, never truncated; above them, page-group
// chunks fan out concurrently and the partial statements merge.
func (s *Structuring) Extract(ctx context.Context, doc *domain.RecognizedDocument) (*domain.StructuredStatement, string, error) {
	ctx, span := tracer.Start(ctx, "Structuring.Extract")
	defer span.End()

	markdown := doc.Markdown()
	if !needsChunking(doc, markdown) {
		stmt, err := s.client.ExtractStatement(ctx, markdown)
		if err != nil {
			s.metrics.IncrExternalError("structuring")
			return nil, "", err
		}
		return stmt, MethodSingle, nil
	}

	chunks := buildChunks(doc)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	s.logger.Info("structuring in chunks",
		zap.Int("pages", len(doc.Pages)),
		zap.Int("chars", len(markdown)),
		zap.Int("chunks", len(chunks)),
	)

	results := make([]*domain.StructuredStatement, len(chunks))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			stmt, err := s.client.ExtractStatement(gCtx, chunk)
			if err != nil {
				// A failed chunk is dropped; the rest of the document
				// still yields transactions.
				s.logger.Warn("chunk structuring failed", zap.Int("chunk", i), zap.Error(err))
				s.metrics.IncrExternalError("structuring")
				return nil
			}
			results[i] = stmt
			return nil
		})
	}
	g.Wait()

	merged, succeeded := mergeChunkResults(results)
	if succeeded == 0 {
		if ctx.Err() != nil {
			return nil, "", &domain.ErrTimeout{Operation: "chunked structuring", Err: ctx.Err()}
		}
		return nil, "", &domain.ErrProcessing{Stage: "structuring", Message: "all chunks failed"}
	}
	if succeeded < len(chunks) {
		s.logger.Warn("partial structuring result",
			zap.Int("succeeded", succeeded),
			zap.Int("chunks", len(chunks)),
		)
	}
	return merged, MethodChunked, nil
}

// mergeChunkResults combines partial statements. Transactions concatenate
// in chunk order; account and period fields take the first non-null;
// balances come from the chunk with the highest completeness score
// (closing 10, available 5, opening 1, ties to the highest chunk index),
// with missing fields back-filled from the next best chunks.
func mergeChunkResults(results []*domain.StructuredStatement) (*domain.StructuredStatement, int) {
	merged := &domain.StructuredStatement{}
	succeeded := 0
	var order []int

	for i, r := range results {
		if r == nil {
			continue
		}
		succeeded++
		order = append(order, i)
		merged.Transactions = append(merged.Transactions, r.Transactions...)
		if merged.AccountInfo == nil && r.AccountInfo != nil {
			merged.AccountInfo = r.AccountInfo
		}
		if merged.StatementPeriod == nil && r.StatementPeriod != nil {
			merged.StatementPeriod = r.StatementPeriod
		}
	}
	if succeeded == 0 {
		return merged, 0
	}

	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := balanceScore(results[order[a]]), balanceScore(results[order[b]])
		if sa != sb {
			return sa > sb
		}
		return order[a] > order[b]
	})
	for _, i := range order {
		r := results[i]
		if merged.ClosingBalance == nil {
			merged.ClosingBalance = r.ClosingBalance
		}
		if merged.AvailableBalance == nil {
			merged.AvailableBalance = r.AvailableBalance
		}
		if merged.OpeningBalance == nil {
			merged.OpeningBalance = r.OpeningBalance
		}
	}

	return merged, succeeded
}

func balanceScore(r *domain.StructuredStatement) int {
	score := 0
	if r.ClosingBalance != nil {
		score += 10
	}
	if r.AvailableBalance != nil {
		score += 5
	}
	if r.OpeningBalance != nil {
		score += 1
	}
	return score
}
