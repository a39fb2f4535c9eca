package service

import (
	"context"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/infra/observability"
	"github.com/mcravero/statement-ingest/internal/port"

	"go.uber.org/zap"
)

const (
	reuseSampleSize = 10
	reuseThreshold  = 0.7
)

// CacheManager resolves prior structuring results for re-uploaded files
// and persists fresh ones for the next upload. Cache failures are logged
// and treated as misses; they never fail an import.
type CacheManager struct {
	store   port.ImportStore
	local   port.Cache[*domain.OCRResult]
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewCacheManager creates a CacheManager layered over the repository and
// an in-process TTL cache.
func NewCacheManager(store port.ImportStore, local port.Cache[*domain.OCRResult], logger *zap.Logger, metrics *observability.Metrics) *CacheManager {
	return &CacheManager{store: store, local: local, logger: logger, metrics: metrics}
}

// Resolve returns a cached structured result that is safe to reuse for
// freshly recognized text, or nil when structuring must run. Entries
// stamped with a content hash are reused only when the fresh text digests
// to the same value; a mismatch means the stored result no longer
// describes this statement, so the entry is invalidated. Entries from
// before content hashing pass through check, a sample re-validation
// against the fresh text.
func (m *CacheManager) Resolve(ctx context.Context, fileHash, freshMarkdown string, check func(*domain.OCRResult) bool) *domain.OCRResult {
	res := m.lookup(ctx, fileHash)
	if res == nil || res.StructuredData == nil {
		m.metrics.IncrCacheMiss("ocr_result")
		return nil
	}

	if res.ContentHash != "" {
		if res.ContentHash != ContentHash(freshMarkdown) {
			m.logger.Warn("cached recognition no longer matches upload, invalidating",
				zap.String("file_hash", fileHash))
			m.invalidate(ctx, fileHash)
			m.metrics.IncrCacheMiss("ocr_result")
			return nil
		}
		m.metrics.IncrCacheHit("ocr_result")
		m.local.Set(fileHash, res)
		return res
	}

	// Legacy entry with no content hash: trust it only if a sample of its
	// stored transactions still validates against the fresh text.
	if check == nil || !check(res) {
		m.logger.Info("legacy cache entry failed reuse check", zap.String("file_hash", fileHash))
		m.metrics.IncrCacheMiss("ocr_result")
		return nil
	}
	m.metrics.IncrCacheHit("ocr_result")
	return res
}

func (m *CacheManager) lookup(ctx context.Context, fileHash string) *domain.OCRResult {
	if fileHash == "" {
		return nil
	}
	if cached, ok := m.local.Get(fileHash); ok {
		return cached
	}
	res, err := m.store.GetOCRResult(ctx, fileHash)
	if err != nil {
		m.logger.Warn("ocr cache lookup failed", zap.String("file_hash", fileHash), zap.Error(err))
		return nil
	}
	return res
}

func (m *CacheManager) invalidate(ctx context.Context, fileHash string) {
	m.local.Delete(fileHash)
	if err := m.store.DeleteOCRResult(ctx, fileHash); err != nil {
		m.logger.Warn("ocr cache invalidation failed", zap.String("file_hash", fileHash), zap.Error(err))
	}
}

// Save upserts a fresh extraction keyed by the file hash, stamped with the
// digest of its recognized markdown.
func (m *CacheManager) Save(ctx context.Context, res *domain.OCRResult) {
	res.ContentHash = ContentHash(res.MarkdownText)
	if err := m.store.UpsertOCRResult(ctx, res); err != nil {
		m.logger.Warn("ocr cache save failed", zap.String("file_hash", res.FileHash), zap.Error(err))
		return
	}
	m.local.Set(res.FileHash, res)
}

// ReuseSample picks up to ten stored transactions, spread across the
// statement, for legacy re-validation.
func ReuseSample(res *domain.OCRResult) []domain.CandidateTransaction {
	if res == nil || res.StructuredData == nil {
		return nil
	}
	txns := res.StructuredData.Transactions
	if len(txns) == 0 {
		return nil
	}

	step := max(1, len(txns)/reuseSampleSize)
	sample := make([]domain.CandidateTransaction, 0, reuseSampleSize)
	for i := 0; i < len(txns) && len(sample) < reuseSampleSize; i += step {
		sample = append(sample, txns[i])
	}
	return sample
}
