// Package service implements the statement import pipeline: recognition,
// structuring, validation against the recognized text, and persistence.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/infra/observability"
	"github.com/mcravero/statement-ingest/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/pipeline")

const signedURLTTL = 15 * time.Minute

// Pipeline runs one statement import end to end: claim, recognition,
// cache-aware structuring, validation and persistence, ending in a
// terminal status with counts and a user-facing error message on failure.
type Pipeline struct {
	recognizer  port.Recognizer
	structuring *Structuring
	validator   *Validator
	cache       *CacheManager
	persister   *Persister
	files       port.FileStore
	indexes     *IndexProvider

	extractionTimeout time.Duration
	metrics           *observability.Metrics
	logger            *zap.Logger
}

// NewPipeline creates the pipeline with all dependencies injected.
func NewPipeline(
	recognizer port.Recognizer,
	structuring *Structuring,
	validator *Validator,
	cache *CacheManager,
	persister *Persister,
	files port.FileStore,
	indexes *IndexProvider,
	extractionTimeout time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		recognizer:        recognizer,
		structuring:       structuring,
		validator:         validator,
		cache:             cache,
		persister:         persister,
		files:             files,
		indexes:           indexes,
		extractionTimeout: extractionTimeout,
		metrics:           metrics,
		logger:            logger,
	}
}

// ProcessImport drives one import through the pipeline. Duplicate
// invocations are harmless: the claim is a compare-and-set on the pending
// status, and losing it returns nil without touching the row.
func (p *Pipeline) ProcessImport(ctx context.Context, importID, correlationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "Pipeline.ProcessImport")
	defer span.End()
	span.SetAttributes(attribute.String("import.id", importID))

	logger := observability.WithCorrelation(p.logger, correlationID).With(zap.String("import_id", importID))

	start := time.Now()
	defer func() {
		p.metrics.RecordStageDuration("pipeline", time.Since(start))
	}()

	// --- Step 1: Claim the import (pending -> processing) ---
	imp, err := p.persister.Claim(ctx, importID)
	if err != nil {
		logger.Error("claim failed", zap.Error(err))
		return err
	}
	if imp == nil {
		logger.Info("import not pending, nothing to do")
		return nil
	}
	if correlationID == "" && imp.CorrelationID != "" {
		logger = observability.WithCorrelation(logger, imp.CorrelationID)
	}

	// --- Step 2: Recognition under the extraction budget ---
	extractCtx, cancel := context.WithTimeout(ctx, p.extractionTimeout)
	defer cancel()

	source, err := p.resolveSource(ctx, imp.FilePath)
	if err != nil {
		return p.fail(ctx, logger, imp, "source", err)
	}

	recogStart := time.Now()
	doc, err := p.recognizer.Recognize(extractCtx, source, 0)
	p.metrics.RecordStageDuration("recognition", time.Since(recogStart))
	if err != nil {
		p.metrics.IncrExternalError("recognition")
		return p.fail(ctx, logger, imp, "recognition", err)
	}

	markdown := doc.Markdown()
	index := p.indexes.IndexFor(ContentHash(markdown), markdown)

	// --- Step 3: Reuse a cached structuring result, or extract fresh ---
	var (
		structured *domain.StructuredStatement
		method     string
	)
	fallbackBalance, fallbackSource, fallbackOK := 0.0, "", false

	cached := p.cache.Resolve(ctx, imp.FileHash, markdown, func(res *domain.OCRResult) bool {
		return p.validator.ReuseCheck(ReuseSample(res), index, res.StructuredData.StatementPeriod) >= reuseThreshold
	})
	if cached != nil {
		structured = cached.StructuredData
		method = MethodCached
		fallbackBalance, fallbackSource, fallbackOK = ExtractBalance(markdown)
		logger.Info("reusing cached extraction", zap.String("file_hash", imp.FileHash))
	} else {
		g, gCtx := errgroup.WithContext(extractCtx)
		g.Go(func() error {
			structStart := time.Now()
			s, m, err := p.structuring.Extract(gCtx, doc)
			p.metrics.RecordStageDuration("structuring", time.Since(structStart))
			if err != nil {
				return err
			}
			structured, method = s, m
			return nil
		})
		g.Go(func() error {
			// Regex sweep over the recognized text; fills balance gaps the
			// structuring output leaves.
			fallbackBalance, fallbackSource, fallbackOK = ExtractBalance(markdown)
			return nil
		})
		if err := g.Wait(); err != nil {
			return p.fail(ctx, logger, imp, "structuring", err)
		}

		p.cache.Save(ctx, &domain.OCRResult{
			FileHash:       imp.FileHash,
			MarkdownText:   markdown,
			StructuredData: structured,
			PagesCount:     doc.PagesProcessed,
		})
	}

	// --- Step 4: Validate candidates against the recognized text ---
	valStart := time.Now()
	outcome := p.validator.ValidateBatch(structured.Transactions, index, structured.StatementPeriod)
	p.metrics.RecordStageDuration("validation", time.Since(valStart))
	p.metrics.AddTransactions("validated", len(outcome.Valid))
	p.metrics.AddTransactions("rejected", len(outcome.Rejected))
	logger.Info("validation finished",
		zap.Int("candidates", len(structured.Transactions)),
		zap.Int("valid", len(outcome.Valid)),
		zap.Int("rejected", len(outcome.Rejected)),
		zap.Int("bypassed", outcome.Bypassed),
	)

	// --- Step 5: Persist transactions ---
	persistStart := time.Now()
	insert, err := p.persister.Persist(ctx, imp, outcome.Valid, structured.StatementPeriod)
	p.metrics.RecordStageDuration("persistence", time.Since(persistStart))
	if err != nil {
		return p.fail(ctx, logger, imp, "persistence", err)
	}
	if insert.Attempted > 0 && insert.Inserted == 0 {
		// Partial success is fine; storing nothing out of a non-empty set
		// is not.
		return p.fail(ctx, logger, imp, "persistence",
			&domain.ErrProcessing{Stage: "persistence", Message: "no transactions could be stored"})
	}

	// --- Step 6: Account balance side effect (never fatal) ---
	balance, balanceSource, haveBalance := pickBalance(structured, fallbackBalance, fallbackSource, fallbackOK)
	balanceApplied := imp.Metadata.BalanceUpdated
	if haveBalance {
		res := p.persister.ApplyBalance(ctx, imp, balance, balanceSource, periodEnd(structured))
		if res.Applied {
			balanceApplied = true
		} else {
			logger.Info("balance update skipped", zap.String("reason", res.Skipped))
		}
	}

	// --- Step 7: Final status, counts and metadata ---
	metadata := domain.ImportMetadata{
		ExtractionMethod: method,
		PagesProcessed:   doc.PagesProcessed,
		BalanceUpdated:   balanceApplied,
	}
	if structured.AccountInfo != nil {
		metadata.BankName = structured.AccountInfo.BankName
		metadata.AccountNumber = structured.AccountInfo.AccountNumber
	}
	if structured.StatementPeriod != nil {
		metadata.PeriodStart = CanonicalDate(structured.StatementPeriod.StartDate)
		metadata.PeriodEnd = CanonicalDate(structured.StatementPeriod.EndDate)
	}
	if haveBalance {
		metadata.ExtractedBalance = &balance
		metadata.BalanceSource = balanceSource
	}

	err = p.persister.SetStatus(ctx, imp.ID, domain.ImportStatusCompleted, map[string]any{
		"total_transactions":    len(outcome.Valid),
		"imported_transactions": insert.Inserted,
		"failed_transactions":   insert.Failed,
		"metadata":              metadata,
	})
	if err != nil {
		logger.Error("completed-status write failed", zap.Error(err))
		p.metrics.IncrImport("failed")
		return err
	}

	p.metrics.IncrImport("completed")
	logger.Info("statement import completed",
		zap.Int("inserted", insert.Inserted),
		zap.Int("duplicates", insert.Duplicates),
		zap.Int("failed", insert.Failed),
		zap.String("method", method),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// resolveSource hands the recognition service a short-lived signed URL,
// falling back to an inline data URL when signing is unavailable.
func (p *Pipeline) resolveSource(ctx context.Context, path string) (string, error) {
	url, err := p.files.SignedURL(ctx, path, signedURLTTL)
	if err == nil {
		return url, nil
	}
	p.logger.Warn("signed URL failed, downloading inline", zap.String("path", path), zap.Error(err))

	raw, dlErr := p.files.Download(ctx, path)
	if dlErr != nil {
		return "", fmt.Errorf("file source: %w", errors.Join(err, dlErr))
	}
	return "data:" + mimeForPath(path) + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

func mimeForPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// pickBalance chooses the balance to record: structured closing balance
// first, then structured available balance, then the regex fallback.
func pickBalance(s *domain.StructuredStatement, fallback float64, fallbackSource string, fallbackOK bool) (float64, string, bool) {
	if s != nil && s.ClosingBalance != nil {
		return *s.ClosingBalance, "llm_closing", true
	}
	if s != nil && s.AvailableBalance != nil {
		return *s.AvailableBalance, "llm_available", true
	}
	if fallbackOK {
		return fallback, fallbackSource, true
	}
	return 0, "", false
}

func periodEnd(s *domain.StructuredStatement) string {
	if s == nil || s.StatementPeriod == nil {
		return ""
	}
	return s.StatementPeriod.EndDate
}

// fail records a terminal failed status with a message a non-engineer can
// act on, then returns the original error to the task runner.
func (p *Pipeline) fail(ctx context.Context, logger *zap.Logger, imp *domain.StatementImport, stage string, err error) error {
	logger.Error("statement import failed",
		zap.String("stage", stage),
		zap.Error(err),
	)
	if serr := p.persister.SetStatus(ctx, imp.ID, domain.ImportStatusFailed, map[string]any{
		"error_message": failureMessage(err),
	}); serr != nil {
		logger.Error("failed-status write failed", zap.Error(serr))
	}
	p.metrics.IncrImport("failed")
	return err
}

// failureMessage turns a pipeline error into guidance for the person who
// uploaded the statement.
func failureMessage(err error) string {
	var auth *domain.ErrAuth
	var rate *domain.ErrRateLimit
	var open *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var validation *domain.ErrValidation

	switch {
	case errors.As(err, &auth):
		return "The document service rejected our credentials. This is a configuration problem on our side; please contact support."
	case errors.As(err, &rate):
		return "The document service is rate limiting requests. Please wait a few minutes and try again."
	case errors.As(err, &open):
		return "The document service is temporarily unavailable. Please try again in a few minutes."
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return "Processing took too long. Try a smaller file or split the statement into fewer pages."
	case errors.As(err, &validation):
		return "The uploaded file could not be processed: " + validationDetail(validation) + "."
	default:
		return "We could not extract transactions from this statement. Re-upload the file, or try a clearer copy."
	}
}

func validationDetail(v *domain.ErrValidation) string {
	if v == nil || v.Message == "" {
		return "the file format was not recognized"
	}
	return v.Message
}
