package service

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/infra/observability"
	"github.com/mcravero/statement-ingest/internal/infra/resilience"
	"github.com/mcravero/statement-ingest/internal/port"

	"go.uber.org/zap"
)

const (
	dedupWindowDays          = 30
	insertAttemptsPerBatch   = 3
	balanceReadbackTolerance = 0.01
)

// Persister owns everything that writes: dedup, batch inserts with
// partial success, the idempotent balance side effect, and status
// transitions with read-back.
type Persister struct {
	store   port.ImportStore
	retry   resilience.Config
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewPersister creates a Persister. The retry config applies per insert
// batch and should only retry transient storage errors.
func NewPersister(store port.ImportStore, retry resilience.Config, logger *zap.Logger, metrics *observability.Metrics) *Persister {
	retry.MaxRetries = insertAttemptsPerBatch - 1
	if retry.Retryable == nil {
		retry.Retryable = domain.IsRetryable
	}
	return &Persister{store: store, retry: retry, logger: logger, metrics: metrics}
}

// batchSize picks the insert batch size by volume. Large sets use smaller
// batches so one poisoned row spoils less work.
func batchSize(n int) int {
	switch {
	case n >= 1000:
		return 250
	case n >= 500:
		return 500
	case n >= 100:
		return 300
	default:
		return n
	}
}

// dedupKey builds the composite identity reference|date|cents. Rows with
// no reference use the cleaned description so that unrelated same-day
// same-amount rows do not collapse.
func dedupKey(ref, desc, date string, amount float64) string {
	id := strings.ToLower(strings.TrimSpace(ref))
	if id == "" {
		id = strings.ToLower(CleanDescription(desc))
	}
	cents := int64(math.Round(amount * 100))
	return id + "|" + CanonicalDate(date) + "|" + strconv.FormatInt(cents, 10)
}

// Persist writes the validated set for one import: dedup against existing
// rows in a ±30 day window, then batched inserts with partial success.
// Attempted counts unique post-dedup rows, so Attempted == Inserted+Failed.
func (p *Persister) Persist(ctx context.Context, imp *domain.StatementImport, valid []domain.ValidatedTransaction, period *domain.StatementPeriod) (domain.InsertResult, error) {
	ctx, span := tracer.Start(ctx, "Persister.Persist")
	defer span.End()

	var result domain.InsertResult

	rows := make([]domain.Transaction, 0, len(valid))
	for _, vt := range valid {
		date := CanonicalDate(vt.Date)
		if _, ok := ParseFlexibleDate(date); !ok {
			// The date column is NOT NULL; an unstorable date fails the
			// row, not the import.
			p.logger.Warn("dropping transaction with unstorable date",
				zap.String("date", vt.Date),
				zap.String("description", vt.Description),
			)
			result.Attempted++
			result.Failed++
			continue
		}
		typ := InferType(vt.CandidateTransaction)
		rows = append(rows, domain.Transaction{
			UserID:            imp.UserID,
			AccountID:         imp.AccountID,
			StatementImportID: imp.ID,
			Date:              date,
			Description:       CleanDescription(vt.Description),
			Amount:            NormalizeSign(typ, vt.Amount),
			Type:              typ,
			Reference:         strings.TrimSpace(vt.Reference),
		})
	}

	existing, err := p.existingKeys(ctx, imp.AccountID, rows, period)
	if err != nil {
		return result, err
	}

	unique := make([]domain.Transaction, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		key := dedupKey(row.Reference, row.Description, row.Date, row.Amount)
		if _, dup := existing[key]; dup {
			result.Duplicates++
			continue
		}
		if _, dup := seen[key]; dup {
			result.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, row)
	}
	result.Attempted += len(unique)

	size := batchSize(len(unique))
	for start := 0; start < len(unique); start += size {
		end := min(start+size, len(unique))
		batch := unique[start:end]

		err := resilience.RetryWithBackoff(ctx, p.retry, func() error {
			return p.store.InsertTransactions(ctx, batch)
		})
		if err != nil {
			p.logger.Error("batch insert failed, skipping batch",
				zap.Int("batch_start", start),
				zap.Int("batch_len", len(batch)),
				zap.Error(err),
			)
			result.Failed += len(batch)
			continue
		}
		result.Inserted += len(batch)
	}

	p.metrics.AddTransactions("inserted", result.Inserted)
	p.metrics.AddTransactions("failed", result.Failed)
	p.metrics.AddTransactions("duplicate", result.Duplicates)
	return result, nil
}

// existingKeys loads dedup keys for stored rows inside the window. The
// window comes from the statement period, widened by ±30 days, falling
// back to the candidate date range when the period is unknown.
func (p *Persister) existingKeys(ctx context.Context, accountID string, rows []domain.Transaction, period *domain.StatementPeriod) (map[string]struct{}, error) {
	from, to, ok := dedupWindow(rows, period)
	if !ok {
		return map[string]struct{}{}, nil
	}

	existing, err := p.store.ListTransactionsByDateRange(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		keys[dedupKey(t.Reference, t.Description, t.Date, t.Amount)] = struct{}{}
	}
	return keys, nil
}

func dedupWindow(rows []domain.Transaction, period *domain.StatementPeriod) (string, string, bool) {
	var lo, hi time.Time

	if period != nil {
		if t, ok := ParseFlexibleDate(period.StartDate); ok {
			lo = t
		}
		if t, ok := ParseFlexibleDate(period.EndDate); ok {
			hi = t
		}
	}
	for _, row := range rows {
		t, ok := ParseFlexibleDate(row.Date)
		if !ok {
			continue
		}
		if lo.IsZero() || t.Before(lo) {
			lo = t
		}
		if hi.IsZero() || t.After(hi) {
			hi = t
		}
	}
	if lo.IsZero() || hi.IsZero() {
		return "", "", false
	}

	return lo.AddDate(0, 0, -dedupWindowDays).Format("2006-01-02"),
		hi.AddDate(0, 0, dedupWindowDays).Format("2006-01-02"),
		true
}

// ApplyBalance performs the idempotent account balance side effect.
// It is advisory: every failure path logs and reports a skip reason
// instead of failing the import.
func (p *Persister) ApplyBalance(ctx context.Context, imp *domain.StatementImport, balance float64, source, periodEnd string) domain.BalanceUpdateResult {
	ctx, span := tracer.Start(ctx, "Persister.ApplyBalance")
	defer span.End()

	if math.IsNaN(balance) || math.IsInf(balance, 0) || math.Abs(balance) > maxPlausibleBalance {
		return domain.BalanceUpdateResult{Skipped: "implausible value"}
	}
	if imp.Metadata.BalanceUpdated &&
		imp.Metadata.ExtractedBalance != nil && *imp.Metadata.ExtractedBalance == balance &&
		imp.Metadata.BalanceSource == source {
		return domain.BalanceUpdateResult{Skipped: "already applied"}
	}

	end, ok := ParseFlexibleDate(periodEnd)
	if !ok {
		// Without a period end we cannot order statements; a stale upload
		// could otherwise clobber a newer balance.
		return domain.BalanceUpdateResult{Skipped: "statement period end unknown"}
	}
	newer, err := p.newerStatementExists(ctx, imp, end)
	if err != nil {
		p.logger.Warn("recency check failed, skipping balance update", zap.Error(err))
		return domain.BalanceUpdateResult{Skipped: "recency check failed"}
	}
	if newer {
		return domain.BalanceUpdateResult{Skipped: "newer statement already completed"}
	}

	account, err := p.store.GetAccount(ctx, imp.AccountID)
	if err != nil || account == nil {
		p.logger.Warn("account lookup failed, skipping balance update",
			zap.String("account_id", imp.AccountID), zap.Error(err))
		return domain.BalanceUpdateResult{Skipped: "account lookup failed"}
	}

	updates := map[string]any{"balance": balance}
	want := balance
	if account.IsLiability() {
		// Liability accounts track the amount owed; the signed balance
		// mirrors it negated.
		updates = map[string]any{"balance_owed": balance, "balance": -balance}
		want = -balance
	}

	if err := p.store.UpdateAccount(ctx, imp.AccountID, updates); err != nil {
		p.logger.Error("balance update failed",
			zap.String("account_id", imp.AccountID), zap.Error(err))
		return domain.BalanceUpdateResult{Skipped: "update failed"}
	}

	got, err := p.store.GetAccount(ctx, imp.AccountID)
	if err != nil || got == nil {
		p.logger.Error("balance read-back failed", zap.String("account_id", imp.AccountID), zap.Error(err))
	} else if math.Abs(got.Balance-want) > balanceReadbackTolerance {
		p.logger.Error("balance read-back mismatch",
			zap.Float64("want", want),
			zap.Float64("got", got.Balance),
		)
	}

	return domain.BalanceUpdateResult{Applied: true, Balance: want}
}

// newerStatementExists reports whether another completed import for the
// same account covers a later period end. Imports without a recorded
// period end cannot be ordered and are ignored.
func (p *Persister) newerStatementExists(ctx context.Context, imp *domain.StatementImport, end time.Time) (bool, error) {
	others, err := p.store.ListCompletedImports(ctx, imp.AccountID)
	if err != nil {
		return false, err
	}
	for _, other := range others {
		if other.ID == imp.ID {
			continue
		}
		otherEnd, ok := ParseFlexibleDate(other.Metadata.PeriodEnd)
		if ok && otherEnd.After(end) {
			return true, nil
		}
	}
	return false, nil
}

// SetStatus writes a status transition plus any extra fields and reads
// the row back to confirm the transition is visible.
func (p *Persister) SetStatus(ctx context.Context, importID string, status domain.ImportStatus, fields map[string]any) error {
	updates := map[string]any{"status": string(status)}
	for k, v := range fields {
		updates[k] = v
	}
	if err := p.store.UpdateStatementImport(ctx, importID, updates); err != nil {
		return err
	}

	got, err := p.store.GetStatementImport(ctx, importID)
	if err != nil {
		return err
	}
	if got == nil {
		return &domain.ErrNotFound{Resource: "statement_import", ID: importID}
	}
	if got.Status != status {
		return &domain.ErrConflict{Resource: "statement_import", Message: "status transition not visible after write"}
	}
	return nil
}

// Claim transitions an import from pending to processing. A nil result
// with nil error means someone else holds it (or it is already terminal).
func (p *Persister) Claim(ctx context.Context, importID string) (*domain.StatementImport, error) {
	return p.store.ClaimStatementImport(ctx, importID)
}
