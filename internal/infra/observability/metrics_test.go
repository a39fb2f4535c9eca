package observability_test

import (
	"math"
	"testing"

	"github.com/mcravero/statement-ingest/internal/infra/observability"
)

func TestPipelineSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrImport("completed")
	m.IncrImport("completed")
	m.IncrImport("completed")
	m.IncrImport("failed")
	m.RecordTokens(1_000_000, 500_000)
	m.AddTransactions("inserted", 10)
	m.AddTransactions("rejected", 2)
	m.AddTransactions("duplicate", 3)
	m.IncrCacheHit("ocr_result")
	m.IncrCacheHit("ocr_result")
	m.IncrCacheMiss("ocr_result")
	// The index cache has its own label and must not skew the OCR hit rate.
	m.IncrCacheHit("search_index")

	snap := m.PipelineSnapshot()

	if snap.ImportsCompleted != 3 || snap.ImportsFailed != 1 {
		t.Errorf("expected 3 completed / 1 failed, got %d / %d", snap.ImportsCompleted, snap.ImportsFailed)
	}
	if snap.ErrorRate != 0.25 {
		t.Errorf("expected error rate 0.25, got %f", snap.ErrorRate)
	}
	if snap.TransactionsInserted != 10 || snap.TransactionsRejected != 2 || snap.DuplicatesSkipped != 3 {
		t.Errorf("unexpected transaction counts: %+v", snap)
	}
	if math.Abs(snap.CacheHitRate-2.0/3.0) > 1e-9 {
		t.Errorf("expected hit rate 2/3, got %f", snap.CacheHitRate)
	}
	if snap.TokensUsed != 1_500_000 {
		t.Errorf("expected 1.5M tokens, got %d", snap.TokensUsed)
	}
	if math.Abs(snap.EstimatedCostUSD-0.45) > 1e-9 {
		t.Errorf("expected cost 0.45, got %f", snap.EstimatedCostUSD)
	}
	if snap.Period != "all_time" {
		t.Errorf("unexpected period %q", snap.Period)
	}
}

func TestPipelineSnapshot_NoTraffic(t *testing.T) {
	snap := observability.NewMetrics().PipelineSnapshot()
	if snap.ErrorRate != 0 || snap.CacheHitRate != 0 {
		t.Errorf("expected zero rates with no traffic, got %f / %f", snap.ErrorRate, snap.CacheHitRate)
	}
}

func TestAddTransactions_IgnoresNonPositive(t *testing.T) {
	m := observability.NewMetrics()
	m.AddTransactions("inserted", 0)
	m.AddTransactions("inserted", -5)
	if got := m.PipelineSnapshot().TransactionsInserted; got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}
