package service_test

import (
	"testing"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/service"

	"go.uber.org/zap"
)

const validatorText = `Statement Period: 03/01/2024 to 03/31/2024
02/20/2024  PENDING CARD PURCHASE COFFEE   -12.50
03/10/2024  GROCERY STORE PURCHASE         -45.67
03/12/2024  INTEREST PAYMENT                 0.42
Closing Balance 1,200.00
`

var marchPeriod = &domain.StatementPeriod{StartDate: "2024-03-01", EndDate: "2024-03-31"}

func newValidator() *service.Validator {
	return service.NewValidator(zap.NewNop())
}

func TestValidateBatch_BypassSkipsEvidence(t *testing.T) {
	// An empty index holds no evidence at all; only the bypass path can
	// accept this transaction.
	idx := service.NewMarkdownIndex("")
	out := newValidator().ValidateBatch([]domain.CandidateTransaction{
		{Date: "2024-03-15", Description: "GROCERY STORE PURCHASE", Amount: -45.67, Type: "purchase"},
	}, idx, marchPeriod)

	if len(out.Valid) != 1 {
		t.Fatalf("expected 1 valid, got %d (rejected %d)", len(out.Valid), len(out.Rejected))
	}
	if out.Valid[0].Confidence != domain.ConfidenceHigh {
		t.Errorf("expected high confidence, got %s", out.Valid[0].Confidence)
	}
	if out.Bypassed != 1 {
		t.Errorf("expected 1 bypassed, got %d", out.Bypassed)
	}
}

func TestValidateBatch_ShortDescriptionRejected(t *testing.T) {
	idx := service.NewMarkdownIndex(validatorText)
	out := newValidator().ValidateBatch([]domain.CandidateTransaction{
		{Date: "2024-03-15", Description: "AB", Amount: -45.67},
	}, idx, marchPeriod)

	if len(out.Valid) != 0 || len(out.Rejected) != 1 {
		t.Fatalf("expected rejection, got valid=%d rejected=%d", len(out.Valid), len(out.Rejected))
	}
	if out.Rejected[0].Reason != "description too short" {
		t.Errorf("unexpected reason: %s", out.Rejected[0].Reason)
	}
}

func TestValidateBatch_DateOutsideWindowRejected(t *testing.T) {
	idx := service.NewMarkdownIndex(validatorText)
	out := newValidator().ValidateBatch([]domain.CandidateTransaction{
		// Evidence is irrelevant once the date is more than 30 days before
		// the period start or 14 days after its end.
		{Date: "2024-01-15", Description: "GROCERY STORE PURCHASE", Amount: -45.67},
		{Date: "2024-04-20", Description: "GROCERY STORE PURCHASE", Amount: -45.67},
	}, idx, marchPeriod)

	if len(out.Rejected) != 2 {
		t.Fatalf("expected 2 rejections, got %d", len(out.Rejected))
	}
	for _, r := range out.Rejected {
		if r.Reason != "date outside statement window" {
			t.Errorf("unexpected reason: %s", r.Reason)
		}
	}
}

func TestValidateBatch_EvidenceTiers(t *testing.T) {
	idx := service.NewMarkdownIndex(validatorText)
	out := newValidator().ValidateBatch([]domain.CandidateTransaction{
		// Outside the bypass buffer but fully evidenced: high.
		{Date: "2024-02-20", Description: "PENDING CARD PURCHASE COFFEE", Amount: -12.50},
		// No date, but description and amount check out: medium.
		{Description: "GROCERY STORE PURCHASE", Amount: -45.67},
		// Only the description scores: low.
		{Description: "CLOSING BALANCE PAYMENT", Amount: -999.99},
	}, idx, marchPeriod)

	if len(out.Valid) != 3 {
		t.Fatalf("expected 3 valid, got %d (rejected %v)", len(out.Valid), out.Rejected)
	}
	if out.Bypassed != 0 {
		t.Errorf("expected no bypasses, got %d", out.Bypassed)
	}
	want := []domain.Confidence{domain.ConfidenceHigh, domain.ConfidenceMedium, domain.ConfidenceLow}
	for i, w := range want {
		if out.Valid[i].Confidence != w {
			t.Errorf("candidate %d: expected %s, got %s", i, w, out.Valid[i].Confidence)
		}
	}
}

func TestValidateBatch_NoEvidenceRejected(t *testing.T) {
	idx := service.NewMarkdownIndex(validatorText)
	out := newValidator().ValidateBatch([]domain.CandidateTransaction{
		{Description: "UNICORN RAINBOW FACTORY", Amount: 777.77},
	}, idx, marchPeriod)

	if len(out.Rejected) != 1 {
		t.Fatalf("expected rejection, got valid=%d", len(out.Valid))
	}
	if out.Rejected[0].Reason != "no supporting evidence in document" {
		t.Errorf("unexpected reason: %s", out.Rejected[0].Reason)
	}
}

func TestValidateBatch_CreditPromotion(t *testing.T) {
	idx := service.NewMarkdownIndex(validatorText)
	out := newValidator().ValidateBatch([]domain.CandidateTransaction{
		// Terse credit line: description scores zero, amount is evidenced.
		{Description: "ZZZ QQQ VVV", Amount: 0.42, Type: "refund"},
		// Same evidence on a debit stays low.
		{Description: "ZZZ QQQ VVV", Amount: -12.50, Type: "fee"},
	}, idx, marchPeriod)

	if len(out.Valid) != 2 {
		t.Fatalf("expected 2 valid, got %d", len(out.Valid))
	}
	if out.Valid[0].Confidence != domain.ConfidenceMedium {
		t.Errorf("expected credit promoted to medium, got %s", out.Valid[0].Confidence)
	}
	if out.Valid[1].Confidence != domain.ConfidenceLow {
		t.Errorf("expected debit to stay low, got %s", out.Valid[1].Confidence)
	}
}

func TestValidateBatch_GrayZoneDateNeedsOtherEvidence(t *testing.T) {
	idx := service.NewMarkdownIndex(validatorText)
	out := newValidator().ValidateBatch([]domain.CandidateTransaction{
		// 2024-02-10 is inside the hard window but before the tolerated
		// range, so the date contributes nothing; amount evidence carries
		// it to medium instead of high.
		{Date: "2024-02-10", Description: "GROCERY STORE PURCHASE", Amount: -45.67},
	}, idx, marchPeriod)

	if len(out.Valid) != 1 {
		t.Fatalf("expected 1 valid, got %d (rejected %v)", len(out.Valid), out.Rejected)
	}
	if out.Valid[0].Confidence != domain.ConfidenceMedium {
		t.Errorf("expected medium, got %s", out.Valid[0].Confidence)
	}
	if out.Bypassed != 0 {
		t.Errorf("gray-zone dates must not bypass, got %d", out.Bypassed)
	}
}

func TestValidateBatch_PanicKeepsValidatedSubset(t *testing.T) {
	candidates := []domain.CandidateTransaction{
		// Bypasses without touching the index.
		{Date: "2024-03-15", Description: "GROCERY STORE PURCHASE", Amount: -45.67, Type: "purchase"},
		// Forces evidence scoring against the nil index.
		{Date: "someday", Description: "CAFE LUNA", Amount: -9.80},
	}
	out := newValidator().ValidateBatch(candidates, nil, marchPeriod)

	if len(out.Valid) != 1 {
		t.Fatalf("expected the pre-panic subset, got %d valid", len(out.Valid))
	}
	if out.Rejected != nil {
		t.Errorf("expected no rejections after degradation, got %v", out.Rejected)
	}
}

func TestValidateBatch_PanicWithNothingValidatedAcceptsAll(t *testing.T) {
	candidates := []domain.CandidateTransaction{
		{Date: "someday", Description: "CAFE LUNA", Amount: -9.80},
		{Date: "another day", Description: "GROCERY STORE PURCHASE", Amount: -45.67},
	}
	out := newValidator().ValidateBatch(candidates, nil, marchPeriod)

	if len(out.Valid) != len(candidates) {
		t.Fatalf("expected all candidates accepted, got %d", len(out.Valid))
	}
	for _, vt := range out.Valid {
		if vt.Confidence != domain.ConfidenceLow {
			t.Errorf("degraded acceptance must be low confidence, got %s", vt.Confidence)
		}
	}
}

func TestReuseCheck(t *testing.T) {
	idx := service.NewMarkdownIndex(validatorText)
	v := newValidator()

	frac := v.ReuseCheck([]domain.CandidateTransaction{
		{Description: "GROCERY STORE PURCHASE", Amount: -45.67}, // medium
		{Description: "CLOSING BALANCE PAYMENT", Amount: -999.99}, // low
	}, idx, nil)
	if frac != 0.5 {
		t.Errorf("expected 0.5, got %f", frac)
	}

	if got := v.ReuseCheck(nil, idx, nil); got != 0 {
		t.Errorf("expected 0 for empty sample, got %f", got)
	}
}
