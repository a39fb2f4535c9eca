package service

import (
	"math"
	"time"

	"github.com/mcravero/statement-ingest/internal/domain"

	"go.uber.org/zap"
)

const (
	minDescriptionChars = 3
	bypassMinDescChars  = 5
	maxPlausibleAmount  = 1e7

	wordWeight   = 0.6
	bigramWeight = 0.4

	combinedHighThreshold = 0.5
	combinedMedThreshold  = 0.3
	combinedLowThreshold  = 0.6
)

// Validator checks structured transactions against the recognized text so
// that model hallucinations never reach storage.
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a Validator.
func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{logger: logger}
}

// ValidationOutcome is the per-import validation result.
type ValidationOutcome struct {
	Valid    []domain.ValidatedTransaction
	Rejected []domain.RejectedTransaction
	Bypassed int
}

// periodBounds precomputes the date windows derived from the statement
// period. All checks are skipped when either period date is unknown.
type periodBounds struct {
	ok               bool
	bypassLo, bypassHi time.Time // statement period ± 7 d
	inLo, inHi         time.Time // in-range window, −14 d / +7 d
	hardLo, hardHi     time.Time // beyond this, reject outright
}

func boundsFor(period *domain.StatementPeriod) periodBounds {
	if period == nil {
		return periodBounds{}
	}
	start, okStart := ParseFlexibleDate(period.StartDate)
	end, okEnd := ParseFlexibleDate(period.EndDate)
	if !okStart || !okEnd || end.Before(start) {
		return periodBounds{}
	}
	return periodBounds{
		ok:       true,
		bypassLo: start.AddDate(0, 0, -7),
		bypassHi: end.AddDate(0, 0, 7),
		inLo:     start.AddDate(0, 0, -14),
		inHi:     end.AddDate(0, 0, 7),
		hardLo:   start.AddDate(0, 0, -30),
		hardHi:   end.AddDate(0, 0, 14),
	}
}

// ValidateBatch checks every candidate against the document index.
// A panic inside scoring degrades to the subset validated so far, or
// accepts the full batch at low confidence when nothing was validated yet;
// validation never brings down an import.
func (v *Validator) ValidateBatch(candidates []domain.CandidateTransaction, idx *MarkdownIndex, period *domain.StatementPeriod) (out ValidationOutcome) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("validator panic, degrading",
				zap.Any("panic", r),
				zap.Int("validated_so_far", len(out.Valid)),
			)
			if len(out.Valid) == 0 {
				out = acceptUnvalidated(candidates)
			}
			out.Rejected = nil
		}
	}()

	bounds := boundsFor(period)

	for _, c := range candidates {
		vt, reason := v.validateOne(c, idx, bounds)
		if reason != "" {
			v.logger.Debug("transaction rejected",
				zap.String("description", c.Description),
				zap.String("reason", reason),
			)
			out.Rejected = append(out.Rejected, domain.RejectedTransaction{CandidateTransaction: c, Reason: reason})
			continue
		}
		if vt.Bypassed {
			out.Bypassed++
		}
		out.Valid = append(out.Valid, vt.ValidatedTransaction)
	}
	return out
}

type validated struct {
	domain.ValidatedTransaction
	Bypassed bool
}

func (v *Validator) validateOne(c domain.CandidateTransaction, idx *MarkdownIndex, bounds periodBounds) (validated, string) {
	c.Description = CleanDescription(c.Description)
	if len(c.Description) < minDescriptionChars {
		return validated{}, "description too short"
	}
	c.Type = InferType(c)

	date, dateParses := ParseFlexibleDate(c.Date)
	grayZone := false
	if dateParses && bounds.ok {
		if date.Before(bounds.hardLo) || date.After(bounds.hardHi) {
			return validated{}, "date outside statement window"
		}
		grayZone = date.Before(bounds.inLo) || date.After(bounds.inHi)
	}

	if v.qualifiesForBypass(c, date, dateParses, grayZone, bounds) {
		return validated{
			ValidatedTransaction: domain.ValidatedTransaction{CandidateTransaction: c, Confidence: domain.ConfidenceHigh},
			Bypassed:             true,
		}, ""
	}

	ev := idx.DescriptionEvidence(c.Description)
	combined := wordWeight*ev.WordScore + bigramWeight*ev.BigramScore
	if ev.Bigrams == 0 {
		// Single-token descriptions score on words alone.
		combined = ev.WordScore
	}

	amountOK := c.Amount != 0 && idx.HasAmount(c.Amount)
	dateOK := dateParses && !grayZone && idx.HasDate(c.Date)

	conf, ok := confidenceTier(amountOK, dateOK, combined)
	if !ok {
		return validated{}, "no supporting evidence in document"
	}
	if IsCreditType(c.Type) && conf == domain.ConfidenceLow && (amountOK || dateOK) {
		// Credits carry weaker descriptions (interest lines, reversals);
		// concrete amount or date evidence is enough for medium.
		conf = domain.ConfidenceMedium
	}

	return validated{
		ValidatedTransaction: domain.ValidatedTransaction{CandidateTransaction: c, Confidence: conf},
	}, ""
}

func (v *Validator) qualifiesForBypass(c domain.CandidateTransaction, date time.Time, dateParses, grayZone bool, bounds periodBounds) bool {
	if !dateParses || grayZone {
		return false
	}
	if c.Amount == 0 || math.Abs(c.Amount) >= maxPlausibleAmount {
		return false
	}
	if len(c.Description) < bypassMinDescChars || !hasAlphanumeric(c.Description) {
		return false
	}
	if !KnownType(c.Type) {
		return false
	}
	if bounds.ok && (date.Before(bounds.bypassLo) || date.After(bounds.bypassHi)) {
		return false
	}
	return true
}

func confidenceTier(amountOK, dateOK bool, combined float64) (domain.Confidence, bool) {
	switch {
	case amountOK && dateOK && combined >= combinedHighThreshold:
		return domain.ConfidenceHigh, true
	case (amountOK && dateOK) || ((amountOK || dateOK) && combined >= combinedMedThreshold):
		return domain.ConfidenceMedium, true
	case amountOK || dateOK || combined >= combinedLowThreshold:
		return domain.ConfidenceLow, true
	default:
		return "", false
	}
}

// acceptUnvalidated is the degraded path after a validator panic: pass
// everything through at low confidence rather than dropping the import.
func acceptUnvalidated(candidates []domain.CandidateTransaction) ValidationOutcome {
	out := ValidationOutcome{Valid: make([]domain.ValidatedTransaction, 0, len(candidates))}
	for _, c := range candidates {
		c.Description = CleanDescription(c.Description)
		c.Type = InferType(c)
		out.Valid = append(out.Valid, domain.ValidatedTransaction{
			CandidateTransaction: c,
			Confidence:           domain.ConfidenceLow,
		})
	}
	return out
}

// ReuseCheck re-validates a sample of previously cached transactions
// against freshly recognized text and returns the fraction that still
// scores medium or better.
func (v *Validator) ReuseCheck(sample []domain.CandidateTransaction, idx *MarkdownIndex, period *domain.StatementPeriod) float64 {
	if len(sample) == 0 {
		return 0
	}
	out := v.ValidateBatch(sample, idx, period)
	passing := 0
	for _, vt := range out.Valid {
		if vt.Confidence.AtLeast(domain.ConfidenceMedium) {
			passing++
		}
	}
	return float64(passing) / float64(len(sample))
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}
