package service

import (
	"strings"

	"github.com/mcravero/statement-ingest/internal/domain"
)

// knownTransactionTypes is the vocabulary the structuring prompt allows.
var knownTransactionTypes = map[string]struct{}{
	"deposit": {}, "withdrawal": {}, "transfer": {}, "payment": {},
	"fee": {}, "interest": {}, "purchase": {}, "refund": {}, "atm": {},
	"check": {}, "credit": {}, "debit": {}, "other": {},
}

// creditTypes represent money in; used for sign normalization and for the
// validator's relaxed credit rules.
var creditTypes = map[string]struct{}{
	"credit": {}, "deposit": {}, "refund": {}, "interest": {},
}

var debitTypes = map[string]struct{}{
	"debit": {}, "withdrawal": {}, "purchase": {}, "fee": {},
	"payment": {}, "atm": {}, "check": {},
}

// KnownType reports whether t is in the prompt's type vocabulary.
func KnownType(t string) bool {
	_, ok := knownTransactionTypes[strings.ToLower(strings.TrimSpace(t))]
	return ok
}

// IsCreditType reports whether t represents money in.
func IsCreditType(t string) bool {
	_, ok := creditTypes[strings.ToLower(strings.TrimSpace(t))]
	return ok
}

// InferType fills in a missing or unknown transaction type from statement
// conventions: a CR suffix or payment-received phrasing marks a credit,
// debit keywords or a negative amount mark a debit.
func InferType(c domain.CandidateTransaction) string {
	t := strings.ToLower(strings.TrimSpace(c.Type))
	if _, ok := knownTransactionTypes[t]; ok {
		return t
	}

	desc := strings.ToUpper(c.Description)
	switch {
	case strings.HasSuffix(strings.TrimSpace(desc), " CR"),
		strings.Contains(strings.ReplaceAll(desc, " ", ""), "THANKYOU"),
		strings.Contains(desc, "PAYMENT RECEIVED"):
		return "credit"
	case strings.Contains(desc, "DEPOSIT"),
		strings.Contains(desc, "REFUND"),
		strings.Contains(desc, "INTEREST"):
		return "credit"
	case strings.Contains(desc, "WITHDRAWAL"),
		strings.Contains(desc, "DEBIT"),
		strings.HasSuffix(strings.TrimSpace(desc), " DR"):
		return "debit"
	case c.Amount < 0:
		return "debit"
	case c.Amount > 0:
		return "credit"
	default:
		return "other"
	}
}

// NormalizeSign enforces the storage convention: money in is positive,
// money out is negative, whatever sign the model produced. Applying it
// twice is a no-op.
func NormalizeSign(typ string, amount float64) float64 {
	typ = strings.ToLower(strings.TrimSpace(typ))
	if _, ok := creditTypes[typ]; ok && amount < 0 {
		return -amount
	}
	if _, ok := debitTypes[typ]; ok && amount > 0 {
		return -amount
	}
	return amount
}

// CleanDescription trims and collapses runs of whitespace. OCR output is
// full of multi-space table padding.
func CleanDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
