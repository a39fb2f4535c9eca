package service_test

import (
	"testing"

	"github.com/mcravero/statement-ingest/internal/service"
)

const sampleStatement = `# Acme Bank Statement
Account Number: 00123456

| Date | Description | Amount |
|------|-------------|--------|
| 03/15/2024 | GROCERY STORE PURCHASE | -45.67 |
| 03/16/2024 | SALARY PAYMENT ACME CORP | 2,500.00 |
| 17 Mar 2024 | CAFE LUNA | -9.80 |

Closing Balance: 9.876,54
`

func TestMarkdownIndex_Words(t *testing.T) {
	idx := service.NewMarkdownIndex(sampleStatement)

	if !idx.HasWord("grocery") {
		t.Error("expected 'grocery' to be indexed")
	}
	if !idx.HasWord("SALARY") {
		t.Error("expected word lookup to be case-insensitive")
	}
	if idx.HasWord("zebra") {
		t.Error("did not expect 'zebra' to be indexed")
	}
}

func TestMarkdownIndex_Bigrams(t *testing.T) {
	idx := service.NewMarkdownIndex(sampleStatement)

	if !idx.HasBigram("grocery", "store") {
		t.Error("expected adjacent words to form a bigram")
	}
	if !idx.HasBigram("salary", "payment") {
		t.Error("expected 'salary payment' bigram")
	}
	// Last word of one row plus first word of the next must not pair up.
	if idx.HasBigram("corp", "17") {
		t.Error("bigrams must not span lines")
	}
}

func TestMarkdownIndex_Amounts(t *testing.T) {
	idx := service.NewMarkdownIndex(sampleStatement)

	if !idx.HasAmount(45.67) {
		t.Error("expected 45.67 to be indexed")
	}
	if !idx.HasAmount(-45.67) {
		t.Error("expected amount lookup to use absolute value")
	}
	if !idx.HasAmount(2500.00) {
		t.Error("expected grouped '2,500.00' to normalize to 2500.00")
	}
	if !idx.HasAmount(9876.54) {
		t.Error("expected European '9.876,54' to normalize to 9876.54")
	}
	if idx.HasAmount(11.11) {
		t.Error("did not expect absent amount to match")
	}
}

func TestMarkdownIndex_Dates(t *testing.T) {
	idx := service.NewMarkdownIndex(sampleStatement)

	if !idx.HasDate("2024-03-15") {
		t.Error("expected 03/15/2024 to be found via ISO form")
	}
	if !idx.HasDate("03/16/2024") {
		t.Error("expected numeric date to be found")
	}
	if !idx.HasDate("2024-03-17") {
		t.Error("expected '17 Mar 2024' to be found via ISO form")
	}
	if idx.HasDate("2024-12-25") {
		t.Error("did not expect absent date to match")
	}
	if idx.HasDate("not a date") {
		t.Error("unparseable dates never match")
	}
}

func TestDescriptionEvidence_Scores(t *testing.T) {
	idx := service.NewMarkdownIndex(sampleStatement)

	full := idx.DescriptionEvidence("GROCERY STORE PURCHASE")
	if full.WordScore != 1.0 {
		t.Errorf("expected full word score, got %f", full.WordScore)
	}
	if full.BigramScore != 1.0 {
		t.Errorf("expected full bigram score, got %f", full.BigramScore)
	}

	half := idx.DescriptionEvidence("grocery zebra")
	if half.WordScore != 0.5 {
		t.Errorf("expected half word score, got %f", half.WordScore)
	}
	if half.BigramScore != 0.0 {
		t.Errorf("expected zero bigram score, got %f", half.BigramScore)
	}

	single := idx.DescriptionEvidence("salary")
	if single.Bigrams != 0 {
		t.Errorf("single-token description has no bigrams, got %d", single.Bigrams)
	}
	if single.WordScore != 1.0 {
		t.Errorf("expected word score 1.0, got %f", single.WordScore)
	}
}

func TestDescriptionEvidence_IgnoresStopwords(t *testing.T) {
	idx := service.NewMarkdownIndex(sampleStatement)

	// Stopwords drop out before scoring, so they cannot dilute the ratio.
	with := idx.DescriptionEvidence("PAYMENT TO THE ACME CORP")
	without := idx.DescriptionEvidence("PAYMENT ACME CORP")
	if with.WordScore != without.WordScore {
		t.Errorf("stopwords changed the word score: %f vs %f", with.WordScore, without.WordScore)
	}
}

func TestMarkdownIndex_HasAnyWord(t *testing.T) {
	idx := service.NewMarkdownIndex(sampleStatement)

	if !idx.HasAnyWord("zebra grocery unicorn") {
		t.Error("expected one known word to be enough")
	}
	if idx.HasAnyWord("zebra unicorn") {
		t.Error("expected all-unknown description to miss")
	}
}
