package service_test

import (
	"testing"

	"github.com/mcravero/statement-ingest/internal/service"
)

func TestExtractBalance_PrefersClosingOverGeneric(t *testing.T) {
	text := "Rewards Balance: $10.00\nClosing Balance: $500.00\n"

	v, source, ok := service.ExtractBalance(text)
	if !ok {
		t.Fatal("expected a balance")
	}
	if v != 500.00 {
		t.Errorf("expected 500.00, got %f", v)
	}
	if source != "closing_balance" {
		t.Errorf("expected closing_balance source, got %s", source)
	}
}

func TestExtractBalance_TierLadder(t *testing.T) {
	cases := []struct {
		text   string
		want   float64
		source string
	}{
		{"Ending Balance 1,234.56", 1234.56, "closing_balance"},
		{"Available Balance: 250.00", 250.00, "current_balance"},
		{"Current Balance 3.999,10", 3999.10, "current_balance"},
		{"New Balance: 75.50", 75.50, "new_balance"},
		{"Statement Balance: 810.00", 810.00, "new_balance"},
	}
	for _, tc := range cases {
		v, source, ok := service.ExtractBalance(tc.text)
		if !ok {
			t.Errorf("ExtractBalance(%q): expected a balance", tc.text)
			continue
		}
		if v != tc.want || source != tc.source {
			t.Errorf("ExtractBalance(%q) = (%f, %s), want (%f, %s)", tc.text, v, source, tc.want, tc.source)
		}
	}
}

func TestExtractBalance_ParenthesizedIsNegative(t *testing.T) {
	v, _, ok := service.ExtractBalance("Closing Balance: (1,234.56)")
	if !ok {
		t.Fatal("expected a balance")
	}
	if v != -1234.56 {
		t.Errorf("expected -1234.56, got %f", v)
	}
}

func TestExtractBalance_MinusSign(t *testing.T) {
	v, _, ok := service.ExtractBalance("Closing Balance: -89.10")
	if !ok {
		t.Fatal("expected a balance")
	}
	if v != -89.10 {
		t.Errorf("expected -89.10, got %f", v)
	}
}

func TestExtractBalance_GenericNeedsContextHint(t *testing.T) {
	// Bare "balance" with a summary nearby qualifies.
	v, source, ok := service.ExtractBalance("Account Summary\nBalance: 42.10\n")
	if !ok {
		t.Fatal("expected hinted generic balance")
	}
	if v != 42.10 || source != "balance_context" {
		t.Errorf("expected (42.10, balance_context), got (%f, %s)", v, source)
	}

	// The same phrase with no qualifying words around it does not.
	if _, _, ok := service.ExtractBalance("Points Balance: 42.10\nEarn more points today\n"); ok {
		t.Error("expected unhinted generic balance to be rejected")
	}
}

func TestExtractBalance_ImplausibleRejected(t *testing.T) {
	if _, _, ok := service.ExtractBalance("Closing Balance: 2,000,000,000.00"); ok {
		t.Error("expected value beyond one billion to be rejected")
	}
}

func TestExtractBalance_NothingFound(t *testing.T) {
	if _, _, ok := service.ExtractBalance("A statement with no totals at all"); ok {
		t.Error("expected no balance")
	}
}
