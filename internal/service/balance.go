package service

import (
	"regexp"
	"strconv"
	"strings"
)

// maxPlausibleBalance discards OCR garbage like concatenated digit runs.
const maxPlausibleBalance = 1e9

// balanceTiers is the priority ladder for labeled balances. The first
// tier with a valid amount wins; order encodes how authoritative each
// label is for "balance after this statement".
var balanceTiers = []struct {
	source string
	re     *regexp.Regexp
}{
	{"closing_balance", regexp.MustCompile(`(?i)\b(?:closing|ending)\s+balance[^\n\d(-]{0,20}(\()?(-?\d[\d.,]*)`)},
	{"current_balance", regexp.MustCompile(`(?i)\b(?:current|available)\s+balance[^\n\d(-]{0,20}(\()?(-?\d[\d.,]*)`)},
	{"new_balance", regexp.MustCompile(`(?i)\b(?:new|statement)\s+balance[^\n\d(-]{0,20}(\()?(-?\d[\d.,]*)`)},
}

var genericBalancePattern = regexp.MustCompile(`(?i)\bbalance[^\n\d(-]{0,20}(\()?(-?\d[\d.,]*)`)

// contextHints qualify a bare "balance" label in the loose second pass.
var contextHints = []string{"closing", "ending", "statement", "final", "period", "summary"}

// ExtractBalance scans recognized text for a labeled balance amount. It is
// the deterministic fallback for statements where structuring found no
// balance. Returns the amount, a source label for idempotency metadata,
// and whether anything qualified; it never fails.
func ExtractBalance(text string) (float64, string, bool) {
	for _, tier := range balanceTiers {
		for _, m := range tier.re.FindAllStringSubmatchIndex(text, -1) {
			if v, ok := amountFromMatch(text, m); ok {
				return v, tier.source, true
			}
		}
	}

	// Looser pass: a bare "balance" counts only when its 100-char
	// neighborhood talks about the statement's end state.
	for _, m := range genericBalancePattern.FindAllStringSubmatchIndex(text, -1) {
		v, ok := amountFromMatch(text, m)
		if !ok {
			continue
		}
		lo := max(0, m[0]-100)
		hi := min(len(text), m[1]+100)
		window := strings.ToLower(text[lo:hi])
		for _, hint := range contextHints {
			if strings.Contains(window, hint) {
				return v, "balance_context", true
			}
		}
	}

	return 0, "", false
}

// amountFromMatch pulls the numeric capture out of a submatch index set.
// Group 1 is an optional opening paren (accounting negative), group 2 the
// number token.
func amountFromMatch(text string, m []int) (float64, bool) {
	if len(m) < 6 || m[4] < 0 {
		return 0, false
	}
	v, ok := parseAmountToken(text[m[4]:m[5]])
	if !ok {
		return 0, false
	}
	if m[2] >= 0 { // parenthesized
		v = -v
	}
	if v > maxPlausibleBalance || v < -maxPlausibleBalance {
		return 0, false
	}
	return v, true
}

// parseAmountToken converts a raw numeric token to a float, treating the
// final separator as decimal only when it is not a thousands group. Both
// "1,234.56" and "1.234,56" conventions parse correctly.
func parseAmountToken(tok string) (float64, bool) {
	tok = strings.TrimSpace(tok)
	neg := strings.HasPrefix(tok, "-")
	tok = strings.TrimPrefix(tok, "-")
	tok = strings.Trim(tok, ".,")
	if tok == "" {
		return 0, false
	}

	mantissa := ""
	if i := strings.LastIndexAny(tok, ".,"); i >= 0 && len(tok)-i-1 != 3 {
		mantissa = tok[i+1:]
		tok = tok[:i]
	}

	var digits strings.Builder
	for _, r := range tok {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}

	s := digits.String()
	if mantissa != "" {
		s += "." + mantissa
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}
