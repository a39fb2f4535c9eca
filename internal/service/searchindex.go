package service

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mcravero/statement-ingest/internal/infra/observability"
	"github.com/mcravero/statement-ingest/internal/port"
)

// stopwords are excluded both from the index and from description scoring.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "into": {},
	"onto": {}, "over": {}, "under": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "are": {}, "was": {}, "were": {}, "been": {}, "have": {},
	"has": {}, "had": {}, "not": {}, "but": {}, "all": {}, "any": {},
	"can": {}, "will": {}, "your": {}, "our": {}, "per": {}, "via": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "at": {}, "by": {}, "an": {},
	"or": {}, "as": {}, "is": {}, "it": {},
}

var (
	wordPattern = regexp.MustCompile(`[a-z0-9]+`)
	// Grouped-thousands alternative first so "1,234.56" wins over "234.56".
	amountPattern       = regexp.MustCompile(`\d{1,3}(?:[.,]\d{3})+[.,]\d{2}|\d+[.,]\d{2}`)
	numericDatePattern  = regexp.MustCompile(`\b\d{1,4}[/-]\d{1,2}[/-]\d{1,4}\b`)
	monthDatePattern    = regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:,\s*|\s+)\d{2,4}\b`)
	dayFirstDatePattern = regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+\d{2,4}\b`)
)

// MarkdownIndex is an in-memory inverted index over recognized statement
// text. The validator uses it to check that model-produced transactions
// are actually evidenced in the document instead of hallucinated.
type MarkdownIndex struct {
	words   map[string]struct{}
	bigrams map[string]struct{}
	amounts map[string]struct{} // canonical "1234.56", absolute value
	dates   map[string]struct{} // canonical YYYY-MM-DD

	// memoizes DescriptionEvidence: validation re-scores near-identical
	// descriptions constantly (recurring merchants).
	mu   sync.RWMutex
	memo map[string]DescriptionEvidence
}

// NewMarkdownIndex tokenizes the text into words, per-line bigrams,
// two-decimal amounts and dates.
func NewMarkdownIndex(text string) *MarkdownIndex {
	idx := &MarkdownIndex{
		words:   make(map[string]struct{}),
		bigrams: make(map[string]struct{}),
		amounts: make(map[string]struct{}),
		dates:   make(map[string]struct{}),
		memo:    make(map[string]DescriptionEvidence),
	}

	// Bigrams never span lines: statements put one transaction per row.
	for _, line := range strings.Split(strings.ToLower(text), "\n") {
		kept := keepWords(line)
		for i, w := range kept {
			idx.words[w] = struct{}{}
			if i > 0 {
				idx.bigrams[kept[i-1]+" "+w] = struct{}{}
			}
		}
	}

	for _, m := range amountPattern.FindAllString(text, -1) {
		if c, ok := canonicalAmount(m); ok {
			idx.amounts[c] = struct{}{}
		}
	}

	for _, pattern := range []*regexp.Regexp{numericDatePattern, monthDatePattern, dayFirstDatePattern} {
		for _, m := range pattern.FindAllString(text, -1) {
			if t, ok := ParseFlexibleDate(m); ok {
				idx.dates[t.Format("2006-01-02")] = struct{}{}
			}
		}
	}

	return idx
}

// DescriptionEvidence summarizes how strongly a description is supported
// by the indexed text.
type DescriptionEvidence struct {
	WordScore   float64
	BigramScore float64
	Words       int
	Bigrams     int
}

// DescriptionEvidence scores a description's words and bigrams against
// the index. Scores are hit fractions in [0, 1].
func (x *MarkdownIndex) DescriptionEvidence(desc string) DescriptionEvidence {
	key := strings.ToLower(strings.TrimSpace(desc))

	x.mu.RLock()
	ev, ok := x.memo[key]
	x.mu.RUnlock()
	if ok {
		return ev
	}

	kept := keepWords(key)
	ev = DescriptionEvidence{Words: len(kept)}
	if len(kept) > 0 {
		hits := 0
		for _, w := range kept {
			if x.HasWord(w) {
				hits++
			}
		}
		ev.WordScore = float64(hits) / float64(len(kept))
	}
	if len(kept) > 1 {
		ev.Bigrams = len(kept) - 1
		bhits := 0
		for i := 1; i < len(kept); i++ {
			if x.HasBigram(kept[i-1], kept[i]) {
				bhits++
			}
		}
		ev.BigramScore = float64(bhits) / float64(ev.Bigrams)
	}

	x.mu.Lock()
	x.memo[key] = ev
	x.mu.Unlock()
	return ev
}

// HasWord reports whether a single kept word is present in the text.
func (x *MarkdownIndex) HasWord(w string) bool {
	_, ok := x.words[strings.ToLower(w)]
	return ok
}

// HasAnyWord reports whether any of the description's kept words appear.
func (x *MarkdownIndex) HasAnyWord(desc string) bool {
	for _, w := range keepWords(strings.ToLower(desc)) {
		if x.HasWord(w) {
			return true
		}
	}
	return false
}

// HasBigram reports whether two words appear adjacently on one line.
func (x *MarkdownIndex) HasBigram(a, b string) bool {
	_, ok := x.bigrams[strings.ToLower(a)+" "+strings.ToLower(b)]
	return ok
}

// HasAmount reports whether the absolute amount appears in the document
// with two-decimal precision, in either separator convention.
func (x *MarkdownIndex) HasAmount(amount float64) bool {
	if amount < 0 {
		amount = -amount
	}
	_, ok := x.amounts[strconv.FormatFloat(amount, 'f', 2, 64)]
	return ok
}

// HasDate reports whether the given date appears in the document in any
// recognized format.
func (x *MarkdownIndex) HasDate(date string) bool {
	t, ok := ParseFlexibleDate(date)
	if !ok {
		return false
	}
	_, found := x.dates[t.Format("2006-01-02")]
	return found
}

func keepWords(line string) []string {
	raw := wordPattern.FindAllString(line, -1)
	kept := make([]string, 0, len(raw))
	for _, w := range raw {
		if len(w) < 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		kept = append(kept, w)
	}
	return kept
}

// canonicalAmount normalizes a matched amount. The last separator is the
// decimal point, everything else is grouping.
func canonicalAmount(m string) (string, bool) {
	i := strings.LastIndexAny(m, ".,")
	if i < 0 || len(m)-i != 3 {
		return "", false
	}
	var b strings.Builder
	for _, r := range m[:i] {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", false
	}
	v, err := strconv.ParseFloat(b.String()+"."+m[i+1:], 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', 2, 64), true
}

// IndexProvider builds markdown indexes, memoized by content hash since
// several pipeline stages index the same document.
type IndexProvider struct {
	cache   port.Cache[*MarkdownIndex]
	metrics *observability.Metrics
}

// NewIndexProvider creates an IndexProvider backed by the given cache.
func NewIndexProvider(cache port.Cache[*MarkdownIndex], metrics *observability.Metrics) *IndexProvider {
	return &IndexProvider{cache: cache, metrics: metrics}
}

// IndexFor returns the index for a document, building it on first use.
func (p *IndexProvider) IndexFor(contentHash, markdown string) *MarkdownIndex {
	if idx, ok := p.cache.Get(contentHash); ok {
		p.metrics.IncrCacheHit("search_index")
		return idx
	}
	p.metrics.IncrCacheMiss("search_index")

	idx := NewMarkdownIndex(markdown)
	p.cache.Set(contentHash, idx)
	return idx
}
