package service

import (
	"regexp"
	"strings"

	"github.com/mcravero/statement-ingest/internal/domain"
)

const (
	chunkPageThreshold = 10    // pages at/above which we chunk
	chunkCharThreshold = 20000 // chars above which we chunk
	chunkLineThreshold = 20    // transaction-shaped lines above which we chunk
	pagesPerChunk      = 4
	charsPerChunk      = 20000
)

// txnLinePattern is a cheap date-plus-amount heuristic for counting
// transaction-shaped lines without invoking the model.
var txnLinePattern = regexp.MustCompile(`(?m)^.*\d{1,4}[/-]\d{1,2}(?:[/-]\d{1,4})?.*\d[.,]\d{2}.*$`)

// needsChunking decides whether a recognized document is too big for a
// single structuring call.
func needsChunking(doc *domain.RecognizedDocument, markdown string) bool {
	if len(doc.Pages) >= chunkPageThreshold {
		return true
	}
	if len(markdown) > chunkCharThreshold {
		return true
	}
	return len(txnLinePattern.FindAllString(markdown, -1)) > chunkLineThreshold
}

// buildChunks splits a document into structuring chunks: groups of up to
// four pages, falling back to fixed-size character slices when one page
// alone blows the budget.
func buildChunks(doc *domain.RecognizedDocument) []string {
	var chunks []string
	var cur strings.Builder
	pages := 0

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			pages = 0
		}
	}

	for _, p := range doc.Pages {
		if len(p.Markdown) > charsPerChunk {
			flush()
			for off := 0; off < len(p.Markdown); off += charsPerChunk {
				end := min(off+charsPerChunk, len(p.Markdown))
				chunks = append(chunks, p.Markdown[off:end])
			}
			continue
		}
		if pages == pagesPerChunk || cur.Len()+len(p.Markdown) > charsPerChunk {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p.Markdown)
		pages++
	}
	flush()

	return chunks
}
