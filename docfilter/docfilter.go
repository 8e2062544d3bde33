// Package docfilter provides opt-in document quality predicates for
// sampling runs. Filters only exclude; they never mutate document text,
// so every retained document stays byte-identical to its source.
package docfilter

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"

	evalset "github.com/corpustools/evalset"
)

// MinSentences returns a filter that keeps documents with at least n
// sentences, as segmented by prose. n <= 0 keeps everything.
func MinSentences(n int) evalset.DocumentFilter {
	return func(d *evalset.Document) bool {
		if n <= 0 {
			return true
		}
		doc, err := prose.NewDocument(
			d.Text,
			prose.WithTagging(false),
			prose.WithExtraction(false),
			prose.WithTokenization(false),
		)
		if err != nil {
			return false
		}
		return len(doc.Sentences()) >= n
	}
}

// TerminalPunct keeps documents whose last non-space rune ends a
// sentence, dropping fragments truncated mid-sentence at corpus
// creation time.
func TerminalPunct() evalset.DocumentFilter {
	return func(d *evalset.Document) bool {
		text := strings.TrimRightFunc(d.Text, unicode.IsSpace)
		if text == "" {
			return false
		}
		last := rune(0)
		for _, r := range text {
			last = r
		}
		switch last {
		case '.', '!', '?', '"', '\'', '”', '’':
			return true
		}
		return false
	}
}

// All combines filters; a document participates only when every filter
// keeps it.
func All(filters ...evalset.DocumentFilter) evalset.DocumentFilter {
	return func(d *evalset.Document) bool {
		for _, f := range filters {
			if f != nil && !f(d) {
				return false
			}
		}
		return true
	}
}
