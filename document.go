package evalset

import "io"

// Document is a single raw text record drawn from a corpus. Text and
// SourceFile are fixed at read time; GroupKey is stamped by a GroupAssigner
// and the token count is computed lazily on first use.
type Document struct {
	Text       string
	SourceFile string
	GroupKey   string

	tokenCount int
}

// NewDocument
// Constructs a Document with an unset token count.
func NewDocument(text string, sourceFile string) Document {
	return Document{
		Text:       text,
		SourceFile: sourceFile,
		tokenCount: -1,
	}
}

// TokenCount returns the cached token count, computing it through the
// counter on first call.
func (d *Document) TokenCount(counter TokenCounter) (int, error) {
	if d.tokenCount >= 0 {
		return d.tokenCount, nil
	}
	ct, err := counter.Count(d.Text)
	if err != nil {
		return 0, err
	}
	d.tokenCount = ct
	return ct, nil
}

// TokenCounter converts text to a subword token count. Implementations must
// be pure functions of (tokenizer identity, text).
type TokenCounter interface {
	Count(text string) (int, error)
}

// DocumentIterator is a lazy, restartable sequence of Documents. Next
// returns io.EOF when the sequence is exhausted; Reset rewinds to the
// beginning so the sequence can be consumed more than once.
type DocumentIterator interface {
	Next() (*Document, error)
	Reset() error
}

// DocumentFilter reports whether a document participates in sampling.
// Filters must not mutate the document and must not depend on traversal
// order.
type DocumentFilter func(d *Document) bool

// Drain consumes and discards the remainder of an iterator, returning the
// number of documents seen. Mostly useful in tests.
func Drain(it DocumentIterator) (int, error) {
	n := 0
	for {
		_, err := it.Next()
		if err == io.EOF {
			return n, nil
		} else if err != nil {
			return n, err
		}
		n++
	}
}
