// Package corpus streams raw corpus files into a lazy, restartable
// sequence of documents. Inputs may be plain or compressed (gzip, zstd),
// whole-file text or line-delimited JSONL, on the local filesystem or in
// S3. Malformed records are skipped and counted; the sequence can be
// consumed more than once via Reset.
package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/yargevad/filepathx"

	evalset "github.com/corpustools/evalset"
)

// ErrNoMatches is returned when no input file matches any pattern. An
// empty corpus is a configuration error, not an empty result.
var ErrNoMatches = errors.New("no input files match")

var errSkipRecord = errors.New("malformed record")

// Large plain files get mapped instead of buffered.
const mmapThreshold = 4 * 1024 * 1024

// The longest JSONL record we will accept before dropping the remainder
// of the file as corrupt.
const maxRecordSize = 64 * 1024 * 1024

// source is one resolved input file and a way to open it from the start.
type source struct {
	name string
	open func() (io.ReadCloser, error)
}

// Reader implements evalset.DocumentIterator over a set of file patterns,
// yielding documents in a stable order: files sorted by name, records in
// file order. It holds at most one open file at a time.
type Reader struct {
	sources []source
	idx     int
	cur     *cursor
	skipped int
}

// NewReader expands the given glob patterns (and s3:// URIs when an S3
// client is supplied) into a sorted list of input files. Returns
// ErrNoMatches when nothing matches.
func NewReader(patterns []string, s3c S3Client) (*Reader, error) {
	byName := make(map[string]source)
	for _, pattern := range patterns {
		if strings.HasPrefix(pattern, "s3://") {
			if s3c == nil {
				return nil, fmt.Errorf(
					"s3 input %s requires an S3 client", pattern)
			}
			srcs, err := listS3Sources(s3c, pattern)
			if err != nil {
				return nil, err
			}
			for _, src := range srcs {
				byName[src.name] = src
			}
			continue
		}
		matches, err := filepathx.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", pattern, err)
		}
		for _, match := range matches {
			stat, statErr := os.Stat(match)
			if statErr != nil {
				return nil, statErr
			}
			if stat.IsDir() {
				continue
			}
			path := match
			size := stat.Size()
			byName[path] = source{
				name: path,
				open: func() (io.ReadCloser, error) {
					return openLocal(path, size)
				},
			}
		}
	}
	if len(byName) == 0 {
		return nil, fmt.Errorf("%w: %s",
			ErrNoMatches, strings.Join(patterns, " "))
	}
	sources := make([]source, 0, len(byName))
	for _, src := range byName {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].name < sources[j].name
	})
	return &Reader{sources: sources}, nil
}

// Sources returns the resolved input file names in iteration order.
func (r *Reader) Sources() []string {
	names := make([]string, len(r.sources))
	for i := range r.sources {
		names[i] = r.sources[i].name
	}
	return names
}

// Skipped returns the count of malformed records dropped since the last
// Reset.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Reset rewinds the sequence to the first record of the first file.
func (r *Reader) Reset() error {
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}
	r.idx = 0
	r.skipped = 0
	return nil
}

// Next returns the next document, or io.EOF once every file is exhausted.
// Unparseable records and corrupt compressed streams are skipped and
// counted rather than failing the run.
func (r *Reader) Next() (*evalset.Document, error) {
	for {
		if r.cur == nil {
			if r.idx >= len(r.sources) {
				return nil, io.EOF
			}
			src := r.sources[r.idx]
			r.idx++
			cur, err := newCursor(src)
			if err != nil {
				if errors.Is(err, errSkipRecord) {
					// Corrupt compression header; drop the file.
					r.skipped++
					continue
				}
				return nil, err
			}
			r.cur = cur
		}
		doc, err := r.cur.next()
		if err == nil {
			return doc, nil
		}
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			continue
		}
		if errors.Is(err, errSkipRecord) {
			r.skipped++
			continue
		}
		// Mid-stream corruption: count it and drop what remains of
		// this file.
		r.skipped++
		r.cur.Close()
		r.cur = nil
	}
}

// cursor iterates the records of a single open file.
type cursor struct {
	name    string
	closer  io.Closer
	scanner *bufio.Scanner // JSONL mode
	text    io.Reader      // whole-file mode
	done    bool
}

func newCursor(src source) (*cursor, error) {
	rc, err := src.open()
	if err != nil {
		return nil, err
	}
	reader, closer, err := decompressed(src.name, rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("%w: %s: %v", errSkipRecord, src.name, err)
	}
	cur := &cursor{name: src.name, closer: closer}
	if recordFormat(src.name) == formatJSONL {
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 1024*1024), maxRecordSize)
		cur.scanner = scanner
	} else {
		cur.text = reader
	}
	return cur, nil
}

func (c *cursor) next() (*evalset.Document, error) {
	if c.scanner != nil {
		return c.nextLine()
	}
	if c.done {
		return nil, io.EOF
	}
	c.done = true
	text, err := io.ReadAll(c.text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errSkipRecord, c.name, err)
	}
	doc := evalset.NewDocument(string(text), c.name)
	return &doc, nil
}

// jsonlRecord is the accepted record shape: one JSON object per line with
// the document body under "text".
type jsonlRecord struct {
	Text string `json:"text"`
}

func (c *cursor) nextLine() (*evalset.Document, error) {
	for {
		if !c.scanner.Scan() {
			if err := c.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := c.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf(
				"%w: %s: %v", errSkipRecord, c.name, err)
		}
		doc := evalset.NewDocument(rec.Text, c.name)
		return &doc, nil
	}
}

func (c *cursor) Close() {
	if c.closer != nil {
		c.closer.Close()
		c.closer = nil
	}
}

type recordKind int

const (
	formatText recordKind = iota
	formatJSONL
)

// recordFormat keys off the file name with any compression suffix
// stripped. Anything that is not JSONL is treated as whole-file text.
func recordFormat(name string) recordKind {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".zst")
	if strings.HasSuffix(base, ".jsonl") {
		return formatJSONL
	}
	return formatText
}

// decompressed wraps rc in the right streaming decompressor for the file
// name. The returned closer tears down the whole chain.
func decompressed(name string, rc io.ReadCloser) (
	io.Reader, io.Closer, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		zr, err := gzip.NewReader(rc)
		if err != nil {
			return nil, nil, err
		}
		return zr, closeChain{zr, rc}, nil
	case strings.HasSuffix(name, ".zst"):
		dec, err := zstd.NewReader(rc)
		if err != nil {
			return nil, nil, err
		}
		drc := dec.IOReadCloser()
		return drc, closeChain{drc, rc}, nil
	default:
		return rc, rc, nil
	}
}

type closeChain []io.Closer

func (cc closeChain) Close() error {
	var first error
	for _, c := range cc {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
