// Package writer serializes a Subset to one compressed JSONL file per
// group. Documents are written in the exact order the sampler accepted
// them, never re-sorted, so per-line provenance is reproducible. Each
// group is materialized to a temp file and atomically renamed into place:
// an interrupted run leaves completed groups intact and unpublished
// groups simply absent, never a truncated file.
package writer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	evalset "github.com/corpustools/evalset"
)

// ErrExists is returned under overwrite protection when a destination
// file is already present.
var ErrExists = errors.New("output file already exists")

type Writer struct {
	OutputDir string
	// NoOverwrite makes a pre-existing output file an error, checked for
	// every group before any group is written.
	NoOverwrite bool
	// Jobs bounds concurrent group writes; <= 0 means sequential.
	Jobs int
}

// record is the serialized document shape. Field order is fixed by the
// struct, so repeated runs produce identical bytes.
type record struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// GroupFileName derives the deterministic output file name for a group
// key. Any byte that could not appear in a file name maps to '_'.
// Whenever sanitization alters the key, a short digest of the raw key is
// appended so distinct keys never map to the same file: sanitizing folds
// keys together ("a b" and "a_b" would otherwise share a_b.jsonl.gz) and
// concurrent group writes would silently last-writer-win on the shared
// destination. The name is a function of the key alone.
func GroupFileName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || strings.Trim(name, ".") == "" {
		name = "group"
	}
	if name != key {
		h := fnv.New32a()
		h.Write([]byte(key))
		name = fmt.Sprintf("%s-%08x", name, h.Sum32())
	}
	return name + ".jsonl.gz"
}

// WriteSubset publishes every group of the subset under OutputDir.
// Groups are written independently and merged by key, never by
// completion order; cancellation is safe at group granularity.
func (w *Writer) WriteSubset(ctx context.Context,
	subset *evalset.Subset) error {
	if err := os.MkdirAll(w.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	keys := subset.GroupKeys()
	names := make(map[string]string, len(keys))
	for _, key := range keys {
		name := GroupFileName(key)
		if other, dup := names[name]; dup {
			return fmt.Errorf(
				"groups %q and %q map to the same output file %s",
				other, key, name)
		}
		names[name] = key
	}
	if w.NoOverwrite {
		for _, key := range keys {
			dest := filepath.Join(w.OutputDir, GroupFileName(key))
			if _, err := os.Stat(dest); err == nil {
				return fmt.Errorf("%w: %s", ErrExists, dest)
			}
		}
	}
	eg, ctx := errgroup.WithContext(ctx)
	if w.Jobs > 0 {
		eg.SetLimit(w.Jobs)
	} else {
		eg.SetLimit(1)
	}
	for _, key := range keys {
		group := subset.Groups[key]
		eg.Go(func() error {
			return w.writeGroup(ctx, group)
		})
	}
	return eg.Wait()
}

func (w *Writer) writeGroup(ctx context.Context,
	group *evalset.GroupResult) error {
	dest := filepath.Join(w.OutputDir, GroupFileName(group.Key))
	tmp, err := os.CreateTemp(w.OutputDir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	discard := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	bw := bufio.NewWriterSize(tmp, 1024*1024)
	// The default gzip header has no name, no mod time, and an unknown
	// OS byte, so identical documents compress to identical bytes.
	zw := gzip.NewWriter(bw)
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)
	for i := range group.Documents {
		if err := ctx.Err(); err != nil {
			discard()
			return err
		}
		doc := &group.Documents[i]
		if err := enc.Encode(record{
			Text:   doc.Text,
			Source: doc.SourceFile,
		}); err != nil {
			discard()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		discard()
		return err
	}
	if err := bw.Flush(); err != nil {
		discard()
		return err
	}
	if err := tmp.Sync(); err != nil {
		discard()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return err
	}
	syncDir(w.OutputDir)
	return nil
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	d.Sync()
}
