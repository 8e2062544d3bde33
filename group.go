package evalset

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// GroupAssigner maps a document to its group key. Assignment must be a
// total function of the document itself, with no dependency on traversal
// order, so regrouping an identical corpus is reproducible regardless of
// reader concurrency.
type GroupAssigner interface {
	Assign(d *Document) string
}

// FileGroupAssigner keys each document by its full source path or URI,
// used when balancing across files. The full path keeps the mapping
// injective over the resolved sources: sharded layouts reuse base names
// across directories (reddit/part-00.jsonl, forums/part-00.jsonl) and
// keying on the base name alone would silently merge them.
type FileGroupAssigner struct{}

func (FileGroupAssigner) Assign(d *Document) string {
	return d.SourceFile
}

// SubdomainGroupAssigner keys each document by the name of the directory
// containing its source file, used when balancing across topical
// subdomains laid out one-directory-per-subdomain.
type SubdomainGroupAssigner struct{}

func (SubdomainGroupAssigner) Assign(d *Document) string {
	src := d.SourceFile
	if strings.Contains(src, "://") {
		// Object store keys always use forward slashes.
		return path.Base(path.Dir(strings.SplitN(src, "://", 2)[1]))
	}
	return filepath.Base(filepath.Dir(src))
}

// NewGroupAssigner
// Maps the CLI grouping mode to an assigner.
func NewGroupAssigner(mode string) (GroupAssigner, error) {
	switch mode {
	case "file", "":
		return FileGroupAssigner{}, nil
	case "subdomain":
		return SubdomainGroupAssigner{}, nil
	}
	return nil, fmt.Errorf("invalid grouping mode: %q", mode)
}
