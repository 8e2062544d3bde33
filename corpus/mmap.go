package corpus

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"
)

// openLocal opens a local input file. Large uncompressed files are memory
// mapped rather than buffered; compressed files always stream.
func openLocal(path string, size int64) (io.ReadCloser, error) {
	compressed := strings.HasSuffix(path, ".gz") ||
		strings.HasSuffix(path, ".zst")
	if compressed || size < mmapThreshold {
		return os.Open(path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fileMmap, mmapErr := mmap.Map(file, mmap.RDONLY, 0)
	if mmapErr != nil {
		// Fall back to a plain file handle.
		return file, nil
	}
	return &mmapReadCloser{
		Reader: bytes.NewReader(fileMmap),
		m:      fileMmap,
		file:   file,
	}, nil
}

type mmapReadCloser struct {
	*bytes.Reader
	m    mmap.MMap
	file *os.File
}

func (m *mmapReadCloser) Close() error {
	unmapErr := m.m.Unmap()
	closeErr := m.file.Close()
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}
