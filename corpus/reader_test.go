package corpus

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	evalset "github.com/corpustools/evalset"
)

func writeFile(t *testing.T, dir string, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func jsonl(texts ...string) []byte {
	var buf bytes.Buffer
	for _, text := range texts {
		fmt.Fprintf(&buf, "{\"text\": %q}\n", text)
	}
	return buf.Bytes()
}

func collect(t *testing.T, r *Reader) []*evalset.Document {
	t.Helper()
	var docs []*evalset.Document
	for {
		doc, err := r.Next()
		if err == io.EOF {
			return docs
		}
		require.NoError(t, err)
		docs = append(docs, doc)
	}
}

func TestReaderJSONLFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.jsonl", jsonl("b one", "b two"))
	writeFile(t, dir, "a.jsonl.gz",
		gzipBytes(t, jsonl("a one", "a two", "a three")))

	reader, err := NewReader([]string{dir + "/*"}, nil)
	require.NoError(t, err)

	docs := collect(t, reader)
	require.Len(t, docs, 5)
	// Files sorted by path, records in file order.
	assert.Equal(t, "a one", docs[0].Text)
	assert.Equal(t, "a three", docs[2].Text)
	assert.Equal(t, "b one", docs[3].Text)
	assert.True(t, strings.HasSuffix(docs[0].SourceFile, "a.jsonl.gz"))
	assert.True(t, strings.HasSuffix(docs[4].SourceFile, "b.jsonl"))
	assert.Equal(t, 0, reader.Skipped())
}

func TestReaderWholeFileText(t *testing.T) {
	dir := t.TempDir()
	content := "A whole file is one document.\nSecond line included.\n"
	writeFile(t, dir, "doc.txt", []byte(content))

	reader, err := NewReader([]string{dir + "/*.txt"}, nil)
	require.NoError(t, err)
	docs := collect(t, reader)
	require.Len(t, docs, 1)
	assert.Equal(t, content, docs[0].Text)
}

func TestReaderZstd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl.zst", zstdBytes(t, jsonl("compressed doc")))

	reader, err := NewReader([]string{dir + "/*"}, nil)
	require.NoError(t, err)
	docs := collect(t, reader)
	require.Len(t, docs, 1)
	assert.Equal(t, "compressed doc", docs[0].Text)
}

func TestReaderSkipsMalformedRecords(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`{"text": "good one"}
this line is not json
{"text": "good two"}

{"text": "good three"}
`)
	writeFile(t, dir, "mixed.jsonl", data)

	reader, err := NewReader([]string{dir + "/*.jsonl"}, nil)
	require.NoError(t, err)
	docs := collect(t, reader)
	require.Len(t, docs, 3)
	assert.Equal(t, "good one", docs[0].Text)
	assert.Equal(t, "good three", docs[2].Text)
	// The blank line is not a record; only the garbage line counts.
	assert.Equal(t, 1, reader.Skipped())
}

func TestReaderSkipsCorruptGzip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.jsonl.gz", []byte("not gzip at all"))
	writeFile(t, dir, "good.jsonl", jsonl("still here"))

	reader, err := NewReader([]string{dir + "/*"}, nil)
	require.NoError(t, err)
	docs := collect(t, reader)
	require.Len(t, docs, 1)
	assert.Equal(t, "still here", docs[0].Text)
	assert.Equal(t, 1, reader.Skipped())
}

func TestReaderNoMatches(t *testing.T) {
	dir := t.TempDir()
	_, err := NewReader([]string{dir + "/*.jsonl"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMatches))
}

func TestReaderReset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", jsonl("one", "two", "three"))

	reader, err := NewReader([]string{dir + "/*.jsonl"}, nil)
	require.NoError(t, err)
	first := collect(t, reader)
	require.NoError(t, reader.Reset())
	second := collect(t, reader)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Text, second[i].Text)
	}
}

func TestReaderRecursiveGlob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "reddit/part-00.jsonl", jsonl("r0"))
	writeFile(t, dir, "forums/part-00.jsonl", jsonl("f0"))

	reader, err := NewReader([]string{dir + "/**/*.jsonl"}, nil)
	require.NoError(t, err)
	docs := collect(t, reader)
	require.Len(t, docs, 2)
	// forums sorts before reddit.
	assert.Equal(t, "f0", docs[0].Text)
	assert.Equal(t, "r0", docs[1].Text)
}

// s3Mock is a minimal in-memory S3Client.
type s3Mock struct {
	objects map[string][]byte
}

func (m *s3Mock) ListObjectsV2(input *s3.ListObjectsV2Input) (
	*s3.ListObjectsV2Output, error) {
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, aws.StringValue(input.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		out.Contents = append(out.Contents,
			&s3.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (m *s3Mock) GetObject(input *s3.GetObjectInput) (
	*s3.GetObjectOutput, error) {
	body, ok := m.objects[aws.StringValue(input.Key)]
	if !ok {
		return nil, fmt.Errorf(
			"no such key: %s", aws.StringValue(input.Key))
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func TestReaderS3(t *testing.T) {
	mock := &s3Mock{objects: map[string][]byte{
		"corpus/reddit/part-00.jsonl": jsonl("hello", "world"),
		"corpus/reddit/notes.csv":     []byte("skipped,entirely"),
		"other/elsewhere.jsonl":       jsonl("outside prefix"),
	}}

	reader, err := NewReader([]string{"s3://bucket/corpus/"}, mock)
	require.NoError(t, err)
	docs := collect(t, reader)
	require.Len(t, docs, 2)
	assert.Equal(t, "hello", docs[0].Text)
	assert.Equal(t,
		"s3://bucket/corpus/reddit/part-00.jsonl", docs[0].SourceFile)

	// Restartable: Reset re-fetches the objects.
	require.NoError(t, reader.Reset())
	again := collect(t, reader)
	require.Len(t, again, 2)
	assert.Equal(t, "world", again[1].Text)
}

func TestReaderS3RequiresClient(t *testing.T) {
	_, err := NewReader([]string{"s3://bucket/corpus/"}, nil)
	assert.Error(t, err)
}

func TestReaderLargePlainFileMmap(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	for i := 0; buf.Len() < mmapThreshold+1024; i++ {
		fmt.Fprintf(&buf, "{\"text\": \"filler document %08d\"}\n", i)
	}
	writeFile(t, dir, "big.jsonl", buf.Bytes())

	reader, err := NewReader([]string{dir + "/*.jsonl"}, nil)
	require.NoError(t, err)
	docs := collect(t, reader)
	assert.Greater(t, len(docs), 100)
	assert.Equal(t, "filler document 00000000", docs[0].Text)
	assert.Equal(t, 0, reader.Skipped())
}
