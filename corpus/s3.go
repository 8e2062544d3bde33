package corpus

import (
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Client is the slice of the S3 API the reader consumes, kept narrow so
// tests can substitute a mock.
type S3Client interface {
	ListObjectsV2(input *s3.ListObjectsV2Input) (
		*s3.ListObjectsV2Output, error)
	GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error)
}

// parseS3URI splits s3://bucket/prefix into its parts.
func parseS3URI(uri string) (bucket string, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if trimmed == uri || trimmed == "" {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}

// listS3Sources expands one s3://bucket/prefix pattern into sources, one
// per recognized object under the prefix.
func listS3Sources(svc S3Client, pattern string) ([]source, error) {
	bucket, prefix, err := parseS3URI(pattern)
	if err != nil {
		return nil, err
	}
	keys, err := listObjectsRecursively(svc, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", pattern, err)
	}
	sources := make([]source, 0, len(keys))
	for _, key := range keys {
		if !recognizedInput(key) {
			continue
		}
		bucket, key := bucket, key
		sources = append(sources, source{
			name: "s3://" + bucket + "/" + key,
			open: func() (io.ReadCloser, error) {
				out, err := svc.GetObject(&s3.GetObjectInput{
					Bucket: aws.String(bucket),
					Key:    aws.String(key),
				})
				if err != nil {
					return nil, err
				}
				return out.Body, nil
			},
		})
	}
	return sources, nil
}

// listObjectsRecursively pages through every object under the prefix.
func listObjectsRecursively(svc S3Client, bucket string,
	prefix string) ([]string, error) {
	var keys []string
	var continuation *string
	for {
		out, err := svc.ListObjectsV2(&s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return keys, nil
		}
		continuation = out.NextContinuationToken
	}
}

// recognizedInput filters prefix listings down to corpus files; explicit
// local globs are taken as-is, but an S3 prefix sweeps everything under
// it.
func recognizedInput(key string) bool {
	base := strings.TrimSuffix(strings.TrimSuffix(key, ".gz"), ".zst")
	return strings.HasSuffix(base, ".jsonl") ||
		strings.HasSuffix(base, ".txt")
}
