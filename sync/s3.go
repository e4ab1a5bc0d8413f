package sync

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client used by S3Remote.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var _ Remote = (*S3Remote)(nil)

// S3Remote reads objects from S3. A remote directory is either a bare bucket
// name or "bucket/prefix".
type S3Remote struct {
	client s3API
}

// NewS3Remote creates a new S3Remote.
func NewS3Remote(client *s3.Client) *S3Remote {
	return &S3Remote{client: client}
}

// splitDir separates the bucket from the key prefix in a remote directory.
func splitDir(dir string) (bucket, prefix string) {
	dir = strings.Trim(dir, "/")
	bucket, prefix, _ = strings.Cut(dir, "/")
	return bucket, prefix
}

func fullKey(prefix, rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if prefix == "" {
		return rel
	}
	return strings.TrimSuffix(prefix, "/") + "/" + rel
}

func relKey(prefix, full string) string {
	if prefix == "" {
		return full
	}
	return strings.TrimPrefix(full, strings.TrimSuffix(prefix, "/")+"/")
}

func (r *S3Remote) List(ctx context.Context, dir string) ([]RemoteEntry, error) {
	bucket, prefix := splitDir(dir)
	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var entries []RemoteEntry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// directory markers
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			entries = append(entries, RemoteEntry{
				Key:          relKey(prefix, key),
				LastModified: aws.ToTime(obj.LastModified),
				Size:         aws.ToInt64(obj.Size),
			})
		}
	}
	return entries, nil
}

func (r *S3Remote) Open(ctx context.Context, dir, key string) (io.ReadCloser, error) {
	bucket, prefix := splitDir(dir)
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(fullKey(prefix, key)),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, fullKey(prefix, key), err)
	}
	return out.Body, nil
}

func (r *S3Remote) Delete(ctx context.Context, dir, key string) error {
	bucket, prefix := splitDir(dir)
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(fullKey(prefix, key)),
	})
	return err
}
