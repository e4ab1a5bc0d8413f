package sink

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkandula/s3stream/stream"
)

const testBucket = "S3_BUCKET"

type capturedPut struct {
	in   *s3.PutObjectInput
	body []byte
}

type fakeUploader struct {
	puts []capturedPut
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, capturedPut{in: in, body: body})
	return &manager.UploadOutput{
		Location: "https://" + aws.ToString(in.Bucket) + ".s3.amazonaws.com/" + aws.ToString(in.Key),
		ETag:     aws.String(`"etag"`),
	}, nil
}

func md5Base64(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"bucket only", Options{Bucket: "foo"}, nil},
		{"bucket expression only", Options{BucketExpression: "{{.Headers.bucket}}"}, nil},
		{"bucket and expression", Options{Bucket: "foo", BucketExpression: "{{.Headers.bucket}}"}, ErrBucketConflict},
		{"no bucket", Options{}, ErrBucketConflict},
		{"acl and acl expression", Options{Bucket: "foo", ACL: "private", ACLExpression: "acl"}, ErrACLConflict},
		{"acl", Options{Bucket: "foo", ACL: "AuthenticatedRead"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}

	err := Options{Bucket: "foo", ACL: "Everyone"}.Validate()
	assert.ErrorContains(t, err, "unknown canned ACL")
}

func TestParseACL(t *testing.T) {
	tests := map[string]types.ObjectCannedACL{
		"PublicReadWrite":           types.ObjectCannedACLPublicReadWrite,
		"public-read-write":         types.ObjectCannedACLPublicReadWrite,
		"AuthenticatedRead":         types.ObjectCannedACLAuthenticatedRead,
		"private":                   types.ObjectCannedACLPrivate,
		"bucket-owner-full-control": types.ObjectCannedACLBucketOwnerFullControl,
	}
	for in, want := range tests {
		got, err := ParseACL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestHandler_uploadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	content := []byte(`{"ok":true}`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	up := &fakeUploader{}
	h, err := newHandler(up, Options{Bucket: testBucket, ACL: "PublicReadWrite"}, nil)
	require.NoError(t, err)

	var done *UploadResult
	h.AfterUpload = func(res *UploadResult) { done = res }

	res, err := h.Handle(context.Background(), stream.Message{FilePath: path})
	require.NoError(t, err)

	require.Len(t, up.puts, 1)
	in := up.puts[0].in
	assert.Equal(t, testBucket, aws.ToString(in.Bucket))
	assert.Equal(t, "report.json", aws.ToString(in.Key))
	assert.Equal(t, types.ObjectCannedACLPublicReadWrite, in.ACL)
	assert.Equal(t, md5Base64(content), aws.ToString(in.ContentMD5))
	assert.Equal(t, types.ChecksumAlgorithmCrc32, in.ChecksumAlgorithm)
	assert.Equal(t, int64(len(content)), aws.ToInt64(in.ContentLength))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, content, up.puts[0].body)

	assert.Equal(t, "etag", res.ETag)
	assert.Same(t, res, done)
}

func TestHandler_uploadPayloadWithKeyExpression(t *testing.T) {
	up := &fakeUploader{}
	h, err := newHandler(up, Options{Bucket: testBucket, KeyExpression: "{{.Headers.key}}"}, nil)
	require.NoError(t, err)
	h.MetadataProvider = func(in *s3.PutObjectInput, msg stream.Message) {
		if msg.FilePath == "" {
			in.ContentType = aws.String("application/json")
			in.ContentDisposition = aws.String("test.json")
		}
	}

	msg := stream.NewMessage([]byte("a"), map[string]string{"key": "myInputStream"})
	_, err = h.Handle(context.Background(), msg)
	require.NoError(t, err)

	in := up.puts[0].in
	assert.Equal(t, "myInputStream", aws.ToString(in.Key))
	assert.Equal(t, md5Base64([]byte("a")), aws.ToString(in.ContentMD5))
	assert.Equal(t, int64(1), aws.ToInt64(in.ContentLength))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, "test.json", aws.ToString(in.ContentDisposition))
	assert.Empty(t, in.ACL)
}

func TestHandler_bucketAndACLExpressions(t *testing.T) {
	up := &fakeUploader{}
	h, err := newHandler(up, Options{
		BucketExpression: "{{.Headers.bucket}}",
		KeyExpression:    "in/{{.FileName}}",
		ACLExpression:    "{{.Headers.acl}}",
	}, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0644))
	msg := stream.Message{FilePath: path, Headers: map[string]string{"bucket": "dynamic", "acl": "bucket-owner-read"}}

	_, err = h.Handle(context.Background(), msg)
	require.NoError(t, err)

	in := up.puts[0].in
	assert.Equal(t, "dynamic", aws.ToString(in.Bucket))
	assert.Equal(t, "in/data.bin", aws.ToString(in.Key))
	assert.Equal(t, types.ObjectCannedACLBucketOwnerRead, in.ACL)
}

func TestHandler_defaultKeyFromHeaders(t *testing.T) {
	up := &fakeUploader{}
	h, err := newHandler(up, Options{Bucket: testBucket}, nil)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), stream.NewMessage([]byte("x"), map[string]string{stream.HeaderFileName: "otherFile"}))
	require.NoError(t, err)
	assert.Equal(t, "otherFile", aws.ToString(up.puts[0].in.Key))

	_, err = h.Handle(context.Background(), stream.NewMessage([]byte("x"), nil))
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestHandler_emptyBucketExpression(t *testing.T) {
	h, err := newHandler(&fakeUploader{}, Options{BucketExpression: "{{.Headers.bucket}}"}, nil)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), stream.NewMessage([]byte("x"), map[string]string{"key": "k"}))
	assert.ErrorContains(t, err, "empty")
}

func TestHandler_uploadError(t *testing.T) {
	up := &fakeUploader{err: errors.New("slow down")}
	h, err := newHandler(up, Options{Bucket: testBucket}, nil)
	require.NoError(t, err)

	err = h.Send(context.Background(), stream.NewMessage([]byte("x"), map[string]string{"key": "k"}))
	assert.ErrorContains(t, err, "s3://S3_BUCKET/k")
}

func TestNewHandler_badExpression(t *testing.T) {
	_, err := newHandler(&fakeUploader{}, Options{Bucket: testBucket, KeyExpression: "{{.Headers"}, nil)
	assert.ErrorContains(t, err, "keyExpression")
}
