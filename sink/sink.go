// Package sink uploads stream messages to S3 objects.
package sink

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"

	"github.com/sandeepkandula/s3stream/stream"
)

var (
	ErrBucketConflict = errors.New("exactly one of 'bucket' or 'bucketExpression' must be set")
	ErrACLConflict    = errors.New("only one of 'acl' or 'aclExpression' must be set")
	ErrNoKey          = errors.New("cannot derive object key from message")
)

// cannedACLAliases maps the CamelCase names accepted in configuration to
// S3 canned ACL values.
var cannedACLAliases = map[string]types.ObjectCannedACL{
	"private":                types.ObjectCannedACLPrivate,
	"publicread":             types.ObjectCannedACLPublicRead,
	"publicreadwrite":        types.ObjectCannedACLPublicReadWrite,
	"authenticatedread":      types.ObjectCannedACLAuthenticatedRead,
	"awsexecread":            types.ObjectCannedACLAwsExecRead,
	"bucketownerread":        types.ObjectCannedACLBucketOwnerRead,
	"bucketownerfullcontrol": types.ObjectCannedACLBucketOwnerFullControl,
}

// ParseACL accepts either an S3 canned ACL ("public-read") or its CamelCase
// name ("PublicRead").
func ParseACL(s string) (types.ObjectCannedACL, error) {
	for _, v := range types.ObjectCannedACL("").Values() {
		if string(v) == s {
			return v, nil
		}
	}
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(s))
	if acl, ok := cannedACLAliases[norm]; ok {
		return acl, nil
	}
	return "", fmt.Errorf("unknown canned ACL %q", s)
}

// Options configures a Handler.
type Options struct {
	Bucket           string
	BucketExpression string // template evaluated per message
	KeyExpression    string // template evaluated per message, optional
	ACL              string
	ACLExpression    string
}

// Validate enforces the mutually exclusive options.
func (o Options) Validate() error {
	if (o.Bucket == "") == (o.BucketExpression == "") {
		return ErrBucketConflict
	}
	if o.ACL != "" && o.ACLExpression != "" {
		return ErrACLConflict
	}
	if o.ACL != "" {
		if _, err := ParseACL(o.ACL); err != nil {
			return err
		}
	}
	return nil
}

// MetadataProvider may adjust the put request before upload.
type MetadataProvider func(in *s3.PutObjectInput, msg stream.Message)

// UploadResult describes a completed upload.
type UploadResult struct {
	Bucket   string
	Key      string
	Size     int64
	Location string
	ETag     string
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Handler uploads messages. File messages are uploaded from disk, other
// messages from their payload.
type Handler struct {
	uploader uploader
	opts     Options
	bucket   *template.Template
	key      *template.Template
	acl      *template.Template
	logger   *slog.Logger

	// MetadataProvider is called for every upload when set.
	MetadataProvider MetadataProvider
	// AfterUpload is called after every successful upload when set.
	AfterUpload func(res *UploadResult)
}

// New creates a Handler uploading through a manager.Uploader.
func New(client *s3.Client, opts Options, logger *slog.Logger) (*Handler, error) {
	return newHandler(manager.NewUploader(client), opts, logger)
}

func newHandler(up uploader, opts Options, logger *slog.Logger) (*Handler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	h := &Handler{uploader: up, opts: opts, logger: logger}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	var err error
	if h.bucket, err = parseExpression("bucketExpression", opts.BucketExpression); err != nil {
		return nil, err
	}
	if h.key, err = parseExpression("keyExpression", opts.KeyExpression); err != nil {
		return nil, err
	}
	if h.acl, err = parseExpression("aclExpression", opts.ACLExpression); err != nil {
		return nil, err
	}
	return h, nil
}

func parseExpression(name, expr string) (*template.Template, error) {
	if expr == "" {
		return nil, nil
	}
	t, err := template.New(name).Option("missingkey=zero").Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

// expressionData is what expressions see as ".".
type expressionData struct {
	Headers  map[string]string
	Payload  string
	File     string
	FileName string
}

func evaluate(t *template.Template, msg stream.Message) (string, error) {
	data := expressionData{
		Headers: msg.Headers,
		Payload: string(msg.Payload),
		File:    msg.FilePath,
	}
	if msg.FilePath != "" {
		data.FileName = filepath.Base(msg.FilePath)
	}
	if data.Headers == nil {
		data.Headers = map[string]string{}
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("evaluate %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Send implements stream.Output so the handler can terminate a pipeline.
func (h *Handler) Send(ctx context.Context, msg stream.Message) error {
	_, err := h.Handle(ctx, msg)
	return err
}

// Handle uploads one message. ContentMD5 covers single part uploads only, the
// uploader drops it for multipart ones, so a CRC32 checksum is also requested
// and is verified for every part.
func (h *Handler) Handle(ctx context.Context, msg stream.Message) (*UploadResult, error) {
	bucket := h.opts.Bucket
	if h.bucket != nil {
		b, err := evaluate(h.bucket, msg)
		if err != nil {
			return nil, err
		}
		bucket = b
	}
	if bucket == "" {
		return nil, errors.New("bucket expression evaluated to an empty string")
	}

	key, err := h.objectKey(msg)
	if err != nil {
		return nil, err
	}

	body, size, sum, err := openPayload(msg)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentMD5:    aws.String(sum),

		ChecksumAlgorithm: types.ChecksumAlgorithmCrc32,
	}
	if ct := contentType(msg, key); ct != "" {
		in.ContentType = aws.String(ct)
	}

	acl, err := h.objectACL(msg)
	if err != nil {
		return nil, err
	}
	in.ACL = acl

	if h.MetadataProvider != nil {
		h.MetadataProvider(in, msg)
	}

	out, err := h.uploader.Upload(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}

	res := &UploadResult{
		Bucket:   bucket,
		Key:      key,
		Size:     size,
		Location: out.Location,
		ETag:     strings.Trim(aws.ToString(out.ETag), `"`),
	}
	h.logger.Info("upload", "status", "Completed", "bucket", bucket, "key", key, "size", humanize.Bytes(uint64(size)))
	if h.AfterUpload != nil {
		h.AfterUpload(res)
	}
	return res, nil
}

func (h *Handler) objectKey(msg stream.Message) (string, error) {
	if h.key != nil {
		key, err := evaluate(h.key, msg)
		if err != nil {
			return "", err
		}
		if key == "" {
			return "", ErrNoKey
		}
		return key, nil
	}
	switch {
	case msg.FilePath != "":
		return filepath.Base(msg.FilePath), nil
	case msg.Header(stream.HeaderKey) != "":
		return msg.Header(stream.HeaderKey), nil
	case msg.Header(stream.HeaderFileName) != "":
		return msg.Header(stream.HeaderFileName), nil
	}
	return "", ErrNoKey
}

func (h *Handler) objectACL(msg stream.Message) (types.ObjectCannedACL, error) {
	raw := h.opts.ACL
	if h.acl != nil {
		v, err := evaluate(h.acl, msg)
		if err != nil {
			return "", err
		}
		raw = v
	}
	if raw == "" {
		return "", nil
	}
	return ParseACL(raw)
}

// openPayload returns the upload body with its size and base64 MD5.
func openPayload(msg stream.Message) (io.ReadCloser, int64, string, error) {
	if msg.FilePath == "" {
		sum := md5.Sum(msg.Payload)
		return io.NopCloser(bytes.NewReader(msg.Payload)), int64(len(msg.Payload)), base64.StdEncoding.EncodeToString(sum[:]), nil
	}

	f, err := os.Open(msg.FilePath)
	if err != nil {
		return nil, 0, "", err
	}
	hash := md5.New()
	size, err := io.Copy(hash, f)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		return nil, 0, "", fmt.Errorf("read %s: %w", msg.FilePath, err)
	}
	return f, size, base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}

func contentType(msg stream.Message, key string) string {
	if ct := msg.Header(stream.HeaderContentType); ct != "" {
		return ct
	}
	return mime.TypeByExtension(filepath.Ext(key))
}
