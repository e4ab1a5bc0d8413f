package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkandula/s3stream/sink"
	"github.com/sandeepkandula/s3stream/sync"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "bucket", cfg.Source.RemoteDir)
	assert.Equal(t, sync.DefaultLocalDir, cfg.Source.LocalDir)
	assert.Equal(t, ".tmp", cfg.Source.TmpFileSuffix)
	assert.Equal(t, "/", cfg.Source.RemoteFileSeparator)
	assert.True(t, cfg.Source.AutoCreateLocalDir)
	assert.True(t, cfg.Source.PreserveTimestamp)
	assert.False(t, cfg.Source.DeleteRemoteFiles)
	assert.Equal(t, time.Second, cfg.Trigger.FixedDelay)
	assert.Equal(t, sync.Unlimited, cfg.Trigger.MaxMessages)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.NoError(t, cfg.ValidateSource())
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("S3STREAM_AWS_REGION", "us-gov-west-1")
	t.Setenv("S3STREAM_AWS_ACCESS_KEY", "test.accessKey")
	t.Setenv("S3STREAM_SOURCE_REMOTE_DIR", "S3_BUCKET")
	t.Setenv("S3STREAM_SOURCE_FILENAME_REGEX", `.*\.test$`)
	t.Setenv("S3STREAM_SOURCE_DELETE_REMOTE_FILES", "true")
	t.Setenv("S3STREAM_TRIGGER_INITIAL_DELAY", "1ms")
	t.Setenv("S3STREAM_CONSUMER_MODE", "ref")
	t.Setenv("S3STREAM_SINK_BUCKET", "foo")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "us-gov-west-1", cfg.AWS.Region)
	assert.Equal(t, "test.accessKey", cfg.AWS.AccessKey)
	assert.Equal(t, "S3_BUCKET", cfg.Source.RemoteDir)
	assert.Equal(t, `.*\.test$`, cfg.Source.FilenameRegex)
	assert.True(t, cfg.Source.DeleteRemoteFiles)
	assert.Equal(t, time.Millisecond, cfg.Trigger.InitialDelay)
	assert.Equal(t, "ref", cfg.Consumer.Mode)
	assert.Equal(t, "foo", cfg.Sink.Bucket)
}

func TestLoadConfigYAML(t *testing.T) {
	dummyConfig := `
aws:
  region: eu-west-1
  endpoint: http://localhost:9000
source:
  remote_dir: my-bucket/inbox
  local_dir: /var/spool/s3
  filename_pattern: "*.csv"
  workers: 4
trigger:
  fixed_delay: 30s
  max_messages: 10
consumer:
  mode: lines
  with_markers: true
sink:
  bucket_expression: "{{.Headers.bucket}}"
  acl: PublicRead
`
	path := filepath.Join(t.TempDir(), "s3stream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(dummyConfig), 0644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "http://localhost:9000", cfg.AWS.Endpoint)

	opts := cfg.SyncOptions()
	assert.Equal(t, "my-bucket/inbox", opts.RemoteDir)
	assert.Equal(t, "/var/spool/s3", opts.LocalDir)
	assert.Equal(t, "*.csv", opts.FilenamePattern)
	assert.Equal(t, 4, opts.Workers)
	assert.True(t, opts.PreserveTimestamp)

	trigger := cfg.TriggerOptions()
	assert.Equal(t, 30*time.Second, trigger.FixedDelay)
	assert.Equal(t, 10, trigger.MaxMessagesPerPoll)

	assert.Equal(t, "lines", string(cfg.ConsumerOptions().Mode))
	assert.True(t, cfg.ConsumerOptions().WithMarkers)

	assert.Equal(t, sink.Options{BucketExpression: "{{.Headers.bucket}}", ACL: "PublicRead"}, cfg.SinkOptions())
	assert.NoError(t, cfg.ValidateSink())
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(t, err)
}

func TestValidateSource(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	cfg.Source.FilenamePattern = "*.test"
	cfg.Source.FilenameRegex = `.*\.test`
	var cfgErr *sync.ConfigError
	assert.ErrorAs(t, cfg.ValidateSource(), &cfgErr)

	cfg.Source.FilenameRegex = ""
	cfg.Source.RemoteDir = "ab"
	assert.ErrorAs(t, cfg.ValidateSource(), &cfgErr)

	cfg.Source.RemoteDir = "bucket"
	cfg.Consumer.Mode = "bytes"
	assert.Error(t, cfg.ValidateSource())
}

func TestValidateSink(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.ValidateSink(), sink.ErrBucketConflict)

	cfg.Sink.Bucket = "foo"
	cfg.Sink.BucketExpression = "{{.Headers.bucket}}"
	assert.ErrorIs(t, cfg.ValidateSink(), sink.ErrBucketConflict)

	cfg.Sink.BucketExpression = ""
	cfg.Sink.ACL = "private"
	cfg.Sink.ACLExpression = "{{.Headers.acl}}"
	assert.ErrorIs(t, cfg.ValidateSink(), sink.ErrACLConflict)
}
