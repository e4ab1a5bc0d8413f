// Package config loads connector configuration from flags, environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sandeepkandula/s3stream/awsclient"
	"github.com/sandeepkandula/s3stream/consumer"
	"github.com/sandeepkandula/s3stream/sink"
	"github.com/sandeepkandula/s3stream/sync"
)

const EnvPrefix = "S3STREAM"

type SourceConfig struct {
	RemoteDir           string `mapstructure:"remote_dir"`
	LocalDir            string `mapstructure:"local_dir"`
	AutoCreateLocalDir  bool   `mapstructure:"auto_create_local_dir"`
	TmpFileSuffix       string `mapstructure:"tmp_file_suffix"`
	RemoteFileSeparator string `mapstructure:"remote_file_separator"`
	DeleteRemoteFiles   bool   `mapstructure:"delete_remote_files"`
	PreserveTimestamp   bool   `mapstructure:"preserve_timestamp"`
	FilenamePattern     string `mapstructure:"filename_pattern"`
	FilenameRegex       string `mapstructure:"filename_regex"`
	Workers             int    `mapstructure:"workers"`
}

type TriggerConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	FixedDelay   time.Duration `mapstructure:"fixed_delay"`
	MaxMessages  int           `mapstructure:"max_messages"`
}

type ConsumerConfig struct {
	Mode        string `mapstructure:"mode"`
	WithMarkers bool   `mapstructure:"with_markers"`
}

type SinkConfig struct {
	Bucket           string `mapstructure:"bucket"`
	BucketExpression string `mapstructure:"bucket_expression"`
	KeyExpression    string `mapstructure:"key_expression"`
	ACL              string `mapstructure:"acl"`
	ACLExpression    string `mapstructure:"acl_expression"`
}

type Config struct {
	LogLevel    string           `mapstructure:"log_level"`
	MetricsAddr string           `mapstructure:"metrics_addr"`
	AWS         awsclient.Config `mapstructure:"aws"`
	Source      SourceConfig     `mapstructure:"source"`
	Trigger     TriggerConfig    `mapstructure:"trigger"`
	Consumer    ConsumerConfig   `mapstructure:"consumer"`
	Sink        SinkConfig       `mapstructure:"sink"`
	Path        string           `mapstructure:"-"`
}

// SetDefaults registers every key so that environment variables are picked
// up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	syncDefaults := sync.DefaultOptions()
	triggerDefaults := sync.DefaultTriggerOptions()

	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")

	v.SetDefault("aws.region", awsclient.DefaultRegion)
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.access_key", "")
	v.SetDefault("aws.secret_key", "")
	v.SetDefault("aws.path_style", false)

	v.SetDefault("source.remote_dir", syncDefaults.RemoteDir)
	v.SetDefault("source.local_dir", syncDefaults.LocalDir)
	v.SetDefault("source.auto_create_local_dir", syncDefaults.AutoCreateLocalDir)
	v.SetDefault("source.tmp_file_suffix", syncDefaults.TmpFileSuffix)
	v.SetDefault("source.remote_file_separator", syncDefaults.RemoteFileSeparator)
	v.SetDefault("source.delete_remote_files", syncDefaults.DeleteRemoteFiles)
	v.SetDefault("source.preserve_timestamp", syncDefaults.PreserveTimestamp)
	v.SetDefault("source.filename_pattern", "")
	v.SetDefault("source.filename_regex", "")
	v.SetDefault("source.workers", syncDefaults.Workers)

	v.SetDefault("trigger.initial_delay", triggerDefaults.InitialDelay)
	v.SetDefault("trigger.fixed_delay", triggerDefaults.FixedDelay)
	v.SetDefault("trigger.max_messages", triggerDefaults.MaxMessagesPerPoll)

	v.SetDefault("consumer.mode", string(consumer.ModeContents))
	v.SetDefault("consumer.with_markers", false)

	v.SetDefault("sink.bucket", "")
	v.SetDefault("sink.bucket_expression", "")
	v.SetDefault("sink.key_expression", "")
	v.SetDefault("sink.acl", "")
	v.SetDefault("sink.acl_expression", "")
}

// Load reads the optional config file at path, applies S3STREAM_*
// environment variables and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config read '%s': %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	return &cfg, nil
}

func (c *Config) SyncOptions() sync.Options {
	return sync.Options{
		RemoteDir:           c.Source.RemoteDir,
		LocalDir:            c.Source.LocalDir,
		AutoCreateLocalDir:  c.Source.AutoCreateLocalDir,
		TmpFileSuffix:       c.Source.TmpFileSuffix,
		RemoteFileSeparator: c.Source.RemoteFileSeparator,
		DeleteRemoteFiles:   c.Source.DeleteRemoteFiles,
		PreserveTimestamp:   c.Source.PreserveTimestamp,
		FilenamePattern:     c.Source.FilenamePattern,
		FilenameRegex:       c.Source.FilenameRegex,
		Workers:             c.Source.Workers,
	}
}

func (c *Config) TriggerOptions() sync.TriggerOptions {
	return sync.TriggerOptions{
		InitialDelay:       c.Trigger.InitialDelay,
		FixedDelay:         c.Trigger.FixedDelay,
		MaxMessagesPerPoll: c.Trigger.MaxMessages,
	}
}

func (c *Config) ConsumerOptions() consumer.Options {
	return consumer.Options{
		Mode:        consumer.Mode(c.Consumer.Mode),
		WithMarkers: c.Consumer.WithMarkers,
	}
}

func (c *Config) SinkOptions() sink.Options {
	return sink.Options{
		Bucket:           c.Sink.Bucket,
		BucketExpression: c.Sink.BucketExpression,
		KeyExpression:    c.Sink.KeyExpression,
		ACL:              c.Sink.ACL,
		ACLExpression:    c.Sink.ACLExpression,
	}
}

// ValidateSource checks the options used by the source command.
func (c *Config) ValidateSource() error {
	opts := c.SyncOptions()
	if err := opts.Validate(); err != nil {
		return err
	}
	if _, err := sync.NewFilter(opts.FilenamePattern, opts.FilenameRegex); err != nil {
		return err
	}
	if _, err := consumer.ParseMode(c.Consumer.Mode); err != nil {
		return err
	}
	return nil
}

// ValidateSink checks the options used by the sink command.
func (c *Config) ValidateSink() error {
	return c.SinkOptions().Validate()
}
