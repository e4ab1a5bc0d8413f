package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sandeepkandula/s3stream/awsclient"
	"github.com/sandeepkandula/s3stream/config"
	"github.com/sandeepkandula/s3stream/consumer"
	"github.com/sandeepkandula/s3stream/stream"
	"github.com/sandeepkandula/s3stream/sync"
)

func newSourceCmd(cfg *config.Config) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "source",
		Short: "Poll an S3 bucket, mirror new objects locally and emit them as messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateSource(); err != nil {
				return usageError(cmd, err)
			}
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			client, err := awsclient.New(ctx, cfg.AWS)
			if err != nil {
				return err
			}
			logger := slog.Default()

			syncer, err := sync.New(sync.NewS3Remote(client), cfg.SyncOptions(), logger)
			if err != nil {
				return err
			}
			fc, err := consumer.New(stream.NewJSONOutput(cmd.OutOrStdout()), cfg.ConsumerOptions(), logger)
			if err != nil {
				return err
			}
			poller, err := sync.NewPoller(syncer, fc, cfg.TriggerOptions(), logger)
			if err != nil {
				return err
			}

			if once {
				n, err := poller.Poll(ctx)
				logger.Info("poll done", "files", n, "pending", poller.Pending())
				if err != nil && errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			serveMetrics(ctx, cfg.MetricsAddr)
			defer slog.Info("Bye!")
			return poller.Run(ctx)
		},
	}

	defaults := sync.DefaultOptions()
	trigger := sync.DefaultTriggerOptions()
	cmd.Flags().SortFlags = false
	cmd.Flags().String("remote-dir", defaults.RemoteDir, "Bucket or bucket/prefix to poll")
	cmd.Flags().String("local-dir", defaults.LocalDir, "Local directory receiving the files")
	cmd.Flags().Bool("auto-create-local-dir", defaults.AutoCreateLocalDir, "Create the local directory if it is missing")
	cmd.Flags().String("tmp-file-suffix", defaults.TmpFileSuffix, "Suffix of files being downloaded")
	cmd.Flags().String("remote-file-separator", defaults.RemoteFileSeparator, "Separator of key segments, the last segment names the local file")
	cmd.Flags().String("filename-pattern", "", "Glob filter on object keys")
	cmd.Flags().String("filename-regex", "", "Regex filter on object keys, exclusive with --filename-pattern")
	cmd.Flags().Bool("delete-remote-files", defaults.DeleteRemoteFiles, "Delete objects once mirrored")
	cmd.Flags().Bool("preserve-timestamp", defaults.PreserveTimestamp, "Copy the object modification time to the local file")
	cmd.Flags().Int("workers", defaults.Workers, "Concurrent downloads per poll")
	cmd.Flags().Duration("initial-delay", trigger.InitialDelay, "Delay before the first poll")
	cmd.Flags().Duration("fixed-delay", trigger.FixedDelay, "Delay between polls")
	cmd.Flags().Int("max-messages", trigger.MaxMessagesPerPoll, "Files emitted per poll, -1 for unlimited")
	cmd.Flags().String("mode", string(consumer.ModeContents), "Emit files as ref, lines or contents")
	cmd.Flags().Bool("with-markers", false, "Emit start/end markers in lines mode")
	cmd.Flags().BoolVar(&once, "once", false, "Poll once and exit")
	return cmd
}
