package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sandeepkandula/s3stream/awsclient"
	"github.com/sandeepkandula/s3stream/config"
	"github.com/sandeepkandula/s3stream/sink"
	"github.com/sandeepkandula/s3stream/stream"
)

func newSinkCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sink [file...]",
		Short: "Upload files, or JSON messages read from stdin, to S3",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateSink(); err != nil {
				return usageError(cmd, err)
			}
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			client, err := awsclient.New(ctx, cfg.AWS)
			if err != nil {
				return err
			}
			handler, err := sink.New(client, cfg.SinkOptions(), slog.Default())
			if err != nil {
				return err
			}
			serveMetrics(ctx, cfg.MetricsAddr)

			if len(args) > 0 {
				return uploadFiles(cmd, handler, args)
			}
			return uploadMessages(cmd, handler, stream.NewJSONReader(cmd.InOrStdin()))
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().String("bucket", "", "Target bucket")
	cmd.Flags().String("bucket-expression", "", "Template computing the bucket per message")
	cmd.Flags().String("key-expression", "", "Template computing the object key per message")
	cmd.Flags().String("acl", "", "Canned ACL applied to uploaded objects")
	cmd.Flags().String("acl-expression", "", "Template computing the canned ACL per message")
	return cmd
}

func uploadFiles(cmd *cobra.Command, h stream.Output, paths []string) error {
	var errs []error
	for _, path := range paths {
		if err := h.Send(cmd.Context(), stream.Message{FilePath: path}); err != nil {
			slog.Error("upload", "status", "Failed", "file", path, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// uploadMessages drains r, logging failed uploads and carrying on.
func uploadMessages(cmd *cobra.Command, h stream.Output, r *stream.JSONReader) error {
	failed := 0
	for {
		if err := cmd.Context().Err(); err != nil {
			return nil
		}
		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := h.Send(cmd.Context(), msg); err != nil {
			slog.Error("upload", "status", "Failed", "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d uploads failed", failed)
	}
	return nil
}
