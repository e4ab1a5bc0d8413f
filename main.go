package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sandeepkandula/s3stream/config"
)

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfg config.Config

	rootCmd := &cobra.Command{
		Use:   "s3stream",
		Short: "Stream files from and to Amazon S3",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(v, cmd)
			if err != nil {
				return err
			}
			cfg = *loaded
			slog.SetDefault(newLogger(cfg.LogLevel))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("region", "", "AWS region")
	rootCmd.PersistentFlags().String("endpoint", "", "Custom S3 endpoint, enables path-style addressing")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(newSourceCmd(&cfg))
	rootCmd.AddCommand(newSinkCmd(&cfg))
	return rootCmd
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"region":       "aws.region",
	"endpoint":     "aws.endpoint",
	"metrics-addr": "metrics_addr",

	"remote-dir":            "source.remote_dir",
	"local-dir":             "source.local_dir",
	"auto-create-local-dir": "source.auto_create_local_dir",
	"tmp-file-suffix":       "source.tmp_file_suffix",
	"remote-file-separator": "source.remote_file_separator",
	"filename-pattern":      "source.filename_pattern",
	"filename-regex":        "source.filename_regex",
	"delete-remote-files":   "source.delete_remote_files",
	"preserve-timestamp":    "source.preserve_timestamp",
	"workers":               "source.workers",
	"initial-delay":         "trigger.initial_delay",
	"fixed-delay":           "trigger.fixed_delay",
	"max-messages":          "trigger.max_messages",
	"mode":                  "consumer.mode",
	"with-markers":          "consumer.with_markers",

	"bucket":            "sink.bucket",
	"bucket-expression": "sink.bucket_expression",
	"key-expression":    "sink.key_expression",
	"acl":               "sink.acl",
	"acl-expression":    "sink.acl_expression",
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) (*config.Config, error) {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	path, _ := cmd.Flags().GetString("config")
	return config.Load(v, path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}

// serveMetrics exposes Prometheus metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

func usageError(cmd *cobra.Command, err error) error {
	return fmt.Errorf("%s: %w", cmd.Name(), err)
}
