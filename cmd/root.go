package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/brensch/zstash/internal/config"
)

var (
	cfgFile string

	// Populated in PersistentPreRunE
	rootLogger *slog.Logger
	appConfig  config.Config
	logFile    io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zstash",
	Short: "Retrieve and verify files from zstash archives.",
	Long: `zstash restores files from tar archive segments described by an index
database. Segments missing from the local cache are fetched from the remote
storage tier (a directory, an HTTP server or an S3 bucket) on demand.

'extract' writes the matching files below the current directory, 'check' only
verifies their checksums and 'ls' shows what the index knows about.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		appConfig = cfg

		logger, closer, err := newLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		rootLogger = logger
		logFile = closer
		rootLogger.Debug("Configuration loaded.", slog.Any("config", appConfig))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logFile != nil {
			if err := logFile.Close(); err != nil {
				return fmt.Errorf("close log file: %w", err)
			}
		}
		return nil
	},
}

// newLogger builds the root logger. Output goes to stderr (or stdout) and,
// when log-output names a file, to that file as well. The progress view owns
// the terminal, so with progress enabled only the file receives records.
func newLogger(cfg config.Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	newHandler := func(w io.Writer) slog.Handler {
		if strings.ToLower(cfg.LogFormat) == "json" {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	var handlers []slog.Handler
	var closer io.Closer
	switch out := strings.ToLower(cfg.LogOutput); out {
	case "", "stderr":
		if !cfg.Progress {
			handlers = append(handlers, newHandler(stderr))
		}
	case "stdout":
		if !cfg.Progress {
			handlers = append(handlers, newHandler(os.Stdout))
		}
	default:
		f, err := os.OpenFile(cfg.LogOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.LogOutput, err)
		}
		closer = f
		handlers = append(handlers, newHandler(f))
		if !cfg.Progress {
			handlers = append(handlers, newHandler(stderr))
		}
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.DiscardHandler), closer, nil
	case 1:
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(lsCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed.", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	def := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (yaml, toml or json)")
	pf.String("cache-dir", def.CacheDir, "Local cache directory holding the index and archive segments")
	pf.String("index-file", def.IndexFile, "Name of the index database inside the cache directory")
	pf.String("hpss", "", "Remote base path (directory, http(s)://, s3:// or 'none'); overrides the path recorded in the index")
	pf.String("log-format", def.LogFormat, "Log output format (text or json)")
	pf.String("log-level", def.LogLevel, "Log level (debug, info, warn, error)")
	pf.String("log-output", def.LogOutput, "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}

// Helper to get logger
func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

// Helper to get Config
func getConfig() config.Config {
	return appConfig
}
