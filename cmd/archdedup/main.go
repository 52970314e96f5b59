package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pdxmph/archdedup/pkg/config"
)

var (
	// Version information (set by ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFormat  string
	verbose    bool
	indexPath  string
	remoteURL  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "archdedup",
		Short: "Find duplicate comic and manga archives",
		Long: `archdedup - decides whether a zip/cbz archive duplicates one already in
the library, by exact or perceptual hashes of its pages, and re-indexes or
retires archives.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env file is fine
			_ = godotenv.Load()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default ~/.config/archdedup/config.json)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: console or json")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")
	pf.StringVar(&indexPath, "index", "", "Path of the local index database")
	pf.StringVar(&remoteURL, "remote", "", "Use the index server at this URL")

	rootCmd.AddCommand(
		newCheckCmd(),
		newReindexCmd(),
		newRetireCmd(),
		newHashesCmd(),
		newServeCmd(),
		newIndexServerCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// loadRuntime loads config, applies global flags and builds the logger
func loadRuntime() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadFrom(activeConfigPath())
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if indexPath != "" {
		cfg.Index.Path = indexPath
	}
	if remoteURL != "" {
		cfg.Remote.URL = remoteURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

// signalContext is cancelled on interrupt or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("archdedup version %s\n", version)
			if version != "dev" {
				fmt.Printf("  commit: %s\n", commit)
				fmt.Printf("  built:  %s\n", date)
			}
		},
	}
}
