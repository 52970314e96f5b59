package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdxmph/archdedup/pkg/config"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return configShow()
		},
	}

	configSetCmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a configuration value",
		Long: "Set a configuration value. Keys:\n  " + strings.Join(config.Keys(), "\n  ") +
			"\n  templates.<name>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return configSet(args[0], args[1])
		},
	}

	configCmd.AddCommand(configShowCmd, configSetCmd)
	return configCmd
}

func configShow() error {
	cfg, _, err := loadRuntime()
	if err != nil {
		return err
	}

	fmt.Println("Configuration:")
	fmt.Printf("  File: %s\n", activeConfigPath())
	fmt.Printf("  Index: %s\n", cfg.Index.Path)
	fmt.Printf("  Hash algorithm: %s\n", cfg.Hash.Algorithm)

	fmt.Printf("\n  Check:\n")
	fmt.Printf("    Mode: %s\n", cfg.Check.Mode)
	fmt.Printf("    Distance: %d\n", cfg.Distance())
	fmt.Printf("    Filters: %s\n", orNotSet(strings.Join(cfg.Check.Filters, ", ")))
	fmt.Printf("    Jobs: %d\n", cfg.Check.Jobs)
	fmt.Printf("    Format: %s\n", cfg.Check.Format)

	fmt.Printf("\n  Retire:\n")
	fmt.Printf("    Quarantine dir: %s\n", orNotSet(cfg.Retire.QuarantineDir))

	fmt.Printf("\n  Remote:\n")
	fmt.Printf("    URL: %s\n", orNotSet(cfg.Remote.URL))
	fmt.Printf("    Consumer Key: %s\n", maskString(cfg.Remote.ConsumerKey))
	fmt.Printf("    Consumer Secret: %s\n", maskString(cfg.Remote.ConsumerSecret))
	fmt.Printf("    Access Token: %s\n", maskString(cfg.Remote.AccessToken))
	fmt.Printf("    Access Secret: %s\n", maskString(cfg.Remote.AccessSecret))

	fmt.Printf("\n  Log: %s (%s)\n", cfg.Log.Level, cfg.Log.Format)

	if len(cfg.Templates) > 0 {
		fmt.Printf("\n  Templates:\n")
		names := make([]string, 0, len(cfg.Templates))
		for name := range cfg.Templates {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			// Truncate long templates for display
			display := cfg.Templates[name]
			if len(display) > 60 {
				display = display[:57] + "..."
			}
			fmt.Printf("    %s: %s\n", name, display)
		}
	}

	return nil
}

func configSet(key, value string) error {
	path := activeConfigPath()

	// Edit the file as written, so env overrides and defaults stay out of it
	cfg, err := config.ReadFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}

	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Set %s\n", key)
	return nil
}

func activeConfigPath() string {
	if configFile != "" {
		return configFile
	}
	return config.Path()
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
