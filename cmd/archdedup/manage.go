package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdxmph/archdedup/pkg/duplicate"
)

func newReindexCmd() *cobra.Command {
	var jobs int

	cmd := &cobra.Command{
		Use:   "reindex [archive...]",
		Short: "Drop and rebuild the index records of archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("jobs") {
				jobs = cfg.Check.Jobs
			}
			if jobs < 1 {
				return fmt.Errorf("--jobs must be at least 1")
			}

			be, err := openBackend(cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close()
			mgr := newManager(be, logger)

			ctx, cancel := signalContext()
			defer cancel()

			errs := forEach(ctx, args, jobs, func(ctx context.Context, i int, path string) error {
				if err := requireArchive(path); err != nil {
					return err
				}
				if err := mgr.Reindex(ctx, path); err != nil {
					return err
				}
				fmt.Printf("indexed\t%s\n", path)
				return nil
			})
			return summarize(args, errs)
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "Archives hashed in parallel")
	return cmd
}

func newRetireCmd() *cobra.Command {
	var (
		moveTo string
		remove bool
	)

	cmd := &cobra.Command{
		Use:   "retire [archive...]",
		Short: "Remove archives from the index, then delete or quarantine them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}

			dir := moveTo
			if dir == "" && !remove {
				dir = cfg.Retire.QuarantineDir
			}
			if remove && moveTo != "" {
				return fmt.Errorf("--delete and --move-to are exclusive")
			}

			be, err := openBackend(cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close()
			mgr := newManager(be, logger)

			ctx, cancel := signalContext()
			defer cancel()

			errs := forEach(ctx, args, 1, func(ctx context.Context, i int, path string) error {
				dst, err := mgr.Retire(ctx, path, dir)
				if err != nil {
					return err
				}
				if dst == "" {
					fmt.Printf("deleted\t%s\n", path)
				} else {
					fmt.Printf("moved\t%s\t%s\n", path, dst)
				}
				return nil
			})
			return summarize(args, errs)
		},
	}

	cmd.Flags().StringVar(&moveTo, "move-to", "", "Quarantine directory (default retire.quarantine_dir)")
	cmd.Flags().BoolVar(&remove, "delete", false, "Delete even when a quarantine directory is configured")
	return cmd
}

func newHashesCmd() *cobra.Command {
	var (
		noPhash bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "hashes [archive]",
		Short: "Print the hashes of every entry without touching the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			if err := requireArchive(args[0]); err != nil {
				return err
			}

			svc, err := localHasher(cfg, nil, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			records, err := svc.HashArchive(ctx, args[0], !noPhash)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				for _, r := range records {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}

			for _, r := range records {
				fmt.Println(formatRecord(r))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noPhash, "no-phash", false, "Skip perceptual hashes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per entry")
	return cmd
}

// formatRecord renders one entry as tab separated columns
func formatRecord(r duplicate.HashRecord) string {
	phash := "-"
	dims := "-"
	if r.HasPHash {
		phash = fmt.Sprintf("%016x", r.PHash)
		dims = fmt.Sprintf("%dx%d", r.Width, r.Height)
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s", r.InternalPath, r.ExactHash, phash, dims)
}
