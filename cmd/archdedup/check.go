package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pdxmph/archdedup/pkg/duplicate"
	"github.com/pdxmph/archdedup/pkg/lifecycle"
	"github.com/pdxmph/archdedup/pkg/templates"
)

// forEach runs fn on every path with at most jobs running at once. Failures
// do not stop the remaining paths; errs[i] belongs to paths[i].
func forEach(ctx context.Context, paths []string, jobs int, fn func(ctx context.Context, i int, path string) error) []error {
	errs := make([]error, len(paths))

	var g errgroup.Group
	g.SetLimit(jobs)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx, i, path)
			return nil
		})
	}
	g.Wait()
	return errs
}

// summarize prints per-path failures and folds them into one error
func summarize(paths []string, errs []error) error {
	red := color.New(color.FgRed).SprintFunc()
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s\t%s\t%v\n", red("error"), paths[i], err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d archives failed", failed, len(paths))
	}
	return nil
}

func newCheckCmd() *cobra.Command {
	var (
		mode     string
		distance int
		filters  filterList
		jobs     int
		format   string
		retire   bool
		moveTo   string
		noColor  bool
	)

	cmd := &cobra.Command{
		Use:   "check [archive...]",
		Short: "Report whether archives duplicate indexed ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("mode") {
				cfg.Check.Mode = mode
			}
			if flags.Changed("distance") {
				cfg.Check.Distance = &distance
			}
			if len(filters) > 0 {
				cfg.Check.Filters = filters
			}
			if flags.Changed("jobs") {
				cfg.Check.Jobs = jobs
			}
			if flags.Changed("format") {
				cfg.Check.Format = format
			}
			if moveTo == "" {
				moveTo = cfg.Retire.QuarantineDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if noColor {
				color.NoColor = true
			}

			checkMode, err := duplicate.ParseMode(cfg.Check.Mode)
			if err != nil {
				return err
			}

			be, err := openBackend(cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close()
			mgr := newManager(be, logger)

			ctx, cancel := signalContext()
			defer cancel()

			verdicts := make([]lifecycle.Verdict, len(args))
			retired := make([]string, len(args))
			errs := forEach(ctx, args, cfg.Check.Jobs, func(ctx context.Context, i int, path string) error {
				if err := requireArchive(path); err != nil {
					return err
				}
				req := lifecycle.CheckRequest{
					Path:     path,
					Mode:     checkMode,
					Filters:  cfg.Check.Filters,
					Distance: cfg.Distance(),
				}
				if !retire {
					v, err := mgr.Check(ctx, req)
					verdicts[i] = v
					return err
				}

				v, dst, err := mgr.CheckAndRetire(ctx, req, moveTo)
				if err != nil {
					return fmt.Errorf("retire: %w", err)
				}
				verdicts[i] = v
				retired[i] = dst
				return nil
			})

			green := color.New(color.FgGreen).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()
			for i := range args {
				if errs[i] != nil {
					continue
				}
				vars := templates.BuildVariables(verdicts[i])
				line, err := templates.Render(cfg.Check.Format, cfg.Templates, vars)
				if err != nil {
					errs[i] = err
					continue
				}

				if cfg.Check.Format == templates.FormatText {
					if verdicts[i].Unique {
						line = green(line)
					} else {
						line = yellow(line)
					}
				}
				fmt.Println(line)

				if retire && !verdicts[i].Unique {
					if retired[i] == "" {
						logger.Info().Str("archive", args[i]).Msg("retired (deleted)")
					} else {
						logger.Info().Str("archive", args[i]).Str("to", retired[i]).Msg("retired (moved)")
					}
				}
			}

			return summarize(args, errs)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&mode, "mode", "m", "binary", "Similarity mode: binary or phash")
	f.IntVarP(&distance, "distance", "d", duplicate.DefaultDistance, "Maximum perceptual hash distance in phash mode")
	f.VarP(&filters, "filter", "f", "Only accept matches under this path prefix (repeatable)")
	f.IntVarP(&jobs, "jobs", "j", 1, "Archives checked in parallel")
	f.StringVar(&format, "format", "text", "Output format: text, path, json, a configured template name, or a template")
	f.BoolVar(&retire, "retire", false, "Retire archives found to be duplicates")
	f.StringVar(&moveTo, "move-to", "", "With --retire, move duplicates here instead of deleting them")
	f.BoolVar(&noColor, "no-color", false, "Disable colour output")
	return cmd
}
