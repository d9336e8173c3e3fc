package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"element-hunter/internal/bootstrap"
	"element-hunter/internal/console"
	"element-hunter/internal/usecase"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	driver   string
	logLevel string
	headful  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "element-hunter",
		Short: "Detect testable elements on web pages and generate robust selectors",
		Long: `element-hunter loads pages in a real browser, finds the elements a test
would interact with and proposes selectors for them, scored for uniqueness,
stability, specificity and accessibility.

Results are written to stdout as JSON; logs go to stderr.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applyFlags(cmd)
		},
	}

	root.PersistentFlags().StringVar(&driver, "driver", "", "Browser driver: playwright or rod (default: BROWSER_DRIVER)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&headful, "headful", false, "Show the browser window")

	root.AddCommand(
		&cobra.Command{
			Use:   "analyze <url>",
			Short: "Detect the elements of one page",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(cmd, func(ctx context.Context, svc *usecase.Service) error {
					res, err := svc.Elements.AnalyzePage(ctx, args[0])
					if err != nil {
						return err
					}

					return emit(cmd.OutOrStdout(), res)
				})
			},
		},
		&cobra.Command{
			Use:   "analyze-many <url>...",
			Short: "Detect the elements of several pages in bounded batches",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(cmd, func(ctx context.Context, svc *usecase.Service) error {
					res, err := svc.Elements.AnalyzePages(ctx, args)
					if err != nil {
						return err
					}

					return emit(cmd.OutOrStdout(), res)
				})
			},
		},
		&cobra.Command{
			Use:   "validate <url> <selector>",
			Short: "Count and score a selector on one page",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(cmd, func(ctx context.Context, svc *usecase.Service) error {
					res, err := svc.Elements.ValidateSelector(ctx, args[0], args[1])
					if err != nil {
						return err
					}

					return emit(cmd.OutOrStdout(), res)
				})
			},
		},
		&cobra.Command{
			Use:   "validate-across <selector> <url>...",
			Short: "Check that a selector is unique on every page",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(cmd, func(ctx context.Context, svc *usecase.Service) error {
					res, err := svc.Elements.ValidateSelectorAcrossPages(ctx, args[1:], args[0])
					if err != nil {
						return err
					}

					return emit(cmd.OutOrStdout(), res)
				})
			},
		},
		&cobra.Command{
			Use:   "hunt <url> <steps.json>",
			Short: "Replay UI steps, then detect the elements of the resulting state",
			Long: `hunt opens <url>, replays the steps of a JSON array such as

  [{"action":"click","selector":"#menu"},{"action":"wait","waitMs":500}]

and detects elements on the page the steps leave behind. Supported actions:
navigate, click, fill, press, select, hover, wait, wait_for, scroll.
Scroll takes "amount" in pixels (negative scrolls up, 0 to the bottom).`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps, err := console.LoadSteps(args[1])
				if err != nil {
					return err
				}

				return withService(cmd, func(ctx context.Context, svc *usecase.Service) error {
					res, err := svc.Elements.HuntElementsAfterSteps(ctx, args[0], steps)
					if res != nil {
						if perr := emit(cmd.OutOrStdout(), res); perr != nil {
							return perr
						}
					}

					return err
				})
			},
		},
		&cobra.Command{
			Use:   "console",
			Short: "Start the interactive console",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				app := bootstrap.NewConsoleApp()
				if err := app.Err(); err != nil {
					return err
				}

				app.Run()

				return nil
			},
		},
	)

	return root
}

// applyFlags maps the persistent flags onto the environment read by config.
func applyFlags(cmd *cobra.Command) error {
	set := map[string]string{}

	if driver != "" {
		set["BROWSER_DRIVER"] = driver
	}

	if logLevel != "" {
		set["LOG_LEVEL"] = logLevel
	}

	if cmd.Flags().Changed("headful") {
		set["BROWSER_HEADLESS"] = fmt.Sprint(!headful)
	}

	for k, v := range set {
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}

	return nil
}

// withService starts the application, runs fn against the usecase service and
// stops the application on every path.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *usecase.Service) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var svc *usecase.Service

	app := bootstrap.NewApp(fx.Populate(&svc))
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()

	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()

		_ = app.Stop(stopCtx)
	}()

	return fn(ctx, svc)
}

func emit(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
