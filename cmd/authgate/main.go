package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/authgate/internal/app"
	"github.com/example/authgate/internal/config"
	"github.com/example/authgate/internal/observability"
	"github.com/example/authgate/internal/tools/common"
	"github.com/example/authgate/internal/tools/loadgen"
	"github.com/example/authgate/internal/tools/ui"
)

func main() {
	root := &cobra.Command{
		Use:           "authgate",
		Short:         "Token lifecycle and session security service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newLoadgenCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "authgate: %v\n", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(envFile); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}

			logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if loggerProvider != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = loggerProvider.Shutdown(shutdownCtx)
				}
			}()

			a, cleanup, err := app.InitializeApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to env file, missing file is ignored")
	return cmd
}

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	var ci bool
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate synthetic traffic against a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			run := func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := []string{
					fmt.Sprintf("total=%d failures=%d elapsed=%s", res.TotalRequests, res.Failures, res.Elapsed.Round(time.Millisecond)),
				}
				for class, count := range res.StatusCounts {
					details = append(details, fmt.Sprintf("%s=%d", class, count))
				}
				if res.Failures > 0 {
					return details, fmt.Errorf("%d requests failed", res.Failures)
				}
				return details, nil
			}

			var details []string
			var err error
			if ci {
				ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Duration+time.Minute)
				defer cancel()
				details, err = run(ctx)
				common.PrintCIResult(err == nil, "loadgen", details, err)
			} else {
				details, err = ui.Run("loadgen "+cfg.Profile, run)
				for _, d := range details {
					fmt.Println(d)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: mixed, auth, health")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "target requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "number of workers")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "random seed")
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}
