// Command api runs the escalation service and its maintenance commands.
//
// Usage:
//
//	api [serve]              Start the HTTP API, scheduler and check-result consumer
//	api sweep                Run one escalation sweep and exit
//	api cooldowns list       Show live cooldown entries
//	api cooldowns clear      Remove every cooldown entry
//	api link <token> <level> Print the signed public link for a level
//	api version              Print version information
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/escalation-service/internal/auth"
	"github.com/spec-kit/escalation-service/internal/config"
	"github.com/spec-kit/escalation-service/internal/ingest"
	"github.com/spec-kit/escalation-service/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "api",
	Short: "Escalation service for failing site checks",
	Long: `Opens an issue when a site check turns critical, notifies the level-1
contact and escalates through up to three contacts until someone resolves it.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, scheduler and check-result consumer",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one escalation sweep and exit",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

var cooldownsCmd = &cobra.Command{
	Use:   "cooldowns",
	Short: "Inspect or clear issue-creation cooldowns",
}

var cooldownsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show live cooldown entries",
	Args:  cobra.NoArgs,
	RunE:  runCooldownsList,
}

var cooldownsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cooldown entry",
	Args:  cobra.NoArgs,
	RunE:  runCooldownsClear,
}

var linkCmd = &cobra.Command{
	Use:   "link <token> <level>",
	Short: "Print the signed public link for an issue level",
	Args:  cobra.ExactArgs(2),
	RunE:  runLink,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		version := os.Getenv("APP_VERSION")
		if version == "" {
			version = "dev"
		}
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	cooldownsCmd.AddCommand(cooldownsListCmd, cooldownsClearCmd)
	rootCmd.AddCommand(serveCmd, sweepCmd, cooldownsCmd, linkCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.auth.EnsureBootstrapOperator(ctx, cfg.Auth); err != nil {
		return fmt.Errorf("bootstrap operator: %w", err)
	}

	server := app.newHTTPServer()
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		return server.Listen(cfg.App.Addr())
	})

	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down")
		return server.ShutdownWithTimeout(10 * time.Second)
	})

	eg.Go(func() error {
		return app.scheduler.Run(egCtx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := ingest.NewCheckResultConsumer(cfg.Kafka, app.processor, logger.Named("kafka"))
		eg.Go(func() error {
			defer consumer.Close() //nolint:errcheck
			logger.Info("check result consumer started",
				zap.Strings("brokers", cfg.Kafka.Brokers),
				zap.String("topic", cfg.Kafka.Topic))
			return consumer.Run(egCtx)
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service stopped with error", zap.Error(err))
		return err
	}
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.scheduler.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	if report.NotLeader {
		fmt.Fprintln(cmd.OutOrStdout(), "another instance holds the scheduler lock; nothing done")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "escalated=%d exhausted=%d skipped=%d failed=%d redelivered=%d redelivery_failed=%d\n",
		report.Escalated, report.Exhausted, report.Skipped, report.Failed, report.Redelivered, report.RedeliveryFailed)
	return nil
}

func runCooldownsList(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	entries, err := app.access.ListCooldowns(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no active cooldowns")
		return nil
	}
	now := time.Now()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tCHECK\tEXPIRES\tREMAINING")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.SiteID, e.CheckID,
			e.ExpiresAt.UTC().Format(time.RFC3339), e.Remaining(now).Round(time.Second))
	}
	return w.Flush()
}

func runCooldownsClear(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	removed, err := app.access.ClearCooldowns(cmd.Context(), nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d cooldown entries\n", removed)
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := strconv.Atoi(args[1])
	if err != nil || level < 1 || level > 3 {
		return fmt.Errorf("level must be 1, 2 or 3, got %q", args[1])
	}
	signer, err := auth.NewLinkSigner(cfg.Escalation.LinkSecret, cfg.Escalation.LinkPreviousSecrets, cfg.Escalation.PublicBaseURL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), signer.Link(args[0], level))
	return nil
}
