// Command dispatch runs the notification engine from the shell. Useful for
// external cron schedulers that prefer a process over an HTTP call, and for
// poking a single rule while debugging.
//
// Usage:
//
//	tribe-dispatch run
//	tribe-dispatch run --rule reminder_2hr
//	tribe-dispatch rules
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tribeapp/tribe-api/internal/cache"
	"github.com/tribeapp/tribe-api/internal/config"
	"github.com/tribeapp/tribe-api/internal/db"
	"github.com/tribeapp/tribe-api/internal/delivery"
	"github.com/tribeapp/tribe-api/internal/dispatch"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "tribe-dispatch",
		Short: "Tribe notification dispatch CLI",
	}

	root.AddCommand(runCmd())
	root.AddCommand(rulesCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var rule string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one dispatch invocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *dispatch.Engine) error {
				start := time.Now()
				summary, err := engine.Run(ctx, rule)
				if err != nil {
					return err
				}
				logger.Info("Dispatch finished",
					"duration", time.Since(start).Round(time.Millisecond),
					"sent", summary.TotalSent(),
					"failed", summary.TotalFailed())
				for name, st := range summary.Rules {
					logger.Info("rule result", "rule", name,
						"attempted", st.Attempted, "sent", st.Sent,
						"failed", st.Failed, "skipped", st.Skipped)
				}
				for _, e := range summary.Errors {
					logger.Error("dispatch error", "error", e)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rule, "rule", "", "Restrict the run to a single rule; empty = all")
	return cmd
}

// --------------------------------------------------------------------------
// rules command
// --------------------------------------------------------------------------

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the dispatch rule table",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, r := range dispatch.Rules {
				switch r.Kind {
				case dispatch.KindSessionStart:
					fmt.Printf("%-20s session start in [%s, %s)\n", r.Name, r.Lo, r.Hi)
				case dispatch.KindSessionEnd:
					fmt.Printf("%-20s session ended [%s, %s) ago\n", r.Name, r.Lo, r.Hi)
				case dispatch.KindDailyLocal:
					fmt.Printf("%-20s daily at local hour %d\n", r.Name, r.LocalHour)
				case dispatch.KindWeeklyLocal:
					fmt.Printf("%-20s weekly on %s at local hour %d\n", r.Name, r.LocalWeekday, r.LocalHour)
				case dispatch.KindInactivity:
					fmt.Printf("%-20s inactive for [%s, %s), resent every %s\n", r.Name, r.Lo, r.Hi, r.ResendPeriod)
				}
			}
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// withEngine handles config loading, DB/Redis connections, and context
// cancellation, then hands a fully wired engine to fn.
func withEngine(fn func(ctx context.Context, engine *dispatch.Engine) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	appCache, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer appCache.Close()

	pushSender := delivery.NewPushSender(cfg.FCMServerKey, logger)
	emailSender := delivery.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, logger)
	notifier := delivery.NewNotifier(pushSender, emailSender, pool.Pool, logger)

	local := dispatch.FixedOffsetLocal(cfg.LocalTZOffsetMinutes)
	store := dispatch.NewPGStore(pool.Pool, local, appCache, logger)
	engine := dispatch.NewEngine(store, notifier, dispatch.Evaluator{Local: local}, logger,
		dispatch.WithLock(appCache),
		dispatch.WithBaseURL(cfg.AppBaseURL),
	)

	return fn(ctx, engine)
}
