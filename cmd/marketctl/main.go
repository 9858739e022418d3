package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"marketbot/internal/config"
	"marketbot/internal/db"
	"marketbot/internal/ledger"
	"marketbot/internal/quotes"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "marketctl",
		Short:        "Operator tooling for the marketbot game engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "marketbot.toml", "path to TOML config")

	root.AddCommand(
		newSeedCmd(&configPath),
		newWalkCmd(&configPath),
		newSyncCmd(&configPath),
		newInterestCmd(&configPath),
		newSettleCmd(&configPath),
		newBoardCmd(&configPath),
		newSessionCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openGame loads config and connects the engine; callers must invoke cleanup.
func openGame(ctx context.Context, configPath string) (*ledger.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	pool, err := db.Connect(ctx, cfg.Database.DSN, cfg.Database.PoolMaxConns, cfg.Database.PoolMinConns)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.RunMigrations {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	quoteClient := quotes.NewClient(cfg.Quotes.BaseURL, cfg.Quotes.APIKey,
		quotes.WithTimeout(time.Duration(cfg.Quotes.TimeoutSec)*time.Second),
		quotes.WithLogger(logger))
	game := ledger.NewService(pool, logger, cfg.GameRules(), quoteClient, cfg.Location())
	return game, pool.Close, nil
}

func newSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install the default item catalog and starter instruments",
		RunE: func(cmd *cobra.Command, args []string) error {
			game, cleanup, err := openGame(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := game.SeedDefaults(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(green("seeded default items and stocks"))
			return nil
		},
	}
}

func newWalkCmd(configPath *string) *cobra.Command {
	var volatility float64
	cmd := &cobra.Command{
		Use:   "walk [ticker]",
		Short: "Random-walk one instrument, or all with no argument",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			game, cleanup, err := openGame(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			vol := volatility
			if vol <= 0 {
				vol = game.Config().WalkVolatility
			}
			if len(args) == 1 {
				stock, err := game.RandomWalk(cmd.Context(), args[0], vol)
				if err != nil {
					return err
				}
				fmt.Printf("%s now at %s\n", stock.Ticker, green(ledger.FormatUSD(stock.PriceCents)))
				return nil
			}
			if err := game.WalkAllStocks(cmd.Context(), vol); err != nil {
				return err
			}
			fmt.Println(green("walked all instruments"))
			return nil
		},
	}
	cmd.Flags().Float64Var(&volatility, "volatility", 0, "override walk volatility")
	return cmd
}

func newSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [ticker]",
		Short: "Re-anchor prices to their real-world references",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			game, cleanup, err := openGame(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if len(args) == 1 {
				if err := game.Synchronize(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("%s synchronized\n", green(args[0]))
				return nil
			}
			if err := game.SynchronizeAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(green("all instruments synchronized"))
			return nil
		},
	}
}

func newInterestCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "interest",
		Short: "Accrue daily interest on all outstanding loans",
		RunE: func(cmd *cobra.Command, args []string) error {
			game, cleanup, err := openGame(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			charged, err := game.ApplyInterest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("charged interest on %s accounts\n", yellow(charged))
			return nil
		},
	}
}

func newSettleCmd(configPath *string) *cobra.Command {
	var weekly bool
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Run end-of-day settlement (interest, card tiers, rewards)",
		RunE: func(cmd *cobra.Command, args []string) error {
			game, cleanup, err := openGame(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := game.Settle(cmd.Context(), weekly)
			if err != nil {
				return err
			}
			fmt.Printf("interest charged: %d\n", report.InterestCharged)
			for _, change := range report.TierChanges {
				fmt.Printf("  %s: %s -> %s\n", change.UID, red(change.FromItem), green(change.ToItem))
			}
			if weekly {
				fmt.Printf("weekly checks granted: %d\n", report.ChecksGranted)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&weekly, "weekly", false, "also grant weekly tier rewards")
	return cmd
}

func newBoardCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Print the current price board",
		RunE: func(cmd *cobra.Command, args []string) error {
			game, cleanup, err := openGame(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := game.GetMarketState(cmd.Context())
			if err != nil {
				return err
			}
			stocks, err := game.GetAllStocks(cmd.Context())
			if err != nil {
				return err
			}

			if state.IsMarketOpen {
				fmt.Printf("market %s (session %s)\n", green("open"), state.Session)
			} else {
				fmt.Printf("market %s\n", red("closed"))
			}
			for _, stock := range stocks {
				fmt.Printf("  %-6s %-24s %12s\n", stock.Ticker, stock.Name, ledger.FormatUSD(stock.PriceCents))
			}
			return nil
		},
	}
}

func newSessionCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "session {closed|pre|open|after}",
		Short: "Force the market into a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := ledger.Session(args[0])
			switch session {
			case ledger.SessionClosed, ledger.SessionPre, ledger.SessionOpen, ledger.SessionAfter:
			default:
				return fmt.Errorf("unknown session %q", args[0])
			}

			game, cleanup, err := openGame(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := game.SetSession(cmd.Context(), session)
			if err != nil {
				return err
			}
			fmt.Printf("session is now %s\n", yellow(string(state.Session)))
			return nil
		},
	}
}
