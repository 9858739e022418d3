// Package sched runs the timezone-anchored market clock: board refreshes,
// random walks, session transitions and end-of-day settlement.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	cache "marketbot/internal/cache/redis"
	"marketbot/internal/config"
	"marketbot/internal/ledger"
	"marketbot/internal/notify"
)

const jobTimeout = 5 * time.Minute

type Scheduler struct {
	cfg       config.SchedulerConfig
	log       *slog.Logger
	game      *ledger.Service
	board     *cache.BoardCache
	announcer notify.Announcer
	cron      *cron.Cron
	rewardDay time.Weekday
	loc       *time.Location
}

// New wires the cron jobs. board may be nil; announcer must not be (use
// notify.Nop). Jobs are isolated: a failing or panicking job is logged and
// never takes down the scheduler or its siblings.
func New(cfg config.SchedulerConfig, logger *slog.Logger, game *ledger.Service, board *cache.BoardCache, announcer notify.Announcer) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	rewardDay, err := cfg.RewardWeekday()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:       cfg,
		log:       logger,
		game:      game,
		board:     board,
		announcer: announcer,
		cron:      cron.New(cron.WithLocation(loc)),
		rewardDay: rewardDay,
		loc:       loc,
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"board_refresh", cfg.BoardSpec, s.refreshBoard},
		{"random_walk", fmt.Sprintf("*/%d * * * *", cfg.WalkIntervalMin), s.walkWhileOpen},
		{"pre_market", cfg.PreMarketSpec, s.openPreMarket},
		{"market_open", cfg.OpenSpec, s.openMarket},
		{"after_market", cfg.AfterMarketSpec, s.openAfterMarket},
		{"market_close", cfg.CloseSpec, s.closeMarket},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.log.Info("scheduler started", "timezone", s.cfg.Timezone)
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked", "job", name, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := run(ctx); err != nil {
			s.log.Error("job failed", "job", name, "error", err)
			return
		}
		s.log.Debug("job finished", "job", name)
	}
}

func (s *Scheduler) walkWhileOpen(ctx context.Context) error {
	state, err := s.game.GetMarketState(ctx)
	if err != nil {
		return err
	}
	if !state.IsMarketOpen {
		return nil
	}
	return s.game.WalkRandomStocks(ctx, s.cfg.WalkAmount, s.game.Config().WalkVolatility)
}

func (s *Scheduler) openPreMarket(ctx context.Context) error {
	vol := s.game.Config().WalkVolatility
	if err := s.game.WalkAllStocks(ctx, 20*vol); err != nil {
		return err
	}
	if err := s.game.SynchronizeAll(ctx); err != nil {
		s.log.Error("reference sync failed, prices keep their walked values", "error", err)
	}
	state, err := s.game.OpenPreMarket(ctx)
	if err != nil {
		return err
	}
	return s.announcer.AnnounceSession(ctx, state)
}

func (s *Scheduler) openMarket(ctx context.Context) error {
	vol := s.game.Config().WalkVolatility
	if err := s.game.WalkAllStocks(ctx, 10*vol); err != nil {
		return err
	}
	state, err := s.game.OpenMarket(ctx)
	if err != nil {
		return err
	}
	return s.announcer.AnnounceSession(ctx, state)
}

func (s *Scheduler) openAfterMarket(ctx context.Context) error {
	state, err := s.game.OpenAfterMarket(ctx)
	if err != nil {
		return err
	}
	return s.announcer.AnnounceSession(ctx, state)
}

func (s *Scheduler) closeMarket(ctx context.Context) error {
	if err := s.game.WalkAllStocks(ctx, s.game.Config().WalkVolatility); err != nil {
		return err
	}
	state, err := s.game.CloseMarket(ctx)
	if err != nil {
		return err
	}
	if err := s.announcer.AnnounceSession(ctx, state); err != nil {
		s.log.Error("close announcement failed", "error", err)
	}
	snap, err := s.buildBoard(ctx, state)
	if err != nil {
		s.log.Error("closing board build failed", "error", err)
	} else if err := s.announcer.PublishBoard(ctx, snap); err != nil {
		s.log.Error("closing board publish failed", "error", err)
	}

	grantWeekly := time.Now().In(s.loc).Weekday() == s.rewardDay
	report, err := s.game.Settle(ctx, grantWeekly)
	if err != nil {
		return fmt.Errorf("settlement: %w", err)
	}
	s.log.Info("settled trading day",
		"interest_charged", report.InterestCharged,
		"tier_changes", len(report.TierChanges),
		"weekly_rewards", grantWeekly)
	return nil
}

func (s *Scheduler) refreshBoard(ctx context.Context) error {
	if s.board == nil {
		return nil
	}
	state, err := s.game.GetMarketState(ctx)
	if err != nil {
		return err
	}
	snap, err := s.buildBoard(ctx, state)
	if err != nil {
		return err
	}
	return s.board.Set(ctx, snap)
}

func (s *Scheduler) buildBoard(ctx context.Context, state ledger.MarketState) (cache.BoardSnapshot, error) {
	stocks, err := s.game.GetAllStocks(ctx)
	if err != nil {
		return cache.BoardSnapshot{}, err
	}
	yesterday := time.Now().In(s.loc).AddDate(0, 0, -1)

	snap := cache.BoardSnapshot{
		Session:     string(state.Session),
		Open:        state.IsMarketOpen,
		GeneratedAt: time.Now(),
	}
	for _, st := range stocks {
		row := cache.BoardRow{Ticker: st.Ticker, Name: st.Name, PriceCents: st.PriceCents}
		history, err := s.game.PriceHistory(ctx, st.Ticker, 2)
		if err != nil {
			return cache.BoardSnapshot{}, err
		}
		if prev, ok := closeOn(history, yesterday); ok {
			row.ChangeCents = st.PriceCents - prev
			if prev != 0 {
				row.ChangePct = float64(row.ChangeCents) / float64(prev) * 100
				row.PctDefined = true
			}
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap, nil
}

// closeOn picks the closing price for a calendar day out of a history slice.
func closeOn(history []ledger.DailyPrice, day time.Time) (int64, bool) {
	for _, p := range history {
		if p.Year == day.Year() && p.Month == int(day.Month()) && p.Day == day.Day() {
			return p.CloseCents, true
		}
	}
	return 0, false
}
