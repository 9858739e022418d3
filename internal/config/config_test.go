package config

import (
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Database.DSN = "" },
		func(c *Config) { c.Game.StartingBalance = 0 },
		func(c *Config) { c.Game.WalkVolatility = 1.5 },
		func(c *Config) { c.Game.MaxBountyLevelID = c.Game.MinBountyLevelID - 1 },
		func(c *Config) { c.Scheduler.WalkIntervalMin = 0 },
		func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
		func(c *Config) { c.Scheduler.WeeklyRewardDay = "Caturday" },
	}
	for i, mutate := range cases {
		cfg := Defaults()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation failure", i)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETBOT_DATABASE_DSN", "postgres://other/db")
	t.Setenv("MARKETBOT_GAME_STARTING_BALANCE", "5000000")
	t.Setenv("MARKETBOT_SCHEDULER_WALK_AMOUNT", "7")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Database.DSN != "postgres://other/db" {
		t.Fatalf("dsn override not applied: %q", cfg.Database.DSN)
	}
	if cfg.Game.StartingBalance != 5_000_000 {
		t.Fatalf("starting balance override not applied: %d", cfg.Game.StartingBalance)
	}
	if cfg.Scheduler.WalkAmount != 7 {
		t.Fatalf("walk amount override not applied: %d", cfg.Scheduler.WalkAmount)
	}
}

func TestGameRulesRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Game.MinimumPrice = 250
	rules := cfg.GameRules()
	if rules.MinimumPrice != 250 {
		t.Fatalf("minimum price not carried: %d", rules.MinimumPrice)
	}
	if rules.StartingBalance != cfg.Game.StartingBalance {
		t.Fatalf("starting balance not carried")
	}
}

func TestRewardWeekday(t *testing.T) {
	sc := SchedulerConfig{WeeklyRewardDay: "Friday"}
	d, err := sc.RewardWeekday()
	if err != nil || d != time.Friday {
		t.Fatalf("got %v err=%v", d, err)
	}
}
