// Package notify publishes session announcements and the price board to a
// Discord webhook. The chat gateway itself lives outside this service.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	cache "marketbot/internal/cache/redis"
	"marketbot/internal/ledger"
)

// Announcer receives market events. Implementations must be safe for
// concurrent use by the scheduler's jobs.
type Announcer interface {
	AnnounceSession(ctx context.Context, state ledger.MarketState) error
	PublishBoard(ctx context.Context, snap cache.BoardSnapshot) error
}

// Discord posts through a webhook, so no gateway connection or privileged
// intents are needed.
type Discord struct {
	session      *discordgo.Session
	webhookID    string
	webhookToken string
	log          *slog.Logger
}

// NewDiscord builds an announcer from a full webhook URL
// (https://discord.com/api/webhooks/{id}/{token}).
func NewDiscord(webhookURL string, logger *slog.Logger) (*Discord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	// Webhook execution needs no bot token.
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: session, webhookID: id, webhookToken: token, log: logger}, nil
}

func parseWebhookURL(raw string) (id, token string, err error) {
	const marker = "/api/webhooks/"
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return "", "", fmt.Errorf("not a discord webhook url: %q", raw)
	}
	parts := strings.Split(strings.Trim(raw[idx+len(marker):], "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("not a discord webhook url: %q", raw)
	}
	return parts[0], parts[1], nil
}

func (d *Discord) AnnounceSession(ctx context.Context, state ledger.MarketState) error {
	_, err := d.session.WebhookExecute(d.webhookID, d.webhookToken, false, &discordgo.WebhookParams{
		Content: sessionMessage(state),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("announce session: %w", err)
	}
	return nil
}

func (d *Discord) PublishBoard(ctx context.Context, snap cache.BoardSnapshot) error {
	embed := &discordgo.MessageEmbed{
		Title:       "Market Board",
		Description: BoardMessage(snap),
		Timestamp:   snap.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	_, err := d.session.WebhookExecute(d.webhookID, d.webhookToken, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("publish board: %w", err)
	}
	return nil
}

func sessionMessage(state ledger.MarketState) string {
	switch state.Session {
	case ledger.SessionPre:
		return "🌅 Pre-market is open. Prices have been re-anchored to their references."
	case ledger.SessionOpen:
		return "🔔 The market is open for trading."
	case ledger.SessionAfter:
		return "🌇 After-hours trading has begun."
	default:
		return "🌃 The market is closed. See you tomorrow."
	}
}

// BoardMessage renders a snapshot as a monospace diff block, green for
// gainers and red for losers.
func BoardMessage(snap cache.BoardSnapshot) string {
	var b strings.Builder
	b.WriteString("```diff\n")
	if len(snap.Rows) == 0 {
		b.WriteString("no instruments listed\n")
	}
	for _, row := range snap.Rows {
		marker := "  "
		if row.ChangeCents > 0 {
			marker = "+ "
		} else if row.ChangeCents < 0 {
			marker = "- "
		}
		line := fmt.Sprintf("%s%-6s %12s", marker, row.Ticker, ledger.FormatUSD(row.PriceCents))
		if row.PctDefined {
			line += fmt.Sprintf(" (%+.2f%%)", row.ChangePct)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("```\n")
	if snap.Open {
		b.WriteString(fmt.Sprintf("Session: **%s**", snap.Session))
	} else {
		b.WriteString("Market **closed**")
	}
	return b.String()
}

// Nop discards all announcements; used when no webhook is configured.
type Nop struct{}

func (Nop) AnnounceSession(context.Context, ledger.MarketState) error { return nil }
func (Nop) PublishBoard(context.Context, cache.BoardSnapshot) error   { return nil }
