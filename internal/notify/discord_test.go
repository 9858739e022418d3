package notify

import (
	"strings"
	"testing"
	"time"

	cache "marketbot/internal/cache/redis"
	"marketbot/internal/ledger"
)

func TestParseWebhookURL(t *testing.T) {
	id, token, err := parseWebhookURL("https://discord.com/api/webhooks/1234567890/abcDEF-ghi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "1234567890" || token != "abcDEF-ghi" {
		t.Fatalf("got id=%q token=%q", id, token)
	}

	bad := []string{
		"",
		"https://discord.com/api/webhooks/",
		"https://discord.com/api/webhooks/123",
		"https://example.com/hook/123/abc",
	}
	for _, raw := range bad {
		if _, _, err := parseWebhookURL(raw); err == nil {
			t.Fatalf("expected %q to fail", raw)
		}
	}
}

func TestBoardMessage(t *testing.T) {
	snap := cache.BoardSnapshot{
		Session: string(ledger.SessionOpen),
		Open:    true,
		Rows: []cache.BoardRow{
			{Ticker: "GDAW", PriceCents: 153_000, ChangeCents: 3_000, ChangePct: 2.0, PctDefined: true},
			{Ticker: "FRUT", PriceCents: 198_000, ChangeCents: -2_000, ChangePct: -1.0, PctDefined: true},
			{Ticker: "PLNK", PriceCents: 45_000},
		},
		GeneratedAt: time.Now(),
	}

	msg := BoardMessage(snap)
	if !strings.Contains(msg, "+ GDAW") {
		t.Fatalf("gainer not marked green:\n%s", msg)
	}
	if !strings.Contains(msg, "- FRUT") {
		t.Fatalf("loser not marked red:\n%s", msg)
	}
	if !strings.Contains(msg, "(+2.00%)") || !strings.Contains(msg, "(-1.00%)") {
		t.Fatalf("percent changes missing:\n%s", msg)
	}
	if strings.Contains(msg, "PLNK (") {
		t.Fatalf("undefined pct should render no percentage:\n%s", msg)
	}
	if !strings.Contains(msg, "Session: **open**") {
		t.Fatalf("session footer missing:\n%s", msg)
	}
}

func TestBoardMessageEmpty(t *testing.T) {
	msg := BoardMessage(cache.BoardSnapshot{Session: string(ledger.SessionClosed)})
	if !strings.Contains(msg, "no instruments listed") {
		t.Fatalf("empty board placeholder missing:\n%s", msg)
	}
	if !strings.Contains(msg, "Market **closed**") {
		t.Fatalf("closed footer missing:\n%s", msg)
	}
}
