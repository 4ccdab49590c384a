package tokenizer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yourusername/repolens/internal/db"
)

// BudgetZone represents the current daily token usage level.
type BudgetZone int

const (
	ZoneGreen  BudgetZone = iota // 0–60%
	ZoneYellow                   // 60–80%
	ZoneOrange                   // 80–90%
	ZoneRed                      // 90–100%
)

// String returns a human-readable label for the zone.
func (z BudgetZone) String() string {
	switch z {
	case ZoneYellow:
		return "YELLOW"
	case ZoneOrange:
		return "ORANGE"
	case ZoneRed:
		return "RED"
	default:
		return "GREEN"
	}
}

// NotifySender can send a notification message.
type NotifySender interface {
	SendTelegram(msg string)
}

// Governor records per-call token usage and warns when the daily budget
// runs hot. It is advisory only — the limiter.Window stays the only gate.
type Governor struct {
	database   *db.DB
	notify     NotifySender
	dailyLimit int

	mu       sync.Mutex
	lastZone BudgetZone
}

// NewGovernor creates a Governor. notify may be nil (alerts disabled).
func NewGovernor(database *db.DB, notify NotifySender, dailyLimit int) *Governor {
	return &Governor{database: database, notify: notify, dailyLimit: dailyLimit}
}

// RecordUsage saves one call's estimated token usage and checks the budget.
func (g *Governor) RecordUsage(ctx context.Context, repo, pkg string, estimatedTokens int, waited time.Duration) error {
	today := time.Now().Format("2006-01-02")
	_, err := g.database.ExecContext(ctx, `
		INSERT INTO token_usage (repo, package, estimated_tokens, waited_ms, date)
		VALUES (?,?,?,?,?)`,
		repo, pkg, estimatedTokens, waited.Milliseconds(), today,
	)
	if err != nil {
		return fmt.Errorf("governor.RecordUsage: %w", err)
	}
	g.checkBudget(ctx)
	return nil
}

// UsedToday returns the total estimated tokens recorded for today.
func (g *Governor) UsedToday(ctx context.Context) (int, error) {
	today := time.Now().Format("2006-01-02")
	var used int
	err := g.database.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(estimated_tokens), 0) FROM token_usage WHERE date=?`, today,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("governor.UsedToday: %w", err)
	}
	return used, nil
}

// Zone returns the current daily budget zone.
func (g *Governor) Zone(ctx context.Context) (BudgetZone, error) {
	if g.dailyLimit <= 0 {
		return ZoneGreen, nil
	}
	used, err := g.UsedToday(ctx)
	if err != nil {
		return ZoneGreen, err
	}
	pct := (used * 100) / g.dailyLimit
	switch {
	case pct >= 90:
		return ZoneRed, nil
	case pct >= 80:
		return ZoneOrange, nil
	case pct >= 60:
		return ZoneYellow, nil
	default:
		return ZoneGreen, nil
	}
}

// checkBudget warns on zone escalation. De-escalation never re-alerts.
func (g *Governor) checkBudget(ctx context.Context) {
	zone, err := g.Zone(ctx)
	if err != nil {
		log.Printf("governor: %v", err)
		return
	}

	g.mu.Lock()
	prev := g.lastZone
	g.lastZone = zone
	g.mu.Unlock()
	if zone <= prev {
		return
	}

	msg := fmt.Sprintf("Daily token budget reached %s zone (limit %d)", zone, g.dailyLimit)
	log.Printf("governor: %s", msg)
	if g.notify != nil {
		g.notify.SendTelegram(msg)
	}
}
