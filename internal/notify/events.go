package notify

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// Event types emitted by the scheduler. The operator lists the ones they
// want forwarded in the notify config; an empty list forwards everything.
const (
	EventBotStopped    = "bot_stopped"
	EventDealCompleted = "deal_completed"
	EventStopLoss      = "stop_loss"
	EventCycleError    = "cycle_error"
)

// BotStopped reports that a bot left the active set.
func (n *Notifier) BotStopped(ctx context.Context, bot *domain.Bot, reason string) error {
	title := fmt.Sprintf("Bot stopped: %s", bot.Name)
	msg := fmt.Sprintf("%s %s on %s stopped: %s", bot.Mode, bot.Symbol, bot.Venue, reason)
	return n.Notify(ctx, EventBotStopped, title, msg)
}

// DealCompleted reports finished deals with the cycle's realized profit.
func (n *Notifier) DealCompleted(ctx context.Context, bot *domain.Bot, deals int, pnl float64) error {
	title := fmt.Sprintf("Deal completed: %s", bot.Name)
	msg := fmt.Sprintf("%s %s on %s completed %d deal(s), realized pnl %.8f",
		bot.Mode, bot.Symbol, bot.Venue, deals, pnl)
	return n.Notify(ctx, EventDealCompleted, title, msg)
}

// CycleError reports a failed cycle.
func (n *Notifier) CycleError(ctx context.Context, bot *domain.Bot, err error) error {
	title := fmt.Sprintf("Cycle error: %s", bot.Name)
	msg := fmt.Sprintf("%s %s on %s: %v", bot.Mode, bot.Symbol, bot.Venue, err)
	return n.Notify(ctx, EventCycleError, title, msg)
}
