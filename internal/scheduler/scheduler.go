// Package scheduler runs one loop per active bot. Each loop re-reads the
// bot row at the top of every cycle, takes a distributed lock so only one
// process executes it, runs the strategy executor and commits the resulting
// state transition.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cexbot/internal/config"
	"github.com/alanyoungcy/cexbot/internal/domain"
	"github.com/alanyoungcy/cexbot/internal/notify"
	"github.com/alanyoungcy/cexbot/internal/strategy"
)

// Scheduler supervises the per-bot cycle loops. It polls the bot store so
// bots activated while the process is running get picked up without a
// restart.
type Scheduler struct {
	bots      domain.BotStore
	positions domain.PositionStore
	audit     domain.AuditStore
	locks     domain.LockManager
	executor  *strategy.Executor
	notifier  *notify.Notifier
	cfg       config.SchedulerConfig
	logger    *slog.Logger
}

// New wires a Scheduler.
func New(
	bots domain.BotStore,
	positions domain.PositionStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	executor *strategy.Executor,
	notifier *notify.Notifier,
	cfg config.SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		bots:      bots,
		positions: positions,
		audit:     audit,
		locks:     locks,
		executor:  executor,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "scheduler")),
	}
}

// Run supervises bot loops until ctx is cancelled. Every poll interval it
// lists the active bots and starts a loop for any bot not already running.
// Loops exit on their own when their bot leaves the active set.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		slog.Duration("poll_interval", s.cfg.PollInterval.Duration),
		slog.Duration("lock_ttl", s.cfg.LockTTL.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)
	running := make(map[string]bool)
	done := make(chan string)

	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.PollInterval.Duration)
		defer ticker.Stop()

		for {
			bots, err := s.bots.ListActive(ctx)
			if err != nil {
				s.logger.Error("list active bots failed", slog.String("error", err.Error()))
			}
			for _, bot := range bots {
				if running[bot.ID] {
					continue
				}
				running[bot.ID] = true

				bot := bot
				g.Go(func() error {
					defer func() {
						select {
						case done <- bot.ID:
						case <-ctx.Done():
						}
					}()
					s.runBotLoop(ctx, bot.ID)
					return nil
				})
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case id := <-done:
				delete(running, id)
			case <-ticker.C:
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		s.logger.Info("scheduler stopped")
		return nil
	}
	return err
}

// runBotLoop cycles one bot until it leaves the active set or ctx is
// cancelled. A spent retry budget abandons the current cycle only; the bot
// stays active and is retried fresh on its next scheduled tick.
func (s *Scheduler) runBotLoop(ctx context.Context, botID string) {
	logger := s.logger.With(slog.String("bot_id", botID))
	logger.Info("bot loop started")
	defer logger.Info("bot loop stopped")

	failures := 0
	for {
		// Re-read the bot so operator edits and external status changes
		// take effect at cycle granularity.
		bot, err := s.bots.GetByID(ctx, botID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				logger.Warn("bot deleted, stopping loop")
				return
			}
			logger.Error("load bot failed", slog.String("error", err.Error()))
			if !s.sleep(ctx, s.cfg.PollInterval.Duration) {
				return
			}
			continue
		}
		if !bot.Active() {
			return
		}

		ran, err := s.runCycle(ctx, &bot, logger)
		if ctx.Err() != nil {
			return
		}

		switch {
		case err != nil:
			failures++
			if s.cfg.MaxRetries > 0 && failures > s.cfg.MaxRetries {
				s.abandonCycle(ctx, &bot, err, logger)
				failures = 0
				if !s.sleep(ctx, s.botInterval(&bot)) {
					return
				}
				continue
			}
			backoff := retryBackoff(s.cfg.RetryBackoff.Duration, failures)
			logger.Warn("cycle failed, backing off",
				slog.String("error", err.Error()),
				slog.Int("failures", failures),
				slog.Duration("backoff", backoff),
			)
			if !s.sleep(ctx, backoff) {
				return
			}
		case ran:
			failures = 0
			fallthrough
		default:
			if !s.sleep(ctx, s.botInterval(&bot)) {
				return
			}
		}
	}
}

// runCycle takes the bot lock and executes one cycle. It reports false with
// no error when another process holds the lock; the bot is simply retried
// on the next tick.
func (s *Scheduler) runCycle(ctx context.Context, bot *domain.Bot, logger *slog.Logger) (bool, error) {
	unlock, err := s.locks.Acquire(ctx, "bot:"+bot.ID, s.cfg.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			logger.Debug("cycle skipped, lock held elsewhere")
			return false, nil
		}
		return false, fmt.Errorf("scheduler: acquire lock: %w", err)
	}
	defer unlock()

	pos, err := s.positions.Get(ctx, bot.ID)
	if err != nil {
		return false, fmt.Errorf("scheduler: load position: %w", err)
	}

	// The soft budget aborts a slow cycle recoverably; the hard budget is
	// the absolute bound and force-fails the cycle even when the executor
	// came back clean after overrunning it.
	hardCtx, hardCancel := context.WithTimeout(ctx, s.cfg.HardBudget.Duration)
	defer hardCancel()
	softCtx, softCancel := context.WithTimeout(hardCtx, s.cfg.SoftBudget.Duration)
	defer softCancel()

	result, execErr := s.executor.Execute(softCtx, bot, pos)
	switch {
	case hardCtx.Err() != nil:
		execErr = fmt.Errorf("scheduler: hard budget %s exceeded: %w",
			s.cfg.HardBudget.Duration, errors.Join(hardCtx.Err(), execErr))
	case execErr != nil && errors.Is(execErr, context.DeadlineExceeded):
		logger.Warn("soft budget exceeded, cycle aborted",
			slog.Duration("soft_budget", s.cfg.SoftBudget.Duration),
		)
	}
	s.commit(ctx, bot, result, execErr, logger)

	if execErr != nil {
		return true, execErr
	}
	return true, nil
}

// commit persists the cycle outcome: the position aggregate, the deal
// counter, the audit row and the status flip on stop. It uses the parent
// context so a cycle that blew its soft budget still gets committed.
func (s *Scheduler) commit(ctx context.Context, bot *domain.Bot, result strategy.Result, execErr error, logger *slog.Logger) {
	if err := s.positions.Save(ctx, result.Position); err != nil {
		logger.Error("save position failed", slog.String("error", err.Error()))
	}

	if result.DealsDelta != 0 {
		if err := s.bots.IncrementDeals(ctx, bot.ID, result.DealsDelta); err != nil {
			logger.Error("increment deals failed", slog.String("error", err.Error()))
		}
	}

	entry := domain.AuditEntry{
		BotID:    bot.ID,
		Action:   "cycle",
		Status:   "ok",
		Position: result.Position.Quantity,
		AvgPrice: result.Position.AvgPrice,
		Deals:    bot.DealsCompleted + result.DealsDelta,
		Detail: map[string]any{
			"modes":         bot.ModeList(),
			"actions":       result.Actions,
			"orders_placed": len(result.OrdersPlaced),
			"realized_pnl":  result.RealizedPnL,
		},
	}
	if result.Stop {
		entry.Detail["stop_reason"] = result.StopReason
	}
	if execErr != nil {
		entry.Status = "error"
		entry.ErrorMsg = execErr.Error()
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		logger.Error("audit log failed", slog.String("error", err.Error()))
	}

	if result.DealsDelta > 0 {
		if err := s.notifier.DealCompleted(ctx, bot, result.DealsDelta, result.RealizedPnL); err != nil {
			logger.Warn("deal notification failed", slog.String("error", err.Error()))
		}
	}

	if result.Stop {
		if err := s.bots.SetStatus(ctx, bot.ID, domain.BotStatusInactive); err != nil {
			logger.Error("set status inactive failed", slog.String("error", err.Error()))
		}
		if err := s.notifier.BotStopped(ctx, bot, result.StopReason); err != nil {
			logger.Warn("stop notification failed", slog.String("error", err.Error()))
		}
	}
}

// abandonCycle records a cycle whose retry budget is spent. The failure is
// terminal for that cycle only; the bot keeps its status and runs again on
// the next tick.
func (s *Scheduler) abandonCycle(ctx context.Context, bot *domain.Bot, cause error, logger *slog.Logger) {
	logger.Error("retry budget exhausted, abandoning cycle",
		slog.String("error", cause.Error()),
	)

	entry := domain.AuditEntry{
		BotID:    bot.ID,
		Action:   "cycle_abandoned",
		Status:   "error",
		ErrorMsg: cause.Error(),
		Deals:    bot.DealsCompleted,
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		logger.Error("audit log failed", slog.String("error", err.Error()))
	}

	if err := s.notifier.CycleError(ctx, bot, cause); err != nil {
		logger.Warn("error notification failed", slog.String("error", err.Error()))
	}
}

// botInterval returns the bot's cycle interval, falling back to the poll
// interval when the bot does not set one.
func (s *Scheduler) botInterval(bot *domain.Bot) time.Duration {
	if bot.TaskInterval > 0 {
		return bot.TaskInterval
	}
	return s.cfg.PollInterval.Duration
}

// sleep waits for d unless ctx is cancelled first. It reports whether the
// caller should continue.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// retryBackoff doubles the base delay per consecutive failure.
func retryBackoff(base time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= 8*base {
			return 8 * base
		}
	}
	return d
}
