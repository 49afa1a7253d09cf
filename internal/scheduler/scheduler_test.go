package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cexbot/internal/config"
	"github.com/alanyoungcy/cexbot/internal/domain"
	"github.com/alanyoungcy/cexbot/internal/notify"
	"github.com/alanyoungcy/cexbot/internal/signal"
	"github.com/alanyoungcy/cexbot/internal/strategy"
)

// fakeBotStore records status and deal counter mutations.
type fakeBotStore struct {
	bots       map[string]domain.Bot
	statuses   map[string]domain.BotStatus
	dealDeltas map[string]int
}

func newFakeBotStore(bots ...domain.Bot) *fakeBotStore {
	s := &fakeBotStore{
		bots:       make(map[string]domain.Bot),
		statuses:   make(map[string]domain.BotStatus),
		dealDeltas: make(map[string]int),
	}
	for _, b := range bots {
		s.bots[b.ID] = b
	}
	return s
}

func (s *fakeBotStore) Create(_ context.Context, bot domain.Bot) error {
	s.bots[bot.ID] = bot
	return nil
}

func (s *fakeBotStore) GetByID(_ context.Context, id string) (domain.Bot, error) {
	b, ok := s.bots[id]
	if !ok {
		return domain.Bot{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *fakeBotStore) ListActive(context.Context) ([]domain.Bot, error) {
	var out []domain.Bot
	for _, b := range s.bots {
		if b.Active() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeBotStore) SetStatus(_ context.Context, id string, status domain.BotStatus) error {
	s.statuses[id] = status
	b := s.bots[id]
	b.Status = status
	s.bots[id] = b
	return nil
}

func (s *fakeBotStore) IncrementDeals(_ context.Context, id string, delta int) error {
	s.dealDeltas[id] += delta
	return nil
}

// fakePositionStore remembers the last saved aggregate.
type fakePositionStore struct {
	saved []domain.Position
}

func (s *fakePositionStore) Get(_ context.Context, botID string) (domain.Position, error) {
	return domain.Position{BotID: botID}, nil
}

func (s *fakePositionStore) Save(_ context.Context, pos domain.Position) error {
	s.saved = append(s.saved, pos)
	return nil
}

// fakeAuditStore collects log entries.
type fakeAuditStore struct {
	entries []domain.AuditEntry
}

func (s *fakeAuditStore) Log(_ context.Context, entry domain.AuditEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeAuditStore) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.entries, nil
}

func (s *fakeAuditStore) ListOlderThan(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *fakeAuditStore) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// fakeLocks either grants every lock or reports it held elsewhere.
type fakeLocks struct {
	held     bool
	acquired []string
	released int
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired = append(l.acquired, key)
	return func() { l.released++ }, nil
}

func testScheduler(bots *fakeBotStore, positions *fakePositionStore, audit *fakeAuditStore, locks *fakeLocks) *Scheduler {
	return New(
		bots,
		positions,
		audit,
		locks,
		nil, // executor unused by commit/lock tests
		notify.NewNotifier(nil, nil, slog.Default()),
		config.Defaults().Scheduler,
		slog.Default(),
	)
}

func activeBot() *domain.Bot {
	return &domain.Bot{
		ID:             "bot-1",
		Name:           "test",
		Venue:          domain.VenueBybit,
		Category:       domain.CategorySpot,
		Symbol:         "BTCUSDT",
		Mode:           domain.ModeGrid,
		Status:         domain.BotStatusActive,
		DealsCompleted: 2,
	}
}

func TestCommitPersistsCycleOutcome(t *testing.T) {
	bots := newFakeBotStore()
	positions := &fakePositionStore{}
	audit := &fakeAuditStore{}
	s := testScheduler(bots, positions, audit, &fakeLocks{})

	bot := activeBot()
	result := strategy.Result{
		Position:    domain.Position{BotID: bot.ID, Quantity: 0.1, AvgPrice: 49000},
		DealsDelta:  1,
		RealizedPnL: 42.5,
		Actions:     []string{"buy filled"},
	}

	s.commit(context.Background(), bot, result, nil, slog.Default())

	require.Len(t, positions.saved, 1)
	assert.InDelta(t, 0.1, positions.saved[0].Quantity, 1e-12)
	assert.Equal(t, 1, bots.dealDeltas[bot.ID])

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	assert.Equal(t, "cycle", entry.Action)
	assert.Equal(t, "ok", entry.Status)
	assert.Equal(t, bot.ID, entry.BotID)
	assert.Equal(t, 3, entry.Deals) // 2 persisted + 1 this cycle
	assert.InDelta(t, 49000, entry.AvgPrice, 1e-9)

	// No stop: the status is untouched.
	assert.Empty(t, bots.statuses)
}

func TestCommitStopFlipsBotInactive(t *testing.T) {
	bots := newFakeBotStore()
	positions := &fakePositionStore{}
	audit := &fakeAuditStore{}
	s := testScheduler(bots, positions, audit, &fakeLocks{})

	bot := activeBot()
	result := strategy.Result{
		Position:   domain.Position{BotID: bot.ID},
		Stop:       true,
		StopReason: "deal_limit",
	}

	s.commit(context.Background(), bot, result, nil, slog.Default())

	assert.Equal(t, domain.BotStatusInactive, bots.statuses[bot.ID])
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "deal_limit", audit.entries[0].Detail["stop_reason"])
}

func TestCommitRecordsCycleError(t *testing.T) {
	bots := newFakeBotStore()
	positions := &fakePositionStore{}
	audit := &fakeAuditStore{}
	s := testScheduler(bots, positions, audit, &fakeLocks{})

	bot := activeBot()
	result := strategy.Result{Position: domain.Position{BotID: bot.ID, Quantity: 0.2}}
	execErr := errors.New("venue timeout")

	s.commit(context.Background(), bot, result, execErr, slog.Default())

	// The partial position still gets persisted.
	require.Len(t, positions.saved, 1)
	assert.InDelta(t, 0.2, positions.saved[0].Quantity, 1e-12)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "error", audit.entries[0].Status)
	assert.Equal(t, "venue timeout", audit.entries[0].ErrorMsg)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	bots := newFakeBotStore()
	positions := &fakePositionStore{}
	audit := &fakeAuditStore{}
	locks := &fakeLocks{held: true}
	s := testScheduler(bots, positions, audit, locks)

	ran, err := s.runCycle(context.Background(), activeBot(), slog.Default())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Empty(t, positions.saved)
	assert.Empty(t, audit.entries)
}

func TestAbandonCycleKeepsBotActive(t *testing.T) {
	bots := newFakeBotStore()
	audit := &fakeAuditStore{}
	s := testScheduler(bots, &fakePositionStore{}, audit, &fakeLocks{})

	bot := activeBot()
	s.abandonCycle(context.Background(), bot, errors.New("persistent failure"), slog.Default())

	// The status is untouched: the bot runs again on its next tick.
	assert.Empty(t, bots.statuses)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "cycle_abandoned", audit.entries[0].Action)
	assert.Equal(t, "error", audit.entries[0].Status)
	assert.Equal(t, "persistent failure", audit.entries[0].ErrorMsg)
}

// slowExchange delays the price lookup without honouring the context,
// standing in for a venue call that cannot be interrupted.
type slowExchange struct {
	delay time.Duration
}

func (s *slowExchange) Venue() domain.Venue { return domain.VenueBybit }

func (s *slowExchange) Instrument(context.Context, string, domain.Category) (domain.Instrument, error) {
	return domain.Instrument{TickSize: 0.01, QtyStep: 0.00001, MinOrderQty: 0.0001}, nil
}

func (s *slowExchange) LastPrice(context.Context, string, domain.Category) (float64, error) {
	time.Sleep(s.delay)
	return 50000, nil
}

func (s *slowExchange) Balance(context.Context, domain.Category) (domain.Balance, error) {
	return domain.Balance{TotalEquity: 1000, Available: 1000, MarginRatio: 0.1}, nil
}

func (s *slowExchange) CreateOrder(context.Context, domain.OrderRequest) (domain.Order, error) {
	return domain.Order{}, nil
}

func (s *slowExchange) CancelOrder(context.Context, string, domain.Category, string) error {
	return nil
}

func (s *slowExchange) OpenOrders(context.Context, string, domain.Category) ([]domain.Order, error) {
	return nil, nil
}

func (s *slowExchange) OrderHistory(context.Context, string, domain.Category, int) ([]domain.Order, error) {
	return nil, nil
}

func (s *slowExchange) SetLeverage(context.Context, string, domain.Category, int) error {
	return nil
}

var _ strategy.Exchange = (*slowExchange)(nil)

type stubSignals struct{}

func (stubSignals) Evaluate(context.Context, domain.SignalSpec, signal.Request) (bool, error) {
	return true, nil
}

type stubGuard struct{}

func (stubGuard) Mark(context.Context, string, time.Duration) error { return nil }
func (stubGuard) Held(context.Context, string) (bool, error)        { return false, nil }

func TestRunCycleEnforcesHardBudget(t *testing.T) {
	bots := newFakeBotStore()
	positions := &fakePositionStore{}
	audit := &fakeAuditStore{}

	factory := func(*domain.Bot) (strategy.Exchange, error) {
		return &slowExchange{delay: 80 * time.Millisecond}, nil
	}
	executor := strategy.NewExecutor(factory, strategy.DefaultRegistry(), stubSignals{}, stubGuard{}, slog.Default())

	cfg := config.Defaults().Scheduler
	require.NoError(t, cfg.SoftBudget.UnmarshalText([]byte("10ms")))
	require.NoError(t, cfg.HardBudget.UnmarshalText([]byte("40ms")))

	s := New(bots, positions, audit, &fakeLocks{}, executor,
		notify.NewNotifier(nil, nil, slog.Default()), cfg, slog.Default())

	// The cycle itself finishes cleanly; overrunning the hard budget still
	// fails it.
	ran, err := s.runCycle(context.Background(), activeBot(), slog.Default())
	assert.True(t, ran)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hard budget")

	// The overrun is committed as an errored cycle.
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "error", audit.entries[0].Status)
	require.Len(t, positions.saved, 1)
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	base := time.Second
	assert.Equal(t, 1*time.Second, retryBackoff(base, 1))
	assert.Equal(t, 2*time.Second, retryBackoff(base, 2))
	assert.Equal(t, 4*time.Second, retryBackoff(base, 3))
	assert.Equal(t, 8*time.Second, retryBackoff(base, 4))
	assert.Equal(t, 8*time.Second, retryBackoff(base, 10))
}
