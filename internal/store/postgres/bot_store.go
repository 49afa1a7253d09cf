package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// BotStore implements domain.BotStore using PostgreSQL. Strategy settings
// are stored as JSONB; credentials live on the row and are redacted at the
// domain layer when logged.
type BotStore struct {
	pool *pgxpool.Pool
}

// NewBotStore creates a new BotStore backed by the given connection pool.
func NewBotStore(pool *pgxpool.Pool) *BotStore {
	return &BotStore{pool: pool}
}

const botSelectCols = `id, name, venue, category, symbol, mode, modes, status,
	api_key, api_secret, passphrase, settings, task_interval_ms,
	leverage, deals_completed, stop_after_deals, created_at, updated_at`

func scanBotRow(row pgx.Row) (domain.Bot, error) {
	var (
		b            domain.Bot
		venue        string
		category     string
		mode         string
		modes        []string
		status       string
		settingsJSON []byte
		intervalMs   int64
	)

	err := row.Scan(
		&b.ID, &b.Name, &venue, &category, &b.Symbol, &mode, &modes, &status,
		&b.Credentials.APIKey, &b.Credentials.APISecret, &b.Credentials.Passphrase,
		&settingsJSON, &intervalMs,
		&b.Leverage, &b.DealsCompleted, &b.StopAfterDeals,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.Bot{}, err
	}

	b.Venue = domain.Venue(venue)
	b.Category = domain.Category(category)
	b.Mode = domain.TradeMode(mode)
	for _, m := range modes {
		b.Modes = append(b.Modes, domain.TradeMode(m))
	}
	b.Status = domain.BotStatus(status)
	b.TaskInterval = time.Duration(intervalMs) * time.Millisecond

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &b.Settings); err != nil {
			return domain.Bot{}, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	return b, nil
}

// Create inserts a new bot.
func (s *BotStore) Create(ctx context.Context, bot domain.Bot) error {
	settingsJSON, err := json.Marshal(bot.Settings)
	if err != nil {
		return fmt.Errorf("postgres: marshal bot settings: %w", err)
	}

	modes := make([]string, 0, len(bot.Modes))
	for _, m := range bot.Modes {
		modes = append(modes, string(m))
	}

	const query = `
		INSERT INTO bots (
			id, name, venue, category, symbol, mode, modes, status,
			api_key, api_secret, passphrase, settings, task_interval_ms,
			leverage, deals_completed, stop_after_deals, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, NOW(), NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		bot.ID, bot.Name, string(bot.Venue), string(bot.Category), bot.Symbol,
		string(bot.Mode), modes, string(bot.Status),
		bot.Credentials.APIKey, bot.Credentials.APISecret, bot.Credentials.Passphrase,
		settingsJSON, bot.TaskInterval.Milliseconds(),
		bot.Leverage, bot.DealsCompleted, bot.StopAfterDeals,
	)
	if err != nil {
		return fmt.Errorf("postgres: create bot %s: %w", bot.ID, err)
	}
	return nil
}

// GetByID retrieves a single bot by its ID.
func (s *BotStore) GetByID(ctx context.Context, id string) (domain.Bot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+botSelectCols+` FROM bots WHERE id = $1`, id)

	b, err := scanBotRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bot{}, domain.ErrNotFound
		}
		return domain.Bot{}, fmt.Errorf("postgres: get bot %s: %w", id, err)
	}
	return b, nil
}

// ListActive returns every bot the scheduler should be cycling.
func (s *BotStore) ListActive(ctx context.Context) ([]domain.Bot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+botSelectCols+` FROM bots
		 WHERE status = $1
		 ORDER BY created_at`, string(domain.BotStatusActive))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active bots: %w", err)
	}
	defer rows.Close()

	var bots []domain.Bot
	for rows.Next() {
		b, err := scanBotRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active bot: %w", err)
		}
		bots = append(bots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active bots rows: %w", err)
	}
	return bots, nil
}

// SetStatus updates a bot's lifecycle status.
func (s *BotStore) SetStatus(ctx context.Context, id string, status domain.BotStatus) error {
	const query = `UPDATE bots SET status = $2, updated_at = NOW() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set bot %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementDeals adds delta to the bot's completed deal counter.
func (s *BotStore) IncrementDeals(ctx context.Context, id string, delta int) error {
	if delta == 0 {
		return nil
	}

	const query = `
		UPDATE bots SET
			deals_completed = deals_completed + $2,
			updated_at      = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("postgres: increment deals for bot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.BotStore = (*BotStore)(nil)
