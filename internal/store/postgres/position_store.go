package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. One row
// per bot holds the whole aggregate; Save is an upsert so a bot's first
// cycle needs no separate create step.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `bot_id, quantity, avg_price, sell_order_id,
	buy_order_ids, position_opened, highest_price, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var buyIDsJSON []byte

	err := row.Scan(
		&p.BotID, &p.Quantity, &p.AvgPrice, &p.SellOrderID,
		&buyIDsJSON, &p.PositionOpened, &p.HighestPrice, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	if len(buyIDsJSON) > 0 {
		if err := json.Unmarshal(buyIDsJSON, &p.BuyOrderIDs); err != nil {
			return domain.Position{}, fmt.Errorf("unmarshal buy order ids: %w", err)
		}
	}
	return p, nil
}

// Get retrieves the position aggregate for a bot. A bot that has never
// traded gets an empty aggregate rather than domain.ErrNotFound, so the
// executor does not special-case first cycles.
func (s *PositionStore) Get(ctx context.Context, botID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE bot_id = $1`, botID)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{BotID: botID}, nil
		}
		return domain.Position{}, fmt.Errorf("postgres: get position for bot %s: %w", botID, err)
	}
	return p, nil
}

// Save upserts the position aggregate. The executor calls it exactly once
// per cycle with the final state.
func (s *PositionStore) Save(ctx context.Context, pos domain.Position) error {
	buyIDs := pos.BuyOrderIDs
	if buyIDs == nil {
		buyIDs = []string{}
	}
	buyIDsJSON, err := json.Marshal(buyIDs)
	if err != nil {
		return fmt.Errorf("postgres: marshal buy order ids: %w", err)
	}

	const query = `
		INSERT INTO positions (
			bot_id, quantity, avg_price, sell_order_id,
			buy_order_ids, position_opened, highest_price, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW()
		)
		ON CONFLICT (bot_id) DO UPDATE SET
			quantity        = EXCLUDED.quantity,
			avg_price       = EXCLUDED.avg_price,
			sell_order_id   = EXCLUDED.sell_order_id,
			buy_order_ids   = EXCLUDED.buy_order_ids,
			position_opened = EXCLUDED.position_opened,
			highest_price   = EXCLUDED.highest_price,
			updated_at      = NOW()`

	_, err = s.pool.Exec(ctx, query,
		pos.BotID, pos.Quantity, pos.AvgPrice, pos.SellOrderID,
		buyIDsJSON, pos.PositionOpened, pos.HighestPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position for bot %s: %w", pos.BotID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
