package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/storage"
)

// LargeOrderStore implements storage.LargeOrderStore using ClickHouse.
type LargeOrderStore struct {
	conn *Conn
}

// NewLargeOrderStore creates a new LargeOrderStore.
func NewLargeOrderStore(conn *Conn) *LargeOrderStore {
	return &LargeOrderStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LargeOrderStore = (*LargeOrderStore)(nil)

// InsertBulk adds a batch of classified orders.
func (s *LargeOrderStore) InsertBulk(ctx context.Context, orders []domain.LargeOrder) error {
	if len(orders) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO large_orders (
			symbol, seq, time_ms, price, volume, amount, side, source, tier
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, order := range orders {
		tick := order.Tick
		err = batch.Append(
			tick.Symbol, tick.Seq, tick.Time,
			tick.Price.String(), tick.Volume, tick.Amount.String(),
			string(tick.Side), tick.Source, string(order.Tier),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves orders for a symbol within [start, end]
// millis (inclusive), ordered by time ASC.
func (s *LargeOrderStore) GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]domain.LargeOrder, error) {
	query := `
		SELECT symbol, seq, time_ms, price, volume, amount, side, source, tier
		FROM large_orders
		WHERE symbol = ? AND time_ms >= ? AND time_ms <= ?
		ORDER BY time_ms ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query large orders by time range: %w", err)
	}
	defer rows.Close()

	var result []domain.LargeOrder
	for rows.Next() {
		var (
			order        domain.LargeOrder
			price        string
			amount       string
			side, source string
			tier         string
		)
		if err := rows.Scan(
			&order.Tick.Symbol, &order.Tick.Seq, &order.Tick.Time,
			&price, &order.Tick.Volume, &amount,
			&side, &source, &tier,
		); err != nil {
			return nil, fmt.Errorf("scan large order: %w", err)
		}
		if order.Tick.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		if order.Tick.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		order.Tick.Side = domain.Side(side)
		order.Tick.Source = source
		order.Tier = domain.Tier(tier)
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate large orders: %w", err)
	}
	return result, nil
}
