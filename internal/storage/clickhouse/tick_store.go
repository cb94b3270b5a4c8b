package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/storage"
)

// TickStore implements storage.TickArchive using ClickHouse. Prices
// and amounts travel as decimal strings so no precision is lost in
// the round trip.
type TickStore struct {
	conn *Conn
}

// NewTickStore creates a new TickStore.
func NewTickStore(conn *Conn) *TickStore {
	return &TickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TickArchive = (*TickStore)(nil)

// InsertBulk adds a batch of ticks.
func (s *TickStore) InsertBulk(ctx context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ticks (
			symbol, seq, time_ms, price, volume, amount, side, source
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, tick := range ticks {
		err = batch.Append(
			tick.Symbol, tick.Seq, tick.Time,
			tick.Price.String(), tick.Volume, tick.Amount.String(),
			string(tick.Side), tick.Source,
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

// GetByTimeRange retrieves ticks for a symbol within [start, end]
// millis (inclusive), ordered by time then sequence ASC.
func (s *TickStore) GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]domain.Tick, error) {
	query := `
		SELECT symbol, seq, time_ms, price, volume, amount, side, source
		FROM ticks
		WHERE symbol = ? AND time_ms >= ? AND time_ms <= ?
		ORDER BY time_ms ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query ticks by time range: %w", err)
	}
	defer rows.Close()

	return scanTicks(rows)
}

func scanTicks(rows driver.Rows) ([]domain.Tick, error) {
	var result []domain.Tick
	for rows.Next() {
		tick, err := scanTickRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks: %w", err)
	}
	return result, nil
}

func scanTickRow(rows driver.Rows) (domain.Tick, error) {
	var (
		tick         domain.Tick
		price        string
		amount       string
		side, source string
	)
	if err := rows.Scan(
		&tick.Symbol, &tick.Seq, &tick.Time,
		&price, &tick.Volume, &amount,
		&side, &source,
	); err != nil {
		return domain.Tick{}, fmt.Errorf("scan tick: %w", err)
	}

	var err error
	if tick.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Tick{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	if tick.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Tick{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	tick.Side = domain.Side(side)
	tick.Source = source
	return tick, nil
}
