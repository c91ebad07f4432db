package ledger

import (
	"context"
	"fmt"
	"strings"

	"cex-arbitrage-go/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS trade_records (
	id                VARCHAR(36) PRIMARY KEY,
	symbol            VARCHAR(32) NOT NULL,
	strategy          VARCHAR(16) NOT NULL DEFAULT 'spot',
	buy_exchange      VARCHAR(32) NOT NULL,
	sell_exchange     VARCHAR(32) NOT NULL,
	buy_price         NUMERIC(30, 10) NOT NULL DEFAULT 0,
	sell_price        NUMERIC(30, 10) NOT NULL DEFAULT 0,
	quantity          NUMERIC(30, 10) NOT NULL DEFAULT 0,
	invested_amount   NUMERIC(30, 10) NOT NULL DEFAULT 0,
	gross_profit      NUMERIC(30, 10) NOT NULL DEFAULT 0,
	fees              NUMERIC(30, 10) NOT NULL DEFAULT 0,
	net_profit        NUMERIC(30, 10) NOT NULL DEFAULT 0,
	roi_percent       NUMERIC(20, 6) NOT NULL DEFAULT 0,
	execution_time_ms BIGINT NOT NULL DEFAULT 0,
	status            VARCHAR(16) NOT NULL,
	error_kind        VARCHAR(32) NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	mode              VARCHAR(16) NOT NULL,
	executed_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trade_records_executed_at_idx ON trade_records (executed_at DESC);
CREATE INDEX IF NOT EXISTS trade_records_status_idx ON trade_records (status);
`

const selectCols = `id, symbol, strategy, buy_exchange, sell_exchange,
	buy_price, sell_price, quantity, invested_amount,
	gross_profit, fees, net_profit, roi_percent,
	execution_time_ms, status, error_kind, error_message, mode, executed_at`

// PostgresStore keeps the ledger in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresPool connects and pings.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the trade_records table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("postgres: migrate trade_records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec models.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (` + selectCols + `) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Symbol, rec.Strategy, rec.BuyExchange, rec.SellExchange,
		rec.BuyPrice, rec.SellPrice, rec.Quantity, rec.InvestedAmount,
		rec.GrossProfit, rec.Fees, rec.NetProfit, rec.RoiPercent,
		rec.ExecutionTimeMs, string(rec.Status), rec.ErrorKind, rec.ErrorMessage, string(rec.Mode), rec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]models.TradeRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if f.Strategy != "" {
		add("strategy = $%d", f.Strategy)
	}
	if !f.Since.IsZero() {
		add("executed_at >= $%d", f.Since)
	}

	query := `SELECT ` + selectCols + ` FROM trade_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.limit())
	query += fmt.Sprintf(" ORDER BY executed_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade records: %w", err)
	}
	defer rows.Close()

	var records []models.TradeRecord
	for rows.Next() {
		var (
			r            models.TradeRecord
			status, mode string
		)
		if err := rows.Scan(
			&r.ID, &r.Symbol, &r.Strategy, &r.BuyExchange, &r.SellExchange,
			&r.BuyPrice, &r.SellPrice, &r.Quantity, &r.InvestedAmount,
			&r.GrossProfit, &r.Fees, &r.NetProfit, &r.RoiPercent,
			&r.ExecutionTimeMs, &status, &r.ErrorKind, &r.ErrorMessage, &mode, &r.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade record: %w", err)
		}
		r.Status = models.TradeStatus(status)
		r.Mode = models.Mode(mode)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate trade records: %w", err)
	}
	return records, nil
}
