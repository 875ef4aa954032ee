package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
	"go.uber.org/zap"
)

// DuckDBStore implements Store on an embedded DuckDB database.
type DuckDBStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBStore opens (or creates) the database at path. Use ":memory:"
// for an ephemeral store in tests.
func NewDuckDBStore(path string, log *logger.Logger) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to open database", err)
	}

	return &DuckDBStore{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Initialize creates the snapshot and history tables.
func (s *DuckDBStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			saved_at TIMESTAMP,
			blob TEXT,
			checksum TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create snapshots table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS deal_history (
			deal_id TEXT,
			symbol TEXT,
			status TEXT,
			buy_order_id TEXT,
			sell_order_id TEXT,
			entry_price DOUBLE,
			amount DOUBLE,
			actual_profit DOUBLE,
			recorded_at TIMESTAMP,
			raw TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create deal_history table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS order_history (
			order_id TEXT,
			exchange_order_id TEXT,
			deal_id TEXT,
			symbol TEXT,
			side TEXT,
			order_type TEXT,
			amount DOUBLE,
			filled_amount DOUBLE,
			status TEXT,
			recorded_at TIMESTAMP,
			raw TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create order_history table", err)
	}

	return nil
}

// SaveSnapshot implements Store. The insert-then-delete runs in one
// transaction so a crash can never leave the table empty or torn.
func (s *DuckDBStore) SaveSnapshot(ctx context.Context, blob []byte, checksum string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to begin snapshot transaction", err)
	}

	savedAt := time.Now().UTC()

	_, err = s.sq.
		Insert("snapshots").
		Columns("saved_at", "blob", "checksum").
		Values(savedAt, string(blob), checksum).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		_ = tx.Rollback()

		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to insert snapshot", err)
	}

	_, err = s.sq.
		Delete("snapshots").
		Where(squirrel.Lt{"saved_at": savedAt}).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		_ = tx.Rollback()

		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to prune old snapshots", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to commit snapshot", err)
	}

	s.logger.Debug("Snapshot saved", zap.Int("bytes", len(blob)), zap.String("checksum", checksum))

	return nil
}

// LoadSnapshot implements Store.
func (s *DuckDBStore) LoadSnapshot(ctx context.Context) ([]byte, string, error) {
	row := s.sq.
		Select("blob", "checksum").
		From("snapshots").
		OrderBy("saved_at DESC").
		Limit(1).
		RunWith(s.db).
		QueryRowContext(ctx)

	var (
		blob     string
		checksum string
	)

	if err := row.Scan(&blob, &checksum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", nil
		}

		return nil, "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to load snapshot", err)
	}

	return []byte(blob), checksum, nil
}

// AppendDeal implements Store.
func (s *DuckDBStore) AppendDeal(ctx context.Context, deal types.Deal) error {
	raw, err := json.Marshal(deal)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to serialize deal", err)
	}

	sellOrderID := ""
	if deal.SellOrderID.IsSome() {
		sellOrderID = deal.SellOrderID.Unwrap()
	}

	var actualProfit float64
	if deal.ActualProfit.IsSome() {
		actualProfit = deal.ActualProfit.Unwrap()
	}

	_, err = s.sq.
		Insert("deal_history").
		Columns(
			"deal_id", "symbol", "status", "buy_order_id", "sell_order_id",
			"entry_price", "amount", "actual_profit", "recorded_at", "raw",
		).
		Values(
			deal.ID, deal.Symbol, string(deal.Status), deal.BuyOrderID, sellOrderID,
			deal.EntryPrice, deal.Amount, actualProfit, time.Now().UTC(), string(raw),
		).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to append deal history", err)
	}

	return nil
}

// AppendOrder implements Store.
func (s *DuckDBStore) AppendOrder(ctx context.Context, order types.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to serialize order", err)
	}

	exchangeOrderID := ""
	if order.ExchangeOrderID.IsSome() {
		exchangeOrderID = order.ExchangeOrderID.Unwrap()
	}

	dealID := ""
	if order.DealID.IsSome() {
		dealID = order.DealID.Unwrap()
	}

	_, err = s.sq.
		Insert("order_history").
		Columns(
			"order_id", "exchange_order_id", "deal_id", "symbol", "side",
			"order_type", "amount", "filled_amount", "status", "recorded_at", "raw",
		).
		Values(
			order.ID, exchangeOrderID, dealID, order.Symbol, string(order.Side),
			string(order.Type), order.Amount, order.FilledAmount, string(order.Status),
			time.Now().UTC(), string(raw),
		).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to append order history", err)
	}

	return nil
}

// DealHistoryCount returns the number of audit rows for a deal.
func (s *DuckDBStore) DealHistoryCount(ctx context.Context, dealID string) (int, error) {
	row := s.sq.
		Select("COUNT(*)").
		From("deal_history").
		Where(squirrel.Eq{"deal_id": dealID}).
		RunWith(s.db).
		QueryRowContext(ctx)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count deal history", err)
	}

	return count, nil
}

// Close implements Store.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}
