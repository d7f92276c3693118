package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/ports"
)

// SQLiteTradeJournal 追加写的交易记录表
type SQLiteTradeJournal struct {
	db *sql.DB
}

var _ ports.TradeJournal = (*SQLiteTradeJournal)(nil)

// OpenSQLiteTradeJournal 打开（或创建）交易记录库，dsn 可为 ":memory:"
func OpenSQLiteTradeJournal(dsn string) (*SQLiteTradeJournal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// 单连接：":memory:" 每个连接是独立的库
	db.SetMaxOpenConns(1)

	j := &SQLiteTradeJournal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteTradeJournal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  exchange TEXT NOT NULL,
  order_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  kind TEXT NOT NULL,
  side TEXT NOT NULL,
  price TEXT NOT NULL,
  quantity TEXT NOT NULL,
  profitability TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades(symbol, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate trades")
		}
	}
	return nil
}

func (j *SQLiteTradeJournal) Close() error {
	return j.db.Close()
}

// RecordTrade 写入一条交易记录
func (j *SQLiteTradeJournal) RecordTrade(ctx context.Context, t domain.Trade) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (id, exchange, order_id, symbol, kind, side, price, quantity, profitability, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Exchange, t.OrderID, t.Symbol, string(t.Kind), string(t.Side),
		t.Price.String(), t.Quantity.String(), t.Profitability.String(),
		t.Time.UTC().Format(time.RFC3339Nano),
	)
	return errors.Wrapf(err, "record trade %s", t.ID)
}

// ListTrades 按时间顺序读取某交易对的交易记录（symbol 为空表示全部）
func (j *SQLiteTradeJournal) ListTrades(ctx context.Context, symbol string) ([]domain.Trade, error) {
	q := `SELECT id, exchange, order_id, symbol, kind, side, price, quantity, profitability, ts FROM trades`
	var args []interface{}
	if symbol != "" {
		q += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	q += ` ORDER BY ts ASC`

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query trades")
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t                             domain.Trade
			kind, side                    string
			price, qty, profitability, ts string
		)
		if err := rows.Scan(&t.ID, &t.Exchange, &t.OrderID, &t.Symbol, &kind, &side, &price, &qty, &profitability, &ts); err != nil {
			return nil, errors.Wrap(err, "scan trade")
		}
		t.Kind = domain.OrderKind(kind)
		t.Side = domain.Side(side)
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, errors.Wrapf(err, "parse price of trade %s", t.ID)
		}
		if t.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, errors.Wrapf(err, "parse quantity of trade %s", t.ID)
		}
		if t.Profitability, err = decimal.NewFromString(profitability); err != nil {
			return nil, errors.Wrapf(err, "parse profitability of trade %s", t.ID)
		}
		if t.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, errors.Wrapf(err, "parse time of trade %s", t.ID)
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "iterate trades")
}
