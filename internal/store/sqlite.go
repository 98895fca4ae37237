// Package store 将会话内的订单与策略历史落盘到 SQLite，
// 供 history 子命令跨进程调用查询。
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"futures-trader/internal/config"
	"futures-trader/internal/ledger"
	"futures-trader/internal/order"
	"futures-trader/internal/strategy"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	kind TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	stop_price REAL NOT NULL,
	status TEXT NOT NULL,
	filled_qty REAL NOT NULL,
	avg_price REAL NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS strategies (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	symbol TEXT NOT NULL,
	status TEXT NOT NULL,
	children TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Store 封装 SQLite 连接。
type Store struct {
	db *sql.DB
}

// NewSQLite 根据配置初始化 SQLite 存储并建表。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	dsn := cfg.Path
	if cfg.InMemory {
		dsn = ":memory:"
	} else {
		if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", dsn))
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 数据库失败: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("设置 SQLite WAL 模式失败: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("设置 SQLite 同步级别失败: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}

	return &Store{db: conn}, nil
}

// RecordOrder 写入或更新订单历史。
func (s *Store) RecordOrder(o order.Order) error {
	_, err := s.db.Exec(`
INSERT INTO orders (id, client_id, symbol, side, kind, quantity, price, stop_price, status, filled_qty, avg_price, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	filled_qty = excluded.filled_qty,
	avg_price = excluded.avg_price,
	updated_at = excluded.updated_at`,
		o.ID, o.ClientID, o.Symbol, string(o.Side), string(o.Kind),
		o.Quantity, o.Price, o.StopPrice, string(o.Status),
		o.FilledQty, o.AvgPrice, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入订单历史失败: %w", err)
	}
	return nil
}

// RecordStrategy 写入或更新策略历史。
func (s *Store) RecordStrategy(rec ledger.StrategyRecord) error {
	_, err := s.db.Exec(`
INSERT INTO strategies (id, kind, symbol, status, children, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	children = excluded.children,
	updated_at = excluded.updated_at`,
		rec.ID, string(rec.Kind), rec.Symbol, string(rec.Status),
		strings.Join(rec.Children, ","), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入策略历史失败: %w", err)
	}
	return nil
}

// ListOrders 按创建时间顺序读取订单历史。
func (s *Store) ListOrders() ([]order.Order, error) {
	rows, err := s.db.Query(`
SELECT id, client_id, symbol, side, kind, quantity, price, stop_price, status, filled_qty, avg_price, created_at, updated_at
FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("读取订单历史失败: %w", err)
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		var o order.Order
		var side, kind, status string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&o.ID, &o.ClientID, &o.Symbol, &side, &kind,
			&o.Quantity, &o.Price, &o.StopPrice, &status,
			&o.FilledQty, &o.AvgPrice, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("解析订单历史失败: %w", err)
		}
		o.Side = order.Side(side)
		o.Kind = order.Kind(kind)
		o.Status = order.Status(status)
		o.CreatedAt = createdAt
		o.UpdatedAt = updatedAt
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListStrategies 按创建时间顺序读取策略历史。
func (s *Store) ListStrategies() ([]ledger.StrategyRecord, error) {
	rows, err := s.db.Query(`
SELECT id, kind, symbol, status, children, created_at, updated_at
FROM strategies ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("读取策略历史失败: %w", err)
	}
	defer rows.Close()

	var out []ledger.StrategyRecord
	for rows.Next() {
		var rec ledger.StrategyRecord
		var kind, status, children string
		if err := rows.Scan(&rec.ID, &kind, &rec.Symbol, &status, &children, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("解析策略历史失败: %w", err)
		}
		rec.Kind = strategy.Kind(kind)
		rec.Status = strategy.Status(status)
		if children != "" {
			rec.Children = strings.Split(children, ",")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DB 返回底层 *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("创建目录 %q 失败: %w", path, err)
	}
	return nil
}

var _ ledger.Journal = (*Store)(nil)
