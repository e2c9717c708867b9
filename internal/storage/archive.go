// Package storage persists terminal orders and closed positions to SQLite
// for audit. Live state stays in memory; the archive is append-only.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/domain"
)

// Archive is the append-only audit store.
type Archive struct {
	db *sql.DB
}

// NewArchive opens (or creates) the SQLite archive with WAL mode enabled.
func NewArchive(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			venue TEXT NOT NULL,
			status TEXT NOT NULL,
			payload BLOB NOT NULL,
			archived_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create orders table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS closed_positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			venue TEXT NOT NULL,
			payload BLOB NOT NULL,
			closed_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create closed_positions table: %w", err)
	}

	return &Archive{db: db}, nil
}

// SaveOrder upserts an order snapshot. Called on acknowledgement and again
// on each terminal transition, so the stored row always reflects the latest
// known state.
func (a *Archive) SaveOrder(ctx context.Context, ord *domain.Order) error {
	payload, err := json.Marshal(ord)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO orders (id, symbol, venue, status, payload, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status,
			payload=excluded.payload, archived_at=excluded.archived_at`,
		ord.ID, ord.Symbol, ord.Venue, ord.Status.String(), payload, time.Now().UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// LoadOrder reads one archived order by its engine ID.
func (a *Archive) LoadOrder(ctx context.Context, id string) (*domain.Order, error) {
	var payload []byte
	err := a.db.QueryRowContext(ctx,
		"SELECT payload FROM orders WHERE id = ?", id,
	).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}

	var ord domain.Order
	if err := json.Unmarshal(payload, &ord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s: %w", id, err)
	}
	return &ord, nil
}

// LoadOrdersBySymbol reads all archived orders for a symbol, oldest first.
func (a *Archive) LoadOrdersBySymbol(ctx context.Context, symbol string) ([]*domain.Order, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT payload FROM orders WHERE symbol = ? ORDER BY archived_at ASC", symbol,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		var ord domain.Order
		if err := json.Unmarshal(payload, &ord); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		orders = append(orders, &ord)
	}
	return orders, rows.Err()
}

// SavePosition appends a closed position record.
func (a *Archive) SavePosition(ctx context.Context, pos *domain.ClosedPosition) error {
	payload, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	_, err = a.db.ExecContext(ctx,
		"INSERT INTO closed_positions (symbol, venue, payload, closed_at) VALUES (?, ?, ?, ?)",
		pos.Symbol, pos.Venue, payload, pos.ClosedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// LoadPositions reads all closed positions for a symbol, oldest first. An
// empty symbol loads everything.
func (a *Archive) LoadPositions(ctx context.Context, symbol string) ([]*domain.ClosedPosition, error) {
	query := "SELECT payload FROM closed_positions ORDER BY closed_at ASC"
	args := []any{}
	if symbol != "" {
		query = "SELECT payload FROM closed_positions WHERE symbol = ? ORDER BY closed_at ASC"
		args = append(args, symbol)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.ClosedPosition
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		var pos domain.ClosedPosition
		if err := json.Unmarshal(payload, &pos); err != nil {
			return nil, fmt.Errorf("failed to unmarshal position: %w", err)
		}
		positions = append(positions, &pos)
	}
	return positions, rows.Err()
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
