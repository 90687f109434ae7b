// Package persistence is the Postgres layer: the durable record store behind
// the settlement engine, the append-only settlement log, and the schema
// migrator.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"PredMarket/internal/store"
)

// PGStore implements store.Store on Postgres. Each Commit runs in a single
// SQL transaction: compare-and-swap updates check the expected version in
// their WHERE clause and debits check the balance in theirs, so a lost race
// or an overdraft rolls the whole unit back.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// OpenPostgres connects via lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (s *PGStore) Create(ctx context.Context, key string, data []byte) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO market.records (key, version, data) VALUES ($1, 1, $2)
		 ON CONFLICT (key) DO NOTHING`,
		key, data,
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("create %s: %w", key, store.ErrAlreadyExists)
	}
	return nil
}

func (s *PGStore) Read(ctx context.Context, key string) (store.Record, error) {
	var rec store.Record
	rec.Key = key
	err := s.db.QueryRowContext(ctx,
		`SELECT version, data FROM market.records WHERE key = $1`,
		key,
	).Scan(&rec.Version, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, fmt.Errorf("read %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("read %s: %w", key, err)
	}
	return rec, nil
}

func (s *PGStore) Scan(ctx context.Context, prefix string) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, version, data FROM market.records WHERE key LIKE $1 || '%' ORDER BY key`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.Key, &rec.Version, &rec.Data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", prefix, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) Commit(ctx context.Context, txn store.Txn) error {
	if txn.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, c := range txn.Creates {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO market.records (key, version, data) VALUES ($1, 1, $2)
			 ON CONFLICT (key) DO NOTHING`,
			c.Key, c.Data,
		)
		if err != nil {
			return fmt.Errorf("create %s: %w", c.Key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("create %s: %w", c.Key, store.ErrAlreadyExists)
		}
	}

	for _, u := range txn.Updates {
		res, err := tx.ExecContext(ctx,
			`UPDATE market.records SET version = version + 1, data = $3
			 WHERE key = $1 AND version = $2`,
			u.Key, u.ExpectedVersion, u.Data,
		)
		if err != nil {
			return fmt.Errorf("update %s: %w", u.Key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Distinguish a stale version from a missing record.
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM market.records WHERE key = $1)`, u.Key,
			).Scan(&exists); err != nil {
				return fmt.Errorf("update %s: %w", u.Key, err)
			}
			if !exists {
				return fmt.Errorf("update %s: %w", u.Key, store.ErrNotFound)
			}
			return fmt.Errorf("update %s at version %d: %w", u.Key, u.ExpectedVersion, store.ErrConflict)
		}
	}

	for _, t := range txn.Transfers {
		res, err := tx.ExecContext(ctx,
			`UPDATE market.balances SET balance = balance - $2
			 WHERE account = $1 AND balance >= $2`,
			t.From.Path(), t.Amount,
		)
		if err != nil {
			return fmt.Errorf("debit %s: %w", t.From.Path(), err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("debit %s by %d: %w", t.From.Path(), t.Amount, store.ErrInsufficientFunds)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO market.balances (account, balance) VALUES ($1, $2)
			 ON CONFLICT (account) DO UPDATE SET balance = market.balances.balance + EXCLUDED.balance`,
			t.To.Path(), t.Amount,
		); err != nil {
			return fmt.Errorf("credit %s: %w", t.To.Path(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PGStore) Balance(ctx context.Context, acct store.Account) (uint64, error) {
	var balance uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM market.balances WHERE account = $1`,
		acct.Path(),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", acct.Path(), err)
	}
	return balance, nil
}

func (s *PGStore) Credit(ctx context.Context, acct store.Account, amount uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO market.balances (account, balance) VALUES ($1, $2)
		 ON CONFLICT (account) DO UPDATE SET balance = market.balances.balance + EXCLUDED.balance`,
		acct.Path(), amount,
	)
	if err != nil {
		return fmt.Errorf("credit %s: %w", acct.Path(), err)
	}
	return nil
}

func (s *PGStore) Now() time.Time {
	return time.Now().UTC()
}
