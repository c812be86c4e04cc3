package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carvo/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type Store struct {
	db *sqlx.DB
	q  sqlx.ExtContext
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, q: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// InTx runs fn in a transaction. Nested calls reuse the open transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if _, ok := s.q.(*sqlx.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, s.q, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Store) selectRows(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, s.q, dest, query, args...)
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	return res, mapWriteErr(err)
}

// execOne runs an UPDATE that must touch exactly one row.
func (s *Store) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// insert runs an INSERT ... RETURNING and scans the returned columns into dest.
func (s *Store) insert(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return mapWriteErr(sqlx.GetContext(ctx, s.q, dest, query, args...))
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// findOne converts ErrNotFound into (nil, nil) for optional lookups.
func findOne[T any](v *T, err error) (*T, error) {
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := s.get(ctx, &user, "SELECT * FROM users WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUserIDsByRole returns the ids of every user with the given role
func (s *Store) ListUserIDsByRole(ctx context.Context, role string) ([]int64, error) {
	var ids []int64
	err := s.selectRows(ctx, &ids, "SELECT id FROM users WHERE role = $1 ORDER BY id", role)
	return ids, err
}

// GetPartByID retrieves a part by ID
func (s *Store) GetPartByID(ctx context.Context, id int64) (*models.Part, error) {
	var part models.Part
	if err := s.get(ctx, &part, "SELECT * FROM parts WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &part, nil
}

// DecrementStock removes quantity from a part only if enough stock remains.
// It returns false when the conditional update matched no row.
func (s *Store) DecrementStock(ctx context.Context, partID int64, quantity int) (bool, error) {
	res, err := s.exec(ctx,
		"UPDATE parts SET stock_quantity = stock_quantity - $1, updated_at = NOW() WHERE id = $2 AND stock_quantity >= $1",
		quantity, partID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IncrementStock returns quantity to a part
func (s *Store) IncrementStock(ctx context.Context, partID int64, quantity int) error {
	return s.execOne(ctx,
		"UPDATE parts SET stock_quantity = stock_quantity + $1, updated_at = NOW() WHERE id = $2",
		quantity, partID)
}
