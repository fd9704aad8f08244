// Package postgres is the durable store.Store implementation over
// database/sql and lib/pq. Units of work are SQL transactions; row-level
// FOR UPDATE locks (taken in deterministic order by the engine) keep
// concurrent transfers from acting on stale balance reads.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"payments-backend/store"
)

// uniqueViolation is the Postgres error code for a violated unique
// constraint.
const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateUser(ctx context.Context, user store.User) error {
	query := `INSERT INTO users (id, username, password_hash, balance)
			  VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.PasswordHash, user.Balance)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return store.ErrUsernameTaken
		}
		return fmt.Errorf("could not create user: %w", err)
	}
	return nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (store.User, error) {
	user := store.User{}
	query := `SELECT id, username, password_hash, balance FROM users WHERE username = $1`
	err := s.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, store.ErrNotFound
		}
		return store.User{}, fmt.Errorf("could not get user by username: %w", err)
	}
	return user, nil
}

func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (store.User, error) {
	user := store.User{}
	query := `SELECT id, username, password_hash, balance FROM users WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, store.ErrNotFound
		}
		return store.User{}, fmt.Errorf("could not get user by id: %w", err)
	}
	return user, nil
}

func (s *Store) TransactionsByUser(ctx context.Context, id uuid.UUID) ([]store.Transaction, error) {
	query := `SELECT id, amount, recipient, sender, timestamp FROM transactions
			  WHERE sender = $1 OR recipient = $1
			  ORDER BY timestamp DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("could not query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []store.Transaction
	for rows.Next() {
		var tx store.Transaction
		if err := rows.Scan(&tx.ID, &tx.Amount, &tx.Recipient, &tx.Sender, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("could not scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

func (s *Store) ExecTx(ctx context.Context, fn func(store.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	if err := fn(&pgTx{tx: dbTx}); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) UserForUpdate(ctx context.Context, id uuid.UUID) (store.User, error) {
	user := store.User{}
	query := `SELECT id, username, password_hash, balance FROM users WHERE id = $1 FOR UPDATE`
	err := t.tx.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, store.ErrNotFound
		}
		return store.User{}, fmt.Errorf("could not lock user row: %w", err)
	}
	return user, nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE users SET balance = $1 WHERE id = $2`, balance, id)
	if err != nil {
		return fmt.Errorf("could not update balance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not read rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tx store.Transaction) error {
	query := `INSERT INTO transactions (id, amount, recipient, sender, timestamp)
			  VALUES ($1, $2, $3, $4, $5)`
	_, err := t.tx.ExecContext(ctx, query, tx.ID, tx.Amount, tx.Recipient, tx.Sender, tx.Timestamp)
	if err != nil {
		return fmt.Errorf("could not insert transaction: %w", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
var _ store.Tx = (*pgTx)(nil)
