// Package store defines the domain model and the durable-store contracts
// consumed by the auth handlers and the transfer engine. Two
// implementations exist: store/memory for tests and store/postgres for
// production, both honoring the same atomicity and isolation rules.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken is returned by CreateUser when the username is
	// already present. The uniqueness constraint lives in the store so a
	// race between two concurrent signups resolves to one row.
	ErrUsernameTaken = errors.New("username taken")
)

// User is an account row. PasswordHash is opaque verifier material and is
// never serialized or logged.
type User struct {
	ID           uuid.UUID       `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
}

// Transaction is an immutable record of one completed transfer. ID is a
// UUIDv7 so records sort by creation time.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Recipient uuid.UUID       `json:"recipient"`
	Sender    uuid.UUID       `json:"sender"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store is the durable account/transaction directory.
type Store interface {
	// CreateUser inserts a new account. Returns ErrUsernameTaken when the
	// username already exists, including when a concurrent insert wins.
	CreateUser(ctx context.Context, user User) error

	// UserByUsername looks an account up by its unique username.
	// Comparison is case-sensitive. Returns ErrNotFound when absent.
	UserByUsername(ctx context.Context, username string) (User, error)

	// UserByID looks an account up by id. Returns ErrNotFound when absent.
	UserByID(ctx context.Context, id uuid.UUID) (User, error)

	// TransactionsByUser returns every transaction in which the user is
	// sender or recipient, most recent first.
	TransactionsByUser(ctx context.Context, id uuid.UUID) ([]Transaction, error)

	// ExecTx runs fn inside one atomic unit of work. If fn returns an
	// error, or the context is cancelled, every write made through the Tx
	// is rolled back; otherwise all writes commit together. Concurrent
	// units touching the same rows are isolated from each other.
	ExecTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the view of the store inside one unit of work.
type Tx interface {
	// UserForUpdate reads a row and holds an exclusive lock on it until
	// the unit of work ends. Returns ErrNotFound when absent.
	UserForUpdate(ctx context.Context, id uuid.UUID) (User, error)

	UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error

	InsertTransaction(ctx context.Context, tx Transaction) error
}
