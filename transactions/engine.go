package transactions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"payments-backend/apperr"
	"payments-backend/clock"
	"payments-backend/events"
	"payments-backend/store"
)

// Engine is the only component that mutates account balances. Every
// transfer runs inside a single atomic unit of work against the store.
type Engine struct {
	store store.Store
	clock clock.Clock

	// Events, when set, receives a TransactionCompleted after each
	// commit. Publish failures are logged, never surfaced to callers.
	Events events.Publisher

	mu     sync.Mutex
	lastTS time.Time
}

func NewEngine(s store.Store, clk clock.Clock) *Engine {
	return &Engine{store: s, clock: clk}
}

// timestamp returns the current time, clamped so that timestamps never
// decrease within one engine instance.
func (e *Engine) timestamp() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if now.Before(e.lastTS) {
		now = e.lastTS
	}
	e.lastTS = now
	return now
}

// Transfer moves amount from sender to recipient on behalf of principal.
// The debit, the credit and the transaction record commit together or
// not at all; the balance check cannot go stale because both rows stay
// locked until commit.
func (e *Engine) Transfer(ctx context.Context, principal, sender, recipient uuid.UUID, amount decimal.Decimal) (store.Transaction, error) {
	if principal != sender {
		return store.Transaction{}, apperr.New(apperr.PermissionDenied, "")
	}
	if amount.Sign() <= 0 {
		return store.Transaction{}, apperr.New(apperr.MalformedRequest, "amount must be positive")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return store.Transaction{}, fmt.Errorf("could not generate transaction id: %w", err)
	}

	var created store.Transaction
	err = e.store.ExecTx(ctx, func(tx store.Tx) error {
		senderRow, recipientRow, err := e.lockRows(ctx, tx, sender, recipient)
		if err != nil {
			return err
		}

		if senderRow.Balance.LessThan(amount) {
			return apperr.New(apperr.InsufficientBalance, "")
		}

		created = store.Transaction{
			ID:        id,
			Amount:    amount,
			Recipient: recipient,
			Sender:    sender,
			Timestamp: e.timestamp(),
		}
		if err := tx.InsertTransaction(ctx, created); err != nil {
			return err
		}

		if sender == recipient {
			// Self-transfer is allowed; the record exists but the
			// balance is unchanged.
			return tx.UpdateBalance(ctx, sender, senderRow.Balance)
		}
		if err := tx.UpdateBalance(ctx, sender, senderRow.Balance.Sub(amount)); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, recipient, recipientRow.Balance.Add(amount))
	})
	if err != nil {
		return store.Transaction{}, err
	}

	transfersTotal.Inc()
	transferAmount.Observe(amount.InexactFloat64())

	if e.Events != nil {
		event := events.TransactionCompleted{
			ID:        created.ID,
			Amount:    created.Amount,
			Sender:    created.Sender,
			Recipient: created.Recipient,
			Timestamp: created.Timestamp,
		}
		if err := e.Events.Publish(events.TopicTransactionCompleted, event); err != nil {
			logrus.WithError(err).WithField("transaction", created.ID).
				Warn("could not publish transaction event")
		}
	}

	return created, nil
}

// lockRows acquires both account rows in ascending id order so two
// transfers over the same pair cannot deadlock. A missing sender is an
// internal inconsistency (the principal authenticated against it); a
// missing recipient is the caller's mistake.
func (e *Engine) lockRows(ctx context.Context, tx store.Tx, sender, recipient uuid.UUID) (store.User, store.User, error) {
	lock := func(id uuid.UUID) (store.User, error) {
		row, err := tx.UserForUpdate(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			if id == sender {
				return store.User{}, fmt.Errorf("authenticated principal %s has no account row", id)
			}
			return store.User{}, apperr.New(apperr.InvalidRecipient, "")
		}
		if err != nil {
			return store.User{}, err
		}
		return row, nil
	}

	if sender == recipient {
		row, err := lock(sender)
		return row, row, err
	}

	first, second := sender, recipient
	if bytes.Compare(recipient[:], sender[:]) < 0 {
		first, second = recipient, sender
	}

	firstRow, err := lock(first)
	if err != nil {
		return store.User{}, store.User{}, err
	}
	secondRow, err := lock(second)
	if err != nil {
		return store.User{}, store.User{}, err
	}

	if first == sender {
		return firstRow, secondRow, nil
	}
	return secondRow, firstRow, nil
}

// TransactionsFor lists the transactions visible to principal, newest
// first. A principal may only read its own history.
func (e *Engine) TransactionsFor(ctx context.Context, principal, userID uuid.UUID) ([]store.Transaction, error) {
	if principal != userID {
		return nil, apperr.New(apperr.PermissionDenied, "")
	}
	transactions, err := e.store.TransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("could not list transactions: %w", err)
	}
	if transactions == nil {
		transactions = []store.Transaction{}
	}
	return transactions, nil
}
