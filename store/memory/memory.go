// Package memory is the in-memory reference implementation of
// store.Store. A single mutex serializes every unit of work, which gives
// the strongest isolation trivially; writes are staged and only applied
// when the unit of work returns without error.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payments-backend/store"
)

type Store struct {
	mu           sync.Mutex
	users        map[uuid.UUID]store.User
	usernames    map[string]uuid.UUID
	transactions []store.Transaction
}

func NewStore() *Store {
	return &Store{
		users:     make(map[uuid.UUID]store.User),
		usernames: make(map[string]uuid.UUID),
	}
}

func (s *Store) CreateUser(ctx context.Context, user store.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usernames[user.Username]; exists {
		return store.ErrUsernameTaken
	}
	s.users[user.ID] = user
	s.usernames[user.Username] = user.ID
	return nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usernames[username]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) TransactionsByUser(ctx context.Context, id uuid.UUID) ([]store.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []store.Transaction
	for _, tx := range s.transactions {
		if tx.Sender == id || tx.Recipient == id {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		// UUIDv7 ids order by creation within equal timestamps.
		return result[i].ID.String() > result[j].ID.String()
	})
	return result, nil
}

// ExecTx holds the store lock for the whole unit of work, so concurrent
// units are fully serialized. Staged writes apply only on commit.
func (s *Store) ExecTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:    s,
		balances: make(map[uuid.UUID]decimal.Decimal),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		// Cancelled before commit: discard the stage.
		return err
	}

	for id, balance := range tx.balances {
		user := s.users[id]
		user.Balance = balance
		s.users[id] = user
	}
	s.transactions = append(s.transactions, tx.inserted...)
	return nil
}

// memTx stages balance updates and transaction inserts. Reads see the
// staged state so a unit of work observes its own writes.
type memTx struct {
	store    *Store
	balances map[uuid.UUID]decimal.Decimal
	inserted []store.Transaction
}

func (t *memTx) UserForUpdate(ctx context.Context, id uuid.UUID) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}

	user, ok := t.store.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	if balance, staged := t.balances[id]; staged {
		user.Balance = balance
	}
	return user, nil
}

func (t *memTx) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.store.users[id]; !ok {
		return store.ErrNotFound
	}
	t.balances[id] = balance
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, tx store.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.inserted = append(t.inserted, tx)
	return nil
}

var _ store.Store = (*Store)(nil)
var _ store.Tx = (*memTx)(nil)
