// Package memory implements repository.Store on plain maps. It mirrors the
// postgres semantics (exclusive account locking, staged writes that only land
// on commit, the (source, reference, type) uniqueness constraint) so the
// service layer can be exercised without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orbitalapp/minutes-ledger/internal/models"
	repo "github.com/orbitalapp/minutes-ledger/internal/repository"
)

type refKey struct {
	source    string
	reference string
	typ       models.TransactionType
}

type Store struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	txns     []models.Transaction
	byID     map[string]int
	byRef    map[refKey]int
}

func New() *Store {
	return &Store{
		accounts: make(map[string]models.Account),
		byID:     make(map[string]int),
		byRef:    make(map[refKey]int),
	}
}

func (s *Store) GetOrCreateAccount(_ context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return a, nil
	}
	a := models.Account{
		ID:            id,
		Balance:       decimal.Zero,
		TotalCredited: decimal.Zero,
		TotalDebited:  decimal.Zero,
		UpdatedAt:     time.Now(),
	}
	s.accounts[id] = a
	return a, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, repo.ErrAccountNotFound
	}
	return a, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return models.Transaction{}, repo.ErrTransactionNotFound
	}
	return s.txns[i], nil
}

func (s *Store) FindByReference(_ context.Context, source, reference string, typ models.TransactionType) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByRefLocked(source, reference, typ)
}

func (s *Store) findByRefLocked(source, reference string, typ models.TransactionType) (models.Transaction, error) {
	i, ok := s.byRef[refKey{source, reference, typ}]
	if !ok {
		return models.Transaction{}, repo.ErrTransactionNotFound
	}
	return s.txns[i], nil
}

func (s *Store) ListByAccount(_ context.Context, accountID string, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Newest first; the slice is already in insertion order, which breaks
	// CreatedAt ties the same way the (created_at, id) sort does.
	var out []models.Transaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].AccountID == accountID {
			out = append(out, s.txns[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) SumAmounts(_ context.Context, accountID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, t := range s.txns {
		if t.AccountID == accountID {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

// WithTx serializes units of work under one store-wide mutex and stages all
// writes; they land only when fn returns nil. Coarser locking than the
// per-row postgres lock, identical observable semantics.
func (s *Store) WithTx(_ context.Context, fn func(repo.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &unitOfWork{
		s:          s,
		staged:     make(map[string]models.Account),
		stagedRefs: make(map[refKey]struct{}),
	}
	if err := fn(u); err != nil {
		return err
	}

	for id, a := range u.staged {
		s.accounts[id] = a
	}
	for _, t := range u.inserted {
		s.txns = append(s.txns, t)
		i := len(s.txns) - 1
		s.byID[t.ID] = i
		if t.Reference != "" {
			s.byRef[refKey{t.Source, t.Reference, t.Type}] = i
		}
	}
	return nil
}

type unitOfWork struct {
	s          *Store
	staged     map[string]models.Account
	inserted   []models.Transaction
	stagedRefs map[refKey]struct{}
}

func (u *unitOfWork) LockAccount(_ context.Context, id string) (models.Account, error) {
	if a, ok := u.staged[id]; ok {
		return a, nil
	}
	a, ok := u.s.accounts[id]
	if !ok {
		return models.Account{}, repo.ErrAccountNotFound
	}
	return a, nil
}

func (u *unitOfWork) ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (models.Account, error) {
	a, err := u.LockAccount(ctx, id)
	if err != nil {
		return models.Account{}, err
	}
	a.Balance = a.Balance.Add(delta)
	if delta.IsPositive() {
		a.TotalCredited = a.TotalCredited.Add(delta)
	} else {
		a.TotalDebited = a.TotalDebited.Add(delta.Neg())
	}
	a.UpdatedAt = time.Now()
	u.staged[id] = a
	return a, nil
}

func (u *unitOfWork) InsertTransaction(_ context.Context, t models.Transaction) (models.Transaction, error) {
	if t.Reference != "" {
		k := refKey{t.Source, t.Reference, t.Type}
		if _, dup := u.s.byRef[k]; dup {
			return models.Transaction{}, repo.ErrDuplicateReference
		}
		if _, dup := u.stagedRefs[k]; dup {
			return models.Transaction{}, repo.ErrDuplicateReference
		}
		u.stagedRefs[k] = struct{}{}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	u.inserted = append(u.inserted, t)
	return t, nil
}
