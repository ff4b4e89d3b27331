package memory

import (
	"context"
	"github.com/google/uuid"
	"metalink/internal/app/apperr"
	"metalink/internal/app/model"
	"metalink/internal/app/storage"
	"sort"
	"sync"
)

// storage.TransactionRepository interface implementation
var _ storage.TransactionRepository = (*TransactionRepository)(nil)

// TransactionRepository keeps transactions in process memory.
type TransactionRepository struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]*model.Transaction
}

func (r *TransactionRepository) LoggerComponent() string {
	return "MemoryTransactionRepository"
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		docs: make(map[uuid.UUID]*model.Transaction),
	}
}

// Insert implementation of interface storage.TransactionRepository
func (r *TransactionRepository) Insert(_ context.Context, m *model.Transaction) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[m.ID]; ok {
		return uuid.Nil, apperr.ErrConflict
	}
	r.docs[m.ID] = clone(m)

	return m.ID, nil
}

// FindMany implementation of interface storage.TransactionRepository
func (r *TransactionRepository) FindMany(_ context.Context, q storage.TransactionQuery, s storage.Sort, skip, limit int) ([]*model.Transaction, error) {
	r.mu.RLock()
	matched := make([]*model.Transaction, 0)
	for _, m := range r.docs {
		if match(q, m) {
			matched = append(matched, clone(m))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return less(s, matched[i], matched[j])
	})

	if skip >= len(matched) {
		return []*model.Transaction{}, nil
	}
	if skip > 0 {
		matched = matched[skip:]
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return matched, nil
}

// Count implementation of interface storage.TransactionRepository
func (r *TransactionRepository) Count(_ context.Context, q storage.TransactionQuery) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, m := range r.docs {
		if match(q, m) {
			n++
		}
	}

	return n, nil
}

// UpdateByID implementation of interface storage.TransactionRepository
func (r *TransactionRepository) UpdateByID(_ context.Context, id uuid.UUID, patch storage.TransactionPatch) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.docs[id]
	if !ok || m.Status != patch.ExpectStatus {
		return nil, apperr.ErrNotFound
	}

	m.Status = patch.Status
	if patch.TransactionHash != "" {
		m.TransactionHash = patch.TransactionHash
	}

	return clone(m), nil
}

// Read implementation of interface storage.TransactionRepository
func (r *TransactionRepository) Read(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.docs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}

	return clone(m), nil
}

func match(q storage.TransactionQuery, m *model.Transaction) bool {
	if q.OwnerID != "" && m.SenderID != q.OwnerID && m.ReceiverID != q.OwnerID {
		return false
	}
	if q.SenderID != "" && m.SenderID != q.SenderID {
		return false
	}
	if q.ReceiverID != "" && m.ReceiverID != q.ReceiverID {
		return false
	}
	if q.Status != "" && m.Status != q.Status {
		return false
	}
	if q.Currency != "" && m.Currency != q.Currency {
		return false
	}
	if q.TransactionHash != "" && m.TransactionHash != q.TransactionHash {
		return false
	}
	if q.Since != nil && m.Timestamp.Before(*q.Since) {
		return false
	}
	if q.Until != nil && m.Timestamp.After(*q.Until) {
		return false
	}
	return true
}

func less(s storage.Sort, a, b *model.Transaction) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		if s == storage.SortOldestFirst {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID.String() < b.ID.String()
}

func clone(m *model.Transaction) *model.Transaction {
	c := *m
	if m.Metadata != nil {
		md := *m.Metadata
		md.Tags = append([]string(nil), m.Metadata.Tags...)
		c.Metadata = &md
	}
	return &c
}
