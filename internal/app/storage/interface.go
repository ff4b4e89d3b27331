//go:generate mockgen -source=./interface.go -destination=./mock/storage.go -package=storagemock
package storage

import (
	"context"
	"github.com/google/uuid"
	"metalink/internal/app/model"
	"time"
)

// TransactionQuery selects transactions. OwnerID matches either side of a
// transaction, every other non-zero field narrows the selection further.
type TransactionQuery struct {
	OwnerID         string
	SenderID        string
	ReceiverID      string
	Status          model.Status
	Currency        model.Currency
	TransactionHash string
	Since           *time.Time
	Until           *time.Time
}

// Sort order of FindMany results. Timestamp ties are always broken by id ascending.
type Sort int

const (
	SortNewestFirst Sort = iota
	SortOldestFirst
)

// TransactionPatch is applied only when the stored status equals ExpectStatus.
type TransactionPatch struct {
	ExpectStatus    model.Status
	Status          model.Status
	TransactionHash string
}

type TransactionRepository interface {
	// Insert a new model.Transaction
	Insert(ctx context.Context, m *model.Transaction) (uuid.UUID, error)
	// FindMany transactions matching the query
	FindMany(ctx context.Context, q TransactionQuery, sort Sort, skip, limit int) ([]*model.Transaction, error)
	// Count transactions matching the query
	Count(ctx context.Context, q TransactionQuery) (int, error)
	// UpdateByID applies the patch, returns apperr.ErrNotFound when nothing matched
	UpdateByID(ctx context.Context, id uuid.UUID, patch TransactionPatch) (*model.Transaction, error)
	// Read instance of model.Transaction
	Read(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
}
