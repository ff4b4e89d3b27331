package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	pg "github.com/lib/pq"
	"metalink/internal/app/apperr"
	"metalink/internal/app/logger"
	"metalink/internal/app/model"
	"metalink/internal/app/storage"
	"strings"
)

// storage.TransactionRepository interface implementation
var _ storage.TransactionRepository = (*TransactionRepository)(nil)

const transactionColumns = `id, sender_id, receiver_id, amount, currency, status, created_at, transaction_hash, metadata`

type TransactionRepository struct {
	db *sql.DB
}

func (r *TransactionRepository) LoggerComponent() string {
	return "TransactionRepository"
}

func NewTransactionRepository(db *sql.DB) (*TransactionRepository, error) {
	s := &TransactionRepository{
		db: db,
	}
	return s, nil
}

// Insert implementation of interface storage.TransactionRepository
func (r *TransactionRepository) Insert(ctx context.Context, m *model.Transaction) (uuid.UUID, error) {
	l := logger.Get(ctx, r).With().
		Str("method", "Insert").
		Str("transaction_id", m.ID.String()).
		Logger()

	metadata, err := encodeMetadata(m.Metadata)
	if err != nil {
		return uuid.Nil, err
	}

	const SQL = `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
`

	_, err = r.db.ExecContext(ctx, SQL,
		m.ID, m.SenderID, m.ReceiverID, m.Amount, m.Currency, m.Status, m.Timestamp, m.TransactionHash, metadata)
	if err != nil {
		if pgErr, ok := err.(*pg.Error); ok {
			if pgerrcode.IsIntegrityConstraintViolation(string(pgErr.Code)) {
				l.Debug().Err(err).Msg("Duplicate transaction")
				return uuid.Nil, apperr.ErrConflict
			}
		}

		return uuid.Nil, fmt.Errorf("insert: %w", err)
	}

	return m.ID, nil
}

// FindMany implementation of interface storage.TransactionRepository
func (r *TransactionRepository) FindMany(ctx context.Context, q storage.TransactionQuery, s storage.Sort, skip, limit int) ([]*model.Transaction, error) {
	l := logger.Get(ctx, r).With().Str("method", "FindMany").Logger()

	where, args := buildWhere(q)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where + orderBy(s)
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if skip > 0 {
		args = append(args, skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	res := make([]*model.Transaction, 0)
	for rows.Next() {
		m, err := scanTransaction(rows)
		if err != nil {
			l.Debug().Err(err).Send()
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return res, nil
}

// Count implementation of interface storage.TransactionRepository
func (r *TransactionRepository) Count(ctx context.Context, q storage.TransactionQuery) (int, error) {
	where, args := buildWhere(q)

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM transactions`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	return n, nil
}

// UpdateByID implementation of interface storage.TransactionRepository
func (r *TransactionRepository) UpdateByID(ctx context.Context, id uuid.UUID, patch storage.TransactionPatch) (*model.Transaction, error) {
	const SQL = `
		UPDATE transactions
		SET status=$1, transaction_hash=COALESCE(NULLIF($2, ''), transaction_hash)
		WHERE id=$3 AND status=$4
		RETURNING ` + transactionColumns

	m, err := scanTransaction(r.db.QueryRowContext(ctx, SQL, patch.Status, patch.TransactionHash, id, patch.ExpectStatus))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("update: %w", err)
	}

	return m, nil
}

// Read implementation of interface storage.TransactionRepository
func (r *TransactionRepository) Read(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	const SQL = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id=$1
`

	m, err := scanTransaction(r.db.QueryRowContext(ctx, SQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("select: %w", err)
	}

	return m, nil
}

// buildWhere composes the owner OR clause with the remaining AND predicates.
func buildWhere(q storage.TransactionQuery) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.OwnerID != "" {
		args = append(args, q.OwnerID)
		conds = append(conds, fmt.Sprintf("(sender_id=$%[1]d OR receiver_id=$%[1]d)", len(args)))
	}
	if q.SenderID != "" {
		add("sender_id=$%d", q.SenderID)
	}
	if q.ReceiverID != "" {
		add("receiver_id=$%d", q.ReceiverID)
	}
	if q.Status != "" {
		add("status=$%d", string(q.Status))
	}
	if q.Currency != "" {
		add("currency=$%d", string(q.Currency))
	}
	if q.TransactionHash != "" {
		add("transaction_hash=$%d", q.TransactionHash)
	}
	if q.Since != nil {
		add("created_at>=$%d", *q.Since)
	}
	if q.Until != nil {
		add("created_at<=$%d", *q.Until)
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderBy(s storage.Sort) string {
	if s == storage.SortOldestFirst {
		return " ORDER BY created_at ASC, id ASC"
	}
	return " ORDER BY created_at DESC, id ASC"
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*model.Transaction, error) {
	var (
		m        model.Transaction
		hash     sql.NullString
		metadata []byte
	)

	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Amount, &m.Currency, &m.Status, &m.Timestamp, &hash, &metadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	m.Timestamp = m.Timestamp.UTC()
	m.TransactionHash = hash.String
	if len(metadata) > 0 {
		m.Metadata = &model.Metadata{}
		if err := json.Unmarshal(metadata, m.Metadata); err != nil {
			return nil, fmt.Errorf("metadata decode: %w", err)
		}
	}

	return &m, nil
}

func encodeMetadata(md *model.Metadata) (interface{}, error) {
	if md == nil {
		return nil, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("metadata encode: %w", err)
	}
	return string(b), nil
}
