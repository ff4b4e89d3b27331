package transaction

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"metalink/internal/app/apperr"
	"metalink/internal/app/logger"
	"metalink/internal/app/model"
	"metalink/internal/app/notify"
	"metalink/internal/app/storage"
	"metalink/pkg/ledger"
	"metalink/pkg/rates"
	"time"
)

// Asset the ledger settles transfers in.
const ledgerAsset = "ethereum"

// Ledger is the subset of the wallet provider client the service uses.
type Ledger interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	SubmitTransfer(ctx context.Context, from, to string, amount decimal.Decimal, currency string) (*ledger.Transfer, error)
	Network(ctx context.Context) (*ledger.Network, error)
}

// Rates is the subset of the rate lookup client the service uses.
type Rates interface {
	FiatRate(ctx context.Context, from, to string) (*rates.Quote, error)
	FiatToCrypto(ctx context.Context, amount decimal.Decimal, from, asset string) (decimal.Decimal, error)
}

type CreateInput struct {
	SenderID   string          `json:"senderId" validate:"required,max=128"`
	ReceiverID string          `json:"receiverId" validate:"required,max=128"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   model.Currency  `json:"currency" validate:"required,currency"`
	Metadata   *model.Metadata `json:"metadata"`
}

type ExchangeInput struct {
	From   model.Currency  `json:"from" validate:"required,currency"`
	To     model.Currency  `json:"to" validate:"required,currency,nefield=From"`
	Amount decimal.Decimal `json:"amount"`
}

// Page of transactions, newest first.
type Page struct {
	Data       []*model.Transaction `json:"data"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"pageSize"`
	TotalPages int                  `json:"totalPages"`
	HasMore    bool                 `json:"hasMore"`
}

// Service owns every transaction invariant. It keeps no state between calls.
type Service struct {
	transactions storage.TransactionRepository
	ledger       Ledger
	rates        Rates
	events       notify.Publisher
	validate     *validator.Validate
	now          func() time.Time
}

func (s *Service) LoggerComponent() string {
	return "Transaction.Service"
}

type Option func(*Service)

func WithLedger(l Ledger) Option {
	return func(s *Service) {
		s.ledger = l
	}
}

func WithRates(r Rates) Option {
	return func(s *Service) {
		s.rates = r
	}
}

func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(transactions storage.TransactionRepository, opts ...Option) *Service {
	s := &Service{
		transactions: transactions,
		events:       notify.Nop{},
		validate:     newValidator(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates and persists a pending transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Transaction, error) {
	if err := s.validateCreate(in); err != nil {
		return nil, err
	}
	return s.insert(ctx, in, model.StatusPending)
}

// List returns one page of the transactions where accountID is sender or receiver.
func (s *Service) List(ctx context.Context, accountID string, f Filter) (*Page, error) {
	l := logger.Get(ctx, s).With().Str("method", "List").Str("account_id", accountID).Logger()

	if accountID == "" {
		return nil, apperr.ErrUnauthorized
	}

	ve := &apperr.ValidationError{}
	check(s.validate, f, ve)
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		ve.Add("startDate", "must not be after endDate", f.StartDate.Format(time.RFC3339))
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	q := storage.TransactionQuery{
		OwnerID:         accountID,
		Status:          f.Status,
		Currency:        f.Currency,
		TransactionHash: f.Hash,
		Since:           f.StartDate,
		Until:           f.EndDate,
	}
	switch f.Type {
	case model.DirectionSent:
		q.SenderID = accountID
	case model.DirectionReceived:
		q.ReceiverID = accountID
	}

	total, err := s.transactions.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	order := storage.SortNewestFirst
	if f.Sort == SortOldest {
		order = storage.SortOldestFirst
	}

	totalPages := (total + f.PageSize - 1) / f.PageSize
	data := make([]*model.Transaction, 0)
	if f.Page <= totalPages {
		data, err = s.transactions.FindMany(ctx, q, order, (f.Page-1)*f.PageSize, f.PageSize)
		if err != nil {
			return nil, fmt.Errorf("find: %w", err)
		}
	}

	l.Debug().Int("total", total).Int("page", f.Page).Int("returned", len(data)).Send()

	return &Page{
		Data:       data,
		Total:      total,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalPages: totalPages,
		HasMore:    f.Page < totalPages,
	}, nil
}

// Get returns a transaction visible to accountID. Foreign transactions are
// reported as not found.
func (s *Service) Get(ctx context.Context, accountID string, id uuid.UUID) (*model.Transaction, error) {
	m, err := s.transactions.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SenderID != accountID && m.ReceiverID != accountID {
		return nil, apperr.ErrNotFound
	}
	return m, nil
}

// UpdateStatus moves a pending transaction to a terminal status. Repeating
// the transition that already happened is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status, hash string) (*model.Transaction, error) {
	l := logger.Get(ctx, s).With().
		Str("method", "UpdateStatus").
		Str("transaction_id", id.String()).
		Str("status", string(status)).
		Logger()

	if !status.Terminal() {
		return nil, apperr.NewValidationError("status", "must be one of: completed, failed", string(status))
	}

	m, err := s.transactions.UpdateByID(ctx, id, storage.TransactionPatch{
		ExpectStatus:    model.StatusPending,
		Status:          status,
		TransactionHash: hash,
	})
	if err == nil {
		l.Info().Str("hash", hash).Msg("Status updated")
		s.publish(ctx, notify.EventTransactionStatusChanged, m)
		return m, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("update: %w", err)
	}

	cur, err := s.transactions.Read(ctx, id)
	if err != nil {
		return nil, err
	}

	if cur.Status == status && (hash == "" || hash == cur.TransactionHash) {
		l.Debug().Msg("Status already applied")
		return cur, nil
	}

	l.Debug().Str("current_status", string(cur.Status)).Msg("Rejected status transition")

	return nil, fmt.Errorf("%w: %s to %s", apperr.ErrInvalidStateTransition, cur.Status, status)
}

// Transfer records a pending transaction and submits the equivalent ledger
// transfer. The caller is responsible for confirming it with the returned hash.
func (s *Service) Transfer(ctx context.Context, in CreateInput) (*model.Transaction, *ledger.Transfer, error) {
	l := logger.Get(ctx, s).With().Str("method", "Transfer").Logger()

	if s.ledger == nil || s.rates == nil {
		return nil, nil, fmt.Errorf("ledger: %w", apperr.ErrUpstreamUnavailable)
	}
	if err := s.validateCreate(in); err != nil {
		return nil, nil, err
	}

	value, err := s.rates.FiatToCrypto(ctx, in.Amount, string(in.Currency), ledgerAsset)
	if err != nil {
		l.Error().Err(err).Msg("Conversion failed")
		return nil, nil, fmt.Errorf("exchange rate lookup: %w", apperr.ErrUpstreamUnavailable)
	}

	m, err := s.insert(ctx, in, model.StatusPending)
	if err != nil {
		return nil, nil, err
	}

	tr, err := s.ledger.SubmitTransfer(ctx, in.SenderID, in.ReceiverID, value, "ETH")
	if err != nil {
		l.Error().Err(err).Str("transaction_id", m.ID.String()).Msg("Transfer submission failed")
		if _, uerr := s.UpdateStatus(ctx, m.ID, model.StatusFailed, ""); uerr != nil {
			l.Error().Err(uerr).Msg("Marking transaction failed")
		}
		return nil, nil, fmt.Errorf("ledger: %w", apperr.ErrUpstreamUnavailable)
	}

	l.Info().Str("transaction_id", m.ID.String()).Str("hash", tr.Hash).Str("value", value.String()).Msg("Transfer submitted")

	return m, tr, nil
}

// Exchange records a completed self transaction converting between two fiat currencies.
func (s *Service) Exchange(ctx context.Context, accountID string, in ExchangeInput) (*model.Transaction, *model.Quote, error) {
	l := logger.Get(ctx, s).With().Str("method", "Exchange").Str("account_id", accountID).Logger()

	ve := &apperr.ValidationError{}
	check(s.validate, in, ve)
	if !in.Amount.IsPositive() {
		ve.Add("amount", "must be greater than zero", in.Amount.String())
	}
	if err := ve.OrNil(); err != nil {
		return nil, nil, err
	}

	q, err := s.Quote(ctx, in.From, in.To)
	if err != nil {
		return nil, nil, err
	}
	received := in.Amount.Mul(q.Rate).Round(2)

	m, err := s.insert(ctx, CreateInput{
		SenderID:   accountID,
		ReceiverID: accountID,
		Amount:     in.Amount,
		Currency:   in.From,
		Metadata: &model.Metadata{
			Description: fmt.Sprintf("%s %s to %s %s", in.Amount, in.From, received.StringFixed(2), in.To),
			Category:    model.CategoryExchange,
			Tags:        []string{string(in.From), string(in.To)},
		},
	}, model.StatusCompleted)
	if err != nil {
		return nil, nil, err
	}

	l.Info().Str("transaction_id", m.ID.String()).Str("received", received.String()).Msg("Exchange completed")

	return m, q, nil
}

// Quote returns the current rate between two supported currencies.
func (s *Service) Quote(ctx context.Context, from, to model.Currency) (*model.Quote, error) {
	ve := &apperr.ValidationError{}
	if !from.Supported() {
		ve.Add("from", "unsupported currency", string(from))
	}
	if !to.Supported() {
		ve.Add("to", "unsupported currency", string(to))
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	if s.rates == nil {
		return nil, fmt.Errorf("exchange rate lookup: %w", apperr.ErrUpstreamUnavailable)
	}

	q, err := s.rates.FiatRate(ctx, string(from), string(to))
	if err != nil {
		l := logger.Get(ctx, s)
		l.Error().Err(err).Str("from", string(from)).Str("to", string(to)).Msg("Rate lookup failed")
		return nil, fmt.Errorf("exchange rate lookup: %w", apperr.ErrUpstreamUnavailable)
	}

	return &model.Quote{From: from, To: to, Rate: q.Rate, FetchedAt: q.FetchedAt}, nil
}

// Convert an amount between two supported currencies at the current rate.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to model.Currency) (decimal.Decimal, *model.Quote, error) {
	if !amount.IsPositive() {
		return decimal.Zero, nil, apperr.NewValidationError("amount", "must be greater than zero", amount.String())
	}
	q, err := s.Quote(ctx, from, to)
	if err != nil {
		return decimal.Zero, nil, err
	}
	return amount.Mul(q.Rate).Round(2), q, nil
}

// Balance of the account wallet as reported by the ledger.
func (s *Service) Balance(ctx context.Context, accountID string) (*model.Balance, error) {
	if s.ledger == nil {
		return nil, fmt.Errorf("ledger: %w", apperr.ErrUpstreamUnavailable)
	}

	amount, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		l := logger.Get(ctx, s)
		l.Error().Err(err).Str("account_id", accountID).Msg("Balance lookup failed")
		return nil, fmt.Errorf("ledger: %w", apperr.ErrUpstreamUnavailable)
	}

	return &model.Balance{Address: accountID, Currency: "ETH", Amount: amount}, nil
}

// Network the ledger provider is connected to.
func (s *Service) Network(ctx context.Context) (*ledger.Network, error) {
	if s.ledger == nil {
		return nil, fmt.Errorf("ledger: %w", apperr.ErrUpstreamUnavailable)
	}

	n, err := s.ledger.Network(ctx)
	if err != nil {
		l := logger.Get(ctx, s)
		l.Error().Err(err).Msg("Network lookup failed")
		return nil, fmt.Errorf("ledger: %w", apperr.ErrUpstreamUnavailable)
	}

	return n, nil
}

func (s *Service) validateCreate(in CreateInput) error {
	ve := &apperr.ValidationError{}
	check(s.validate, in, ve)
	if !in.Amount.IsPositive() {
		ve.Add("amount", "must be greater than zero", in.Amount.String())
	}
	return ve.OrNil()
}

func (s *Service) insert(ctx context.Context, in CreateInput, status model.Status) (*model.Transaction, error) {
	m := &model.Transaction{
		ID:         uuid.New(),
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Amount:     in.Amount,
		Currency:   in.Currency,
		Status:     status,
		Timestamp:  s.now().UTC().Truncate(time.Microsecond),
		Metadata:   in.Metadata,
	}

	if _, err := s.transactions.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	s.publish(ctx, notify.EventTransactionCreated, m)

	return m, nil
}

func (s *Service) publish(ctx context.Context, t notify.EventType, m *model.Transaction) {
	err := s.events.Publish(ctx, notify.Event{Type: t, Transaction: m, OccurredAt: s.now()})
	if err != nil {
		l := logger.Get(ctx, s)
		l.Warn().Err(err).Str("event", string(t)).Msg("Event not published")
	}
}
