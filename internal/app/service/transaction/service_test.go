package transaction

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"metalink/internal/app/apperr"
	"metalink/internal/app/model"
	"metalink/internal/app/notify"
	"metalink/internal/app/storage"
	"metalink/internal/app/storage/memory"
	storagemock "metalink/internal/app/storage/mock"
	"metalink/pkg/ledger"
	"metalink/pkg/rates"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances a second per call so timestamps are distinct and ordered.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeLedger struct {
	balance   decimal.Decimal
	transfer  *ledger.Transfer
	err       error
	submitted decimal.Decimal
}

func (f *fakeLedger) Balance(context.Context, string) (decimal.Decimal, error) {
	return f.balance, f.err
}

func (f *fakeLedger) Network(context.Context) (*ledger.Network, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.Network{ChainID: "0xaa36a7", Name: "Sepolia Testnet"}, nil
}

func (f *fakeLedger) SubmitTransfer(_ context.Context, _, _ string, amount decimal.Decimal, _ string) (*ledger.Transfer, error) {
	f.submitted = amount
	return f.transfer, f.err
}

type fakeRates struct {
	rate decimal.Decimal
	err  error
}

func (f *fakeRates) FiatRate(_ context.Context, from, to string) (*rates.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &rates.Quote{From: from, To: to, Rate: f.rate, FetchedAt: time.Now()}, nil
}

func (f *fakeRates) FiatToCrypto(_ context.Context, amount decimal.Decimal, _, _ string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return amount.Div(f.rate), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newService(opts ...Option) (*Service, *memory.TransactionRepository) {
	repo := memory.NewTransactionRepository()
	clock := &stepClock{now: time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(repo, opts...), repo
}

func validInput() CreateInput {
	return CreateInput{
		SenderID:   "A",
		ReceiverID: "B",
		Amount:     decimal.NewFromInt(100),
		Currency:   model.USD,
	}
}

func TestService_CreateAndComplete(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s, _ := newService(WithPublisher(pub))

	m, err := s.Create(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, m.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(m.Amount))
	assert.Equal(t, model.USD, m.Currency)
	assert.NotEqual(t, uuid.Nil, m.ID)

	_, err = s.UpdateStatus(ctx, m.ID, model.StatusCompleted, "0xabc")
	require.NoError(t, err)

	page, err := s.List(ctx, "A", DefaultFilter())
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, m.ID, page.Data[0].ID)
	assert.Equal(t, model.StatusCompleted, page.Data[0].Status)
	assert.Equal(t, "0xabc", page.Data[0].TransactionHash)

	require.Len(t, pub.events, 2)
	assert.Equal(t, notify.EventTransactionCreated, pub.events[0].Type)
	assert.Equal(t, notify.EventTransactionStatusChanged, pub.events[1].Type)
}

func TestService_CreateSetsTimestamp(t *testing.T) {
	s := New(memory.NewTransactionRepository())

	before := time.Now()
	m, err := s.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.WithinDuration(t, before, m.Timestamp, time.Second)
	assert.Equal(t, time.UTC, m.Timestamp.Location())
}

func TestService_CreateUniqueIDs(t *testing.T) {
	s, _ := newService()
	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 50; i++ {
		m, err := s.Create(context.Background(), validInput())
		require.NoError(t, err)
		assert.False(t, seen[m.ID])
		seen[m.ID] = true
	}
}

func TestService_CreateValidationPerformsNoWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := storagemock.NewMockTransactionRepository(ctrl)
	repo.EXPECT().Insert(gomock.Any(), gomock.Any()).Times(0)
	s := New(repo)

	cases := map[string]func(in *CreateInput){
		"zero amount":      func(in *CreateInput) { in.Amount = decimal.Zero },
		"negative amount":  func(in *CreateInput) { in.Amount = decimal.NewFromInt(-5) },
		"missing sender":   func(in *CreateInput) { in.SenderID = "" },
		"missing receiver": func(in *CreateInput) { in.ReceiverID = "" },
		"unsupported":      func(in *CreateInput) { in.Currency = "XYZ" },
		"missing currency": func(in *CreateInput) { in.Currency = "" },
		"too many tags": func(in *CreateInput) {
			in.Metadata = &model.Metadata{Tags: make([]string, 17)}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := s.Create(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestService_CreateValidationFields(t *testing.T) {
	s, _ := newService()
	_, err := s.Create(context.Background(), CreateInput{Amount: decimal.NewFromInt(-1), Currency: "XYZ"})

	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))

	fields := make(map[string]string)
	for _, f := range ve.Fields {
		fields[f.Field] = f.Msg
	}
	assert.Equal(t, "is required", fields["senderId"])
	assert.Equal(t, "is required", fields["receiverId"])
	assert.Equal(t, "unsupported currency", fields["currency"])
	assert.Equal(t, "must be greater than zero", fields["amount"])
}

func TestService_CreateStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := storagemock.NewMockTransactionRepository(ctrl)
	repo.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(uuid.Nil, errors.New("connection refused"))

	_, err := New(repo).Create(context.Background(), validInput())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestService_PaginationPartition(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	const n = 37
	for i := 0; i < n; i++ {
		in := validInput()
		if i%3 == 0 {
			in.SenderID, in.ReceiverID = "C", "A"
		}
		_, err := s.Create(ctx, in)
		require.NoError(t, err)
	}
	// unrelated account
	_, err := s.Create(ctx, CreateInput{SenderID: "X", ReceiverID: "Y", Amount: decimal.NewFromInt(1), Currency: model.EUR})
	require.NoError(t, err)

	f := DefaultFilter()
	f.PageSize = 5
	seen := make(map[uuid.UUID]bool)
	var last time.Time
	for page := 1; page <= 8; page++ {
		f.Page = page
		p, err := s.List(ctx, "A", f)
		require.NoError(t, err)
		assert.Equal(t, n, p.Total)
		assert.Equal(t, 8, p.TotalPages)
		assert.Equal(t, page < 8, p.HasMore)
		for _, m := range p.Data {
			assert.False(t, seen[m.ID])
			seen[m.ID] = true
			if !last.IsZero() {
				assert.False(t, m.Timestamp.After(last), "sorted newest first")
			}
			last = m.Timestamp
		}
	}
	assert.Len(t, seen, n)

	f.Page = 9
	p, err := s.List(ctx, "A", f)
	require.NoError(t, err)
	assert.Empty(t, p.Data)
	assert.False(t, p.HasMore)
}

func TestService_ListPageBeyondEnd(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()
	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, validInput())
		require.NoError(t, err)
	}

	f := DefaultFilter()
	f.PageSize = 4
	f.Page = MaxPage
	p, err := s.List(ctx, "A", f)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 1, p.TotalPages)
	assert.Empty(t, p.Data)
	assert.False(t, p.HasMore)

	f.Page = 4611686018427387904
	_, err = s.List(ctx, "A", f)
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "page", ve.Fields[0].Field)
}

func TestService_ListFilters(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	mk := func(sender, receiver string, cur model.Currency, status model.Status) *model.Transaction {
		m, err := s.Create(ctx, CreateInput{SenderID: sender, ReceiverID: receiver, Amount: decimal.NewFromInt(1), Currency: cur})
		require.NoError(t, err)
		if status != model.StatusPending {
			m, err = s.UpdateStatus(ctx, m.ID, status, "")
			require.NoError(t, err)
		}
		return m
	}

	first := mk("A", "B", model.USD, model.StatusCompleted)
	mk("A", "B", model.EUR, model.StatusCompleted)
	mk("B", "A", model.USD, model.StatusCompleted)
	mk("A", "C", model.USD, model.StatusFailed)
	last := mk("C", "A", model.USD, model.StatusPending)

	list := func(mut func(f *Filter)) []*model.Transaction {
		f := DefaultFilter()
		mut(&f)
		p, err := s.List(ctx, "A", f)
		require.NoError(t, err)
		return p.Data
	}

	for _, m := range list(func(f *Filter) { f.Status = model.StatusCompleted }) {
		assert.Equal(t, model.StatusCompleted, m.Status)
	}
	assert.Len(t, list(func(f *Filter) { f.Status = model.StatusCompleted }), 3)

	both := list(func(f *Filter) { f.Status = model.StatusCompleted; f.Currency = model.USD })
	assert.Len(t, both, 2)
	for _, m := range both {
		assert.Equal(t, model.USD, m.Currency)
		assert.Equal(t, model.StatusCompleted, m.Status)
	}

	sent := list(func(f *Filter) { f.Type = model.DirectionSent })
	assert.Len(t, sent, 3)
	for _, m := range sent {
		assert.Equal(t, "A", m.SenderID)
	}
	assert.Len(t, list(func(f *Filter) { f.Type = model.DirectionReceived }), 2)

	start, end := first.Timestamp, first.Timestamp
	assert.Len(t, list(func(f *Filter) { f.StartDate = &start; f.EndDate = &end }), 1)

	since := last.Timestamp
	got := list(func(f *Filter) { f.StartDate = &since })
	require.Len(t, got, 1)
	assert.Equal(t, last.ID, got[0].ID)

	oldest := list(func(f *Filter) { f.Sort = SortOldest })
	require.Len(t, oldest, 5)
	assert.Equal(t, first.ID, oldest[0].ID)
	assert.Equal(t, last.ID, oldest[4].ID)

	settled, err := s.UpdateStatus(ctx, last.ID, model.StatusCompleted, "0xfeed")
	require.NoError(t, err)
	byHash := list(func(f *Filter) { f.Hash = "0xfeed" })
	require.Len(t, byHash, 1)
	assert.Equal(t, settled.ID, byHash[0].ID)
	assert.Empty(t, list(func(f *Filter) { f.Hash = "0xmissing" }))
}

func TestService_ListValidation(t *testing.T) {
	s, _ := newService()
	now := time.Now()
	earlier := now.Add(-time.Hour)

	cases := map[string]func(f *Filter){
		"page zero":          func(f *Filter) { f.Page = 0 },
		"page size zero":     func(f *Filter) { f.PageSize = 0 },
		"page size over max": func(f *Filter) { f.PageSize = 101 },
		"bad status":         func(f *Filter) { f.Status = "settled" },
		"bad currency":       func(f *Filter) { f.Currency = "XYZ" },
		"bad type":           func(f *Filter) { f.Type = "exchange" },
		"page over max":      func(f *Filter) { f.Page = MaxPage + 1 },
		"bad sort":           func(f *Filter) { f.Sort = "random" },
		"inverted dates":     func(f *Filter) { f.StartDate = &now; f.EndDate = &earlier },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			f := DefaultFilter()
			mut(&f)
			_, err := s.List(context.Background(), "A", f)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}

	f := DefaultFilter()
	f.PageSize = 100
	_, err := s.List(context.Background(), "A", f)
	assert.NoError(t, err)

	_, err = s.List(context.Background(), "", DefaultFilter())
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestService_UpdateStatusTransitions(t *testing.T) {
	ctx := context.Background()
	s, repo := newService()

	m, err := s.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, m.ID, model.StatusCompleted, "")
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, m.ID, model.StatusFailed, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	stored, err := repo.Read(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)

	_, err = s.UpdateStatus(ctx, m.ID, model.StatusPending, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = s.UpdateStatus(ctx, uuid.New(), model.StatusCompleted, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_UpdateStatusIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	m, err := s.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, m.ID, model.StatusCompleted, "0xabc")
	require.NoError(t, err)

	again, err := s.UpdateStatus(ctx, m.ID, model.StatusCompleted, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", again.TransactionHash)

	_, err = s.UpdateStatus(ctx, m.ID, model.StatusCompleted, "")
	assert.NoError(t, err)

	_, err = s.UpdateStatus(ctx, m.ID, model.StatusCompleted, "0xother")
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
}

func TestService_UpdateStatusConcurrent(t *testing.T) {
	ctx := context.Background()
	s, repo := newService()

	m, err := s.Create(ctx, validInput())
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := model.StatusCompleted
			if i%2 == 1 {
				status = model.StatusFailed
			}
			hash := uuid.NewString()
			if _, err := s.UpdateStatus(ctx, m.ID, status, hash); err == nil {
				mu.Lock()
				wins = append(wins, hash)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	stored, err := repo.Read(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, wins[0], stored.TransactionHash)
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	m, err := s.Create(ctx, validInput())
	require.NoError(t, err)

	got, err := s.Get(ctx, "B", m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = s.Get(ctx, "Z", m.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_Transfer(t *testing.T) {
	ctx := context.Background()
	l := &fakeLedger{transfer: &ledger.Transfer{Hash: "0xhash", Status: ledger.StatusPending}}
	s, _ := newService(WithLedger(l), WithRates(&fakeRates{rate: decimal.NewFromInt(2000)}))

	in := validInput()
	in.Amount = decimal.NewFromInt(1000)
	m, tr, err := s.Transfer(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, m.Status)
	assert.Equal(t, "0xhash", tr.Hash)
	assert.Equal(t, "0.5", l.submitted.String())
}

func TestService_TransferLedgerFailure(t *testing.T) {
	ctx := context.Background()
	l := &fakeLedger{err: ledger.ErrUnavailable}
	s, repo := newService(WithLedger(l), WithRates(&fakeRates{rate: decimal.NewFromInt(1)}))

	_, _, err := s.Transfer(ctx, validInput())
	require.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)

	failed, err := repo.Count(ctx, storage.TransactionQuery{Status: model.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
}

func TestService_TransferRatesFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, repo := newService(WithLedger(&fakeLedger{}), WithRates(&fakeRates{err: rates.ErrUnavailable}))

	_, _, err := s.Transfer(ctx, validInput())
	require.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)

	n, err := repo.Count(ctx, storage.TransactionQuery{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_Exchange(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(WithRates(&fakeRates{rate: decimal.RequireFromString("16")}))

	m, q, err := s.Exchange(ctx, "A", ExchangeInput{From: model.BRL, To: model.INR, Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, m.Status)
	assert.Equal(t, "A", m.SenderID)
	assert.Equal(t, "A", m.ReceiverID)
	assert.Equal(t, model.BRL, m.Currency)
	require.NotNil(t, m.Metadata)
	assert.Equal(t, model.CategoryExchange, m.Metadata.Category)
	assert.Equal(t, "100 BRL to 1600.00 INR", m.Metadata.Description)
	assert.True(t, decimal.NewFromInt(16).Equal(q.Rate))

	_, _, err = s.Exchange(ctx, "A", ExchangeInput{From: model.BRL, To: model.BRL, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, _, err = s.Exchange(ctx, "A", ExchangeInput{From: model.BRL, To: model.INR})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestService_QuoteUpstream(t *testing.T) {
	s, _ := newService(WithRates(&fakeRates{err: rates.ErrUnavailable}))

	_, err := s.Quote(context.Background(), model.USD, model.EUR)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)

	_, err = s.Quote(context.Background(), model.USD, "XYZ")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestService_Convert(t *testing.T) {
	s, _ := newService(WithRates(&fakeRates{rate: decimal.RequireFromString("0.9")}))

	out, q, err := s.Convert(context.Background(), decimal.RequireFromString("10.5"), model.USD, model.EUR)
	require.NoError(t, err)
	assert.Equal(t, "9.45", out.String())
	assert.Equal(t, model.EUR, q.To)

	_, _, err = s.Convert(context.Background(), decimal.Zero, model.USD, model.EUR)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestService_Balance(t *testing.T) {
	s, _ := newService(WithLedger(&fakeLedger{balance: decimal.RequireFromString("1.25")}))

	b, err := s.Balance(context.Background(), "0xA")
	require.NoError(t, err)
	assert.Equal(t, "1.25", b.Amount.String())
	assert.Equal(t, "ETH", b.Currency)

	s, _ = newService()
	_, err = s.Balance(context.Background(), "0xA")
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

func TestService_Network(t *testing.T) {
	s, _ := newService(WithLedger(&fakeLedger{}))
	n, err := s.Network(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sepolia Testnet", n.Name)

	s, _ = newService(WithLedger(&fakeLedger{err: ledger.ErrUnavailable}))
	_, err = s.Network(context.Background())
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFilter(), f)

	f, err = ParseFilter(url.Values{
		"page":      {"3"},
		"limit":     {"20"},
		"status":    {"failed"},
		"currency":  {"INR"},
		"type":      {"received"},
		"hash":      {"0xabc"},
		"sort":      {"oldest"},
		"startDate": {"2024-04-01"},
		"endDate":   {"2024-04-02"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, f.Page)
	assert.Equal(t, 20, f.PageSize)
	assert.Equal(t, model.StatusFailed, f.Status)
	assert.Equal(t, model.INR, f.Currency)
	assert.Equal(t, model.DirectionReceived, f.Type)
	assert.Equal(t, "0xabc", f.Hash)
	assert.Equal(t, SortOldest, f.Sort)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), *f.StartDate)
	assert.Equal(t, time.Date(2024, 4, 2, 23, 59, 59, 999999999, time.UTC), *f.EndDate)

	f, err = ParseFilter(url.Values{"pageSize": {"15"}, "limit": {"20"}})
	require.NoError(t, err)
	assert.Equal(t, 15, f.PageSize)

	_, err = ParseFilter(url.Values{"page": {"two"}, "startDate": {"yesterday"}})
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 2)
}
