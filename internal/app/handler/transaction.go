package handler

import (
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"metalink/internal/app/apperr"
	"metalink/internal/app/logger"
	"metalink/internal/app/model"
	"metalink/internal/app/service/syncer"
	"metalink/internal/app/service/transaction"
	"net/http"
)

// Confirmer schedules ledger confirmation of submitted transfers.
type Confirmer interface {
	Run(job syncer.Job)
	ConfirmTransfer(id uuid.UUID, hash string) syncer.Job
}

type TransactionHandler struct {
	transactions *transaction.Service
	confirmer    Confirmer
}

func NewTransactionHandler(transactions *transaction.Service, confirmer Confirmer) *TransactionHandler {
	return &TransactionHandler{
		transactions: transactions,
		confirmer:    confirmer,
	}
}

func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.List")
	l.Debug().Send()

	a, err := ReadContextAccount(ctx)
	if err != nil {
		WriteError(w, err, http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	if owner := q.Get("accountId"); owner != "" && owner != a.ID {
		l.Debug().Str("account_id", owner).Msg("Foreign account requested")
		WriteError(w, apperr.ErrForbidden, http.StatusForbidden)
		return
	}

	f, err := transaction.ParseFilter(q)
	if err != nil {
		writeServiceError(w, l.Logger, err, http.StatusServiceUnavailable)
		return
	}

	page, err := h.transactions.List(ctx, a.ID, f)
	if err != nil {
		writeServiceError(w, l.Logger, err, http.StatusServiceUnavailable)
		return
	}

	WriteResponse(w, page, http.StatusOK)
}

func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.Create")
	l.Debug().Send()

	in, ok := h.readTransactionInput(w, r)
	if !ok {
		return
	}

	m, err := h.transactions.Create(ctx, *in)
	if err != nil {
		writeServiceError(w, l.Logger, err, http.StatusBadGateway)
		return
	}

	WriteResponse(w, m, http.StatusCreated)
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.Get")
	l.Debug().Send()

	a, err := ReadContextAccount(ctx)
	if err != nil {
		WriteError(w, err, http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, apperr.ErrNotFound, http.StatusNotFound)
		return
	}

	m, err := h.transactions.Get(ctx, a.ID, id)
	if err != nil {
		writeServiceError(w, l.Logger, err, http.StatusServiceUnavailable)
		return
	}

	WriteResponse(w, m, http.StatusOK)
}

// Transfer submits a ledger transfer and schedules its confirmation.
func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.Transfer")
	l.Debug().Send()

	in, ok := h.readTransactionInput(w, r)
	if !ok {
		return
	}

	m, tr, err := h.transactions.Transfer(ctx, *in)
	if err != nil {
		writeServiceError(w, l.Logger, err, http.StatusBadGateway)
		return
	}

	go h.confirmer.Run(h.confirmer.ConfirmTransfer(m.ID, tr.Hash))

	WriteResponse(w, m, http.StatusAccepted)
}

func (h *TransactionHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.Exchange")
	l.Debug().Send()

	a, err := ReadContextAccount(ctx)
	if err != nil {
		WriteError(w, err, http.StatusUnauthorized)
		return
	}

	in := transaction.ExchangeInput{}
	if err := readBody(r, &in); err != nil {
		writeServiceError(w, l.Logger, err, http.StatusServiceUnavailable)
		return
	}

	m, q, err := h.transactions.Exchange(ctx, a.ID, in)
	if err != nil {
		writeServiceError(w, l.Logger, err, http.StatusServiceUnavailable)
		return
	}

	out := struct {
		Transaction *model.Transaction `json:"transaction"`
		Quote       *model.Quote       `json:"quote"`
	}{m, q}

	WriteResponse(w, out, http.StatusCreated)
}

// readTransactionInput decodes a transaction body sent on behalf of the
// caller. The sender defaults to the caller and may not be anyone else.
func (h *TransactionHandler) readTransactionInput(w http.ResponseWriter, r *http.Request) (*transaction.CreateInput, bool) {
	l := logger.Get(r.Context(), "Handler.Transaction")

	a, err := ReadContextAccount(r.Context())
	if err != nil {
		WriteError(w, err, http.StatusUnauthorized)
		return nil, false
	}

	in := &transaction.CreateInput{}
	if err := readBody(r, in); err != nil {
		writeServiceError(w, l.Logger, err, http.StatusServiceUnavailable)
		return nil, false
	}

	if in.SenderID == "" {
		in.SenderID = a.ID
	}
	if in.SenderID != a.ID {
		l.Debug().Str("account_id", a.ID).Str("sender_id", in.SenderID).Msg("Sender is not the caller")
		WriteError(w, apperr.ErrForbidden, http.StatusForbidden)
		return nil, false
	}

	return in, true
}
