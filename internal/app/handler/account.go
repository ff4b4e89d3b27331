package handler

import (
	"github.com/shopspring/decimal"
	"metalink/internal/app/apperr"
	"metalink/internal/app/logger"
	"metalink/internal/app/model"
	"metalink/internal/app/service/transaction"
	"net/http"
	"strings"
)

type AccountHandler struct {
	transactions *transaction.Service
}

func NewAccountHandler(transactions *transaction.Service) *AccountHandler {
	return &AccountHandler{
		transactions: transactions,
	}
}

// Balance of the caller's wallet.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Account.Balance")
	l.Debug().Send()

	a, err := ReadContextAccount(ctx)
	if err != nil {
		WriteError(w, err, http.StatusUnauthorized)
		return
	}

	b, err := h.transactions.Balance(ctx, a.ID)
	if err != nil {
		writeServiceError(w, l.Logger, err, http.StatusBadGateway)
		return
	}

	WriteResponse(w, b, http.StatusOK)
}

// Network the ledger provider is connected to.
func (h *AccountHandler) Network(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Account.Network")
	l.Debug().Send()

	n, err := h.transactions.Network(ctx)
	if err != nil {
		writeServiceError(w, l.Logger, err, http.StatusBadGateway)
		return
	}

	WriteResponse(w, n, http.StatusOK)
}

// Rates returns the quote between two currencies, converting amount when given.
func (h *AccountHandler) Rates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Account.Rates")
	l.Debug().Send()

	q := r.URL.Query()
	from := model.Currency(strings.ToUpper(q.Get("from")))
	to := model.Currency(strings.ToUpper(q.Get("to")))

	raw := q.Get("amount")
	if raw == "" {
		quote, err := h.transactions.Quote(ctx, from, to)
		if err != nil {
			writeServiceError(w, l.Logger, err, http.StatusServiceUnavailable)
			return
		}
		WriteResponse(w, quote, http.StatusOK)
		return
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		writeValidationErrors(w, apperr.NewValidationError("amount", "must be a decimal number", raw))
		return
	}

	converted, quote, err := h.transactions.Convert(ctx, amount, from, to)
	if err != nil {
		writeServiceError(w, l.Logger, err, http.StatusServiceUnavailable)
		return
	}

	out := struct {
		*model.Quote
		Amount    decimal.Decimal `json:"amount"`
		Converted decimal.Decimal `json:"converted"`
	}{quote, amount, converted}

	WriteResponse(w, out, http.StatusOK)
}
