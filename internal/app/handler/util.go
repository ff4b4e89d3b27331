package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"io"
	"metalink/internal/app/apperr"
	"metalink/internal/app/model"
	"net/http"
)

const maxBodySize = 1 << 20

// readBody into json struct
func readBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	_ = r.Body.Close()
	if err != nil {
		return fmt.Errorf("body read: %w", err)
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		return apperr.NewValidationError("body", "malformed JSON", err.Error())
	}

	return nil
}

type jsonError struct {
	Message string `json:"error"`
}

// WriteError formatted in json
func WriteError(w http.ResponseWriter, err error, statusCode int) {
	WriteResponse(w, &jsonError{Message: err.Error()}, statusCode)
}

// WriteResponse formatted in json
func WriteResponse(w http.ResponseWriter, v interface{}, statusCode int) {
	resBody, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(resBody)
}

type ValidationErrorResponse struct {
	Errors []FieldError `json:"errors"`
}

type FieldError struct {
	Msg   string `json:"msg"`
	Param string `json:"param"`
	Value string `json:"value"`
}

// writeValidationErrors formatted in json
func writeValidationErrors(w http.ResponseWriter, ve *apperr.ValidationError) {
	out := ValidationErrorResponse{Errors: make([]FieldError, 0, len(ve.Fields))}
	for _, f := range ve.Fields {
		out.Errors = append(out.Errors, FieldError{Msg: f.Msg, Param: f.Field, Value: f.Value})
	}
	WriteResponse(w, out, http.StatusBadRequest)
}

// writeServiceError maps service errors to responses. upstreamStatus is used
// for unavailable dependencies, 502 for the ledger and 503 for rates.
func writeServiceError(w http.ResponseWriter, l zerolog.Logger, err error, upstreamStatus int) {
	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &ve):
		l.Debug().Err(err).Msg("Validation error")
		writeValidationErrors(w, ve)
	case errors.Is(err, apperr.ErrInvalidInput):
		l.Debug().Err(err).Msg("Invalid input")
		WriteError(w, err, http.StatusBadRequest)
	case errors.Is(err, apperr.ErrUnauthorized):
		WriteError(w, apperr.ErrUnauthorized, http.StatusUnauthorized)
	case errors.Is(err, apperr.ErrForbidden):
		l.Debug().Err(err).Msg("Forbidden")
		WriteError(w, apperr.ErrForbidden, http.StatusForbidden)
	case errors.Is(err, apperr.ErrNotFound):
		WriteError(w, apperr.ErrNotFound, http.StatusNotFound)
	case errors.Is(err, apperr.ErrInvalidStateTransition), errors.Is(err, apperr.ErrConflict):
		l.Debug().Err(err).Msg("Conflict")
		WriteError(w, err, http.StatusConflict)
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		l.Warn().Err(err).Msg("Upstream unavailable")
		WriteError(w, err, upstreamStatus)
	default:
		l.Error().Err(err).Msg("Internal error")
		WriteError(w, errors.New("internal error"), http.StatusInternalServerError)
	}
}

type ContextKeyAccount struct{}

// WithAccount stores the authenticated account in ctx.
func WithAccount(ctx context.Context, a *model.Account) context.Context {
	return context.WithValue(ctx, ContextKeyAccount{}, a)
}

func ReadContextAccount(ctx context.Context) (*model.Account, error) {
	v := ctx.Value(ContextKeyAccount{})
	if a, ok := v.(*model.Account); ok && a.ID != "" {
		return a, nil
	}

	return nil, apperr.ErrUnauthorized
}
