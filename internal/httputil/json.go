package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rifqisaleh/revoubank/internal/apperr"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error       string           `json:"error"`
	Code        string           `json:"code,omitempty"`
	Required    *decimal.Decimal `json:"required,omitempty"`
	Available   *decimal.Decimal `json:"available,omitempty"`
	LockedUntil *time.Time       `json:"locked_until,omitempty"`
	Retryable   bool             `json:"retryable,omitempty"`
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, ErrorResponse{Error: msg})
}

// WriteAppError renders err with the status of its kind. Storage failures and
// unknown errors are logged and hidden behind a generic message.
func WriteAppError(w http.ResponseWriter, log *zap.Logger, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		log.Error("unhandled error", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := apperr.Status(ae.Kind)
	resp := ErrorResponse{Error: ae.Msg, Code: ae.Kind.String(), Retryable: ae.Retryable()}
	switch ae.Kind {
	case apperr.KindStorage, apperr.KindUnknown:
		log.Error("request failed", zap.String("op", ae.Op), zap.Error(err))
		resp.Error = "internal error"
	case apperr.KindBusy:
		resp.Error = apperr.ErrBusy.Msg
	case apperr.KindInsufficientFunds:
		resp.Required, resp.Available = &ae.Required, &ae.Available
	case apperr.KindAccountLocked:
		resp.LockedUntil = &ae.LockedUntil
	}
	if resp.Error == "" {
		resp.Error = ae.Kind.String()
	}
	WriteJSON(w, status, resp)
}

// DecodeJSON reads a single JSON object from the request body into v.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.New(apperr.KindInvalidInput, "decode request", fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
