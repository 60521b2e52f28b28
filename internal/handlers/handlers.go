package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rifqisaleh/revoubank/internal/apperr"
	"github.com/rifqisaleh/revoubank/internal/auth"
	"github.com/rifqisaleh/revoubank/internal/httputil"
	"github.com/rifqisaleh/revoubank/internal/ledger"
	"github.com/rifqisaleh/revoubank/internal/middleware"
	"go.uber.org/zap"
)

type Handler struct {
	Auth   *auth.Service
	Tokens *auth.TokenIssuer
	Ledger *ledger.Engine
	Log    *zap.Logger
}

func New(a *auth.Service, tokens *auth.TokenIssuer, l *ledger.Engine, log *zap.Logger) *Handler {
	return &Handler{Auth: a, Tokens: tokens, Ledger: l, Log: log}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actor returns the authenticated user id; the auth middleware guarantees it.
func actor(w http.ResponseWriter, r *http.Request) (uint, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	return p.UserID, true
}

func idParam(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.New(apperr.KindInvalidInput, "parse path", name+" must be a positive integer")
	}
	return uint(id), nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httputil.WriteAppError(w, h.Log, err)
}
