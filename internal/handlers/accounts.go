package handlers

import (
	"net/http"

	"github.com/rifqisaleh/revoubank/internal/httputil"
	"github.com/rifqisaleh/revoubank/internal/models"
	"github.com/shopspring/decimal"
)

type OpenAccountRequest struct {
	Type           models.AccountType `json:"type"`
	InitialBalance decimal.Decimal    `json:"initial_balance"`
}

type UpdateAccountRequest struct {
	Type models.AccountType `json:"type"`
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	accounts, err := h.Ledger.Accounts(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, accounts)
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var req OpenAccountRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	res, err := h.Ledger.OpenAccount(r.Context(), userID, req.Type, req.InitialBalance)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res.Accounts[0])
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	acc, err := h.Ledger.Account(r.Context(), userID, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req UpdateAccountRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	acc, err := h.Ledger.ChangeAccountType(r.Context(), userID, id, req.Type)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.Ledger.CloseAccount(r.Context(), userID, id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AccountTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	txns, err := h.Ledger.History(r.Context(), userID, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, txns)
}
