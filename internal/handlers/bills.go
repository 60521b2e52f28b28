package handlers

import (
	"net/http"
	"time"

	"github.com/rifqisaleh/revoubank/internal/httputil"
	"github.com/rifqisaleh/revoubank/internal/ledger"
	"github.com/rifqisaleh/revoubank/internal/models"
	"github.com/shopspring/decimal"
)

type CreateBillRequest struct {
	AccountID  uint            `json:"account_id"`
	BillerName string          `json:"biller_name"`
	DueDate    time.Time       `json:"due_date"`
	Amount     decimal.Decimal `json:"amount"`
}

type UpdateBillRequest struct {
	BillerName *string          `json:"biller_name"`
	DueDate    *time.Time       `json:"due_date"`
	Amount     *decimal.Decimal `json:"amount"`
}

// PayBillRequest pays a registered bill when bill_id is set; otherwise the
// remaining fields describe a one-off payment.
type PayBillRequest struct {
	BillID        uint                 `json:"bill_id"`
	AccountID     uint                 `json:"account_id"`
	BillerName    string               `json:"biller_name"`
	Amount        decimal.Decimal      `json:"amount"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	CardNumber    string               `json:"card_number"`
}

func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	bills, err := h.Ledger.Bills(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bills)
}

func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var req CreateBillRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	bill, err := h.Ledger.CreateBill(r.Context(), userID, ledger.BillInput(req))
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, bill)
}

func (h *Handler) PayBill(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, func(userID uint, req PayBillRequest) (*ledger.Result, error) {
		return h.Ledger.PayBill(r.Context(), userID, ledger.BillPaymentInput{
			BillID:     req.BillID,
			AccountID:  req.AccountID,
			BillerName: req.BillerName,
			Amount:     req.Amount,
			Method:     req.PaymentMethod,
			CardNumber: req.CardNumber,
		})
	})
}

func (h *Handler) UpdateBill(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req UpdateBillRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	bill, err := h.Ledger.UpdateBill(r.Context(), userID, id, ledger.BillUpdate(req))
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bill)
}

func (h *Handler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.Ledger.DeleteBill(r.Context(), userID, id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
