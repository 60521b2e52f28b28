package handlers

import (
	"net/http"

	"github.com/rifqisaleh/revoubank/internal/httputil"
	"github.com/rifqisaleh/revoubank/internal/ledger"
	"github.com/rifqisaleh/revoubank/internal/models"
	"github.com/shopspring/decimal"
)

type AmountRequest struct {
	AccountID uint            `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type TransferRequest struct {
	SenderID   uint            `json:"sender_id"`
	ReceiverID uint            `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type ExternalRequest struct {
	AccountID             uint            `json:"account_id"`
	Amount                decimal.Decimal `json:"amount"`
	BankName              string          `json:"bank_name"`
	ExternalAccountNumber string          `json:"external_account_number"`
}

type BalanceView struct {
	AccountID uint            `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

type TransactionResponse struct {
	Transaction models.Transaction `json:"transaction"`
	Balances    []BalanceView      `json:"balances"`
}

// Only balances of accounts the caller owns are echoed back.
func transactionResponse(userID uint, res *ledger.Result) TransactionResponse {
	out := TransactionResponse{Transaction: res.Transaction, Balances: []BalanceView{}}
	for _, a := range res.Accounts {
		if a.UserID == userID {
			out.Balances = append(out.Balances, BalanceView{AccountID: a.ID, Balance: a.Balance})
		}
	}
	return out
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	txns, err := h.Ledger.Transactions(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, txns)
}

// mutate decodes req, runs the ledger call and writes the committed result.
func mutate[T any](h *Handler, w http.ResponseWriter, r *http.Request, call func(userID uint, req T) (*ledger.Result, error)) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var req T
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	res, err := call(userID, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, transactionResponse(userID, res))
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, func(userID uint, req AmountRequest) (*ledger.Result, error) {
		return h.Ledger.Deposit(r.Context(), userID, ledger.DepositInput{AccountID: req.AccountID, Amount: req.Amount})
	})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, func(userID uint, req AmountRequest) (*ledger.Result, error) {
		return h.Ledger.Withdraw(r.Context(), userID, ledger.WithdrawInput{AccountID: req.AccountID, Amount: req.Amount})
	})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, func(userID uint, req TransferRequest) (*ledger.Result, error) {
		return h.Ledger.Transfer(r.Context(), userID, ledger.TransferInput{
			SenderID: req.SenderID, ReceiverID: req.ReceiverID, Amount: req.Amount,
		})
	})
}

func (h *Handler) ExternalDeposit(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, func(userID uint, req ExternalRequest) (*ledger.Result, error) {
		return h.Ledger.ExternalDeposit(r.Context(), userID, ledger.ExternalInput(req))
	})
}

func (h *Handler) ExternalWithdraw(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, func(userID uint, req ExternalRequest) (*ledger.Result, error) {
		return h.Ledger.ExternalWithdraw(r.Context(), userID, ledger.ExternalInput(req))
	})
}
