// Package ledger applies balance-changing instructions to accounts and
// records each one as an immutable transaction.
//
// Every operation runs in a single store unit of work: the touched account
// rows are locked in ascending id order, balances and the transaction row
// (plus the bill row for bill payments) are written together, and a failure
// at any step leaves nothing behind. Operations are not idempotent; each call
// writes a new transaction.
package ledger

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rifqisaleh/revoubank/internal/apperr"
	"github.com/rifqisaleh/revoubank/internal/clock"
	"github.com/rifqisaleh/revoubank/internal/models"
	"github.com/rifqisaleh/revoubank/internal/notify"
	"github.com/rifqisaleh/revoubank/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var cardPattern = regexp.MustCompile(`^4\d{15}$`)

type Engine struct {
	store    store.Store
	clock    clock.Clock
	notifier notify.Notifier
	log      *zap.Logger
}

func NewEngine(s store.Store, c clock.Clock, n notify.Notifier, log *zap.Logger) *Engine {
	if n == nil {
		n = notify.Nop{}
	}
	return &Engine{store: s, clock: c, notifier: n, log: log}
}

type DepositInput struct {
	AccountID uint
	Amount    decimal.Decimal
}

type WithdrawInput struct {
	AccountID uint
	Amount    decimal.Decimal
}

type TransferInput struct {
	SenderID   uint
	ReceiverID uint
	Amount     decimal.Decimal
}

// ExternalInput moves money between an account here and one at another bank.
type ExternalInput struct {
	AccountID             uint
	Amount                decimal.Decimal
	BankName              string
	ExternalAccountNumber string
}

// BillPaymentInput pays a registered bill when BillID is set; the amount and
// source account then come from the bill. Otherwise AccountID, BillerName and
// Amount describe a one-off payment.
type BillPaymentInput struct {
	BillID     uint
	AccountID  uint
	BillerName string
	Amount     decimal.Decimal
	Method     models.PaymentMethod
	CardNumber string
}

// Result is the committed transaction and the post-mutation state of the
// accounts it touched, source first.
type Result struct {
	Transaction models.Transaction
	Accounts    []models.Account
}

// posting is the normalized form of every instruction.
type posting struct {
	op     string
	kind   models.TransactionType
	amount decimal.Decimal
	source uint
	dest   uint

	bankName        string
	externalAccount string
	billerName      string
	method          models.PaymentMethod
	billID          uint
}

func (e *Engine) Deposit(ctx context.Context, actor uint, in DepositInput) (*Result, error) {
	return e.post(ctx, actor, posting{
		op:     "deposit",
		kind:   models.Deposit,
		amount: in.Amount,
		dest:   in.AccountID,
	})
}

func (e *Engine) Withdraw(ctx context.Context, actor uint, in WithdrawInput) (*Result, error) {
	return e.post(ctx, actor, posting{
		op:     "withdraw",
		kind:   models.Withdrawal,
		amount: in.Amount,
		source: in.AccountID,
	})
}

func (e *Engine) Transfer(ctx context.Context, actor uint, in TransferInput) (*Result, error) {
	return e.post(ctx, actor, posting{
		op:     "transfer",
		kind:   models.Transfer,
		amount: in.Amount,
		source: in.SenderID,
		dest:   in.ReceiverID,
	})
}

func (e *Engine) ExternalDeposit(ctx context.Context, actor uint, in ExternalInput) (*Result, error) {
	if strings.TrimSpace(in.BankName) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "external deposit", "bank name is required")
	}
	return e.post(ctx, actor, posting{
		op:              "external deposit",
		kind:            models.ExternalDeposit,
		amount:          in.Amount,
		dest:            in.AccountID,
		bankName:        in.BankName,
		externalAccount: in.ExternalAccountNumber,
	})
}

func (e *Engine) ExternalWithdraw(ctx context.Context, actor uint, in ExternalInput) (*Result, error) {
	if strings.TrimSpace(in.BankName) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "external withdraw", "bank name is required")
	}
	return e.post(ctx, actor, posting{
		op:              "external withdraw",
		kind:            models.ExternalWithdrawal,
		amount:          in.Amount,
		source:          in.AccountID,
		bankName:        in.BankName,
		externalAccount: in.ExternalAccountNumber,
	})
}

func (e *Engine) PayBill(ctx context.Context, actor uint, in BillPaymentInput) (*Result, error) {
	const op = "pay bill"

	method := in.Method
	if method == "" {
		method = models.PayFromBalance
	}
	switch method {
	case models.PayFromBalance:
	case models.PayByCard:
		if !cardPattern.MatchString(in.CardNumber) {
			return nil, apperr.New(apperr.KindInvalidCard, op, apperr.ErrInvalidCard.Msg)
		}
	default:
		return nil, apperr.New(apperr.KindInvalidInput, op, "unknown payment method")
	}

	p := posting{
		op:         op,
		kind:       models.BillPayment,
		amount:     in.Amount,
		source:     in.AccountID,
		billerName: in.BillerName,
		method:     method,
		billID:     in.BillID,
	}
	if p.billID == 0 && strings.TrimSpace(p.billerName) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, op, "biller name is required")
	}
	return e.post(ctx, actor, p)
}

func (e *Engine) post(ctx context.Context, actor uint, p posting) (*Result, error) {
	// A registered bill supplies its own amount, checked once it is loaded.
	if p.billID == 0 && !validAmount(p.amount) {
		return nil, apperr.New(apperr.KindInvalidAmount, p.op, apperr.ErrInvalidAmount.Msg)
	}

	var res Result
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var bill *models.Bill
		if p.billID != 0 {
			b, err := tx.LockBill(ctx, p.billID)
			if errors.Is(err, store.ErrNotFound) || (err == nil && b.UserID != actor) {
				return apperr.New(apperr.KindBillNotFound, p.op, apperr.ErrBillNotFound.Msg)
			}
			if err != nil {
				return err
			}
			if b.IsPaid {
				return apperr.New(apperr.KindBillAlreadyPaid, p.op, apperr.ErrBillAlreadyPaid.Msg)
			}
			bill = b
			p.amount = b.Amount
			p.source = b.AccountID
			p.billerName = b.BillerName
			if !validAmount(p.amount) {
				return apperr.New(apperr.KindInvalidAmount, p.op, "bill amount is not payable")
			}
		}

		locked, err := tx.LockAccounts(ctx, nonZero(p.source, p.dest)...)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindAccountNotFound, p.op, apperr.ErrAccountNotFound.Msg)
		}
		if err != nil {
			return err
		}
		src, dst := locked[p.source], locked[p.dest]
		if (p.needsSource() && src == nil) || (p.needsDest() && dst == nil) {
			return apperr.New(apperr.KindAccountNotFound, p.op, apperr.ErrAccountNotFound.Msg)
		}

		if src != nil && src.UserID != actor {
			return apperr.New(apperr.KindUnauthorized, p.op, apperr.ErrUnauthorized.Msg)
		}
		if src != nil && p.source == p.dest {
			return apperr.New(apperr.KindSameAccountTransfer, p.op, apperr.ErrSameAccountTransfer.Msg)
		}
		if src != nil && src.Balance.LessThan(p.amount) {
			return apperr.InsufficientFunds(p.op, p.amount, src.Balance)
		}

		if src != nil {
			src.Balance = src.Balance.Sub(p.amount)
			if err := tx.SaveAccount(ctx, src); err != nil {
				return err
			}
			res.Accounts = append(res.Accounts, *src)
		}
		if dst != nil {
			dst.Balance = dst.Balance.Add(p.amount)
			if err := tx.SaveAccount(ctx, dst); err != nil {
				return err
			}
			res.Accounts = append(res.Accounts, *dst)
		}
		if bill != nil {
			bill.IsPaid = true
			if err := tx.SaveBill(ctx, bill); err != nil {
				return err
			}
		}

		txn := p.transaction(e.clock)
		if err := tx.CreateTransaction(ctx, &txn); err != nil {
			return err
		}
		res.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, e.fail(p.op, actor, err)
	}

	e.log.Info("ledger mutation committed",
		zap.String("op", p.op),
		zap.Uint("actor", actor),
		zap.Uint("txn_id", res.Transaction.ID),
		zap.String("amount", res.Transaction.Amount.StringFixed(2)))
	e.announce(ctx, actor, res)
	return &res, nil
}

func (p posting) needsSource() bool { return p.kind.Outflow() || p.kind == models.Transfer }

func (p posting) needsDest() bool { return p.kind.Inflow() || p.kind == models.Transfer }

func (p posting) transaction(c clock.Clock) models.Transaction {
	t := models.Transaction{
		Reference:             uuid.NewString(),
		Type:                  p.kind,
		Amount:                p.amount,
		BankName:              p.bankName,
		ExternalAccountNumber: p.externalAccount,
		BillerName:            p.billerName,
		PaymentMethod:         p.method,
		Timestamp:             c.Now(),
	}
	if p.source != 0 {
		id := p.source
		t.SenderID = &id
	}
	if p.dest != 0 {
		id := p.dest
		t.ReceiverID = &id
	}
	if p.billID != 0 {
		id := p.billID
		t.BillID = &id
	}
	return t
}

// fail converts a unit-of-work error into the typed outcome returned to callers.
func (e *Engine) fail(op string, actor uint, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		e.log.Debug("ledger mutation rejected", zap.String("op", op), zap.Uint("actor", actor), zap.Stringer("kind", ae.Kind))
		return err
	}
	if errors.Is(err, store.ErrLockTimeout) {
		e.log.Warn("ledger lock wait timed out", zap.String("op", op), zap.Uint("actor", actor), zap.Error(err))
		return apperr.Wrap(apperr.KindBusy, op, err)
	}
	e.log.Error("ledger mutation failed", zap.String("op", op), zap.Uint("actor", actor), zap.Error(err))
	return apperr.Wrap(apperr.KindStorage, op, err)
}

// announce hands a receipt for every touched account to its owner, and one
// without account details to the actor when the actor owns none of them.
// Nothing here can fail the committed mutation.
func (e *Engine) announce(ctx context.Context, actor uint, res Result) {
	txn := res.Transaction
	actorIsOwner := false
	for i := range res.Accounts {
		acc := res.Accounts[i]
		if acc.UserID == actor {
			actorIsOwner = true
		}
		owner, err := e.store.User(ctx, acc.UserID)
		if err != nil {
			e.log.Warn("skipping receipt, owner lookup failed", zap.Uint("account_id", acc.ID), zap.Error(err))
			continue
		}
		e.notifier.Notify(notify.Event{
			Kind:        notify.TransactionCompleted,
			Recipient:   notify.Recipient{UserID: owner.ID, Username: owner.Username, Email: owner.Email},
			Transaction: &txn,
			Account:     &acc,
		})
	}
	if actorIsOwner {
		return
	}
	u, err := e.store.User(ctx, actor)
	if err != nil {
		e.log.Warn("skipping receipt, actor lookup failed", zap.Uint("actor", actor), zap.Error(err))
		return
	}
	e.notifier.Notify(notify.Event{
		Kind:        notify.TransactionCompleted,
		Recipient:   notify.Recipient{UserID: u.ID, Username: u.Username, Email: u.Email},
		Transaction: &txn,
	})
}

// validAmount reports whether d is positive and fits the two-decimal money
// columns without rounding.
func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && wholeCents(d)
}

func wholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

func nonZero(ids ...uint) []uint {
	out := ids[:0:0]
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	return out
}
