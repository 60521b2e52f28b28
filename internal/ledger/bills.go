package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rifqisaleh/revoubank/internal/apperr"
	"github.com/rifqisaleh/revoubank/internal/models"
	"github.com/rifqisaleh/revoubank/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BillInput struct {
	AccountID  uint
	BillerName string
	DueDate    time.Time
	Amount     decimal.Decimal
}

// CreateBill registers a bill payable from one of actor's accounts.
func (e *Engine) CreateBill(ctx context.Context, actor uint, in BillInput) (*models.Bill, error) {
	const op = "create bill"
	if strings.TrimSpace(in.BillerName) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, op, "biller name is required")
	}
	if in.DueDate.IsZero() {
		return nil, apperr.New(apperr.KindInvalidInput, op, "due date is required")
	}
	if !validAmount(in.Amount) {
		return nil, apperr.New(apperr.KindInvalidAmount, op, apperr.ErrInvalidAmount.Msg)
	}

	bill := &models.Bill{
		UserID:     actor,
		AccountID:  in.AccountID,
		BillerName: in.BillerName,
		DueDate:    in.DueDate,
		Amount:     in.Amount,
	}
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := e.lockOwned(ctx, tx, op, actor, in.AccountID); err != nil {
			return err
		}
		return tx.CreateBill(ctx, bill)
	})
	if err != nil {
		return nil, e.fail(op, actor, err)
	}
	e.log.Info("bill created", zap.Uint("actor", actor), zap.Uint("bill_id", bill.ID))
	return bill, nil
}

func (e *Engine) Bills(ctx context.Context, actor uint) ([]models.Bill, error) {
	bills, err := e.store.BillsByOwner(ctx, actor)
	if err != nil {
		return nil, e.fail("list bills", actor, err)
	}
	return bills, nil
}

// BillUpdate changes the fields that are set.
type BillUpdate struct {
	BillerName *string
	DueDate    *time.Time
	Amount     *decimal.Decimal
}

// UpdateBill edits an unpaid bill of actor's. Paid bills are immutable.
func (e *Engine) UpdateBill(ctx context.Context, actor, id uint, in BillUpdate) (*models.Bill, error) {
	const op = "update bill"
	if in.BillerName != nil && strings.TrimSpace(*in.BillerName) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, op, "biller name is required")
	}
	if in.DueDate != nil && in.DueDate.IsZero() {
		return nil, apperr.New(apperr.KindInvalidInput, op, "due date is required")
	}
	if in.Amount != nil && !validAmount(*in.Amount) {
		return nil, apperr.New(apperr.KindInvalidAmount, op, apperr.ErrInvalidAmount.Msg)
	}

	var out models.Bill
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		b, err := e.lockUnpaidBill(ctx, tx, op, actor, id)
		if err != nil {
			return err
		}
		if in.BillerName != nil {
			b.BillerName = *in.BillerName
		}
		if in.DueDate != nil {
			b.DueDate = *in.DueDate
		}
		if in.Amount != nil {
			b.Amount = *in.Amount
		}
		if err := tx.SaveBill(ctx, b); err != nil {
			return err
		}
		out = *b
		return nil
	})
	if err != nil {
		return nil, e.fail(op, actor, err)
	}
	return &out, nil
}

// DeleteBill soft-deletes an unpaid bill. A paid bill stays as the record
// behind its payment.
func (e *Engine) DeleteBill(ctx context.Context, actor, id uint) error {
	const op = "delete bill"
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		b, err := e.lockUnpaidBill(ctx, tx, op, actor, id)
		if err != nil {
			return err
		}
		return tx.DeleteBill(ctx, b)
	})
	if err != nil {
		return e.fail(op, actor, err)
	}
	e.log.Info("bill deleted", zap.Uint("actor", actor), zap.Uint("bill_id", id))
	return nil
}

func (e *Engine) lockUnpaidBill(ctx context.Context, tx store.Tx, op string, actor, id uint) (*models.Bill, error) {
	b, err := tx.LockBill(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && b.UserID != actor) {
		return nil, apperr.New(apperr.KindBillNotFound, op, apperr.ErrBillNotFound.Msg)
	}
	if err != nil {
		return nil, err
	}
	if b.IsPaid {
		return nil, apperr.New(apperr.KindBillAlreadyPaid, op, "a paid bill cannot be changed")
	}
	return b, nil
}
