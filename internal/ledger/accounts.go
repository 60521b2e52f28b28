package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rifqisaleh/revoubank/internal/apperr"
	"github.com/rifqisaleh/revoubank/internal/models"
	"github.com/rifqisaleh/revoubank/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InitialDepositBank is the bank name recorded on the transaction that seeds
// a new account's opening balance.
const InitialDepositBank = "initial deposit"

func newAccountNumber() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// OpenAccount creates an account for actor. A positive opening balance is
// recorded as an external deposit in the same unit of work, so every balance
// is explained by the transaction trail.
func (e *Engine) OpenAccount(ctx context.Context, actor uint, typ models.AccountType, initial decimal.Decimal) (*Result, error) {
	const op = "open account"
	if !typ.Valid() {
		return nil, apperr.New(apperr.KindInvalidInput, op, "account type must be savings or checking")
	}
	if initial.IsNegative() || !wholeCents(initial) {
		return nil, apperr.New(apperr.KindInvalidAmount, op, "initial balance must be zero or more with at most two decimal places")
	}

	var res Result
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.User(ctx, actor); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.New(apperr.KindUserNotFound, op, apperr.ErrUserNotFound.Msg)
			}
			return err
		}

		acc := &models.Account{
			UserID:        actor,
			AccountNumber: newAccountNumber(),
			Type:          typ,
			Balance:       initial,
		}
		if err := tx.CreateAccount(ctx, acc); err != nil {
			return err
		}
		res.Accounts = []models.Account{*acc}

		if initial.IsPositive() {
			p := posting{kind: models.ExternalDeposit, amount: initial, dest: acc.ID, bankName: InitialDepositBank}
			txn := p.transaction(e.clock)
			if err := tx.CreateTransaction(ctx, &txn); err != nil {
				return err
			}
			res.Transaction = txn
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(op, actor, err)
	}

	e.log.Info("account opened",
		zap.Uint("actor", actor),
		zap.Uint("account_id", res.Accounts[0].ID),
		zap.String("type", string(typ)))
	if res.Transaction.ID != 0 {
		e.announce(ctx, actor, res)
	}
	return &res, nil
}

// Accounts lists the live accounts owned by actor.
func (e *Engine) Accounts(ctx context.Context, actor uint) ([]models.Account, error) {
	accounts, err := e.store.AccountsByOwner(ctx, actor)
	if err != nil {
		return nil, e.fail("list accounts", actor, err)
	}
	return accounts, nil
}

// Account returns one of actor's live accounts. Accounts owned by someone
// else are reported as not found.
func (e *Engine) Account(ctx context.Context, actor, id uint) (*models.Account, error) {
	const op = "get account"
	acc, err := e.store.Account(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && acc.UserID != actor) {
		return nil, apperr.New(apperr.KindAccountNotFound, op, apperr.ErrAccountNotFound.Msg)
	}
	if err != nil {
		return nil, e.fail(op, actor, err)
	}
	return acc, nil
}

func (e *Engine) ChangeAccountType(ctx context.Context, actor, id uint, typ models.AccountType) (*models.Account, error) {
	const op = "change account type"
	if !typ.Valid() {
		return nil, apperr.New(apperr.KindInvalidInput, op, "account type must be savings or checking")
	}
	var out models.Account
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		acc, err := e.lockOwned(ctx, tx, op, actor, id)
		if err != nil {
			return err
		}
		acc.Type = typ
		if err := tx.SaveAccount(ctx, acc); err != nil {
			return err
		}
		out = *acc
		return nil
	})
	if err != nil {
		return nil, e.fail(op, actor, err)
	}
	return &out, nil
}

// CloseAccount soft-deletes the account. Its transactions are kept.
func (e *Engine) CloseAccount(ctx context.Context, actor, id uint) error {
	const op = "close account"
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		acc, err := e.lockOwned(ctx, tx, op, actor, id)
		if err != nil {
			return err
		}
		return tx.DeleteAccount(ctx, acc)
	})
	if err != nil {
		return e.fail(op, actor, err)
	}
	e.log.Info("account closed", zap.Uint("actor", actor), zap.Uint("account_id", id))
	return nil
}

// History lists the transactions touching one of actor's accounts, newest first.
func (e *Engine) History(ctx context.Context, actor, accountID uint) ([]models.Transaction, error) {
	if _, err := e.Account(ctx, actor, accountID); err != nil {
		return nil, err
	}
	txns, err := e.store.TransactionsByAccount(ctx, accountID)
	if err != nil {
		return nil, e.fail("account history", actor, err)
	}
	return txns, nil
}

// Transactions lists every transaction touching an account actor owns or
// once owned, newest first.
func (e *Engine) Transactions(ctx context.Context, actor uint) ([]models.Transaction, error) {
	txns, err := e.store.TransactionsByOwner(ctx, actor)
	if err != nil {
		return nil, e.fail("list transactions", actor, err)
	}
	return txns, nil
}

func (e *Engine) lockOwned(ctx context.Context, tx store.Tx, op string, actor, id uint) (*models.Account, error) {
	locked, err := tx.LockAccounts(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindAccountNotFound, op, apperr.ErrAccountNotFound.Msg)
	}
	if err != nil {
		return nil, err
	}
	acc := locked[id]
	if acc.UserID != actor {
		return nil, apperr.New(apperr.KindAccountNotFound, op, apperr.ErrAccountNotFound.Msg)
	}
	return acc, nil
}
