package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rifqisaleh/revoubank/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eachStore runs fn against every Store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory(time.Second)) })
	t.Run("gorm", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func addTxn(t *testing.T, s Store, typ models.TransactionType, sender, receiver uint, at time.Time) models.Transaction {
	t.Helper()
	txn := models.Transaction{
		Reference: fmt.Sprintf("ref-%d-%d-%d", sender, receiver, at.UnixNano()),
		Type:      typ,
		Amount:    decimal.NewFromInt(1),
		Timestamp: at,
	}
	if sender != 0 {
		txn.SenderID = &sender
	}
	if receiver != 0 {
		txn.ReceiverID = &receiver
	}
	ctx := context.Background()
	require.NoError(t, s.WithinTx(ctx, func(tx Tx) error { return tx.CreateTransaction(ctx, &txn) }))
	return txn
}

func TestTransactionsByOwner(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mine := seedAccount(t, s, 1, "M1", "0")
		closed := seedAccount(t, s, 1, "M2", "0")
		theirs := seedAccount(t, s, 2, "T1", "0")
		t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

		first := addTxn(t, s, models.Deposit, 0, mine.ID, t0)
		second := addTxn(t, s, models.Transfer, closed.ID, theirs.ID, t0.Add(time.Minute))
		addTxn(t, s, models.Withdrawal, theirs.ID, 0, t0.Add(2*time.Minute))
		third := addTxn(t, s, models.Transfer, theirs.ID, mine.ID, t0.Add(3*time.Minute))

		require.NoError(t, s.WithinTx(ctx, func(tx Tx) error {
			locked, err := tx.LockAccounts(ctx, closed.ID)
			if err != nil {
				return err
			}
			return tx.DeleteAccount(ctx, locked[closed.ID])
		}))

		txns, err := s.TransactionsByOwner(ctx, 1)
		require.NoError(t, err)
		var ids []uint
		for _, txn := range txns {
			ids = append(ids, txn.ID)
		}
		assert.Equal(t, []uint{third.ID, second.ID, first.ID}, ids)

		none, err := s.TransactionsByOwner(ctx, 99)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestDeleteBillHidesIt(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := seedAccount(t, s, 3, "B1", "0")
		bill := &models.Bill{UserID: 3, AccountID: a.ID, BillerName: "Gas", DueDate: time.Now(), Amount: decimal.NewFromInt(5)}
		require.NoError(t, s.WithinTx(ctx, func(tx Tx) error { return tx.CreateBill(ctx, bill) }))

		require.NoError(t, s.WithinTx(ctx, func(tx Tx) error {
			b, err := tx.LockBill(ctx, bill.ID)
			if err != nil {
				return err
			}
			return tx.DeleteBill(ctx, b)
		}))

		bills, err := s.BillsByOwner(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, bills)

		err = s.WithinTx(ctx, func(tx Tx) error {
			_, err := tx.LockBill(ctx, bill.ID)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSaveUserKeepsUsernamesUnique(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		alice := &models.User{Username: "alice", Email: "alice@example.com", Password: "x", Role: "user"}
		bob := &models.User{Username: "bob", Email: "bob@example.com", Password: "x", Role: "user"}
		require.NoError(t, s.WithinTx(ctx, func(tx Tx) error {
			if err := tx.CreateUser(ctx, alice); err != nil {
				return err
			}
			return tx.CreateUser(ctx, bob)
		}))

		rename := func(name string) error {
			return s.WithinTx(ctx, func(tx Tx) error {
				u, err := tx.LockUser(ctx, bob.ID)
				if err != nil {
					return err
				}
				u.Username = name
				return tx.SaveUser(ctx, u)
			})
		}
		assert.ErrorIs(t, rename("alice"), ErrDuplicate)
		require.NoError(t, rename("robert"))

		u, err := s.User(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, "robert", u.Username)

		err = s.WithinTx(ctx, func(tx Tx) error {
			_, err := tx.LockUser(ctx, 404)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
