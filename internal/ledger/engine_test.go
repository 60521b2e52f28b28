package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rifqisaleh/revoubank/internal/apperr"
	"github.com/rifqisaleh/revoubank/internal/clock"
	"github.com/rifqisaleh/revoubank/internal/models"
	"github.com/rifqisaleh/revoubank/internal/notify"
	"github.com/rifqisaleh/revoubank/internal/store"
	"github.com/rifqisaleh/revoubank/internal/store/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type fixture struct {
	ctx    context.Context
	store  store.Store
	clock  *clock.Manual
	notes  *recorder
	engine *Engine
	users  []uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(store.NewMemory(time.Second))
}

func newFixtureOn(s store.Store) *fixture {
	c := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	r := &recorder{}
	return &fixture{
		ctx:    context.Background(),
		store:  s,
		clock:  c,
		notes:  r,
		engine: NewEngine(s, c, r, zap.NewNop()),
	}
}

// eachBackend runs fn against the in-memory store and the gorm store.
func eachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	storetest.Each(t, func(t *testing.T, s store.Store) { fn(t, newFixtureOn(s)) })
}

func (f *fixture) user(t *testing.T, name string) uint {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", Password: "x", Role: "user"}
	require.NoError(t, f.store.WithinTx(f.ctx, func(tx store.Tx) error { return tx.CreateUser(f.ctx, u) }))
	f.users = append(f.users, u.ID)
	return u.ID
}

// trail returns every transaction touching an account of a fixture user.
func (f *fixture) trail(t *testing.T) []models.Transaction {
	t.Helper()
	seen := map[uint]bool{}
	var out []models.Transaction
	for _, u := range f.users {
		txns, err := f.store.TransactionsByOwner(f.ctx, u)
		require.NoError(t, err)
		for _, txn := range txns {
			if !seen[txn.ID] {
				seen[txn.ID] = true
				out = append(out, txn)
			}
		}
	}
	return out
}

func (f *fixture) account(t *testing.T, owner uint, balance string) uint {
	t.Helper()
	res, err := f.engine.OpenAccount(f.ctx, owner, models.Savings, dec(balance))
	require.NoError(t, err)
	return res.Accounts[0].ID
}

func (f *fixture) balance(t *testing.T, id uint) decimal.Decimal {
	t.Helper()
	a, err := f.store.Account(f.ctx, id)
	require.NoError(t, err)
	return a.Balance
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), err.Error())
}

func TestTransferBetweenUsers(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		alice, bob := f.user(t, "alice"), f.user(t, "bob")
		a1 := f.account(t, alice, "1000.00")
		a2 := f.account(t, bob, "500.00")
		before := len(f.trail(t))

		res, err := f.engine.Transfer(f.ctx, alice, TransferInput{SenderID: a1, ReceiverID: a2, Amount: dec("100.00")})
		require.NoError(t, err)

		assert.True(t, f.balance(t, a1).Equal(dec("900.00")))
		assert.True(t, f.balance(t, a2).Equal(dec("600.00")))

		txn := res.Transaction
		assert.Equal(t, models.Transfer, txn.Type)
		assert.True(t, txn.Amount.Equal(dec("100.00")))
		require.NotNil(t, txn.SenderID)
		require.NotNil(t, txn.ReceiverID)
		assert.Equal(t, a1, *txn.SenderID)
		assert.Equal(t, a2, *txn.ReceiverID)
		assert.Equal(t, f.clock.Now(), txn.Timestamp)
		assert.NotEmpty(t, txn.Reference)
		assert.Len(t, f.trail(t), before+1)

		require.Len(t, res.Accounts, 2)
		assert.Equal(t, a1, res.Accounts[0].ID)
		assert.True(t, res.Accounts[0].Balance.Equal(dec("900")))
		assert.True(t, res.Accounts[1].Balance.Equal(dec("600")))
	})
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		alice := f.user(t, "alice")
		a := f.account(t, alice, "50.00")
		before := len(f.trail(t))

		_, err := f.engine.Withdraw(f.ctx, alice, WithdrawInput{AccountID: a, Amount: dec("100.00")})
		assertKind(t, err, apperr.KindInsufficientFunds)

		var ae *apperr.Error
		require.True(t, errors.As(err, &ae))
		assert.True(t, ae.Required.Equal(dec("100")))
		assert.True(t, ae.Available.Equal(dec("50")))

		assert.True(t, f.balance(t, a).Equal(dec("50.00")))
		assert.Len(t, f.trail(t), before)
	})
}

func TestPayRegisteredBillFromBalance(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		alice, bob := f.user(t, "alice"), f.user(t, "bob")
		a := f.account(t, alice, "500.00")

		bill, err := f.engine.CreateBill(f.ctx, alice, BillInput{
			AccountID: a, BillerName: "Water Utility", DueDate: f.clock.Now().AddDate(0, 0, 30), Amount: dec("75.25"),
		})
		require.NoError(t, err)

		_, err = f.engine.PayBill(f.ctx, bob, BillPaymentInput{BillID: bill.ID})
		assertKind(t, err, apperr.KindBillNotFound)

		res, err := f.engine.PayBill(f.ctx, alice, BillPaymentInput{BillID: bill.ID})
		require.NoError(t, err)

		assert.True(t, f.balance(t, a).Equal(dec("424.75")))
		txn := res.Transaction
		assert.Equal(t, models.BillPayment, txn.Type)
		assert.True(t, txn.Amount.Equal(dec("75.25")))
		assert.Equal(t, "Water Utility", txn.BillerName)
		assert.Equal(t, models.PayFromBalance, txn.PaymentMethod)
		assert.Nil(t, txn.ReceiverID)
		require.NotNil(t, txn.BillID)
		assert.Equal(t, bill.ID, *txn.BillID)

		bills, err := f.engine.Bills(f.ctx, alice)
		require.NoError(t, err)
		require.Len(t, bills, 1)
		assert.True(t, bills[0].IsPaid)

		_, err = f.engine.PayBill(f.ctx, alice, BillPaymentInput{BillID: bill.ID})
		assertKind(t, err, apperr.KindBillAlreadyPaid)
		assert.True(t, f.balance(t, a).Equal(dec("424.75")))
	})
}

func TestBillStaysUnpaidWhenFundsAreShort(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	a := f.account(t, alice, "10.00")
	bill, err := f.engine.CreateBill(f.ctx, alice, BillInput{
		AccountID: a, BillerName: "Power", DueDate: f.clock.Now(), Amount: dec("75.25"),
	})
	require.NoError(t, err)

	_, err = f.engine.PayBill(f.ctx, alice, BillPaymentInput{BillID: bill.ID})
	assertKind(t, err, apperr.KindInsufficientFunds)

	bills, err := f.engine.Bills(f.ctx, alice)
	require.NoError(t, err)
	assert.False(t, bills[0].IsPaid)
}

func TestPayBillByCard(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	a := f.account(t, alice, "200.00")

	_, err := f.engine.PayBill(f.ctx, alice, BillPaymentInput{
		AccountID: a, BillerName: "Internet", Amount: dec("20"), Method: models.PayByCard, CardNumber: "5111111111111111",
	})
	assertKind(t, err, apperr.KindInvalidCard)

	res, err := f.engine.PayBill(f.ctx, alice, BillPaymentInput{
		AccountID: a, BillerName: "Internet", Amount: dec("20"), Method: models.PayByCard, CardNumber: "4111111111111111",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PayByCard, res.Transaction.PaymentMethod)
	assert.Nil(t, res.Transaction.BillID)
	assert.True(t, f.balance(t, a).Equal(dec("180")))

	_, err = f.engine.PayBill(f.ctx, alice, BillPaymentInput{AccountID: a, Amount: dec("1")})
	assertKind(t, err, apperr.KindInvalidInput)
}

func TestExternalMovements(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	a := f.account(t, alice, "0")

	res, err := f.engine.ExternalDeposit(f.ctx, alice, ExternalInput{AccountID: a, Amount: dec("300"), BankName: "BCA", ExternalAccountNumber: "99887766"})
	require.NoError(t, err)
	assert.Equal(t, models.ExternalDeposit, res.Transaction.Type)
	assert.Nil(t, res.Transaction.SenderID)
	assert.Equal(t, "BCA", res.Transaction.BankName)

	res, err = f.engine.ExternalWithdraw(f.ctx, alice, ExternalInput{AccountID: a, Amount: dec("120"), BankName: "Mandiri"})
	require.NoError(t, err)
	assert.Equal(t, models.ExternalWithdrawal, res.Transaction.Type)
	assert.Nil(t, res.Transaction.ReceiverID)
	assert.True(t, f.balance(t, a).Equal(dec("180")))

	_, err = f.engine.ExternalWithdraw(f.ctx, alice, ExternalInput{AccountID: a, Amount: dec("1")})
	assertKind(t, err, apperr.KindInvalidInput)
}

func TestSelfTransferRejected(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		alice := f.user(t, "alice")
		a := f.account(t, alice, "100")

		_, err := f.engine.Transfer(f.ctx, alice, TransferInput{SenderID: a, ReceiverID: a, Amount: dec("10")})
		assertKind(t, err, apperr.KindSameAccountTransfer)
		assert.True(t, f.balance(t, a).Equal(dec("100")))
	})
}

func TestValidationOrder(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		alice, bob := f.user(t, "alice"), f.user(t, "bob")
		mine := f.account(t, alice, "10")
		theirs := f.account(t, bob, "10")
		const missing = uint(999)

		cases := []struct {
			name string
			in   TransferInput
			want apperr.Kind
		}{
			{"amount before existence", TransferInput{SenderID: missing, ReceiverID: missing, Amount: dec("0")}, apperr.KindInvalidAmount},
			{"negative amount", TransferInput{SenderID: mine, ReceiverID: theirs, Amount: dec("-5")}, apperr.KindInvalidAmount},
			{"missing receiver", TransferInput{SenderID: mine, ReceiverID: missing, Amount: dec("1")}, apperr.KindAccountNotFound},
			{"zero receiver id", TransferInput{SenderID: mine, Amount: dec("1")}, apperr.KindAccountNotFound},
			{"existence before ownership", TransferInput{SenderID: theirs, ReceiverID: missing, Amount: dec("1")}, apperr.KindAccountNotFound},
			{"ownership before same account", TransferInput{SenderID: theirs, ReceiverID: theirs, Amount: dec("1")}, apperr.KindUnauthorized},
			{"same account before funds", TransferInput{SenderID: mine, ReceiverID: mine, Amount: dec("1000")}, apperr.KindSameAccountTransfer},
			{"funds last", TransferInput{SenderID: mine, ReceiverID: theirs, Amount: dec("1000")}, apperr.KindInsufficientFunds},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := f.engine.Transfer(f.ctx, alice, tc.in)
				assertKind(t, err, tc.want)
			})
		}
		assert.True(t, f.balance(t, mine).Equal(dec("10")))
		assert.True(t, f.balance(t, theirs).Equal(dec("10")))
	})
}

func TestDepositIntoSomeoneElsesAccount(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	theirs := f.account(t, bob, "0")

	_, err := f.engine.Deposit(f.ctx, alice, DepositInput{AccountID: theirs, Amount: dec("5")})
	require.NoError(t, err)
	assert.True(t, f.balance(t, theirs).Equal(dec("5")))

	_, err = f.engine.Withdraw(f.ctx, alice, WithdrawInput{AccountID: theirs, Amount: dec("5")})
	assertKind(t, err, apperr.KindUnauthorized)
}

func TestDepositIsNotIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		alice := f.user(t, "alice")
		a := f.account(t, alice, "0")

		in := DepositInput{AccountID: a, Amount: dec("25.50")}
		r1, err := f.engine.Deposit(f.ctx, alice, in)
		require.NoError(t, err)
		r2, err := f.engine.Deposit(f.ctx, alice, in)
		require.NoError(t, err)

		assert.NotEqual(t, r1.Transaction.ID, r2.Transaction.ID)
		assert.NotEqual(t, r1.Transaction.Reference, r2.Transaction.Reference)
		assert.True(t, f.balance(t, a).Equal(dec("51.00")))
	})
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		alice := f.user(t, "alice")
		a := f.account(t, alice, "1000.00")

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			okN    int
			failed []error
		)
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.engine.Withdraw(f.ctx, alice, WithdrawInput{AccountID: a, Amount: dec("600.00")})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					okN++
				} else {
					failed = append(failed, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, okN)
		require.Len(t, failed, 1)
		assert.ErrorIs(t, failed[0], apperr.ErrInsufficientFunds)
		assert.True(t, f.balance(t, a).Equal(dec("400.00")))
	})
}

// Sum of balances must equal external inflows minus outflows recorded in the
// transaction trail, whatever mix of operations ran.
func TestDoubleEntryClosureUnderConcurrency(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		users := []uint{f.user(t, "u1"), f.user(t, "u2"), f.user(t, "u3")}
		var accounts []uint
		owner := map[uint]uint{}
		for _, u := range users {
			for i := 0; i < 2; i++ {
				id := f.account(t, u, "100")
				accounts = append(accounts, id)
				owner[id] = u
			}
		}

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(seed int64) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed))
				for i := 0; i < 60; i++ {
					from := accounts[rng.Intn(len(accounts))]
					to := accounts[rng.Intn(len(accounts))]
					amt := decimal.NewFromInt(int64(rng.Intn(40) + 1))
					switch rng.Intn(4) {
					case 0:
						_, _ = f.engine.Deposit(f.ctx, owner[to], DepositInput{AccountID: to, Amount: amt})
					case 1:
						_, _ = f.engine.Withdraw(f.ctx, owner[from], WithdrawInput{AccountID: from, Amount: amt})
					default:
						_, _ = f.engine.Transfer(f.ctx, owner[from], TransferInput{SenderID: from, ReceiverID: to, Amount: amt})
					}
				}
			}(int64(w))
		}
		wg.Wait()

		total := decimal.Zero
		for _, id := range accounts {
			b := f.balance(t, id)
			assert.False(t, b.IsNegative(), "account %d negative: %s", id, b)
			total = total.Add(b)
		}
		implied := decimal.Zero
		for _, txn := range f.trail(t) {
			switch {
			case txn.Type.Inflow():
				implied = implied.Add(txn.Amount)
			case txn.Type.Outflow():
				implied = implied.Sub(txn.Amount)
			}
		}
		assert.True(t, total.Equal(implied), "balances %s, trail %s", total, implied)
	})
}

func TestLockTimeoutSurfacesAsBusy(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(20 * time.Millisecond)
	e := NewEngine(s, clock.System{}, nil, zap.NewNop())

	u := &models.User{Username: "alice", Email: "alice@example.com", Password: "x"}
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error { return tx.CreateUser(ctx, u) }))
	res, err := e.OpenAccount(ctx, u.ID, models.Checking, dec("100"))
	require.NoError(t, err)
	id := res.Accounts[0].ID

	holding, release := make(chan struct{}), make(chan struct{})
	go func() {
		_ = s.WithinTx(ctx, func(tx store.Tx) error {
			_, _ = tx.LockAccounts(ctx, id)
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	_, err = e.Withdraw(ctx, u.ID, WithdrawInput{AccountID: id, Amount: dec("10")})
	close(release)
	assertKind(t, err, apperr.KindBusy)

	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.True(t, ae.Retryable())
}

// failingStore breaks transaction inserts to check that balance writes made
// earlier in the same unit of work are discarded.
type failingStore struct {
	store.Store
}

type failingTx struct {
	store.Tx
}

func (failingTx) CreateTransaction(context.Context, *models.Transaction) error {
	return errors.New("disk full")
}

func (s failingStore) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx store.Tx) error { return fn(failingTx{tx}) })
}

func TestStorageFailureRollsBack(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		alice, bob := f.user(t, "alice"), f.user(t, "bob")
		a1 := f.account(t, alice, "100")
		a2 := f.account(t, bob, "100")

		broken := NewEngine(failingStore{f.store}, f.clock, f.notes, zap.NewNop())
		notesBefore := len(f.notes.all())

		_, err := broken.Transfer(f.ctx, alice, TransferInput{SenderID: a1, ReceiverID: a2, Amount: dec("40")})
		assertKind(t, err, apperr.KindStorage)

		assert.True(t, f.balance(t, a1).Equal(dec("100")))
		assert.True(t, f.balance(t, a2).Equal(dec("100")))
		assert.Len(t, f.notes.all(), notesBefore)
	})
}

func TestReceiptsGoToBothOwners(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	a1 := f.account(t, alice, "100")
	a2 := f.account(t, bob, "0")
	before := len(f.notes.all())

	_, err := f.engine.Transfer(f.ctx, alice, TransferInput{SenderID: a1, ReceiverID: a2, Amount: dec("30")})
	require.NoError(t, err)

	events := f.notes.all()[before:]
	require.Len(t, events, 2)
	assert.Equal(t, "alice@example.com", events[0].Recipient.Email)
	assert.True(t, events[0].Account.Balance.Equal(dec("70")))
	assert.Equal(t, "bob@example.com", events[1].Recipient.Email)
	assert.True(t, events[1].Account.Balance.Equal(dec("30")))
	for _, ev := range events {
		assert.Equal(t, notify.TransactionCompleted, ev.Kind)
		assert.Equal(t, models.Transfer, ev.Transaction.Type)
	}
}

func TestDepositorWithoutAccountGetsReceipt(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	theirs := f.account(t, bob, "0")
	before := len(f.notes.all())

	_, err := f.engine.Deposit(f.ctx, alice, DepositInput{AccountID: theirs, Amount: dec("12.50")})
	require.NoError(t, err)

	events := f.notes.all()[before:]
	require.Len(t, events, 2)
	assert.Equal(t, bob, events[0].Recipient.UserID)
	require.NotNil(t, events[0].Account)
	assert.True(t, events[0].Account.Balance.Equal(dec("12.50")))

	assert.Equal(t, alice, events[1].Recipient.UserID)
	assert.Equal(t, "alice@example.com", events[1].Recipient.Email)
	assert.Nil(t, events[1].Account)
	require.NotNil(t, events[1].Transaction)
	assert.Equal(t, models.Deposit, events[1].Transaction.Type)
}
