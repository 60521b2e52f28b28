package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rifqisaleh/revoubank/internal/models"
	"gorm.io/gorm"
)

// Memory is an in-process Store. Rows live in typed maps owned by the store,
// ids come from per-table sequences, and every row has its own lock that a
// unit of work holds until it ends. Staged writes are published under one
// mutex so readers never see half of a unit of work.
type Memory struct {
	mu          sync.RWMutex
	lockTimeout time.Duration

	users    map[uint]*models.User
	accounts map[uint]*models.Account
	bills    map[uint]*models.Bill
	txns     []models.Transaction

	userSeq, accountSeq, billSeq, txnSeq uint

	locksMu sync.Mutex
	locks   map[string]*rowLock
}

func NewMemory(lockTimeout time.Duration) *Memory {
	return &Memory{
		lockTimeout: lockTimeout,
		users:       make(map[uint]*models.User),
		accounts:    make(map[uint]*models.Account),
		bills:       make(map[uint]*models.Bill),
		locks:       make(map[string]*rowLock),
	}
}

// rowLock is a one-slot channel plus the number of holders and waiters.
// The entry is dropped once that number reaches zero.
type rowLock struct {
	ch   chan struct{}
	refs int
}

func (m *Memory) ref(key string) *rowLock {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	return l
}

func (m *Memory) unref(key string, l *rowLock) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

func (m *Memory) acquire(ctx context.Context, key string) error {
	l := m.ref(key)
	select {
	case l.ch <- struct{}{}:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if m.lockTimeout > 0 {
		timer := time.NewTimer(m.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-timeout:
		m.unref(key, l)
		return fmt.Errorf("%w: %s", ErrLockTimeout, key)
	case <-ctx.Done():
		m.unref(key, l)
		return ctx.Err()
	}
}

func (m *Memory) releaseLock(key string) {
	m.locksMu.Lock()
	l := m.locks[key]
	m.locksMu.Unlock()
	<-l.ch
	m.unref(key, l)
}

func (m *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		m:           m,
		held:        make(map[string]bool),
		users:       make(map[uint]*models.User),
		accounts:    make(map[uint]*models.Account),
		bills:       make(map[uint]*models.Bill),
		uniqueUsers: make(map[uint]bool),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *Memory) User(_ context.Context, id uint) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) UserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Account(_ context.Context, id uint) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok || a.Deleted() {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) AccountsByOwner(_ context.Context, userID uint) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Account{}
	for _, a := range m.accounts {
		if a.UserID == userID && !a.Deleted() {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(a, b models.Account) int { return int(a.ID) - int(b.ID) })
	return out, nil
}

func (m *Memory) TransactionsByAccount(_ context.Context, accountID uint) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Transaction{}
	for i := len(m.txns) - 1; i >= 0; i-- {
		t := m.txns[i]
		if (t.SenderID != nil && *t.SenderID == accountID) || (t.ReceiverID != nil && *t.ReceiverID == accountID) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Transaction) int { return b.Timestamp.Compare(a.Timestamp) })
	return out, nil
}

func (m *Memory) TransactionsByOwner(ctx context.Context, userID uint) ([]models.Transaction, error) {
	m.mu.RLock()
	owned := make(map[uint]bool)
	for id, a := range m.accounts {
		if a.UserID == userID {
			owned[id] = true
		}
	}
	m.mu.RUnlock()

	out := []models.Transaction{}
	for _, t := range m.Transactions() {
		if (t.SenderID != nil && owned[*t.SenderID]) || (t.ReceiverID != nil && owned[*t.ReceiverID]) {
			out = append(out, t)
		}
	}
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b models.Transaction) int { return b.Timestamp.Compare(a.Timestamp) })
	return out, nil
}

func (m *Memory) BillsByOwner(_ context.Context, userID uint) ([]models.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Bill{}
	for _, b := range m.bills {
		if b.UserID == userID && !b.DeletedAt.Valid {
			out = append(out, *b)
		}
	}
	slices.SortFunc(out, func(a, b models.Bill) int {
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}
		return int(a.ID) - int(b.ID)
	})
	return out, nil
}

// Transactions returns every committed transaction in insertion order.
func (m *Memory) Transactions() []models.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.txns)
}

type memTx struct {
	m    *Memory
	held map[string]bool

	users       map[uint]*models.User
	accounts    map[uint]*models.Account
	bills       map[uint]*models.Bill
	txns        []models.Transaction
	uniqueUsers map[uint]bool // created or saved; uniqueness rechecked at commit
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.m.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = true
	return nil
}

func (t *memTx) release() {
	for key := range t.held {
		t.m.releaseLock(key)
		delete(t.held, key)
	}
}

func (t *memTx) LockAccounts(ctx context.Context, ids ...uint) (map[uint]*models.Account, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	out := make(map[uint]*models.Account, len(ordered))
	for _, id := range ordered {
		if err := t.lock(ctx, fmt.Sprintf("account:%d", id)); err != nil {
			return nil, err
		}
		a, ok := t.accounts[id]
		if !ok {
			t.m.mu.RLock()
			committed, found := t.m.accounts[id]
			if found {
				cp := *committed
				a = &cp
			}
			t.m.mu.RUnlock()
			if !found {
				return nil, ErrNotFound
			}
			t.accounts[id] = a
		}
		if a.Deleted() {
			return nil, ErrNotFound
		}
		out[id] = a
	}
	return out, nil
}

func (t *memTx) CreateAccount(_ context.Context, a *models.Account) error {
	t.m.mu.Lock()
	for _, existing := range t.m.accounts {
		if existing.AccountNumber == a.AccountNumber {
			t.m.mu.Unlock()
			return ErrDuplicate
		}
	}
	t.m.accountSeq++
	a.ID = t.m.accountSeq
	t.m.mu.Unlock()

	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	t.accounts[a.ID] = &cp
	return nil
}

func (t *memTx) SaveAccount(_ context.Context, a *models.Account) error {
	a.UpdatedAt = time.Now()
	cp := *a
	t.accounts[a.ID] = &cp
	return nil
}

func (t *memTx) DeleteAccount(_ context.Context, a *models.Account) error {
	a.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	cp := *a
	t.accounts[a.ID] = &cp
	return nil
}

func (t *memTx) CreateTransaction(_ context.Context, txn *models.Transaction) error {
	t.m.mu.Lock()
	t.m.txnSeq++
	txn.ID = t.m.txnSeq
	t.m.mu.Unlock()
	t.txns = append(t.txns, *txn)
	return nil
}

func (t *memTx) LockBill(ctx context.Context, id uint) (*models.Bill, error) {
	if err := t.lock(ctx, fmt.Sprintf("bill:%d", id)); err != nil {
		return nil, err
	}
	if b, ok := t.bills[id]; ok {
		return b, nil
	}
	t.m.mu.RLock()
	committed, ok := t.m.bills[id]
	var b *models.Bill
	if ok {
		cp := *committed
		b = &cp
	}
	t.m.mu.RUnlock()
	if !ok || b.DeletedAt.Valid {
		return nil, ErrNotFound
	}
	t.bills[id] = b
	return b, nil
}

func (t *memTx) CreateBill(_ context.Context, b *models.Bill) error {
	t.m.mu.Lock()
	t.m.billSeq++
	b.ID = t.m.billSeq
	t.m.mu.Unlock()

	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	cp := *b
	t.bills[b.ID] = &cp
	return nil
}

func (t *memTx) SaveBill(_ context.Context, b *models.Bill) error {
	b.UpdatedAt = time.Now()
	cp := *b
	t.bills[b.ID] = &cp
	return nil
}

func (t *memTx) DeleteBill(_ context.Context, b *models.Bill) error {
	b.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	cp := *b
	t.bills[b.ID] = &cp
	return nil
}

func (t *memTx) LockUser(ctx context.Context, id uint) (*models.User, error) {
	if err := t.lock(ctx, fmt.Sprintf("user:%d", id)); err != nil {
		return nil, err
	}
	if staged, ok := t.users[id]; ok {
		return staged, nil
	}
	u, err := t.m.User(ctx, id)
	if err != nil {
		return nil, err
	}
	t.users[id] = u
	return u, nil
}

func (t *memTx) LockUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := t.m.UserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := t.lock(ctx, fmt.Sprintf("user:%d", u.ID)); err != nil {
		return nil, err
	}
	if staged, ok := t.users[u.ID]; ok {
		return staged, nil
	}
	// Re-read: the row may have changed while we waited for the lock.
	u, err = t.m.User(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	t.users[u.ID] = u
	return u, nil
}

func (t *memTx) User(ctx context.Context, id uint) (*models.User, error) {
	if u, ok := t.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return t.m.User(ctx, id)
}

func (t *memTx) CreateUser(_ context.Context, u *models.User) error {
	t.m.mu.Lock()
	if err := t.m.checkUniqueUser(u); err != nil {
		t.m.mu.Unlock()
		return err
	}
	t.m.userSeq++
	u.ID = t.m.userSeq
	t.m.mu.Unlock()

	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	t.users[u.ID] = &cp
	t.uniqueUsers[u.ID] = true
	return nil
}

func (t *memTx) SaveUser(_ context.Context, u *models.User) error {
	t.m.mu.RLock()
	err := t.m.checkUniqueUser(u)
	t.m.mu.RUnlock()
	if err != nil {
		return err
	}
	u.UpdatedAt = time.Now()
	cp := *u
	t.users[u.ID] = &cp
	t.uniqueUsers[u.ID] = true
	return nil
}

func (m *Memory) checkUniqueUser(u *models.User) error {
	for _, existing := range m.users {
		if existing.ID == u.ID {
			continue
		}
		if existing.Username == u.Username || existing.Email == u.Email {
			return fmt.Errorf("%w: username or email already registered", ErrDuplicate)
		}
	}
	return nil
}

func (t *memTx) commit() error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	// A concurrent unit of work may have taken the name since it was checked.
	for id := range t.uniqueUsers {
		if err := t.m.checkUniqueUser(t.users[id]); err != nil {
			return err
		}
	}
	for id, u := range t.users {
		t.m.users[id] = u
	}
	for id, a := range t.accounts {
		t.m.accounts[id] = a
	}
	for id, b := range t.bills {
		t.m.bills[id] = b
	}
	t.m.txns = append(t.m.txns, t.txns...)
	return nil
}
