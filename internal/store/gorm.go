package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rifqisaleh/revoubank/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgLockNotAvailable = "55P03"
	pgDeadlockDetected = "40P01"
)

// Gorm implements Store on top of a relational database. Row locks use
// SELECT ... FOR UPDATE; on postgres the wait is bounded by lock_timeout.
type Gorm struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

func NewGorm(db *gorm.DB, lockTimeout time.Duration) *Gorm {
	return &Gorm{db: db, lockTimeout: lockTimeout}
}

func (g *Gorm) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if g.lockTimeout > 0 && tx.Dialector.Name() == "postgres" {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", g.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return translate(err)
			}
		}
		return fn(&gormTx{db: tx})
	})
}

func (g *Gorm) User(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := g.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (g *Gorm) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := g.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (g *Gorm) Account(ctx context.Context, id uint) (*models.Account, error) {
	var a models.Account
	if err := g.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (g *Gorm) AccountsByOwner(ctx context.Context, userID uint) ([]models.Account, error) {
	var accounts []models.Account
	err := g.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&accounts).Error
	return accounts, translate(err)
}

func (g *Gorm) TransactionsByAccount(ctx context.Context, accountID uint) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := g.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", accountID, accountID).
		Order("timestamp DESC, id DESC").
		Find(&txns).Error
	return txns, translate(err)
}

func (g *Gorm) TransactionsByOwner(ctx context.Context, userID uint) ([]models.Transaction, error) {
	var txns []models.Transaction
	owned := g.db.Unscoped().Model(&models.Account{}).Select("id").Where("user_id = ?", userID)
	err := g.db.WithContext(ctx).
		Where("sender_id IN (?) OR receiver_id IN (?)", owned, owned).
		Order("timestamp DESC, id DESC").
		Find(&txns).Error
	return txns, translate(err)
}

func (g *Gorm) BillsByOwner(ctx context.Context, userID uint) ([]models.Bill, error) {
	var bills []models.Bill
	err := g.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("due_date, id").
		Find(&bills).Error
	return bills, translate(err)
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) forUpdate() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormTx) LockAccounts(ctx context.Context, ids ...uint) (map[uint]*models.Account, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	out := make(map[uint]*models.Account, len(ordered))
	for _, id := range ordered {
		var a models.Account
		if err := t.forUpdate().WithContext(ctx).First(&a, id).Error; err != nil {
			return nil, translate(err)
		}
		out[id] = &a
	}
	return out, nil
}

func (t *gormTx) CreateAccount(ctx context.Context, a *models.Account) error {
	return translate(t.db.WithContext(ctx).Create(a).Error)
}

func (t *gormTx) SaveAccount(ctx context.Context, a *models.Account) error {
	return translate(t.db.WithContext(ctx).Save(a).Error)
}

func (t *gormTx) DeleteAccount(ctx context.Context, a *models.Account) error {
	return translate(t.db.WithContext(ctx).Delete(a).Error)
}

func (t *gormTx) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return translate(t.db.WithContext(ctx).Create(txn).Error)
}

func (t *gormTx) LockBill(ctx context.Context, id uint) (*models.Bill, error) {
	var b models.Bill
	if err := t.forUpdate().WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (t *gormTx) CreateBill(ctx context.Context, b *models.Bill) error {
	return translate(t.db.WithContext(ctx).Create(b).Error)
}

func (t *gormTx) SaveBill(ctx context.Context, b *models.Bill) error {
	return translate(t.db.WithContext(ctx).Save(b).Error)
}

func (t *gormTx) DeleteBill(ctx context.Context, b *models.Bill) error {
	return translate(t.db.WithContext(ctx).Delete(b).Error)
}

func (t *gormTx) LockUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := t.forUpdate().WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *gormTx) LockUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := t.forUpdate().WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *gormTx) User(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := t.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *gormTx) CreateUser(ctx context.Context, u *models.User) error {
	return translate(t.db.WithContext(ctx).Create(u).Error)
}

func (t *gormTx) SaveUser(ctx context.Context, u *models.User) error {
	return translate(t.db.WithContext(ctx).Save(u).Error)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgLockNotAvailable || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
	}
	return err
}
