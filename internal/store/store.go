package store

import (
	"context"
	"errors"

	"github.com/rifqisaleh/revoubank/internal/models"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("duplicate record")
	ErrLockTimeout = errors.New("lock wait timeout")
)

// Store is the persistence contract used by the ledger and auth services.
// Reads outside WithinTx see committed state only.
type Store interface {
	// WithinTx runs fn as one unit of work. If fn returns an error nothing
	// it wrote is kept.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	User(ctx context.Context, id uint) (*models.User, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	Account(ctx context.Context, id uint) (*models.Account, error)
	AccountsByOwner(ctx context.Context, userID uint) ([]models.Account, error)
	TransactionsByAccount(ctx context.Context, accountID uint) ([]models.Transaction, error)
	// TransactionsByOwner lists, newest first, the transactions touching any
	// account the user owns or once owned.
	TransactionsByOwner(ctx context.Context, userID uint) ([]models.Transaction, error)
	BillsByOwner(ctx context.Context, userID uint) ([]models.Bill, error)
}

// Tx is a unit of work. Rows returned by the Lock methods stay exclusively
// held until the unit of work ends.
type Tx interface {
	// LockAccounts locks the given live accounts in ascending id order and
	// returns them keyed by id. Duplicate ids are locked once.
	LockAccounts(ctx context.Context, ids ...uint) (map[uint]*models.Account, error)
	CreateAccount(ctx context.Context, a *models.Account) error
	SaveAccount(ctx context.Context, a *models.Account) error
	DeleteAccount(ctx context.Context, a *models.Account) error

	CreateTransaction(ctx context.Context, t *models.Transaction) error

	LockBill(ctx context.Context, id uint) (*models.Bill, error)
	CreateBill(ctx context.Context, b *models.Bill) error
	SaveBill(ctx context.Context, b *models.Bill) error
	DeleteBill(ctx context.Context, b *models.Bill) error

	LockUserByUsername(ctx context.Context, username string) (*models.User, error)
	LockUser(ctx context.Context, id uint) (*models.User, error)
	User(ctx context.Context, id uint) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	SaveUser(ctx context.Context, u *models.User) error
}
