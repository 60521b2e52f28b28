package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AccountType string

const (
	Savings  AccountType = "savings"
	Checking AccountType = "checking"
)

func (t AccountType) Valid() bool {
	return t == Savings || t == Checking
}

type TransactionType string

const (
	Deposit            TransactionType = "DEPOSIT"
	Withdrawal         TransactionType = "WITHDRAWAL"
	Transfer           TransactionType = "TRANSFER"
	ExternalDeposit    TransactionType = "EXTERNAL_DEPOSIT"
	ExternalWithdrawal TransactionType = "EXTERNAL_WITHDRAWAL"
	BillPayment        TransactionType = "BILL_PAYMENT"
)

// Inflow reports whether the type brings money into the system.
func (t TransactionType) Inflow() bool {
	return t == Deposit || t == ExternalDeposit
}

// Outflow reports whether the type takes money out of the system.
func (t TransactionType) Outflow() bool {
	return t == Withdrawal || t == ExternalWithdrawal || t == BillPayment
}

type PaymentMethod string

const (
	PayFromBalance PaymentMethod = "account_balance"
	PayByCard      PaymentMethod = "credit_card"
)

type User struct {
	gorm.Model
	Username       string `gorm:"uniqueIndex;size:255;not null"`
	Email          string `gorm:"uniqueIndex;size:255;not null"`
	Password       string `gorm:"size:255;not null" json:"-"`
	FullName       string `gorm:"size:255"`
	PhoneNumber    string `gorm:"size:50"`
	Role           string `gorm:"size:20;not null;default:user"`
	FailedAttempts int    `gorm:"not null;default:0"`
	IsLocked       bool   `gorm:"not null;default:false"`
	LockedTime     *time.Time
}

type Account struct {
	gorm.Model
	UserID        uint            `gorm:"index;not null"`
	AccountNumber string          `gorm:"uniqueIndex;size:20;not null"`
	Type          AccountType     `gorm:"size:20;not null"`
	Balance       decimal.Decimal `gorm:"type:numeric(20,2);not null"`
}

// Deleted reports whether the account was closed.
func (a *Account) Deleted() bool {
	return a.DeletedAt.Valid
}

// Transaction rows are append-only; nothing updates or deletes them.
type Transaction struct {
	ID                    uint            `gorm:"primaryKey"`
	Reference             string          `gorm:"uniqueIndex;size:36;not null"`
	Type                  TransactionType `gorm:"size:30;index;not null"`
	Amount                decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	SenderID              *uint           `gorm:"index"`
	ReceiverID            *uint           `gorm:"index"`
	BillID                *uint           `gorm:"index"`
	BankName              string          `gorm:"size:100"`
	ExternalAccountNumber string          `gorm:"size:100"`
	BillerName            string          `gorm:"size:100"`
	PaymentMethod         PaymentMethod   `gorm:"size:30"`
	Timestamp             time.Time       `gorm:"index;not null"`
}

type Bill struct {
	gorm.Model
	UserID     uint            `gorm:"index;not null"`
	AccountID  uint            `gorm:"index;not null"`
	BillerName string          `gorm:"size:100;not null"`
	DueDate    time.Time       `gorm:"not null"`
	Amount     decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	IsPaid     bool            `gorm:"not null;default:false"`
}

// All lists the models in migration order.
func All() []any {
	return []any{&User{}, &Account{}, &Transaction{}, &Bill{}}
}
