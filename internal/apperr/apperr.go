// Package apperr holds the typed outcomes returned by the ledger and auth
// services. Every kind is an expected result; the transport maps kinds to
// HTTP statuses with Status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidAmount
	KindInvalidInput
	KindInvalidCard
	KindAccountNotFound
	KindUserNotFound
	KindBillNotFound
	KindUnauthorized
	KindSameAccountTransfer
	KindInsufficientFunds
	KindBillAlreadyPaid
	KindConflict
	KindInvalidCredentials
	KindAccountLocked
	KindBusy
	KindStorage
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindInvalidAmount:       "invalid_amount",
	KindInvalidInput:        "invalid_input",
	KindInvalidCard:         "invalid_card",
	KindAccountNotFound:     "account_not_found",
	KindUserNotFound:        "user_not_found",
	KindBillNotFound:        "bill_not_found",
	KindUnauthorized:        "unauthorized",
	KindSameAccountTransfer: "same_account_transfer",
	KindInsufficientFunds:   "insufficient_funds",
	KindBillAlreadyPaid:     "bill_already_paid",
	KindConflict:            "conflict",
	KindInvalidCredentials:  "invalid_credentials",
	KindAccountLocked:       "account_locked",
	KindBusy:                "busy",
	KindStorage:             "storage_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single error type produced by the services. Only the fields
// relevant to Kind are set.
type Error struct {
	Kind Kind
	Op   string
	Msg  string

	Remaining   int             // InvalidCredentials
	LockedUntil time.Time       // AccountLocked
	Required    decimal.Decimal // InsufficientFunds
	Available   decimal.Decimal // InsufficientFunds

	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, apperr.ErrInsufficientFunds).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the whole operation may be retried safely.
func (e *Error) Retryable() bool { return e.Kind == KindBusy }

var (
	ErrInvalidAmount       = &Error{Kind: KindInvalidAmount, Msg: "amount must be greater than zero with at most two decimal places"}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput, Msg: "invalid input"}
	ErrInvalidCard         = &Error{Kind: KindInvalidCard, Msg: "invalid card number"}
	ErrAccountNotFound     = &Error{Kind: KindAccountNotFound, Msg: "account not found"}
	ErrUserNotFound        = &Error{Kind: KindUserNotFound, Msg: "user not found"}
	ErrBillNotFound        = &Error{Kind: KindBillNotFound, Msg: "bill not found"}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized, Msg: "not the owner of the source account"}
	ErrSameAccountTransfer = &Error{Kind: KindSameAccountTransfer, Msg: "sender and receiver cannot be the same"}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds, Msg: "insufficient funds"}
	ErrBillAlreadyPaid     = &Error{Kind: KindBillAlreadyPaid, Msg: "bill already paid"}
	ErrConflict            = &Error{Kind: KindConflict, Msg: "already exists"}
	ErrInvalidCredentials  = &Error{Kind: KindInvalidCredentials, Msg: "invalid username or password"}
	ErrAccountLocked       = &Error{Kind: KindAccountLocked, Msg: "account is locked"}
	ErrBusy                = &Error{Kind: KindBusy, Msg: "resource busy, retry"}
	ErrStorage             = &Error{Kind: KindStorage, Msg: "storage failure"}
)

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func InsufficientFunds(op string, required, available decimal.Decimal) *Error {
	return &Error{
		Kind:      KindInsufficientFunds,
		Op:        op,
		Msg:       fmt.Sprintf("insufficient funds: required %s, available %s", required.StringFixed(2), available.StringFixed(2)),
		Required:  required,
		Available: available,
	}
}

func InvalidCredentials(op string, remaining int) *Error {
	return &Error{Kind: KindInvalidCredentials, Op: op, Msg: ErrInvalidCredentials.Msg, Remaining: remaining}
}

func AccountLocked(op string, until time.Time) *Error {
	return &Error{
		Kind:        KindAccountLocked,
		Op:          op,
		Msg:         "account is locked until " + until.Format(time.RFC3339),
		LockedUntil: until,
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Status(kind Kind) int {
	switch kind {
	case KindInvalidAmount, KindInvalidInput, KindInvalidCard, KindSameAccountTransfer, KindInsufficientFunds:
		return http.StatusBadRequest
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindUnauthorized, KindAccountLocked:
		return http.StatusForbidden
	case KindAccountNotFound, KindUserNotFound, KindBillNotFound:
		return http.StatusNotFound
	case KindBillAlreadyPaid, KindConflict:
		return http.StatusConflict
	case KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
