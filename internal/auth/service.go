// Package auth verifies credentials and runs the per-user lockout state
// machine: repeated wrong passwords lock the user for a cooldown, after which
// the next attempt unlocks it implicitly.
package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rifqisaleh/revoubank/internal/apperr"
	"github.com/rifqisaleh/revoubank/internal/clock"
	"github.com/rifqisaleh/revoubank/internal/models"
	"github.com/rifqisaleh/revoubank/internal/notify"
	"github.com/rifqisaleh/revoubank/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultMaxFailedAttempts = 3
	DefaultLockDuration      = 15 * time.Minute
)

type Policy struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
}

// Principal is the identity attached to an authenticated request.
type Principal struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Service struct {
	store    store.Store
	clock    clock.Clock
	notifier notify.Notifier
	log      *zap.Logger
	policy   Policy
}

func NewService(s store.Store, c clock.Clock, n notify.Notifier, log *zap.Logger, p Policy) *Service {
	if p.MaxFailedAttempts <= 0 {
		p.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if p.LockDuration <= 0 {
		p.LockDuration = DefaultLockDuration
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{store: s, clock: c, notifier: n, log: log, policy: p}
}

// Compared against when the username is unknown so both paths pay for one
// bcrypt comparison.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
})

// Authenticate checks username and password and updates the lockout state of
// the user row, all under that row's lock. Rejections that change state (a
// counted failure, a fresh lock) are committed before the error is returned.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Principal, error) {
	const op = "authenticate"

	var (
		principal Principal
		outcome   error
		lockedOut *models.User
	)
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		u, err := tx.LockUserByUsername(ctx, username)
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
			outcome = apperr.New(apperr.KindUserNotFound, op, apperr.ErrUserNotFound.Msg)
			return nil
		}
		if err != nil {
			return err
		}

		now := s.clock.Now()
		dirty := u.FailedAttempts != 0 || u.IsLocked || u.LockedTime != nil

		if u.IsLocked {
			if until, ok := s.lockedUntil(u); ok && !now.After(until) {
				outcome = apperr.AccountLocked(op, until)
				return nil
			}
			u.IsLocked = false
			u.FailedAttempts = 0
			u.LockedTime = nil
		}

		if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
			u.FailedAttempts++
			if u.FailedAttempts >= s.policy.MaxFailedAttempts {
				u.IsLocked = true
				at := now
				u.LockedTime = &at
				cp := *u
				lockedOut = &cp
			}
			if err := tx.SaveUser(ctx, u); err != nil {
				return err
			}
			outcome = apperr.InvalidCredentials(op, max(0, s.policy.MaxFailedAttempts-u.FailedAttempts))
			return nil
		}

		if dirty {
			u.FailedAttempts = 0
			u.IsLocked = false
			u.LockedTime = nil
			if err := tx.SaveUser(ctx, u); err != nil {
				return err
			}
		}
		principal = Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
		return nil
	})
	if err != nil {
		return Principal{}, s.fail(op, err)
	}

	if lockedOut != nil {
		until, _ := s.lockedUntil(lockedOut)
		s.log.Warn("user locked after repeated failed logins",
			zap.Uint("user_id", lockedOut.ID),
			zap.Int("failed_attempts", lockedOut.FailedAttempts),
			zap.Time("locked_until", until))
		s.notifier.Notify(notify.Event{
			Kind:        notify.AccountLocked,
			Recipient:   notify.Recipient{UserID: lockedOut.ID, Username: lockedOut.Username, Email: lockedOut.Email},
			LockedUntil: until,
		})
	}
	if outcome != nil {
		s.log.Debug("login rejected", zap.String("username", username), zap.Stringer("kind", apperr.KindOf(outcome)))
		return Principal{}, outcome
	}
	s.log.Info("login succeeded", zap.Uint("user_id", principal.UserID))
	return principal, nil
}

// lockedUntil reports when the cooldown of a locked user ends. A lock with no
// timestamp is treated as already expired.
func (s *Service) lockedUntil(u *models.User) (time.Time, bool) {
	if u.LockedTime == nil {
		return time.Time{}, false
	}
	return u.LockedTime.Add(s.policy.LockDuration), true
}

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	FullName    string
	PhoneNumber string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	const op = "register"
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || in.Password == "" {
		return nil, apperr.New(apperr.KindInvalidInput, op, "username and password are required")
	}
	email, ok := normalizeEmail(in.Email)
	if !ok {
		return nil, apperr.New(apperr.KindInvalidInput, op, "a valid email is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, op, err)
	}
	u := &models.User{
		Username:    in.Username,
		Email:       email,
		Password:    string(hash),
		FullName:    in.FullName,
		PhoneNumber: in.PhoneNumber,
		Role:        "user",
	}
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		return tx.CreateUser(ctx, u)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.New(apperr.KindConflict, op, "username or email already registered")
	}
	if err != nil {
		return nil, s.fail(op, err)
	}
	s.log.Info("user registered", zap.Uint("user_id", u.ID), zap.String("username", u.Username))
	return u, nil
}

// normalizeEmail accepts "addr" or "Name <addr>" and returns the bare
// address, which is what the mail sender needs as a recipient.
func normalizeEmail(raw string) (string, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return addr.Address, true
}

// ProfileUpdate changes the fields that are set.
type ProfileUpdate struct {
	Username    *string
	Email       *string
	Password    *string
	FullName    *string
	PhoneNumber *string
}

func (s *Service) UpdateProfile(ctx context.Context, id uint, in ProfileUpdate) (*models.User, error) {
	const op = "update profile"

	var username, email, hash string
	if in.Username != nil {
		if username = strings.TrimSpace(*in.Username); username == "" {
			return nil, apperr.New(apperr.KindInvalidInput, op, "username cannot be empty")
		}
	}
	if in.Email != nil {
		var ok bool
		if email, ok = normalizeEmail(*in.Email); !ok {
			return nil, apperr.New(apperr.KindInvalidInput, op, "a valid email is required")
		}
	}
	if in.Password != nil {
		if *in.Password == "" {
			return nil, apperr.New(apperr.KindInvalidInput, op, "password cannot be empty")
		}
		h, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidInput, op, err)
		}
		hash = string(h)
	}

	var out models.User
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		u, err := tx.LockUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindUserNotFound, op, apperr.ErrUserNotFound.Msg)
		}
		if err != nil {
			return err
		}
		if username != "" {
			u.Username = username
		}
		if email != "" {
			u.Email = email
		}
		if hash != "" {
			u.Password = hash
		}
		if in.FullName != nil {
			u.FullName = *in.FullName
		}
		if in.PhoneNumber != nil {
			u.PhoneNumber = *in.PhoneNumber
		}
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		out = *u
		return nil
	})
	var ae *apperr.Error
	switch {
	case err == nil:
	case errors.As(err, &ae):
		return nil, err
	case errors.Is(err, store.ErrDuplicate):
		return nil, apperr.New(apperr.KindConflict, op, "username or email already registered")
	default:
		return nil, s.fail(op, err)
	}
	s.log.Info("profile updated", zap.Uint("user_id", id))
	return &out, nil
}

func (s *Service) User(ctx context.Context, id uint) (*models.User, error) {
	u, err := s.store.User(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindUserNotFound, "get user", apperr.ErrUserNotFound.Msg)
	}
	if err != nil {
		return nil, s.fail("get user", err)
	}
	return u, nil
}

func (s *Service) fail(op string, err error) error {
	if errors.Is(err, store.ErrLockTimeout) {
		s.log.Warn("user row lock wait timed out", zap.String("op", op), zap.Error(err))
		return apperr.Wrap(apperr.KindBusy, op, err)
	}
	s.log.Error("auth storage failure", zap.String("op", op), zap.Error(err))
	return apperr.Wrap(apperr.KindStorage, op, err)
}
