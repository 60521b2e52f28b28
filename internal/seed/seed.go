package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/rifqisaleh/revoubank/internal/apperr"
	"github.com/rifqisaleh/revoubank/internal/auth"
	"github.com/rifqisaleh/revoubank/internal/ledger"
	"github.com/rifqisaleh/revoubank/internal/logger"
	"github.com/rifqisaleh/revoubank/internal/models"
	"github.com/shopspring/decimal"
)

const seedPassword = "password123"

type seedAccount struct {
	Type    models.AccountType
	Initial string
}

var testUsers = []struct {
	Username string
	Email    string
	FullName string
	Accounts []seedAccount
}{
	{"user1", "user1@test.com", "Test User 1", []seedAccount{{models.Savings, "1000.00"}, {models.Checking, "500.00"}}},
	{"user2", "user2@test.com", "Test User 2", []seedAccount{{models.Savings, "1000.00"}}},
	{"user3", "user3@test.com", "Test User 3", []seedAccount{{models.Checking, "250.00"}}},
}

// Run registers the test users and opens their accounts. Opening balances go
// through the ledger so they show up as deposits in each account's history.
// Users that already exist are left alone.
func Run(ctx context.Context, users *auth.Service, engine *ledger.Engine) error {
	log := logger.Sugar()
	created := 0
	for _, tu := range testUsers {
		u, err := users.Register(ctx, auth.RegisterInput{
			Username: tu.Username,
			Email:    tu.Email,
			Password: seedPassword,
			FullName: tu.FullName,
		})
		if errors.Is(err, apperr.ErrConflict) {
			log.Debugw("seed user exists, skipping", "username", tu.Username)
			continue
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w", tu.Username, err)
		}
		for _, sa := range tu.Accounts {
			if _, err := engine.OpenAccount(ctx, u.ID, sa.Type, decimal.RequireFromString(sa.Initial)); err != nil {
				return fmt.Errorf("seed account for %s: %w", tu.Username, err)
			}
		}
		created++
	}
	if created == 0 {
		log.Info("seed already applied, skipping")
		return nil
	}
	log.Infow("seeded test users", "count", created, "password", seedPassword)
	return nil
}
