package seed

import (
	"context"
	"testing"
	"time"

	"github.com/rifqisaleh/revoubank/internal/auth"
	"github.com/rifqisaleh/revoubank/internal/clock"
	"github.com/rifqisaleh/revoubank/internal/ledger"
	"github.com/rifqisaleh/revoubank/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunIsRepeatable(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(time.Second)
	users := auth.NewService(s, clock.System{}, nil, zap.NewNop(), auth.Policy{})
	engine := ledger.NewEngine(s, clock.System{}, nil, zap.NewNop())

	require.NoError(t, Run(ctx, users, engine))
	require.NoError(t, Run(ctx, users, engine))

	u, err := s.UserByUsername(ctx, "user1")
	require.NoError(t, err)
	accounts, err := engine.Accounts(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.True(t, accounts[0].Balance.Equal(decimal.RequireFromString("1000")))

	// Every opening balance is backed by a deposit.
	total := decimal.Zero
	for _, txn := range s.Transactions() {
		total = total.Add(txn.Amount)
	}
	assert.True(t, total.Equal(decimal.RequireFromString("2750")))

	_, err = users.Authenticate(ctx, "user2", seedPassword)
	assert.NoError(t, err)
}
