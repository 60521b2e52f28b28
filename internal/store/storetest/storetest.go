// Package storetest builds the store backends that service tests run against.
package storetest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rifqisaleh/revoubank/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Backend struct {
	Name string
	New  func(t *testing.T) store.Store
}

// Backends lists the in-memory store and the gorm store over a throwaway
// sqlite file.
var Backends = []Backend{
	{Name: "memory", New: func(*testing.T) store.Store { return store.NewMemory(time.Second) }},
	{Name: "gorm", New: func(t *testing.T) store.Store { return SQLite(t) }},
}

// SQLite opens a migrated sqlite database in t's temp dir. A single
// connection serializes units of work the way row locks would.
func SQLite(t *testing.T) *store.Gorm {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "bank.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, store.DBMigrate(db, zap.NewNop()))
	return store.NewGorm(db, time.Second)
}

// Each runs fn once per backend as a subtest.
func Each(t *testing.T, fn func(t *testing.T, s store.Store)) {
	for _, b := range Backends {
		t.Run(b.Name, func(t *testing.T) { fn(t, b.New(t)) })
	}
}
