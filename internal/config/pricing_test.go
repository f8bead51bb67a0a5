package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultPricingTableIsValid(t *testing.T) {
	table := DefaultPricingTable()
	require.NoError(t, ValidatePricingTable(table))
	assert.Equal(t, int64(20_000), table.Deposit)
	assert.Equal(t, int64(60_000), table.Surcharge.DoubleUp)
}

func TestValidatePricingTable(t *testing.T) {
	bad := DefaultPricingTable()
	bad.Deposit = 0
	assert.Error(t, ValidatePricingTable(bad))

	bad = DefaultPricingTable()
	bad.Currency = "dollars"
	assert.Error(t, ValidatePricingTable(bad))

	bad = DefaultPricingTable()
	bad.Surcharge.Standard = -1
	assert.Error(t, ValidatePricingTable(bad))
}

func TestNewPricingHolderFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewPricingHolder(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultPricingTable(), holder.Get())
}

func TestNewPricingHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("pricing:\n  currency: EUR\n  deposit: 15000\n  surcharge:\n    none: 0\n    standard: 10000\n    double_up: 30000\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pricing.yml"), content, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewPricingHolder(zap.NewNop())
	require.NoError(t, err)

	table := holder.Get()
	assert.Equal(t, "eur", table.Currency)
	assert.Equal(t, int64(15000), table.Deposit)
	assert.Equal(t, int64(30000), table.Surcharge.DoubleUp)
}

func TestLoadReadsDurations(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_TOLERANCE", "120")
	t.Setenv("DATABASE_CONN_MAX_LIFETIME", "90s")
	t.Setenv("DATABASE_TYPE", "SQLite")

	cfg := Load()
	assert.Equal(t, 2*time.Minute, cfg.Stripe.WebhookTolerance)
	assert.Equal(t, 90*time.Second, cfg.DBConnMaxLifetime)
	assert.Equal(t, "sqlite", cfg.DBType)
}
