package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstable/cdpcore/internal/config"
	"github.com/openstable/cdpcore/internal/model"
)

func TestAccountManagerFromConfig(t *testing.T) {
	cfg := &config.Config{
		Accounts: []config.AccountConfig{
			{ID: "alice", Name: "Alice", APIKey: "key-alice", QPS: 5, Burst: 10},
			{ID: "bob", Name: "Bob", APIKey: "key-bob"},
		},
	}
	am := NewAccountManager(cfg)

	account, ok := am.Lookup("key-alice")
	require.True(t, ok)
	assert.Equal(t, "alice", account.ID)

	_, ok = am.Lookup("key-unknown")
	assert.False(t, ok)
}

func TestAccountManagerImplicitDefault(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.APIKey = "service-key"
	am := NewAccountManager(cfg)

	account, ok := am.Lookup("service-key")
	require.True(t, ok)
	assert.Equal(t, "default", account.ID)

	def, ok := am.Default()
	require.True(t, ok)
	assert.Equal(t, account.ID, def.ID)
}

func TestAccountManagerRateLimit(t *testing.T) {
	am := NewAccountManager(&config.Config{})
	am.Register(&model.Account{
		ID:     "tight",
		ApiKey: "key-tight",
		Rate:   model.RateLimitConfig{QPS: 1, Burst: 2},
	})

	assert.True(t, am.Allow("tight"))
	assert.True(t, am.Allow("tight"))
	assert.False(t, am.Allow("tight"), "burst of 2 exhausted")

	assert.True(t, am.Allow("nonexistent"), "unknown accounts are not limited here")
}
