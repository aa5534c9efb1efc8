package service

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/openstable/cdpcore/internal/config"
	"github.com/openstable/cdpcore/internal/model"
)

// AccountManager maps API keys to accounts and enforces per-account request
// rate limits. Accounts come from configuration; an account's ID is the
// owner key its positions live under.
type AccountManager struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account // key: API key
	limiters map[string]*rate.Limiter  // key: account ID
}

func NewAccountManager(cfg *config.Config) *AccountManager {
	am := &AccountManager{
		accounts: make(map[string]*model.Account),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, ac := range cfg.Accounts {
		account := &model.Account{
			ID:     ac.ID,
			Name:   ac.Name,
			ApiKey: ac.APIKey,
			Rate: model.RateLimitConfig{
				QPS:   ac.QPS,
				Burst: ac.Burst,
			},
		}
		am.Register(account)
	}
	// Single-key mode: one implicit account bound to the service API key.
	if len(am.accounts) == 0 && cfg.Auth.APIKey != "" {
		am.Register(&model.Account{
			ID:     "default",
			Name:   "Default Account",
			ApiKey: cfg.Auth.APIKey,
			Rate:   model.RateLimitConfig{QPS: 10, Burst: 20},
		})
	}
	return am
}

func (am *AccountManager) Register(account *model.Account) {
	if account == nil || account.ApiKey == "" {
		return
	}
	qps := account.Rate.QPS
	if qps <= 0 {
		qps = 10
	}
	burst := account.Rate.Burst
	if burst <= 0 {
		burst = 2 * int(qps)
	}
	am.mu.Lock()
	defer am.mu.Unlock()
	am.accounts[account.ApiKey] = account
	am.limiters[account.ID] = rate.NewLimiter(rate.Limit(qps), burst)
}

// Default returns the account anonymous requests run under when the API key
// requirement is disabled: the account with ID "default", or the only
// account when exactly one is configured.
func (am *AccountManager) Default() (*model.Account, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	var only *model.Account
	for _, account := range am.accounts {
		if account.ID == "default" {
			return account, true
		}
		only = account
	}
	if len(am.accounts) == 1 {
		return only, true
	}
	return nil, false
}

// Lookup resolves an API key to its account.
func (am *AccountManager) Lookup(apiKey string) (*model.Account, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	account, ok := am.accounts[apiKey]
	return account, ok
}

// Allow consumes one token from the account's limiter.
func (am *AccountManager) Allow(accountID string) bool {
	am.mu.RLock()
	limiter, ok := am.limiters[accountID]
	am.mu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}
