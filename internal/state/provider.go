package state

import (
	"github.com/google/uuid"
)

// LiquidityProvider tracks one underwriter's participation in the risk vault.
// ActiveDeposit is the portion still escrowed; TotalDeposited and
// TotalWithdrawn are lifetime counters and only grow.
type LiquidityProvider struct {
	Provider       uuid.UUID
	ActiveDeposit  int64
	TotalDeposited int64
	TotalWithdrawn int64
	FirstDepositAt int64
	LastActivityAt int64
}

// ProviderBook holds all liquidity provider records. Single-writer.
type ProviderBook struct {
	providers map[uuid.UUID]*LiquidityProvider
}

func NewProviderBook() *ProviderBook {
	return &ProviderBook{providers: make(map[uuid.UUID]*LiquidityProvider)}
}

func (b *ProviderBook) Get(provider uuid.UUID) (*LiquidityProvider, bool) {
	lp, ok := b.providers[provider]
	return lp, ok
}

// RecordDeposit credits a deposit, creating the provider record on first use.
func (b *ProviderBook) RecordDeposit(provider uuid.UUID, amount, timestamp int64) *LiquidityProvider {
	lp, ok := b.providers[provider]
	if !ok {
		lp = &LiquidityProvider{Provider: provider, FirstDepositAt: timestamp}
		b.providers[provider] = lp
	}
	lp.ActiveDeposit += amount
	lp.TotalDeposited += amount
	lp.LastActivityAt = timestamp
	return lp
}

// RecordWithdrawal debits an approved withdrawal. Callers must have
// verified ActiveDeposit covers the amount.
func (b *ProviderBook) RecordWithdrawal(provider uuid.UUID, amount, timestamp int64) *LiquidityProvider {
	lp := b.providers[provider]
	lp.ActiveDeposit -= amount
	lp.TotalWithdrawn += amount
	lp.LastActivityAt = timestamp
	return lp
}

// Restore replaces a provider record wholesale, for snapshot recovery.
func (b *ProviderBook) Restore(lp *LiquidityProvider) {
	b.providers[lp.Provider] = lp
}

// All returns every provider record in unspecified order.
func (b *ProviderBook) All() []*LiquidityProvider {
	out := make([]*LiquidityProvider, 0, len(b.providers))
	for _, lp := range b.providers {
		out = append(out, lp)
	}
	return out
}

func (b *ProviderBook) Count() int {
	return len(b.providers)
}
