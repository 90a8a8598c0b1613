package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tokenledger/config"
	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/domain/services"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrNotLoaded is returned when the cache has not fetched a confirmed balance yet
var ErrNotLoaded = errors.New("balance not loaded")

// BalanceCache is a local, non-authoritative mirror of one account's balance.
// A spend is applied to the mirror immediately, then confirmed by the ledger;
// any failure restores the pre-spend snapshot. It never grants anything.
type BalanceCache struct {
	ledger    LedgerClient
	accountID uuid.UUID
	engine    *services.AccountingEngine

	mu      sync.RWMutex
	balance entities.Balance
	loaded  bool
	version uint64 // Bumped by every confirmed balance

	// One optimistic intent in flight at a time
	spendMu sync.Mutex

	onChange func(entities.Balance)
}

// NewBalanceCache creates a cache for accountID. onChange, when set, is
// called after every local update, including rollbacks.
func NewBalanceCache(ledger LedgerClient, accountID uuid.UUID, onChange func(entities.Balance)) *BalanceCache {
	return &BalanceCache{
		ledger:    ledger,
		accountID: accountID,
		engine:    services.NewAccountingEngine(config.DefaultLedgerPolicy()),
		onChange:  onChange,
	}
}

// Refresh replaces the mirror with the confirmed balance
func (c *BalanceCache) Refresh(ctx context.Context) (entities.Balance, error) {
	balance, err := c.ledger.GetBalance(ctx, c.accountID)
	if err != nil {
		return entities.Balance{}, fmt.Errorf("failed to refresh balance: %w", err)
	}
	c.confirm(balance)
	return balance, nil
}

// Snapshot returns the current local view
func (c *BalanceCache) Snapshot() (entities.Balance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance, c.loaded
}

// CanAfford is the pre-flight check for starting a tool. The ledger still decides.
func (c *BalanceCache) CanAfford(amount int64) bool {
	balance, loaded := c.Snapshot()
	return loaded && balance.Total() >= amount
}

// Spend predicts the drain locally, then asks the ledger to perform it. Any
// answer other than a confirmed spend first restores the snapshot taken before
// the intent; an insufficient-balance answer then applies the ledger's balance.
// A Refresh that lands while the ledger call is in flight wins over the restore.
func (c *BalanceCache) Spend(ctx context.Context, amount int64, toolID, toolResultID string) (*interfaces.SpendResult, error) {
	c.spendMu.Lock()
	defer c.spendMu.Unlock()

	c.mu.RLock()
	snapshot, loaded, version := c.balance, c.loaded, c.version
	c.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}

	predicted := &entities.Account{ID: c.accountID, PurchasedBalance: snapshot.Purchased, DailyBalance: snapshot.Daily}
	if plan, err := c.engine.ComputeSpend(predicted, amount); err == nil {
		c.predict(entities.Balance{
			AccountID: c.accountID,
			Purchased: snapshot.Purchased - plan.PurchasedDelta,
			Daily:     snapshot.Daily - plan.DailyDelta,
		})
	} else if errors.Is(err, entities.ErrInvalidAmount) {
		return nil, err
	}
	// A locally insufficient balance may be stale; the ledger still gets the final say

	result, err := c.ledger.Spend(ctx, interfaces.SpendRequest{
		AccountID:    c.accountID,
		Amount:       amount,
		ToolID:       toolID,
		ToolResultID: toolResultID,
	})
	if err != nil {
		restored := c.restore(snapshot, version)
		log.WithFields(log.Fields{
			"accountID": c.accountID,
			"amount":    amount,
			"restored":  restored,
			"error":     err,
		}).Debug("Spend failed, rolled back local prediction")
		return nil, err
	}

	if result.Status != interfaces.SpendStatusSpent {
		c.restore(snapshot, version)
	}
	c.confirm(result.Balance)
	return result, nil
}

// predict shows an unconfirmed balance
func (c *BalanceCache) predict(balance entities.Balance) {
	c.mu.Lock()
	c.balance = balance
	c.mu.Unlock()
	c.notify(balance)
}

// confirm records a balance reported by the ledger
func (c *BalanceCache) confirm(balance entities.Balance) {
	c.mu.Lock()
	c.balance = balance
	c.loaded = true
	c.version++
	c.mu.Unlock()
	c.notify(balance)
}

// restore puts snapshot back unless a confirmed balance arrived after version
func (c *BalanceCache) restore(snapshot entities.Balance, version uint64) bool {
	c.mu.Lock()
	if c.version != version {
		c.mu.Unlock()
		return false
	}
	c.balance = snapshot
	c.mu.Unlock()
	c.notify(snapshot)
	return true
}

func (c *BalanceCache) notify(balance entities.Balance) {
	if c.onChange != nil {
		c.onChange(balance)
	}
}
