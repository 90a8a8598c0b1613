package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tokenledger/domain/entities"
	"tokenledger/events"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	balanceKeyPrefix = "tokenledger:balance:"

	// Outlives any cached entry so a generation never resets under a reader
	generationTTL = 24 * time.Hour
)

var errStaleBalance = errors.New("balance invalidated during read")

// BalanceReader reads confirmed balances from the store
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (entities.Balance, error)
}

// RedisBalanceCache is a read-through cache of confirmed balances for display
// reads. Spends and grants never consult it; they always lock the account row.
type RedisBalanceCache struct {
	client redis.UniversalClient
	source BalanceReader
	ttl    time.Duration
}

// NewRedisBalanceCache creates a balance cache in front of source
func NewRedisBalanceCache(client redis.UniversalClient, source BalanceReader, ttl time.Duration) *RedisBalanceCache {
	return &RedisBalanceCache{
		client: client,
		source: source,
		ttl:    ttl,
	}
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	log.WithField("addr", addr).Info("Connected to redis")
	return client, nil
}

// GetBalance returns the cached balance, falling back to the store on a miss
// or a cache failure. A store read only populates the cache when no
// invalidation happened since the miss.
func (c *RedisBalanceCache) GetBalance(ctx context.Context, accountID uuid.UUID) (entities.Balance, error) {
	key := balanceKey(accountID)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var balance entities.Balance
		if jerr := json.Unmarshal(raw, &balance); jerr == nil {
			return balance, nil
		}
		log.WithField("key", key).Warn("Discarding malformed cached balance")
	case !errors.Is(err, redis.Nil):
		log.WithFields(log.Fields{
			"accountID": accountID,
			"error":     err,
		}).Warn("Balance cache read failed, reading store")
	}

	generation, genErr := readGeneration(ctx, c.client, accountID)

	balance, err := c.source.GetBalance(ctx, accountID)
	if err != nil {
		return entities.Balance{}, err
	}

	if genErr == nil {
		c.populate(ctx, accountID, generation, balance)
	}
	return balance, nil
}

// populate writes balance unless the account's generation moved past seen.
// WATCH aborts the write when an invalidation lands between the check and EXEC.
func (c *RedisBalanceCache) populate(ctx context.Context, accountID uuid.UUID, seen int64, balance entities.Balance) {
	data, err := json.Marshal(balance)
	if err != nil {
		return
	}
	key := balanceKey(accountID)

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if current != seen {
			return errStaleBalance
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, generationKey(accountID))

	switch {
	case err == nil:
	case errors.Is(err, errStaleBalance), errors.Is(err, redis.TxFailedErr):
		log.WithField("accountID", accountID).Debug("Balance changed during read, not caching")
	default:
		log.WithError(err).Debug("Failed to populate balance cache")
	}
}

// stringGetter is satisfied by both a client and a WATCH transaction
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, cmd stringGetter, accountID uuid.UUID) (int64, error) {
	n, err := cmd.Get(ctx, generationKey(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Invalidate removes the cached balance for an account and bumps its
// generation so in-flight store reads do not write it back
func (c *RedisBalanceCache) Invalidate(ctx context.Context, accountID uuid.UUID) error {
	genKey := generationKey(accountID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, balanceKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate balance cache: %w", err)
	}
	return nil
}

// Subscribe drops cached entries whenever a balance change commits. The
// handler runs inline on the bus so the entry is gone before the committing
// call returns.
func (c *RedisBalanceCache) Subscribe(bus *events.Bus) {
	bus.SubscribeSync(events.EventTypeBalanceChanged, func(ctx context.Context, event events.Event) {
		e, ok := event.(events.BalanceChangedEvent)
		if !ok {
			return
		}
		if err := c.Invalidate(ctx, e.AccountID); err != nil {
			log.WithFields(log.Fields{
				"accountID": e.AccountID,
				"error":     err,
			}).Warn("Failed to invalidate cached balance")
		}
	})
}

// Both keys share a hash tag so WATCH and MULTI stay on one cluster slot
func balanceKey(accountID uuid.UUID) string {
	return balanceKeyPrefix + "{" + accountID.String() + "}"
}

func generationKey(accountID uuid.UUID) string {
	return balanceKey(accountID) + ":gen"
}
