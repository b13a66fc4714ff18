package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

// CachedService layers a two-level balance cache over a Service: an
// in-process LRU for the hot path and Redis so multiple instances agree
// after an invalidation. Only GetBalance reads the cache; every mutating
// operation invalidates before returning so a caller's follow-up read sees
// its own write. The TTL is deliberately short because request tokens are
// cheap to revalidate but a stale balance shows users wrong numbers.
type CachedService struct {
	Service

	local   *lru.Cache[string, cachedBalance]
	redis   *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

type cachedBalance struct {
	Balance   *Balance
	ExpiresAt time.Time
}

// NewCachedService wraps inner with balance caching. redisClient may be
// nil for single-instance deployments; the local LRU still applies.
func NewCachedService(inner Service, redisClient *redis.Client, size int, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) (*CachedService, error) {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	local, err := lru.New[string, cachedBalance](size)
	if err != nil {
		return nil, fmt.Errorf("creating balance cache: %w", err)
	}
	return &CachedService{
		Service: inner,
		local:   local,
		redis:   redisClient,
		ttl:     ttl,
		logger:  logger.WithComponent("ledger.cache"),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

func balanceKey(accountID string) string {
	return "creditd:balance:" + accountID
}

// GetBalance serves from the local LRU, then Redis, then the store.
func (c *CachedService) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	if entry, ok := c.local.Get(accountID); ok && c.now().Before(entry.ExpiresAt) {
		c.hit()
		return entry.Balance, nil
	}

	if c.redis != nil {
		raw, err := c.redis.Get(ctx, balanceKey(accountID)).Result()
		if err == nil {
			var bal Balance
			if jerr := json.Unmarshal([]byte(raw), &bal); jerr == nil {
				c.hit()
				c.local.Add(accountID, cachedBalance{Balance: &bal, ExpiresAt: c.now().Add(c.ttl)})
				return &bal, nil
			}
		} else if err != redis.Nil {
			// Redis being down degrades to store reads, never to errors.
			c.logger.WithError(err).Warn("balance cache read failed")
		}
	}

	c.miss()
	bal, err := c.Service.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, accountID, bal)
	return bal, nil
}

func (c *CachedService) store(ctx context.Context, accountID string, bal *Balance) {
	c.local.Add(accountID, cachedBalance{Balance: bal, ExpiresAt: c.now().Add(c.ttl)})
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(bal)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, balanceKey(accountID), raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("balance cache write failed")
	}
}

// Invalidate drops any cached balance for the account.
func (c *CachedService) Invalidate(ctx context.Context, accountID string) {
	c.local.Remove(accountID)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, balanceKey(accountID)).Err(); err != nil {
		c.logger.WithError(err).WithField("account_id", accountID).Warn("balance cache invalidation failed")
	}
}

func (c *CachedService) hit() {
	if c.metrics != nil {
		c.metrics.BalanceCacheHits.Inc()
	}
}

func (c *CachedService) miss() {
	if c.metrics != nil {
		c.metrics.BalanceCacheMisses.Inc()
	}
}

// Consume charges through the store and drops the cached balance.
func (c *CachedService) Consume(ctx context.Context, accountID string, action string, metadata map[string]string) (*ConsumeResult, error) {
	res, err := c.Service.Consume(ctx, accountID, action, metadata)
	if err == nil {
		c.Invalidate(ctx, accountID)
	}
	return res, err
}

// Refresh resets the period and drops the cached balance.
func (c *CachedService) Refresh(ctx context.Context, accountID string) (*Subscription, error) {
	sub, err := c.Service.Refresh(ctx, accountID)
	if err == nil {
		c.Invalidate(ctx, accountID)
	}
	return sub, err
}

// ChangePlan switches tiers and drops the cached balance.
func (c *CachedService) ChangePlan(ctx context.Context, accountID string, tier plans.Tier, refs *ExternalRefs) (*Subscription, error) {
	sub, err := c.Service.ChangePlan(ctx, accountID, tier, refs)
	if err == nil {
		c.Invalidate(ctx, accountID)
	}
	return sub, err
}

// SetStatus transitions lifecycle state and drops the cached balance.
func (c *CachedService) SetStatus(ctx context.Context, accountID string, status Status) error {
	err := c.Service.SetStatus(ctx, accountID, status)
	if err == nil {
		c.Invalidate(ctx, accountID)
	}
	return err
}

// SetEntitlement force-writes from the billing authority and drops the
// cached balance.
func (c *CachedService) SetEntitlement(ctx context.Context, accountID string, tier plans.Tier, total int64, status Status, refs *ExternalRefs) (*Subscription, error) {
	sub, err := c.Service.SetEntitlement(ctx, accountID, tier, total, status, refs)
	if err == nil {
		c.Invalidate(ctx, accountID)
	}
	return sub, err
}
