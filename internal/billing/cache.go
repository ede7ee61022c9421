package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache keeps committed bill headers in Redis. Concurrent misses for the same
// bill share one loader call. Each bill has its own version counter, so a
// loader that finishes after Invalidate writes under a retired key.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func billKey(kind Kind, billNo int64) string {
	return strings.Join([]string{"billing", "bill", string(kind), strconv.FormatInt(billNo, 10)}, ":")
}

func versionKey(kind Kind, billNo int64) string {
	return billKey(kind, billNo) + ":version"
}

func versionedKey(kind Kind, billNo, ver int64) string {
	return billKey(kind, billNo) + ":v" + strconv.FormatInt(ver, 10)
}

// Version returns the bill's current cache version. Bills never invalidated
// are at version zero.
func (c *Cache) Version(ctx context.Context, kind Kind, billNo int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(kind, billNo)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return ver, err
}

// FetchBill loads a cached bill or populates it using the loader.
func (c *Cache) FetchBill(ctx context.Context, kind Kind, billNo int64, loader func(context.Context) (Bill, error)) (Bill, error) {
	if loader == nil {
		return Bill{}, errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx, kind, billNo)
	if err != nil {
		return Bill{}, err
	}
	key := versionedKey(kind, billNo, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var bill Bill
		if err := json.Unmarshal(payload, &bill); err != nil {
			return Bill{}, err
		}
		return bill, nil
	}
	if err != redis.Nil {
		return Bill{}, err
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		bill, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(bill)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return bill, nil
	})
	select {
	case <-ctx.Done():
		return Bill{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Bill{}, res.Err
		}
		return res.Val.(Bill), nil
	}
}

// Invalidate bumps the bill's version and drops the copy cached under the
// previous one.
func (c *Cache) Invalidate(ctx context.Context, kind Kind, billNo int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(kind, billNo)).Result()
	if err != nil {
		return err
	}
	return c.client.Del(ctx, versionedKey(kind, billNo, ver-1)).Err()
}
