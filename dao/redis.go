package dao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
)

// Cache 版税表与预言机价格的读穿缓存
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache ttl为0时所有写入被忽略
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// RoyaltyKey 版税缓存Key
func RoyaltyKey(collection common.Address, tokenID *big.Int) string {
	return fmt.Sprintf("nft:royalty:%s:%s", collection.Hex(), tokenID.String())
}

// PriceKey 价格缓存Key
func PriceKey(currency common.Address) string {
	return fmt.Sprintf("nft:price:%s", currency.Hex())
}

type cachedRoyalty struct {
	Recipients []string `json:"recipients"`
	Bps        []uint16 `json:"bps"`
}

type cachedPrice struct {
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
}

// GetRoyalty 命中返回ok=true
func (c *Cache) GetRoyalty(ctx context.Context, collection common.Address, tokenID *big.Int) ([]common.Address, []uint16, bool, error) {
	var v cachedRoyalty
	ok, err := c.get(ctx, RoyaltyKey(collection, tokenID), &v)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	recipients := make([]common.Address, len(v.Recipients))
	for i, r := range v.Recipients {
		recipients[i] = common.HexToAddress(r)
	}
	return recipients, v.Bps, true, nil
}

// SetRoyalty 写入版税表
func (c *Cache) SetRoyalty(ctx context.Context, collection common.Address, tokenID *big.Int, recipients []common.Address, bps []uint16) error {
	v := cachedRoyalty{Recipients: make([]string, len(recipients)), Bps: bps}
	for i, r := range recipients {
		v.Recipients[i] = r.Hex()
	}
	return c.set(ctx, RoyaltyKey(collection, tokenID), v)
}

// GetPrice 命中返回ok=true
func (c *Cache) GetPrice(ctx context.Context, currency common.Address) (*big.Int, uint8, bool, error) {
	var v cachedPrice
	ok, err := c.get(ctx, PriceKey(currency), &v)
	if err != nil || !ok {
		return nil, 0, false, err
	}
	price, good := new(big.Int).SetString(v.Price, 10)
	if !good {
		return nil, 0, false, fmt.Errorf("bad cached price %q", v.Price)
	}
	return price, v.Decimals, true, nil
}

// SetPrice 写入预言机价格
func (c *Cache) SetPrice(ctx context.Context, currency common.Address, price *big.Int, decimals uint8) error {
	return c.set(ctx, PriceKey(currency), cachedPrice{Price: price.String(), Decimals: decimals})
}

func (c *Cache) get(ctx context.Context, key string, out interface{}) (bool, error) {
	if c.ttl <= 0 {
		return false, nil
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, v interface{}) error {
	if c.ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, c.ttl).Err()
}
