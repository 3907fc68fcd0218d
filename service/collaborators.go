package service

import (
	"context"
	"math/big"

	"nft_settlement/dao"
	"nft_settlement/utils"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// RoyaltyRegistry 外部版税表（getRoyalty）
type RoyaltyRegistry interface {
	GetRoyalty(ctx context.Context, collection common.Address, tokenID *big.Int) ([]common.Address, []uint16, error)
}

// EventPublisher 事件广播（提交后调用）
type EventPublisher interface {
	Publish(ctx context.Context, event string, payload interface{}) error
}

// CachedRoyaltyRegistry 带Redis缓存的版税表
type CachedRoyaltyRegistry struct {
	next  RoyaltyRegistry
	cache *dao.Cache
}

func NewCachedRoyaltyRegistry(next RoyaltyRegistry, cache *dao.Cache) *CachedRoyaltyRegistry {
	return &CachedRoyaltyRegistry{next: next, cache: cache}
}

func (c *CachedRoyaltyRegistry) GetRoyalty(ctx context.Context, collection common.Address, tokenID *big.Int) ([]common.Address, []uint16, error) {
	recipients, bps, ok, err := c.cache.GetRoyalty(ctx, collection, tokenID)
	if err != nil {
		utils.Logger.Warn("读取版税缓存失败", zap.Error(err))
	}
	if ok {
		return recipients, bps, nil
	}
	recipients, bps, err = c.next.GetRoyalty(ctx, collection, tokenID)
	if err != nil {
		return nil, nil, err
	}
	if err := c.cache.SetRoyalty(ctx, collection, tokenID, recipients, bps); err != nil {
		utils.Logger.Warn("写入版税缓存失败", zap.Error(err))
	}
	return recipients, bps, nil
}

// CachedPriceOracle 带Redis缓存的预言机，cache 的TTL应远短于版税缓存（为0时每次都读上游）
type CachedPriceOracle struct {
	next  PriceOracle
	cache *dao.Cache
}

func NewCachedPriceOracle(next PriceOracle, cache *dao.Cache) *CachedPriceOracle {
	return &CachedPriceOracle{next: next, cache: cache}
}

func (c *CachedPriceOracle) GetLatestPrice(ctx context.Context, currency common.Address) (*big.Int, uint8, error) {
	price, decimals, ok, err := c.cache.GetPrice(ctx, currency)
	if err != nil {
		utils.Logger.Warn("读取价格缓存失败", zap.Error(err))
	}
	if ok {
		return price, decimals, nil
	}
	price, decimals, err = c.next.GetLatestPrice(ctx, currency)
	if err != nil {
		return nil, 0, err
	}
	if err := c.cache.SetPrice(ctx, currency, price, decimals); err != nil {
		utils.Logger.Warn("写入价格缓存失败", zap.Error(err))
	}
	return price, decimals, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, interface{}) error { return nil }
