package service

import (
	"context"
	"errors"
	"math/big"

	"nft_settlement/dao"
	"nft_settlement/model"

	"github.com/ethereum/go-ethereum/common"
)

var one = big.NewInt(1)

// resolveAssetKind 每个订单只解析一次资产模型
func resolveAssetKind(ctx context.Context, tx *dao.Store, collection common.Address) (model.AssetKind, error) {
	c, err := tx.Collection(ctx, collection)
	if errors.Is(err, dao.ErrNotFound) {
		return model.AssetUnknown, withDetail(ErrUnsupportedAsset, "unknown collection %s", collection.Hex())
	}
	if err != nil {
		return model.AssetUnknown, err
	}
	switch {
	case c.SupportsUnique && !c.SupportsFungible:
		return model.AssetUnique, nil
	case c.SupportsFungible && !c.SupportsUnique:
		return model.AssetFungible, nil
	}
	return model.AssetUnknown, withDetail(ErrUnsupportedAsset, "collection %s", collection.Hex())
}

// checkDeliverable 唯一资产：当前所有者必须是from；半同质化：余额 >= 数量
func checkDeliverable(ctx context.Context, tx *dao.Store, kind model.AssetKind, collection, from common.Address, tokenID, quantity *big.Int) error {
	if quantity == nil || quantity.Sign() <= 0 {
		return withDetail(ErrInvalidOrder, "quantity must be positive")
	}
	switch kind {
	case model.AssetUnique:
		if quantity.Cmp(one) != 0 {
			return withDetail(ErrInvalidOrder, "unique asset quantity must be 1")
		}
		owner, err := tx.OwnerOf(ctx, collection, tokenID)
		if errors.Is(err, dao.ErrNotFound) {
			return withDetail(ErrNotOwner, "token %s does not exist", tokenID)
		}
		if err != nil {
			return err
		}
		if owner != from {
			return withDetail(ErrNotOwner, "token %s owned by %s", tokenID, owner.Hex())
		}
	case model.AssetFungible:
		bal, err := tx.BalanceOf(ctx, collection, tokenID, from)
		if err != nil {
			return err
		}
		if bal.Cmp(quantity) < 0 {
			return withDetail(ErrInsufficientAsset, "balance %s < %s", bal, quantity)
		}
	default:
		return ErrUnsupportedAsset
	}
	return nil
}

// deliver 转移已有资产给买家
func deliver(ctx context.Context, tx *dao.Store, kind model.AssetKind, collection, from, to common.Address, tokenID, quantity *big.Int) error {
	switch kind {
	case model.AssetUnique:
		return fromStore(tx.TransferUnique(ctx, collection, from, to, tokenID))
	case model.AssetFungible:
		return fromStore(tx.TransferFungible(ctx, collection, from, to, tokenID, quantity))
	}
	return ErrUnsupportedAsset
}

// mintTo 铸造模式：唯一资产逐个铸造，半同质化按数量铸造
func mintTo(ctx context.Context, tx *dao.Store, kind model.AssetKind, collection, to common.Address, tokenIDs []*big.Int, quantity *big.Int) error {
	switch kind {
	case model.AssetUnique:
		return fromStore(tx.MintBatchUnique(ctx, collection, to, tokenIDs))
	case model.AssetFungible:
		return fromStore(tx.MintFungible(ctx, collection, to, tokenIDs[0], quantity))
	}
	return ErrUnsupportedAsset
}
