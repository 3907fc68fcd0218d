package dao

import (
	"context"
	"fmt"
	"math/big"

	"nft_settlement/model"

	"github.com/ethereum/go-ethereum/common"
)

// RegisterCollection 登记资产合约及其支持的接口
func (s *Store) RegisterCollection(ctx context.Context, c *model.Collection) error {
	return s.upsert(ctx, c)
}

// Collection 查询资产合约
func (s *Store) Collection(ctx context.Context, addr common.Address) (*model.Collection, error) {
	var c model.Collection
	err := s.conn(ctx).Where("address = ?", model.AddrKey(addr)).Take(&c).Error
	if notFound(err) {
		return nil, fmt.Errorf("%w: collection %s", ErrNotFound, addr.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	return &c, nil
}

// OwnerOf 唯一资产当前所有者
func (s *Store) OwnerOf(ctx context.Context, collection common.Address, tokenID *big.Int) (common.Address, error) {
	var a model.UniqueAsset
	err := s.conn(ctx).Where("collection = ? AND token_id = ?", model.AddrKey(collection), model.Dec(tokenID)).Take(&a).Error
	if notFound(err) {
		return common.Address{}, fmt.Errorf("%w: token %s", ErrNotFound, tokenID)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("query owner: %w", err)
	}
	return common.HexToAddress(a.Owner), nil
}

// BalanceOf 半同质化资产余额
func (s *Store) BalanceOf(ctx context.Context, collection common.Address, tokenID *big.Int, holder common.Address) (*big.Int, error) {
	row, err := s.fungible(ctx, collection, tokenID, holder)
	if err != nil {
		return nil, err
	}
	return model.Big(row.Amount), nil
}

func (s *Store) fungible(ctx context.Context, collection common.Address, tokenID *big.Int, holder common.Address) (*model.FungibleBalance, error) {
	var row model.FungibleBalance
	err := s.conn(ctx).
		Where("collection = ? AND token_id = ? AND holder = ?", model.AddrKey(collection), model.Dec(tokenID), model.AddrKey(holder)).
		Take(&row).Error
	if notFound(err) {
		return &model.FungibleBalance{Collection: model.AddrKey(collection), TokenID: model.Dec(tokenID), Holder: model.AddrKey(holder)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query fungible balance: %w", err)
	}
	return &row, nil
}

func (s *Store) adjustFungible(ctx context.Context, collection common.Address, tokenID *big.Int, holder common.Address, delta *big.Int) error {
	row, err := s.fungible(ctx, collection, tokenID, holder)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(model.Big(row.Amount), delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: %s holds %s of token %s", ErrInsufficientBalance, holder.Hex(), row.Amount, tokenID)
	}
	row.Amount = model.Dec(next)
	return s.upsert(ctx, row)
}

// TransferUnique 唯一资产转移，from必须是当前所有者
func (s *Store) TransferUnique(ctx context.Context, collection, from, to common.Address, tokenID *big.Int) error {
	owner, err := s.OwnerOf(ctx, collection, tokenID)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: %s owned by %s", ErrNotOwner, tokenID, owner.Hex())
	}
	return s.upsert(ctx, &model.UniqueAsset{
		Collection: model.AddrKey(collection),
		TokenID:    model.Dec(tokenID),
		Owner:      model.AddrKey(to),
	})
}

// TransferFungible 半同质化资产转移
func (s *Store) TransferFungible(ctx context.Context, collection, from, to common.Address, tokenID, amount *big.Int) error {
	if err := s.adjustFungible(ctx, collection, tokenID, from, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return s.adjustFungible(ctx, collection, tokenID, to, amount)
}

// MintUnique 铸造唯一资产，ID已存在时失败
func (s *Store) MintUnique(ctx context.Context, collection, to common.Address, tokenID *big.Int) error {
	if _, err := s.OwnerOf(ctx, collection, tokenID); err == nil {
		return fmt.Errorf("%w: token %s", ErrAlreadyExists, tokenID)
	}
	if err := s.conn(ctx).Create(&model.UniqueAsset{
		Collection: model.AddrKey(collection),
		TokenID:    model.Dec(tokenID),
		Owner:      model.AddrKey(to),
	}).Error; err != nil {
		return fmt.Errorf("mint token %s: %w", tokenID, err)
	}
	return nil
}

// MintBatchUnique 批量铸造唯一资产
func (s *Store) MintBatchUnique(ctx context.Context, collection, to common.Address, tokenIDs []*big.Int) error {
	for _, id := range tokenIDs {
		if err := s.MintUnique(ctx, collection, to, id); err != nil {
			return err
		}
	}
	return nil
}

// MintFungible 铸造半同质化资产
func (s *Store) MintFungible(ctx context.Context, collection, to common.Address, tokenID, amount *big.Int) error {
	return s.adjustFungible(ctx, collection, tokenID, to, amount)
}
