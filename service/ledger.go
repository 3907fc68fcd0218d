package service

import (
	"context"
	"math/big"

	"nft_settlement/dao"
	"nft_settlement/model"
	"nft_settlement/utils"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// CollectionSpec 资产合约登记参数
type CollectionSpec struct {
	Address          common.Address
	SupportsUnique   bool
	SupportsFungible bool
	Owner            common.Address // 可为空；非空时该地址可管理本合约的批量销售
}

// RegisterCollection 登记或更新资产合约支持的接口
func (e *Engine) RegisterCollection(ctx context.Context, caller common.Address, spec CollectionSpec) error {
	if spec.Address == (common.Address{}) {
		return withDetail(ErrInvalidLedgerEntry, "collection address required")
	}
	if !spec.SupportsUnique && !spec.SupportsFungible {
		return withDetail(ErrInvalidLedgerEntry, "collection must support an asset interface")
	}
	return e.ledgerOp(ctx, caller, func(tx *dao.Store) error {
		c := &model.Collection{
			Address:          model.AddrKey(spec.Address),
			SupportsUnique:   spec.SupportsUnique,
			SupportsFungible: spec.SupportsFungible,
		}
		if spec.Owner != (common.Address{}) {
			c.Owner = model.AddrKey(spec.Owner)
		}
		return tx.RegisterCollection(ctx, c)
	}, zap.String("op", "register_collection"), zap.String("collection", spec.Address.Hex()))
}

// CreditFunds 同步链上充值：原生币或包装币入账
func (e *Engine) CreditFunds(ctx context.Context, caller, currency, holder common.Address, amount *big.Int) error {
	if !e.supportedCurrency(currency) {
		return withDetail(ErrUnsupportedCurrency, "%s", currency.Hex())
	}
	if err := checkCredit(holder, amount); err != nil {
		return err
	}
	return e.ledgerOp(ctx, caller, func(tx *dao.Store) error {
		if currency == model.NativeCurrency {
			return tx.CreditNative(ctx, holder, amount)
		}
		return tx.CreditToken(ctx, currency, holder, amount)
	}, zap.String("op", "credit_funds"), zap.String("holder", holder.Hex()), zap.String("amount", amount.String()))
}

// CreditAsset 同步托管资产：唯一资产 amount 必须为1，半同质化按数量累加
func (e *Engine) CreditAsset(ctx context.Context, caller, collection, holder common.Address, tokenID, amount *big.Int) error {
	if tokenID == nil || tokenID.Sign() < 0 {
		return withDetail(ErrInvalidLedgerEntry, "token id required")
	}
	if err := checkCredit(holder, amount); err != nil {
		return err
	}
	return e.ledgerOp(ctx, caller, func(tx *dao.Store) error {
		kind, err := resolveAssetKind(ctx, tx, collection)
		if err != nil {
			return err
		}
		if kind == model.AssetUnique && amount.Cmp(one) != 0 {
			return withDetail(ErrInvalidLedgerEntry, "unique asset amount must be 1")
		}
		return mintTo(ctx, tx, kind, collection, holder, []*big.Int{tokenID}, amount)
	}, zap.String("op", "credit_asset"), zap.String("collection", collection.Hex()), zap.String("token_id", tokenID.String()))
}

// ApproveEngine 调用方授权引擎动用其包装币，amount 为0即撤销
func (e *Engine) ApproveEngine(ctx context.Context, caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return withDetail(ErrInvalidLedgerEntry, "allowance must be non-negative")
	}
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return e.store.Approve(ctx, e.wrapped, caller, e.self, amount)
}

// SetNativeAcceptance 调用方声明是否接收原生币；拒收时结算给该地址的原生币腿会失败回滚
func (e *Engine) SetNativeAcceptance(ctx context.Context, caller common.Address, accept bool) error {
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return e.store.SetRejectsNative(ctx, caller, !accept)
}

func checkCredit(holder common.Address, amount *big.Int) error {
	if holder == (common.Address{}) {
		return withDetail(ErrInvalidLedgerEntry, "holder required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return withDetail(ErrInvalidLedgerEntry, "amount must be positive")
	}
	return nil
}

// ledgerOp 账本写入：需要 PermManageLedger，在单个事务内执行
func (e *Engine) ledgerOp(ctx context.Context, caller common.Address, fn func(tx *dao.Store) error, fields ...zap.Field) error {
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	perms, err := e.caps.Resolve(ctx, caller, common.Address{})
	if err != nil {
		return err
	}
	if !perms.Has(PermManageLedger) {
		return ErrNotLedgerAdmin
	}
	if err := e.store.Transaction(ctx, fn); err != nil {
		return fromStore(err)
	}
	utils.Logger.Info("账本已更新", append(fields, zap.String("caller", caller.Hex()))...)
	return nil
}
