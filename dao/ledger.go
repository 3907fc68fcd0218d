package dao

import (
	"context"
	"fmt"
	"math/big"

	"nft_settlement/model"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm/clause"
)

// NativeBalance 查询原生币余额，不存在的账户余额为0
func (s *Store) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	acc, err := s.account(ctx, addr)
	if err != nil {
		return nil, err
	}
	return model.Big(acc.Native), nil
}

func (s *Store) account(ctx context.Context, addr common.Address) (*model.Account, error) {
	var acc model.Account
	err := s.conn(ctx).Where("address = ?", model.AddrKey(addr)).Take(&acc).Error
	if notFound(err) {
		return &model.Account{Address: model.AddrKey(addr)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account %s: %w", addr.Hex(), err)
	}
	return &acc, nil
}

func (s *Store) adjustNative(ctx context.Context, addr common.Address, delta *big.Int) error {
	acc, err := s.account(ctx, addr)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(model.Big(acc.Native), delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: %s native", ErrInsufficientBalance, addr.Hex())
	}
	acc.Native = model.Dec(next)
	return s.upsert(ctx, acc)
}

// CreditNative 增加原生币余额（充值/初始化）
func (s *Store) CreditNative(ctx context.Context, addr common.Address, amount *big.Int) error {
	return s.adjustNative(ctx, addr, amount)
}

// SetRejectsNative 标记账户拒收原生币
func (s *Store) SetRejectsNative(ctx context.Context, addr common.Address, rejects bool) error {
	acc, err := s.account(ctx, addr)
	if err != nil {
		return err
	}
	acc.RejectsNative = rejects
	return s.upsert(ctx, acc)
}

// TransferNative 原生币转账，接收方拒收时返回 ErrNativeRejected
func (s *Store) TransferNative(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	recv, err := s.account(ctx, to)
	if err != nil {
		return err
	}
	if recv.RejectsNative {
		return fmt.Errorf("%w: %s", ErrNativeRejected, to.Hex())
	}
	if err := s.adjustNative(ctx, from, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return s.adjustNative(ctx, to, amount)
}

// TokenBalance 包装币余额
func (s *Store) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	row, err := s.tokenBalance(ctx, token, holder)
	if err != nil {
		return nil, err
	}
	return model.Big(row.Amount), nil
}

func (s *Store) tokenBalance(ctx context.Context, token, holder common.Address) (*model.TokenBalance, error) {
	var row model.TokenBalance
	err := s.conn(ctx).Where("token = ? AND holder = ?", model.AddrKey(token), model.AddrKey(holder)).Take(&row).Error
	if notFound(err) {
		return &model.TokenBalance{Token: model.AddrKey(token), Holder: model.AddrKey(holder)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query token balance: %w", err)
	}
	return &row, nil
}

func (s *Store) adjustToken(ctx context.Context, token, holder common.Address, delta *big.Int) error {
	row, err := s.tokenBalance(ctx, token, holder)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(model.Big(row.Amount), delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: %s token %s", ErrInsufficientBalance, holder.Hex(), token.Hex())
	}
	row.Amount = model.Dec(next)
	return s.upsert(ctx, row)
}

// CreditToken 增加包装币余额（初始化用）
func (s *Store) CreditToken(ctx context.Context, token, holder common.Address, amount *big.Int) error {
	return s.adjustToken(ctx, token, holder, amount)
}

// Allowance 授权额度
func (s *Store) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	row, err := s.allowance(ctx, token, owner, spender)
	if err != nil {
		return nil, err
	}
	return model.Big(row.Amount), nil
}

func (s *Store) allowance(ctx context.Context, token, owner, spender common.Address) (*model.TokenAllowance, error) {
	var row model.TokenAllowance
	err := s.conn(ctx).
		Where("token = ? AND owner = ? AND spender = ?", model.AddrKey(token), model.AddrKey(owner), model.AddrKey(spender)).
		Take(&row).Error
	if notFound(err) {
		return &model.TokenAllowance{Token: model.AddrKey(token), Owner: model.AddrKey(owner), Spender: model.AddrKey(spender)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query allowance: %w", err)
	}
	return &row, nil
}

// Approve 设置授权额度
func (s *Store) Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error {
	row, err := s.allowance(ctx, token, owner, spender)
	if err != nil {
		return err
	}
	row.Amount = model.Dec(amount)
	return s.upsert(ctx, row)
}

// TransferToken 直接转账（由持有者发起）
func (s *Store) TransferToken(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := s.adjustToken(ctx, token, from, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return s.adjustToken(ctx, token, to, amount)
}

// TransferTokenFrom 由spender代扣，消耗授权额度
func (s *Store) TransferTokenFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	allow, err := s.allowance(ctx, token, from, spender)
	if err != nil {
		return err
	}
	left := new(big.Int).Sub(model.Big(allow.Amount), amount)
	if left.Sign() < 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInsufficientAllow, from.Hex(), spender.Hex())
	}
	allow.Amount = model.Dec(left)
	if err := s.upsert(ctx, allow); err != nil {
		return err
	}
	return s.TransferToken(ctx, token, from, to, amount)
}

// Deposit 包装：扣原生币，增加等额包装币
func (s *Store) Deposit(ctx context.Context, token, holder common.Address, amount *big.Int) error {
	if err := s.adjustNative(ctx, holder, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return s.adjustToken(ctx, token, holder, amount)
}

// Withdraw 解包：扣包装币，返还等额原生币
func (s *Store) Withdraw(ctx context.Context, token, holder common.Address, amount *big.Int) error {
	if err := s.adjustToken(ctx, token, holder, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return s.adjustNative(ctx, holder, amount)
}

func (s *Store) upsert(ctx context.Context, row interface{}) error {
	if err := s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
		return fmt.Errorf("upsert %T: %w", row, err)
	}
	return nil
}
