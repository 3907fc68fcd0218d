package service

import (
	"context"
	"math/big"

	"nft_settlement/dao"
	"nft_settlement/model"

	"github.com/ethereum/go-ethereum/common"
)

// payment 一次结算的付款参数
type payment struct {
	payer        common.Address
	payCurrency  common.Address // 买方结算币种
	recvCurrency common.Address // 卖方声明的收款币种
	price        *big.Int
	tax          *big.Int
	seller       common.Address
	collection   common.Address
	tokenID      *big.Int // 查询版税用
	fees         model.FeeConfig
}

// Breakdown 资金分配结果
type Breakdown struct {
	Tax          *big.Int       `json:"tax"`
	PlatformFee  *big.Int       `json:"platform_fee"`
	Commission   *big.Int       `json:"commission"`
	Royalties    []RoyaltyShare `json:"royalties"`
	RoyaltyTotal *big.Int       `json:"royalty_total"`
	SellerNet    *big.Int       `json:"seller_net"`
}

// distribute 资金瀑布：税费 -> 平台费 -> 佣金 -> 版税 -> 卖家
func (e *Engine) distribute(ctx context.Context, tx *dao.Store, p *payment) (*Breakdown, error) {
	b := &Breakdown{
		Tax:          new(big.Int),
		PlatformFee:  new(big.Int),
		Commission:   new(big.Int),
		RoyaltyTotal: new(big.Int),
	}

	// 1. 固定税额
	if p.tax != nil && p.tax.Sign() > 0 {
		if p.fees.TaxRecipient == (common.Address{}) {
			return nil, withDetail(ErrInvalidFeeConfig, "tax recipient missing")
		}
		if err := e.transferLeg(ctx, tx, p, p.fees.TaxRecipient, p.tax); err != nil {
			return nil, err
		}
		b.Tax.Set(p.tax)
	}

	remaining := new(big.Int).Set(p.price)

	// 2. 平台手续费
	if fee := bpsOf(remaining, p.fees.PlatformBps); fee.Sign() > 0 {
		if err := e.transferLeg(ctx, tx, p, p.fees.PlatformRecipient, fee); err != nil {
			return nil, err
		}
		b.PlatformFee = fee
		remaining.Sub(remaining, fee)
	}

	// 3. 佣金
	if fee := bpsOf(remaining, p.fees.CommissionBps); fee.Sign() > 0 {
		if err := e.transferLeg(ctx, tx, p, p.fees.CommissionRecipient, fee); err != nil {
			return nil, err
		}
		b.Commission = fee
		remaining.Sub(remaining, fee)
	}

	// 4. 版税
	remaining, shares, err := e.payRoyalties(ctx, tx, p, remaining)
	if err != nil {
		return nil, err
	}
	b.Royalties = shares
	for _, s := range shares {
		b.RoyaltyTotal.Add(b.RoyaltyTotal, s.Amount)
	}

	// 5. 剩余全部给卖家（截断产生的零头归卖家）
	recipient := p.fees.PaymentRecipient
	if recipient == (common.Address{}) {
		recipient = p.seller
	}
	if err := e.transferLeg(ctx, tx, p, recipient, remaining); err != nil {
		return nil, err
	}
	b.SellerNet = remaining
	return b, nil
}

// transferLeg 单笔转账；付款币种与收款币种不同时逐笔包装/解包
func (e *Engine) transferLeg(ctx context.Context, tx *dao.Store, p *payment, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	payNative := p.payCurrency == model.NativeCurrency
	recvNative := p.recvCurrency == model.NativeCurrency

	var err error
	switch {
	case payNative && recvNative:
		err = tx.TransferNative(ctx, p.payer, to, amount)
	case !payNative && !recvNative:
		err = tx.TransferTokenFrom(ctx, e.wrapped, e.self, p.payer, to, amount)
	case payNative && !recvNative:
		// 包装：原生币进入引擎，存入包装合约，再转出包装币
		if err = tx.TransferNative(ctx, p.payer, e.self, amount); err != nil {
			break
		}
		if err = tx.Deposit(ctx, e.wrapped, e.self, amount); err != nil {
			break
		}
		err = tx.TransferToken(ctx, e.wrapped, e.self, to, amount)
	default:
		// 解包：代扣包装币到引擎，取回原生币，再转出原生币
		if err = tx.TransferTokenFrom(ctx, e.wrapped, e.self, p.payer, e.self, amount); err != nil {
			break
		}
		if err = tx.Withdraw(ctx, e.wrapped, e.self, amount); err != nil {
			break
		}
		err = tx.TransferNative(ctx, e.self, to, amount)
	}
	return fromStore(err)
}
