package service

import (
	"context"
	"fmt"
	"math/big"

	"nft_settlement/config"
	"nft_settlement/dao"

	"github.com/ethereum/go-ethereum/common"
)

// RoyaltyShare 单个版税接收方的实际支付
type RoyaltyShare struct {
	Recipient common.Address `json:"recipient"`
	Bps       uint16         `json:"bps"`
	Amount    *big.Int       `json:"amount"`
}

// royaltySchedule 查询版税表；未配置或已停用视为无接收方
func (e *Engine) royaltySchedule(ctx context.Context, collection common.Address, tokenID *big.Int) ([]common.Address, []uint16, error) {
	if !e.royaltiesEnabled || e.royalties == nil {
		return nil, nil, nil
	}
	var recipients []common.Address
	var bps []uint16
	err := e.guard.callout(func() (err error) {
		recipients, bps, err = e.royalties.GetRoyalty(ctx, collection, tokenID)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("get royalty: %w", err)
	}
	if len(recipients) != len(bps) {
		return nil, nil, withDetail(ErrInvalidRoyalty, "%d recipients, %d rates", len(recipients), len(bps))
	}
	// 总和超过100%时无论金额大小都拒绝（小额时逐项向下取整可能全为0）
	sum := 0
	for _, b := range bps {
		sum += int(b)
	}
	if sum > config.MaxBps {
		return nil, nil, withDetail(ErrRoyaltyInsolvent, "schedule sums to %d bps", sum)
	}
	return recipients, bps, nil
}

// payRoyalties 按外部版税表顺序从 total 中支付，返回剩余金额
// 每项 fee = floor(bps * total / 10000)，剩余不足即版税表总和超过100%
func (e *Engine) payRoyalties(ctx context.Context, tx *dao.Store, p *payment, total *big.Int) (*big.Int, []RoyaltyShare, error) {
	recipients, bps, err := e.royaltySchedule(ctx, p.collection, p.tokenID)
	if err != nil {
		return nil, nil, err
	}
	remaining := new(big.Int).Set(total)
	if len(recipients) == 0 {
		return remaining, nil, nil
	}

	shares := make([]RoyaltyShare, 0, len(recipients))
	for i, recipient := range recipients {
		fee := bpsOf(total, bps[i])
		if remaining.Cmp(fee) < 0 {
			return nil, nil, withDetail(ErrRoyaltyInsolvent, "share %d needs %s, %s left", i, fee, remaining)
		}
		if err := e.transferLeg(ctx, tx, p, recipient, fee); err != nil {
			return nil, nil, err
		}
		remaining.Sub(remaining, fee)
		shares = append(shares, RoyaltyShare{Recipient: recipient, Bps: bps[i], Amount: fee})
	}
	return remaining, shares, nil
}

func bpsOf(amount *big.Int, bps uint16) *big.Int {
	v := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return v.Quo(v, bpsDenominator)
}
