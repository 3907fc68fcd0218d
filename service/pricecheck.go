package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WeiScale 内部定点精度 10^18
var WeiScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var bpsDenominator = big.NewInt(10000)

// PriceOracle 价格预言机（getLatestPrice）
type PriceOracle interface {
	GetLatestPrice(ctx context.Context, currency common.Address) (*big.Int, uint8, error)
}

// FairValue oraclePrice * basePrice / 10^decimals / 10^18，整数截断
func FairValue(oraclePrice *big.Int, decimals uint8, basePrice *big.Int) *big.Int {
	v := new(big.Int).Mul(oraclePrice, basePrice)
	v.Quo(v, pow10(decimals))
	return v.Quo(v, WeiScale)
}

// WithSlippage quoted + floor(quoted * slippageBps / 10000)
func WithSlippage(quoted *big.Int, slippageBps uint16) *big.Int {
	margin := new(big.Int).Mul(quoted, big.NewInt(int64(slippageBps)))
	margin.Quo(margin, bpsDenominator)
	return margin.Add(margin, quoted)
}

// FiatToCurrency 法币价格换算为币种最小单位，向上取整保证不低于法币价格
func FiatToCurrency(fiat *big.Int, oraclePrice *big.Int, decimals uint8) *big.Int {
	num := new(big.Int).Mul(fiat, pow10(decimals))
	num.Mul(num, WeiScale)
	q, r := new(big.Int).QuoRem(num, oraclePrice, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// validateQuote 法币报价加上滑点后低于公允价值则拒绝
func validateQuote(ctx context.Context, oracle PriceOracle, basePrice, quoted *big.Int, currency common.Address, slippageBps uint16) error {
	if oracle == nil {
		return ErrOracleUnavailable
	}
	price, decimals, err := oracle.GetLatestPrice(ctx, currency)
	if err != nil {
		return fmt.Errorf("get latest price: %w", err)
	}
	if price == nil || price.Sign() <= 0 {
		return withDetail(ErrOracleUnavailable, "non-positive oracle price")
	}
	fair := FairValue(price, decimals, basePrice)
	adjusted := WithSlippage(quoted, slippageBps)
	if adjusted.Cmp(fair) < 0 {
		return withDetail(ErrPriceBelowFairValue, "quoted %s (+%dbps = %s) < fair %s", quoted, slippageBps, adjusted, fair)
	}
	return nil
}
