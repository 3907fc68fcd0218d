package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Dec big.Int -> decimal（nil视为0）
func Dec(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

// Big decimal -> big.Int（截断小数部分）
func Big(d decimal.Decimal) *big.Int {
	return d.BigInt()
}

// AddrKey 数据库中地址统一使用校验和格式
func AddrKey(a common.Address) string {
	return a.Hex()
}
