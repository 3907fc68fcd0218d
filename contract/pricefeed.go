package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// PriceFeedABI 价格预言机ABI（仅getLatestPrice）
const PriceFeedABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "currency", "type": "address"}
		],
		"name": "getLatestPrice",
		"outputs": [
			{"internalType": "int256", "name": "price", "type": "int256"},
			{"internalType": "uint8", "name": "decimals", "type": "uint8"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// PriceFeed 链上价格预言机
type PriceFeed struct {
	c *caller
}

// NewPriceFeed 绑定预言机合约
func NewPriceFeed(backend bind.ContractCaller, contractAddr string) (*PriceFeed, error) {
	c, err := newCaller(backend, contractAddr, PriceFeedABI)
	if err != nil {
		return nil, err
	}
	return &PriceFeed{c: c}, nil
}

// GetLatestPrice 返回币种的法币价格及精度
func (p *PriceFeed) GetLatestPrice(ctx context.Context, currency common.Address) (*big.Int, uint8, error) {
	out, err := p.c.call(ctx, "getLatestPrice", currency)
	if err != nil {
		return nil, 0, err
	}
	if len(out) != 2 {
		return nil, 0, fmt.Errorf("getLatestPrice: unexpected output length %d", len(out))
	}
	price := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	decimals := *abi.ConvertType(out[1], new(uint8)).(*uint8)
	if price == nil || price.Sign() <= 0 {
		return nil, 0, fmt.Errorf("getLatestPrice: non-positive price for %s", currency.Hex())
	}
	return price, decimals, nil
}
