package contract

import (
	"context"
	"fmt"
	"math/big"

	"nft_settlement/config"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// RoyaltyRegistryABI 版税登记合约ABI（仅getRoyalty）
const RoyaltyRegistryABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "collection", "type": "address"},
			{"internalType": "uint256", "name": "tokenId", "type": "uint256"}
		],
		"name": "getRoyalty",
		"outputs": [
			{"internalType": "address[]", "name": "recipients", "type": "address[]"},
			{"internalType": "uint256[]", "name": "basisPoints", "type": "uint256[]"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// RoyaltyRegistry 链上版税登记合约
type RoyaltyRegistry struct {
	c *caller
}

// NewRoyaltyRegistry 绑定版税合约
func NewRoyaltyRegistry(backend bind.ContractCaller, contractAddr string) (*RoyaltyRegistry, error) {
	c, err := newCaller(backend, contractAddr, RoyaltyRegistryABI)
	if err != nil {
		return nil, err
	}
	return &RoyaltyRegistry{c: c}, nil
}

// GetRoyalty 查询(collection, tokenId)的版税接收方与基点
func (r *RoyaltyRegistry) GetRoyalty(ctx context.Context, collection common.Address, tokenID *big.Int) ([]common.Address, []uint16, error) {
	out, err := r.c.call(ctx, "getRoyalty", collection, tokenID)
	if err != nil {
		return nil, nil, err
	}
	if len(out) != 2 {
		return nil, nil, fmt.Errorf("getRoyalty: unexpected output length %d", len(out))
	}
	recipients := *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address)
	raw := *abi.ConvertType(out[1], new([]*big.Int)).(*[]*big.Int)

	bps := make([]uint16, len(raw))
	for i, v := range raw {
		if !v.IsUint64() || v.Uint64() > config.MaxBps {
			return nil, nil, fmt.Errorf("getRoyalty: basis points %s out of range", v)
		}
		bps[i] = uint16(v.Uint64())
	}
	return recipients, bps, nil
}
