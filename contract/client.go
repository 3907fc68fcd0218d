package contract

import (
	"context"
	"fmt"
	"strings"

	"nft_settlement/utils"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// caller 只读合约调用器
type caller struct {
	contract *bind.BoundContract
	addr     common.Address
}

// Dial 连接区块链节点
func Dial(rpcUrl string) (*ethclient.Client, error) {
	client, err := ethclient.Dial(rpcUrl)
	if err != nil {
		utils.Logger.Error("连接区块链节点失败", zap.String("rpcUrl", rpcUrl), zap.Error(err))
		return nil, err
	}
	return client, nil
}

func newCaller(backend bind.ContractCaller, contractAddr string, abiJSON string) (*caller, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}
	// 解析ABI
	abiObj, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		utils.Logger.Error("解析ABI失败", zap.Error(err))
		return nil, err
	}
	addr := common.HexToAddress(contractAddr)
	return &caller{
		contract: bind.NewBoundContract(addr, abiObj, backend, nil, nil),
		addr:     addr,
	}, nil
}

func (c *caller) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		utils.Logger.Error("合约调用失败",
			zap.String("contract", c.addr.Hex()),
			zap.String("method", method),
			zap.Error(err))
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}
