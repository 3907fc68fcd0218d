package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend 按方法名返回预先ABI编码的结果
type fakeBackend struct {
	abi     abi.ABI
	outputs map[string][]interface{}
	err     error
	calls   int
}

func newFakeBackend(t *testing.T, abiJSON string) *fakeBackend {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	require.NoError(t, err)
	return &fakeBackend{abi: parsed, outputs: map[string][]interface{}{}}
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(f.outputs[method.Name]...)
}

func TestRoyaltyRegistry(t *testing.T) {
	backend := newFakeBackend(t, RoyaltyRegistryABI)
	recipients := []common.Address{common.HexToAddress("0xa1"), common.HexToAddress("0xb2")}
	backend.outputs["getRoyalty"] = []interface{}{recipients, []*big.Int{big.NewInt(500), big.NewInt(250)}}

	reg, err := NewRoyaltyRegistry(backend, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)

	got, bps, err := reg.GetRoyalty(context.Background(), common.HexToAddress("0xc0"), big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, recipients, got)
	assert.Equal(t, []uint16{500, 250}, bps)
}

func TestRoyaltyRegistryBpsOutOfRange(t *testing.T) {
	backend := newFakeBackend(t, RoyaltyRegistryABI)
	reg, err := NewRoyaltyRegistry(backend, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)

	for _, v := range []int64{70000, 10001} {
		backend.outputs["getRoyalty"] = []interface{}{
			[]common.Address{common.HexToAddress("0xa1")},
			[]*big.Int{big.NewInt(v)},
		}
		_, _, err = reg.GetRoyalty(context.Background(), common.HexToAddress("0xc0"), big.NewInt(1))
		assert.Error(t, err, v)
	}

	// 单项100%仍是合法基点
	backend.outputs["getRoyalty"] = []interface{}{
		[]common.Address{common.HexToAddress("0xa1")},
		[]*big.Int{big.NewInt(10000)},
	}
	_, bps, err := reg.GetRoyalty(context.Background(), common.HexToAddress("0xc0"), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, []uint16{10000}, bps)
}

func TestPriceFeed(t *testing.T) {
	backend := newFakeBackend(t, PriceFeedABI)
	backend.outputs["getLatestPrice"] = []interface{}{big.NewInt(250000000000), uint8(8)}

	feed, err := NewPriceFeed(backend, "0x0000000000000000000000000000000000000002")
	require.NoError(t, err)

	price, decimals, err := feed.GetLatestPrice(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, "250000000000", price.String())
	assert.Equal(t, uint8(8), decimals)

	backend.outputs["getLatestPrice"] = []interface{}{big.NewInt(0), uint8(8)}
	_, _, err = feed.GetLatestPrice(context.Background(), common.Address{})
	assert.Error(t, err)

	backend.err = errors.New("rpc down")
	_, _, err = feed.GetLatestPrice(context.Background(), common.Address{})
	assert.Error(t, err)
}

func TestInvalidContractAddress(t *testing.T) {
	_, err := NewPriceFeed(newFakeBackend(t, PriceFeedABI), "not-an-address")
	assert.Error(t, err)
}
