package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeCurrency 原生币的币种选择器（零地址）
var NativeCurrency = common.Address{}

// AssetKind 资产所有权模型
type AssetKind int

const (
	AssetUnknown  AssetKind = iota
	AssetUnique             // 唯一资产（ERC721语义，单一所有者）
	AssetFungible           // 半同质化资产（ERC1155语义，按余额）
)

func (k AssetKind) String() string {
	switch k {
	case AssetUnique:
		return "unique"
	case AssetFungible:
		return "fungible"
	default:
		return "unknown"
	}
}

// Order 链下签名的交易意向
type Order struct {
	ID           string         `json:"id"`            // 调用方生成，全局唯一
	TokenID      *big.Int       `json:"token_id"`      // 资产ID
	Collection   common.Address `json:"collection"`    // 资产合约地址
	Quantity     *big.Int       `json:"quantity"`      // 唯一资产为1
	Owner        common.Address `json:"owner"`         // 卖家
	Price        *big.Int       `json:"price"`         // 固定价格（最小单位）
	Currency     common.Address `json:"currency"`      // 卖家声明的收款币种
	Tax          *big.Int       `json:"tax"`           // 固定税额
	AllowedBuyer common.Address `json:"allowed_buyer"` // 零地址表示不限制
	FiatPrice    *big.Int       `json:"fiat_price"`    // 法币报价（可选）
	SlippageBps  uint16         `json:"slippage_bps"`
	Buyer        common.Address `json:"buyer"`
}

// HasFiatQuote 订单是否带法币报价
func (o *Order) HasFiatQuote() bool {
	return o.FiatPrice != nil && o.FiatPrice.Sign() > 0
}

// TaxAmount 税额，未设置视为0
func (o *Order) TaxAmount() *big.Int {
	if o.Tax == nil {
		return new(big.Int)
	}
	return o.Tax
}

// BidHistory 拍卖出价记录，仅用于审计
type BidHistory struct {
	Bidder   common.Address `json:"bidder"`
	Price    *big.Int       `json:"price"`
	Currency common.Address `json:"currency"`
}

// FeeConfig 结算费用配置（SettlementList）
type FeeConfig struct {
	PaymentRecipient    common.Address // 零地址表示付给卖家
	TaxRecipient        common.Address
	CommissionRecipient common.Address
	PlatformRecipient   common.Address
	PlatformBps         uint16
	CommissionBps       uint16
}

// TotalBps 百分比费率之和
func (f FeeConfig) TotalBps() int {
	return int(f.PlatformBps) + int(f.CommissionBps)
}

// BuyList 批量购买请求
type BuyList struct {
	SaleID   string         `json:"sale_id"`
	Buyer    common.Address `json:"buyer"`
	TokenIDs []*big.Int     `json:"token_ids"` // 转移模式下指定资产ID
	Quantity *big.Int       `json:"quantity"`  // 铸造模式下购买数量
	Currency common.Address `json:"currency"`
}
