package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account 账户原生币余额
type Account struct {
	Address       string          `gorm:"primaryKey;size:42;comment:钱包地址"`
	Native        decimal.Decimal `gorm:"type:varchar(80);comment:原生币余额（wei）"`
	RejectsNative bool            `gorm:"comment:是否拒收原生币（合约无payable回调）"`
	UpdatedAt     time.Time
}

// TokenBalance 包装币余额
type TokenBalance struct {
	Token     string          `gorm:"primaryKey;size:42"`
	Holder    string          `gorm:"primaryKey;size:42"`
	Amount    decimal.Decimal `gorm:"type:varchar(80)"`
	UpdatedAt time.Time
}

// TokenAllowance 包装币授权额度
type TokenAllowance struct {
	Token     string          `gorm:"primaryKey;size:42"`
	Owner     string          `gorm:"primaryKey;size:42"`
	Spender   string          `gorm:"primaryKey;size:42"`
	Amount    decimal.Decimal `gorm:"type:varchar(80)"`
	UpdatedAt time.Time
}

// Collection 资产合约及其声明支持的接口
type Collection struct {
	Address          string `gorm:"primaryKey;size:42;comment:NFT合约地址"`
	SupportsUnique   bool   `gorm:"comment:支持ERC721接口"`
	SupportsFungible bool   `gorm:"comment:支持ERC1155接口"`
	Owner            string `gorm:"size:42;comment:合约所有者（可为空）"`
	CreatedAt        time.Time
}

// UniqueAsset 唯一资产所有权
type UniqueAsset struct {
	Collection string          `gorm:"primaryKey;size:42"`
	TokenID    decimal.Decimal `gorm:"primaryKey;type:varchar(80)"`
	Owner      string          `gorm:"size:42;index"`
	UpdatedAt  time.Time
}

// FungibleBalance 半同质化资产余额
type FungibleBalance struct {
	Collection string          `gorm:"primaryKey;size:42"`
	TokenID    decimal.Decimal `gorm:"primaryKey;type:varchar(80)"`
	Holder     string          `gorm:"primaryKey;size:42"`
	Amount     decimal.Decimal `gorm:"type:varchar(80)"`
	UpdatedAt  time.Time
}

// UsedOrder 已消费的订单ID（只增不删）
type UsedOrder struct {
	OrderID string    `gorm:"primaryKey;size:128;comment:订单ID"`
	Kind    string    `gorm:"size:32;comment:消费该ID的操作"`
	UsedAt  time.Time `gorm:"comment:消费时间"`
}

// OfferRecord 针对某个资产的挂起报价
type OfferRecord struct {
	ID           string          `gorm:"primaryKey;size:36;comment:报价ID（UUID）"`
	Maker        string          `gorm:"size:42;index"`
	Collection   string          `gorm:"size:42;index:idx_offer_asset"`
	TokenID      decimal.Decimal `gorm:"type:varchar(80);index:idx_offer_asset"`
	Quantity     decimal.Decimal `gorm:"type:varchar(80)"`
	Owner        string          `gorm:"size:42"`
	Price        decimal.Decimal `gorm:"type:varchar(80)"`
	Currency     string          `gorm:"size:42"`
	Tax          decimal.Decimal `gorm:"type:varchar(80)"`
	TaxRecipient string          `gorm:"size:42"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SaleMode 批量销售模式
type SaleMode int

const (
	SaleModeTransfer SaleMode = iota // 转移已有库存
	SaleModeMint                     // 购买时铸造
)

// PriceList 批量销售配置
type PriceList struct {
	SaleID              string          `gorm:"primaryKey;size:128;comment:销售ID"`
	Collection          string          `gorm:"size:42"`
	Mode                SaleMode        `gorm:"comment:0-转移 1-铸造"`
	Seller              string          `gorm:"size:42;comment:库存持有者"`
	TokenIDStart        decimal.Decimal `gorm:"type:varchar(80)"`
	TokenIDEnd          decimal.Decimal `gorm:"type:varchar(80);comment:0表示不限制"`
	MaxSupply           decimal.Decimal `gorm:"type:varchar(80)"`
	Sold                decimal.Decimal `gorm:"type:varchar(80);comment:已售数量，只增不减"`
	PaymentRecipient    string          `gorm:"size:42"`
	TaxRecipient        string          `gorm:"size:42"`
	CommissionRecipient string          `gorm:"size:42"`
	PlatformRecipient   string          `gorm:"size:42"`
	PlatformBps         uint16
	CommissionBps       uint16
	Active              bool
	Prices              []PriceEntry `gorm:"foreignKey:SaleID;references:SaleID"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PriceEntry 销售价格表中的一项
type PriceEntry struct {
	ID       uint64          `gorm:"primaryKey"`
	SaleID   string          `gorm:"size:128;index"`
	Currency string          `gorm:"size:42"`
	Amount   decimal.Decimal `gorm:"type:varchar(80)"`
	Fiat     bool            `gorm:"comment:true表示按法币计价"`
}

// SettlementRecord 结算记录（BuyExecuted/SaleExecuted/AuctionClosed/OfferClosed/SaleBought）
type SettlementRecord struct {
	ID                 string          `gorm:"primaryKey;size:36;comment:记录ID（UUID）"`
	Event              string          `gorm:"size:32;index"`
	OrderID            string          `gorm:"size:128;index"`
	Collection         string          `gorm:"size:42"`
	TokenID            decimal.Decimal `gorm:"type:varchar(80)"`
	Quantity           decimal.Decimal `gorm:"type:varchar(80)"`
	Seller             string          `gorm:"size:42;index"`
	Buyer              string          `gorm:"size:42;index"`
	Price              decimal.Decimal `gorm:"type:varchar(80)"`
	Tax                decimal.Decimal `gorm:"type:varchar(80)"`
	PlatformFee        decimal.Decimal `gorm:"type:varchar(80)"`
	Commission         decimal.Decimal `gorm:"type:varchar(80)"`
	RoyaltyTotal       decimal.Decimal `gorm:"type:varchar(80)"`
	SellerNet          decimal.Decimal `gorm:"type:varchar(80)"`
	OrderCurrency      string          `gorm:"size:42"`
	SettlementCurrency string          `gorm:"size:42"`
	BidHistory         string          `gorm:"type:text;comment:拍卖出价记录JSON"`
	CreatedAt          time.Time       `gorm:"index"`
	DeletedAt          gorm.DeletedAt  `gorm:"index"`
}

// RoyaltyPayoutRecord 每个版税接收方一条
type RoyaltyPayoutRecord struct {
	ID           uint64          `gorm:"primaryKey"`
	SettlementID string          `gorm:"size:36;index"`
	Collection   string          `gorm:"size:42"`
	TokenID      decimal.Decimal `gorm:"type:varchar(80)"`
	Recipient    string          `gorm:"size:42"`
	Bps          uint16
	Amount       decimal.Decimal `gorm:"type:varchar(80)"`
	Currency     string          `gorm:"size:42"`
	CreatedAt    time.Time
}

// OfferEvent 报价生命周期事件
type OfferEvent struct {
	ID        uint64          `gorm:"primaryKey"`
	OfferID   string          `gorm:"size:36;index"`
	Event     string          `gorm:"size:32"`
	Actor     string          `gorm:"size:42"`
	Price     decimal.Decimal `gorm:"type:varchar(80)"`
	Currency  string          `gorm:"size:42"`
	CreatedAt time.Time
}

// AllModels 需要迁移的表
func AllModels() []interface{} {
	return []interface{}{
		&Account{},
		&TokenBalance{},
		&TokenAllowance{},
		&Collection{},
		&UniqueAsset{},
		&FungibleBalance{},
		&UsedOrder{},
		&OfferRecord{},
		&PriceList{},
		&PriceEntry{},
		&SettlementRecord{},
		&RoyaltyPayoutRecord{},
		&OfferEvent{},
	}
}
