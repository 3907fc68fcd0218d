package handler

import (
	"fmt"
	"math/big"

	"nft_settlement/model"
	"nft_settlement/service"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// 金额与资产ID一律以十进制字符串传输，避免JSON数字精度丢失

// OrderReq 订单
type OrderReq struct {
	ID           string `json:"id" binding:"required"`
	TokenID      string `json:"token_id" binding:"required"`
	Collection   string `json:"collection" binding:"required"`
	Quantity     string `json:"quantity"`
	Owner        string `json:"owner" binding:"required"`
	Price        string `json:"price" binding:"required"`
	Currency     string `json:"currency"`
	Tax          string `json:"tax"`
	AllowedBuyer string `json:"allowed_buyer"`
	FiatPrice    string `json:"fiat_price"`
	SlippageBps  uint16 `json:"slippage_bps"`
	Buyer        string `json:"buyer" binding:"required"`
}

// BuyReq 买家购买
type BuyReq struct {
	Order              OrderReq `json:"order"`
	SellerSignature    string   `json:"seller_signature" binding:"required"`
	SettlementCurrency string   `json:"settlement_currency"`
}

// SellReq 卖家出售
type SellReq struct {
	Order              OrderReq `json:"order"`
	BuyerSignature     string   `json:"buyer_signature" binding:"required"`
	Expiration         int64    `json:"expiration" binding:"required"` // unix秒
	SettlementCurrency string   `json:"settlement_currency"`
}

// BidReq 拍卖出价记录
type BidReq struct {
	Bidder   string `json:"bidder"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

// AuctionReq 拍卖结算
type AuctionReq struct {
	Order              OrderReq `json:"order"`
	SellerSignature    string   `json:"seller_signature" binding:"required"`
	BuyerSignature     string   `json:"buyer_signature" binding:"required"`
	SettlementCurrency string   `json:"settlement_currency"`
	Bids               []BidReq `json:"bids"`
}

// OfferReq 创建报价
type OfferReq struct {
	Collection   string `json:"collection" binding:"required"`
	TokenID      string `json:"token_id" binding:"required"`
	Quantity     string `json:"quantity"`
	Owner        string `json:"owner" binding:"required"`
	Price        string `json:"price" binding:"required"`
	Currency     string `json:"currency" binding:"required"`
	Tax          string `json:"tax"`
	TaxRecipient string `json:"tax_recipient"`
}

// OfferAmountReq 修改报价 / 接受报价
type OfferAmountReq struct {
	Currency string `json:"currency" binding:"required"`
	Price    string `json:"price" binding:"required"`
}

// SalePriceReq 价格表项
type SalePriceReq struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount" binding:"required"`
	Fiat     bool   `json:"fiat"`
}

// SaleReq 创建/更新批量销售
type SaleReq struct {
	Collection          string         `json:"collection" binding:"required"`
	Mode                model.SaleMode `json:"mode"`
	Seller              string         `json:"seller"`
	TokenIDStart        string         `json:"token_id_start"`
	TokenIDEnd          string         `json:"token_id_end"`
	MaxSupply           string         `json:"max_supply" binding:"required"`
	PaymentRecipient    string         `json:"payment_recipient"`
	TaxRecipient        string         `json:"tax_recipient"`
	CommissionRecipient string         `json:"commission_recipient"`
	PlatformRecipient   string         `json:"platform_recipient"`
	PlatformBps         uint16         `json:"platform_bps"`
	CommissionBps       uint16         `json:"commission_bps"`
	Prices              []SalePriceReq `json:"prices" binding:"required"`
}

// SaleBuyReq 从批量销售购买
type SaleBuyReq struct {
	TokenIDs []string `json:"token_ids"`
	Quantity string   `json:"quantity"`
	Currency string   `json:"currency"`
	Tax      string   `json:"tax"`
}

// CollectionReq 登记资产合约
type CollectionReq struct {
	SupportsUnique   bool   `json:"supports_unique"`
	SupportsFungible bool   `json:"supports_fungible"`
	Owner            string `json:"owner"`
}

// FundsCreditReq 充值入账，currency 为空表示原生币
type FundsCreditReq struct {
	Currency string `json:"currency"`
	Holder   string `json:"holder" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

// AssetCreditReq 托管资产入账
type AssetCreditReq struct {
	Holder  string `json:"holder" binding:"required"`
	TokenID string `json:"token_id" binding:"required"`
	Amount  string `json:"amount"`
}

// ApprovalReq 授权引擎动用包装币
type ApprovalReq struct {
	Amount string `json:"amount" binding:"required"`
}

// NativeAcceptanceReq 是否接收原生币
type NativeAcceptanceReq struct {
	Accept *bool `json:"accept" binding:"required"`
}

func (r *OrderReq) toOrder() (*model.Order, error) {
	o := &model.Order{ID: r.ID, SlippageBps: r.SlippageBps}
	p := parser{}
	o.TokenID = p.amount("token_id", r.TokenID)
	o.Collection = p.addr("collection", r.Collection)
	o.Quantity = p.amount("quantity", r.Quantity)
	o.Owner = p.addr("owner", r.Owner)
	o.Price = p.amount("price", r.Price)
	o.Currency = p.addr("currency", r.Currency)
	o.Tax = p.amount("tax", r.Tax)
	o.AllowedBuyer = p.addr("allowed_buyer", r.AllowedBuyer)
	o.FiatPrice = p.amount("fiat_price", r.FiatPrice)
	o.Buyer = p.addr("buyer", r.Buyer)
	if p.err != nil {
		return nil, p.err
	}
	if o.Quantity == nil {
		o.Quantity = big.NewInt(1)
	}
	return o, nil
}

func (r *OfferReq) toRequest() (service.OfferRequest, error) {
	p := parser{}
	req := service.OfferRequest{
		Collection:   p.addr("collection", r.Collection),
		TokenID:      p.amount("token_id", r.TokenID),
		Quantity:     p.amount("quantity", r.Quantity),
		Owner:        p.addr("owner", r.Owner),
		Price:        p.amount("price", r.Price),
		Currency:     p.addr("currency", r.Currency),
		Tax:          p.amount("tax", r.Tax),
		TaxRecipient: p.addr("tax_recipient", r.TaxRecipient),
	}
	return req, p.err
}

func (r *SaleReq) toListing() (service.SaleListing, error) {
	p := parser{}
	l := service.SaleListing{
		Collection:   p.addr("collection", r.Collection),
		Mode:         r.Mode,
		Seller:       p.addr("seller", r.Seller),
		TokenIDStart: p.amount("token_id_start", r.TokenIDStart),
		TokenIDEnd:   p.amount("token_id_end", r.TokenIDEnd),
		MaxSupply:    p.amount("max_supply", r.MaxSupply),
		Fees: model.FeeConfig{
			PaymentRecipient:    p.addr("payment_recipient", r.PaymentRecipient),
			TaxRecipient:        p.addr("tax_recipient", r.TaxRecipient),
			CommissionRecipient: p.addr("commission_recipient", r.CommissionRecipient),
			PlatformRecipient:   p.addr("platform_recipient", r.PlatformRecipient),
			PlatformBps:         r.PlatformBps,
			CommissionBps:       r.CommissionBps,
		},
	}
	for i, sp := range r.Prices {
		l.Prices = append(l.Prices, service.SalePrice{
			Currency: p.addr(fmt.Sprintf("prices[%d].currency", i), sp.Currency),
			Amount:   p.amount(fmt.Sprintf("prices[%d].amount", i), sp.Amount),
			Fiat:     sp.Fiat,
		})
	}
	return l, p.err
}

func toBids(in []BidReq) ([]model.BidHistory, error) {
	p := parser{}
	bids := make([]model.BidHistory, 0, len(in))
	for i, b := range in {
		bids = append(bids, model.BidHistory{
			Bidder:   p.addr(fmt.Sprintf("bids[%d].bidder", i), b.Bidder),
			Price:    p.amount(fmt.Sprintf("bids[%d].price", i), b.Price),
			Currency: p.addr(fmt.Sprintf("bids[%d].currency", i), b.Currency),
		})
	}
	return bids, p.err
}

// parser 记录第一个解析错误，后续调用直接跳过
type parser struct {
	err error
}

// amount 非负整数，空串返回nil
func (p *parser) amount(field, s string) *big.Int {
	if p.err != nil || s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", field, err)
		return nil
	}
	if !d.Equal(d.Truncate(0)) || d.IsNegative() {
		p.err = fmt.Errorf("%s: must be a non-negative integer", field)
		return nil
	}
	return d.BigInt()
}

// requiredAmount 与 amount 相同，但不接受空串
func (p *parser) requiredAmount(field, s string) *big.Int {
	if p.err == nil && s == "" {
		p.err = fmt.Errorf("%s: value required", field)
	}
	return p.amount(field, s)
}

// addr 空串表示零地址（原生币/不限制）
func (p *parser) addr(field, s string) common.Address {
	if p.err != nil || s == "" {
		return common.Address{}
	}
	if !common.IsHexAddress(s) {
		p.err = fmt.Errorf("%s: invalid address %q", field, s)
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func decodeSig(field, s string) ([]byte, error) {
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return sig, nil
}
