package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"nft_settlement/dao"
	"nft_settlement/model"
	"nft_settlement/utils"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Settlement 一次结算的结果（同时作为事件内容）
type Settlement struct {
	RecordID           string             `json:"record_id"`
	Event              string             `json:"event"`
	Order              *model.Order       `json:"order"`
	SettlementCurrency common.Address     `json:"settlement_currency"`
	Breakdown          *Breakdown         `json:"breakdown"`
	BidHistory         []model.BidHistory `json:"bid_history,omitempty"`
}

// RoyaltyPayoutEvent 每个版税接收方一条
type RoyaltyPayoutEvent struct {
	RecordID   string         `json:"record_id"`
	OrderID    string         `json:"order_id"`
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"token_id"`
	Recipient  common.Address `json:"recipient"`
	Bps        uint16         `json:"bps"`
	Amount     *big.Int       `json:"amount"`
	Currency   common.Address `json:"currency"`
}

type signatureCheck struct {
	sig    []byte
	signer common.Address
}

// settleRequest 三种入口共享的结算流程参数
type settleRequest struct {
	event              string
	order              *model.Order
	settlementCurrency common.Address
	payer              common.Address
	callerPaysNative   bool
	authorize          func() error
	signatures         []signatureCheck
	bids               []model.BidHistory
}

// Buy 买家凭卖家签名购买
func (e *Engine) Buy(ctx context.Context, caller common.Address, order *model.Order, sellerSig []byte, settlementCurrency common.Address) (*Settlement, error) {
	if err := validateOrderShape(order); err != nil {
		return nil, err
	}
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.settle(ctx, settleRequest{
		event:              EventBuyExecuted,
		order:              order,
		settlementCurrency: settlementCurrency,
		payer:              order.Buyer,
		callerPaysNative:   caller == order.Buyer,
		authorize: func() error {
			if caller != order.Buyer {
				return ErrNotBuyer
			}
			return nil
		},
		signatures: []signatureCheck{{sig: sellerSig, signer: order.Owner}},
	})
}

// Sell 卖家凭买家签名出售，expiration 已过则拒绝
func (e *Engine) Sell(ctx context.Context, caller common.Address, order *model.Order, buyerSig []byte, expiration time.Time, settlementCurrency common.Address) (*Settlement, error) {
	if err := validateOrderShape(order); err != nil {
		return nil, err
	}
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.settle(ctx, settleRequest{
		event:              EventSaleExecuted,
		order:              order,
		settlementCurrency: settlementCurrency,
		payer:              order.Buyer,
		callerPaysNative:   caller == order.Buyer,
		authorize: func() error {
			if caller != order.Owner {
				return ErrNotSeller
			}
			if !expiration.After(e.now()) {
				return withDetail(ErrExpired, "expired at %s", expiration.UTC().Format(time.RFC3339))
			}
			return nil
		},
		signatures: []signatureCheck{{sig: buyerSig, signer: order.Buyer}},
	})
}

// ExecuteAuction 拍卖结算：需要卖家与买家对同一订单的两个签名
// 操作员代为结算时只能走包装币路径；bids 仅作审计记录
func (e *Engine) ExecuteAuction(ctx context.Context, caller common.Address, order *model.Order, sellerSig, buyerSig []byte, settlementCurrency common.Address, bids []model.BidHistory) (*Settlement, error) {
	if err := validateOrderShape(order); err != nil {
		return nil, err
	}
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var perms Permissions
	isParty := caller == order.Owner || caller == order.Buyer
	if !isParty {
		if perms, err = e.caps.Resolve(ctx, caller, order.Collection); err != nil {
			return nil, err
		}
	}

	return e.settle(ctx, settleRequest{
		event:              EventAuctionClosed,
		order:              order,
		settlementCurrency: settlementCurrency,
		payer:              order.Buyer,
		callerPaysNative:   caller == order.Buyer,
		authorize: func() error {
			if isParty {
				return nil
			}
			if !perms.Has(PermCloseAuction) {
				return ErrNotAuctionParty
			}
			if settlementCurrency != e.wrapped || order.Currency != e.wrapped {
				return ErrOperatorNativeForbidden
			}
			return nil
		},
		signatures: []signatureCheck{
			{sig: sellerSig, signer: order.Owner},
			{sig: buyerSig, signer: order.Buyer},
		},
		bids: bids,
	})
}

// settle 校验 -> 验签 -> 消费订单ID -> 资金瀑布 -> 资产交割 -> 记录，全部在一个事务内
func (e *Engine) settle(ctx context.Context, req settleRequest) (*Settlement, error) {
	order := req.order
	if err := validateOrderShape(order); err != nil {
		return nil, err
	}

	var result *Settlement
	var events []pendingEvent
	err := e.store.Transaction(ctx, func(tx *dao.Store) error {
		// 1. 已消费的订单ID对任何调用方、任何参数都只返回重放错误
		used, err := tx.IsUsed(ctx, order.ID)
		if err != nil {
			return err
		}
		if used {
			return withDetail(ErrOrderUsed, "%s", order.ID)
		}

		// 2. 资产接口
		kind, err := resolveAssetKind(ctx, tx, order.Collection)
		if err != nil {
			return err
		}

		// 3. 调用方权限与白名单
		if err := req.authorize(); err != nil {
			return err
		}
		if order.AllowedBuyer != (common.Address{}) && order.Buyer != order.AllowedBuyer {
			return ErrNotAllowedBuyer
		}

		// 4. 币种
		if !e.supportedCurrency(order.Currency) {
			return withDetail(ErrUnsupportedCurrency, "order currency %s", order.Currency.Hex())
		}
		if !e.supportedCurrency(req.settlementCurrency) {
			return withDetail(ErrUnsupportedCurrency, "settlement currency %s", req.settlementCurrency.Hex())
		}
		if req.settlementCurrency == model.NativeCurrency && !req.callerPaysNative {
			return ErrNativePayerMismatch
		}

		// 5. 卖家资产与买家资金
		if err := checkDeliverable(ctx, tx, kind, order.Collection, order.Owner, order.TokenID, order.Quantity); err != nil {
			return err
		}
		total := new(big.Int).Add(order.Price, order.TaxAmount())
		if err := e.checkFunds(ctx, tx, req.payer, req.settlementCurrency, total); err != nil {
			return err
		}

		// 6. 法币报价
		if order.HasFiatQuote() {
			err := e.guard.callout(func() error {
				return validateQuote(ctx, e.oracle, order.Price, order.FiatPrice, order.Currency, order.SlippageBps)
			})
			if err != nil {
				return err
			}
		}

		// 7. 验签
		for _, sc := range req.signatures {
			if err := e.verify(order, sc); err != nil {
				return err
			}
		}

		// 8. 消费订单ID，必须先于任何资金/资产转移
		if err := tx.MarkUsed(ctx, order.ID, req.event); err != nil {
			return fromStore(err)
		}

		// 9. 资金瀑布
		breakdown, err := e.distribute(ctx, tx, &payment{
			payer:        req.payer,
			payCurrency:  req.settlementCurrency,
			recvCurrency: order.Currency,
			price:        order.Price,
			tax:          order.TaxAmount(),
			seller:       order.Owner,
			collection:   order.Collection,
			tokenID:      order.TokenID,
			fees:         e.fees,
		})
		if err != nil {
			return err
		}

		// 10. 资产交割
		if err := deliver(ctx, tx, kind, order.Collection, order.Owner, order.Buyer, order.TokenID, order.Quantity); err != nil {
			return err
		}

		// 11. 结算记录
		result = &Settlement{
			RecordID:           utils.GenerateID(),
			Event:              req.event,
			Order:              order,
			SettlementCurrency: req.settlementCurrency,
			Breakdown:          breakdown,
			BidHistory:         req.bids,
		}
		events, err = e.record(ctx, tx, result)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, events)
	utils.Logger.Info("结算成功",
		zap.String("event", result.Event),
		zap.String("order_id", order.ID),
		zap.String("record_id", result.RecordID),
		zap.String("seller_net", result.Breakdown.SellerNet.String()))
	return result, nil
}

// verify 签名格式错误与签名者不匹配分别返回不同错误
func (e *Engine) verify(order *model.Order, sc signatureCheck) error {
	ok, err := utils.VerifySignature(order, e.chainID, sc.sig, sc.signer)
	if errors.Is(err, utils.ErrMalformedSignature) {
		return wrapErr(ErrMalformedSignature, err)
	}
	if err != nil {
		return err
	}
	if !ok {
		return withDetail(ErrBadSignature, "expected signer %s", sc.signer.Hex())
	}
	return nil
}

// record 写入结算记录与版税明细，返回待广播事件
func (e *Engine) record(ctx context.Context, tx *dao.Store, s *Settlement) ([]pendingEvent, error) {
	order := s.Order
	b := s.Breakdown

	bids := ""
	if len(s.BidHistory) > 0 {
		raw, err := json.Marshal(s.BidHistory)
		if err != nil {
			return nil, fmt.Errorf("encode bid history: %w", err)
		}
		bids = string(raw)
	}

	rec := &model.SettlementRecord{
		ID:                 s.RecordID,
		Event:              s.Event,
		OrderID:            order.ID,
		Collection:         model.AddrKey(order.Collection),
		TokenID:            model.Dec(order.TokenID),
		Quantity:           model.Dec(order.Quantity),
		Seller:             model.AddrKey(order.Owner),
		Buyer:              model.AddrKey(order.Buyer),
		Price:              model.Dec(order.Price),
		Tax:                model.Dec(b.Tax),
		PlatformFee:        model.Dec(b.PlatformFee),
		Commission:         model.Dec(b.Commission),
		RoyaltyTotal:       model.Dec(b.RoyaltyTotal),
		SellerNet:          model.Dec(b.SellerNet),
		OrderCurrency:      model.AddrKey(order.Currency),
		SettlementCurrency: model.AddrKey(s.SettlementCurrency),
		BidHistory:         bids,
	}

	events := []pendingEvent{{name: s.Event, payload: s}}
	payouts := make([]model.RoyaltyPayoutRecord, 0, len(b.Royalties))
	for _, share := range b.Royalties {
		payouts = append(payouts, model.RoyaltyPayoutRecord{
			Collection: model.AddrKey(order.Collection),
			TokenID:    model.Dec(order.TokenID),
			Recipient:  model.AddrKey(share.Recipient),
			Bps:        share.Bps,
			Amount:     model.Dec(share.Amount),
			Currency:   model.AddrKey(order.Currency),
		})
		events = append(events, pendingEvent{name: EventRoyaltyPayout, payload: RoyaltyPayoutEvent{
			RecordID:   s.RecordID,
			OrderID:    order.ID,
			Collection: order.Collection,
			TokenID:    order.TokenID,
			Recipient:  share.Recipient,
			Bps:        share.Bps,
			Amount:     share.Amount,
			Currency:   order.Currency,
		}})
	}
	if err := tx.CreateSettlement(ctx, rec, payouts); err != nil {
		return nil, err
	}
	return events, nil
}

// validateOrderShape 字段完整性校验（不访问存储）
func validateOrderShape(o *model.Order) error {
	if o == nil {
		return withDetail(ErrInvalidOrder, "order missing")
	}
	if o.ID == "" {
		return withDetail(ErrInvalidOrder, "id required")
	}
	if o.TokenID == nil || o.TokenID.Sign() < 0 {
		return withDetail(ErrInvalidOrder, "token id required")
	}
	if o.Quantity == nil || o.Quantity.Sign() <= 0 {
		return withDetail(ErrInvalidOrder, "quantity must be positive")
	}
	if o.Price == nil || o.Price.Sign() < 0 {
		return withDetail(ErrInvalidOrder, "price must be non-negative")
	}
	if o.Tax != nil && o.Tax.Sign() < 0 {
		return withDetail(ErrInvalidOrder, "tax must be non-negative")
	}
	if o.Owner == (common.Address{}) || o.Buyer == (common.Address{}) {
		return withDetail(ErrInvalidOrder, "owner and buyer required")
	}
	if o.Owner == o.Buyer {
		return withDetail(ErrInvalidOrder, "owner and buyer must differ")
	}
	if o.Collection == (common.Address{}) {
		return withDetail(ErrInvalidOrder, "collection required")
	}
	if o.SlippageBps > 10000 {
		return withDetail(ErrInvalidOrder, "slippage above 10000 bps")
	}
	return nil
}
