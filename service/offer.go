package service

import (
	"context"
	"errors"
	"math/big"

	"nft_settlement/dao"
	"nft_settlement/model"
	"nft_settlement/utils"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// OfferRequest 创建报价请求（maker 为调用方）
type OfferRequest struct {
	Collection   common.Address `json:"collection"`
	TokenID      *big.Int       `json:"token_id"`
	Quantity     *big.Int       `json:"quantity"`
	Owner        common.Address `json:"owner"`
	Price        *big.Int       `json:"price"`
	Currency     common.Address `json:"currency"`
	Tax          *big.Int       `json:"tax"`
	TaxRecipient common.Address `json:"tax_recipient"`
}

// OfferEventPayload 报价生命周期事件
type OfferEventPayload struct {
	OfferID  string         `json:"offer_id"`
	Event    string         `json:"event"`
	Actor    common.Address `json:"actor"`
	Price    *big.Int       `json:"price"`
	Currency common.Address `json:"currency"`
}

// CreateOffer 买家对指定资产挂出报价，要求已授权额度覆盖报价+税
func (e *Engine) CreateOffer(ctx context.Context, caller common.Address, req OfferRequest) (string, error) {
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	if req.Quantity == nil {
		req.Quantity = big.NewInt(1)
	}
	if req.Tax == nil {
		req.Tax = new(big.Int)
	}
	if req.TokenID == nil || req.TokenID.Sign() < 0 || req.Price == nil || req.Price.Sign() <= 0 || req.Tax.Sign() < 0 {
		return "", withDetail(ErrInvalidOrder, "token id, positive price and non-negative tax required")
	}
	if req.Owner == caller {
		return "", withDetail(ErrInvalidOrder, "maker already owns the asset")
	}
	if req.Tax.Sign() > 0 && req.TaxRecipient == (common.Address{}) {
		return "", withDetail(ErrInvalidFeeConfig, "tax recipient missing")
	}
	// 报价成交时由 maker 以外的人发起，只能代扣包装币
	if req.Currency != e.wrapped {
		return "", withDetail(ErrUnsupportedCurrency, "offers must use the wrapped token")
	}

	offerID := utils.GenerateID()
	err = e.store.Transaction(ctx, func(tx *dao.Store) error {
		kind, err := resolveAssetKind(ctx, tx, req.Collection)
		if err != nil {
			return err
		}
		if err := checkDeliverable(ctx, tx, kind, req.Collection, req.Owner, req.TokenID, req.Quantity); err != nil {
			return err
		}
		if err := e.checkOfferAllowance(ctx, tx, caller, req.Currency, req.Price, req.Tax); err != nil {
			return err
		}
		if err := tx.CreateOffer(ctx, &model.OfferRecord{
			ID:           offerID,
			Maker:        model.AddrKey(caller),
			Collection:   model.AddrKey(req.Collection),
			TokenID:      model.Dec(req.TokenID),
			Quantity:     model.Dec(req.Quantity),
			Owner:        model.AddrKey(req.Owner),
			Price:        model.Dec(req.Price),
			Currency:     model.AddrKey(req.Currency),
			Tax:          model.Dec(req.Tax),
			TaxRecipient: model.AddrKey(req.TaxRecipient),
		}); err != nil {
			return err
		}
		return appendOfferEvent(ctx, tx, offerID, EventOfferCreated, caller, req.Price, req.Currency)
	})
	if err != nil {
		return "", err
	}

	e.publish(ctx, []pendingEvent{{name: EventOfferCreated, payload: OfferEventPayload{
		OfferID: offerID, Event: EventOfferCreated, Actor: caller, Price: req.Price, Currency: req.Currency,
	}}})
	return offerID, nil
}

// SetOfferAmount 只有 maker 可修改报价金额与币种
func (e *Engine) SetOfferAmount(ctx context.Context, caller common.Address, offerID string, currency common.Address, price *big.Int) error {
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if price == nil || price.Sign() <= 0 {
		return withDetail(ErrInvalidOrder, "price must be positive")
	}
	if currency != e.wrapped {
		return withDetail(ErrUnsupportedCurrency, "offers must use the wrapped token")
	}

	err = e.store.Transaction(ctx, func(tx *dao.Store) error {
		offer, err := loadOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if common.HexToAddress(offer.Maker) != caller {
			return ErrNotOfferMaker
		}
		if err := e.checkOfferAllowance(ctx, tx, caller, currency, price, model.Big(offer.Tax)); err != nil {
			return err
		}
		offer.Price = model.Dec(price)
		offer.Currency = model.AddrKey(currency)
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return err
		}
		return appendOfferEvent(ctx, tx, offerID, EventOfferAmountUpdated, caller, price, currency)
	})
	if err != nil {
		return err
	}

	e.publish(ctx, []pendingEvent{{name: EventOfferAmountUpdated, payload: OfferEventPayload{
		OfferID: offerID, Event: EventOfferAmountUpdated, Actor: caller, Price: price, Currency: currency,
	}}})
	return nil
}

// FillOffer 资产所有者接受报价；currency/price 必须与当前报价一致
func (e *Engine) FillOffer(ctx context.Context, caller common.Address, offerID string, currency common.Address, price *big.Int) (*Settlement, error) {
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *Settlement
	var events []pendingEvent
	err = e.store.Transaction(ctx, func(tx *dao.Store) error {
		offer, err := loadOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		owner := common.HexToAddress(offer.Owner)
		maker := common.HexToAddress(offer.Maker)
		if caller != owner {
			return ErrNotOfferOwner
		}
		offerCurrency := common.HexToAddress(offer.Currency)
		if price == nil || currency != offerCurrency || model.Big(offer.Price).Cmp(price) != 0 {
			return ErrOfferMismatch
		}

		order := &model.Order{
			ID:         "offer:" + offer.ID,
			TokenID:    model.Big(offer.TokenID),
			Collection: common.HexToAddress(offer.Collection),
			Quantity:   model.Big(offer.Quantity),
			Owner:      owner,
			Price:      model.Big(offer.Price),
			Currency:   offerCurrency,
			Tax:        model.Big(offer.Tax),
			Buyer:      maker,
		}
		kind, err := resolveAssetKind(ctx, tx, order.Collection)
		if err != nil {
			return err
		}
		if err := checkDeliverable(ctx, tx, kind, order.Collection, owner, order.TokenID, order.Quantity); err != nil {
			return err
		}
		total := new(big.Int).Add(order.Price, order.TaxAmount())
		if err := e.checkFunds(ctx, tx, maker, offerCurrency, total); err != nil {
			return err
		}
		if err := tx.MarkUsed(ctx, order.ID, EventOfferClosed); err != nil {
			return fromStore(err)
		}

		fees := e.fees
		fees.TaxRecipient = common.HexToAddress(offer.TaxRecipient)
		breakdown, err := e.distribute(ctx, tx, &payment{
			payer:        maker,
			payCurrency:  offerCurrency,
			recvCurrency: offerCurrency,
			price:        order.Price,
			tax:          order.TaxAmount(),
			seller:       owner,
			collection:   order.Collection,
			tokenID:      order.TokenID,
			fees:         fees,
		})
		if err != nil {
			return err
		}
		if err := deliver(ctx, tx, kind, order.Collection, owner, maker, order.TokenID, order.Quantity); err != nil {
			return err
		}
		if err := tx.DeleteOffer(ctx, offer.ID); err != nil {
			return err
		}
		if err := appendOfferEvent(ctx, tx, offerID, EventOfferClosed, caller, order.Price, offerCurrency); err != nil {
			return err
		}

		result = &Settlement{
			RecordID:           utils.GenerateID(),
			Event:              EventOfferClosed,
			Order:              order,
			SettlementCurrency: offerCurrency,
			Breakdown:          breakdown,
		}
		events, err = e.record(ctx, tx, result)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, events)
	utils.Logger.Info("报价成交", zap.String("offer_id", offerID), zap.String("record_id", result.RecordID))
	return result, nil
}

// CancelOffer maker 或资产所有者可取消
func (e *Engine) CancelOffer(ctx context.Context, caller common.Address, offerID string) error {
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	var price *big.Int
	var currency common.Address
	err = e.store.Transaction(ctx, func(tx *dao.Store) error {
		offer, err := loadOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if caller != common.HexToAddress(offer.Maker) && caller != common.HexToAddress(offer.Owner) {
			return ErrNotOfferParty
		}
		price, currency = model.Big(offer.Price), common.HexToAddress(offer.Currency)
		if err := tx.DeleteOffer(ctx, offerID); err != nil {
			return err
		}
		return appendOfferEvent(ctx, tx, offerID, EventOfferCanceled, caller, price, currency)
	})
	if err != nil {
		return err
	}

	e.publish(ctx, []pendingEvent{{name: EventOfferCanceled, payload: OfferEventPayload{
		OfferID: offerID, Event: EventOfferCanceled, Actor: caller, Price: price, Currency: currency,
	}}})
	return nil
}

func (e *Engine) checkOfferAllowance(ctx context.Context, tx *dao.Store, maker, currency common.Address, price, tax *big.Int) error {
	need := new(big.Int).Add(price, tax)
	allowance, err := tx.Allowance(ctx, currency, maker, e.self)
	if err != nil {
		return err
	}
	if allowance.Cmp(need) < 0 {
		return withDetail(ErrInsufficientAllowance, "allowance %s < %s", allowance, need)
	}
	return nil
}

func loadOffer(ctx context.Context, tx *dao.Store, offerID string) (*model.OfferRecord, error) {
	offer, err := tx.GetOffer(ctx, offerID)
	if errors.Is(err, dao.ErrNotFound) {
		return nil, withDetail(ErrOfferNotFound, "%s", offerID)
	}
	return offer, err
}

func appendOfferEvent(ctx context.Context, tx *dao.Store, offerID, event string, actor common.Address, price *big.Int, currency common.Address) error {
	return tx.AppendOfferEvent(ctx, &model.OfferEvent{
		OfferID:  offerID,
		Event:    event,
		Actor:    model.AddrKey(actor),
		Price:    model.Dec(price),
		Currency: model.AddrKey(currency),
	})
}
