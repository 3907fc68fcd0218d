package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"nft_settlement/dao"
	"nft_settlement/model"
	"nft_settlement/utils"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// SalePrice 价格表中的一项，Fiat 为 true 时 Amount 为法币价格
type SalePrice struct {
	Currency common.Address `json:"currency"`
	Amount   *big.Int       `json:"amount"`
	Fiat     bool           `json:"fiat"`
}

// SaleListing 批量销售配置
type SaleListing struct {
	Collection   common.Address  `json:"collection"`
	Mode         model.SaleMode  `json:"mode"`
	Seller       common.Address  `json:"seller"` // 转移模式下的库存持有者
	TokenIDStart *big.Int        `json:"token_id_start"`
	TokenIDEnd   *big.Int        `json:"token_id_end"` // nil或0表示不限制
	MaxSupply    *big.Int        `json:"max_supply"`
	Fees         model.FeeConfig `json:"fees"`
	Prices       []SalePrice     `json:"prices"`
}

// SaleEventPayload 销售配置变更事件
type SaleEventPayload struct {
	SaleID string         `json:"sale_id"`
	Event  string         `json:"event"`
	Actor  common.Address `json:"actor"`
}

// CreateOrUpdateSale 创建或更新批量销售，已售数量保持不变
func (e *Engine) CreateOrUpdateSale(ctx context.Context, caller common.Address, saleID string, listing SaleListing) error {
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := e.validateListing(saleID, &listing); err != nil {
		return err
	}
	if err := e.requireManageSales(ctx, caller, listing.Collection); err != nil {
		return err
	}

	err = e.store.Transaction(ctx, func(tx *dao.Store) error {
		if _, err := resolveAssetKind(ctx, tx, listing.Collection); err != nil {
			return err
		}
		sale := &model.PriceList{
			SaleID:              saleID,
			Collection:          model.AddrKey(listing.Collection),
			Mode:                listing.Mode,
			Seller:              model.AddrKey(listing.Seller),
			TokenIDStart:        model.Dec(listing.TokenIDStart),
			TokenIDEnd:          model.Dec(listing.TokenIDEnd),
			MaxSupply:           model.Dec(listing.MaxSupply),
			PaymentRecipient:    model.AddrKey(listing.Fees.PaymentRecipient),
			TaxRecipient:        model.AddrKey(listing.Fees.TaxRecipient),
			CommissionRecipient: model.AddrKey(listing.Fees.CommissionRecipient),
			PlatformRecipient:   model.AddrKey(listing.Fees.PlatformRecipient),
			PlatformBps:         listing.Fees.PlatformBps,
			CommissionBps:       listing.Fees.CommissionBps,
			Active:              true,
		}
		for _, p := range listing.Prices {
			sale.Prices = append(sale.Prices, model.PriceEntry{
				Currency: model.AddrKey(p.Currency),
				Amount:   model.Dec(p.Amount),
				Fiat:     p.Fiat,
			})
		}
		return tx.UpsertSale(ctx, sale)
	})
	if err != nil {
		return err
	}

	e.publish(ctx, []pendingEvent{{name: EventSaleUpdated, payload: SaleEventPayload{SaleID: saleID, Event: EventSaleUpdated, Actor: caller}}})
	utils.Logger.Info("销售配置已更新", zap.String("sale_id", saleID), zap.String("caller", caller.Hex()))
	return nil
}

// CancelSale 停用批量销售
func (e *Engine) CancelSale(ctx context.Context, caller common.Address, saleID string) error {
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	sale, err := loadSale(ctx, e.store, saleID)
	if err != nil {
		return err
	}
	if err := e.requireManageSales(ctx, caller, common.HexToAddress(sale.Collection)); err != nil {
		return err
	}
	if err := e.store.SetSaleActive(ctx, saleID, false); err != nil {
		return err
	}

	e.publish(ctx, []pendingEvent{{name: EventSaleCanceled, payload: SaleEventPayload{SaleID: saleID, Event: EventSaleCanceled, Actor: caller}}})
	return nil
}

// BuyFromSale 从批量销售购买，返回交付（转移或铸造）的资产ID
// tax 始终由调用方显式给出
func (e *Engine) BuyFromSale(ctx context.Context, caller common.Address, list model.BuyList, tax *big.Int) ([]*big.Int, error) {
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if caller != list.Buyer {
		return nil, ErrNotBuyer
	}
	if tax == nil {
		tax = new(big.Int)
	}
	if tax.Sign() < 0 {
		return nil, withDetail(ErrInvalidOrder, "tax must be non-negative")
	}
	if !e.supportedCurrency(list.Currency) {
		return nil, withDetail(ErrUnsupportedCurrency, "%s", list.Currency.Hex())
	}

	var ids []*big.Int
	var result *Settlement
	var events []pendingEvent
	err = e.store.Transaction(ctx, func(tx *dao.Store) error {
		sale, err := loadSale(ctx, tx, list.SaleID)
		if err != nil {
			return err
		}
		if !sale.Active {
			return ErrSaleInactive
		}
		collection := common.HexToAddress(sale.Collection)
		kind, err := resolveAssetKind(ctx, tx, collection)
		if err != nil {
			return err
		}

		// 1. 确定交付的资产与数量
		var units *big.Int
		ids, units, err = saleUnits(sale, kind, list)
		if err != nil {
			return err
		}

		// 2. 上限检查与已售累加
		sold := model.Big(sale.Sold)
		next := new(big.Int).Add(sold, units)
		if next.Cmp(model.Big(sale.MaxSupply)) > 0 {
			return withDetail(ErrCapExceeded, "sold %s + %s > %s", sold, units, model.Big(sale.MaxSupply))
		}
		if err := tx.SetSold(ctx, sale.SaleID, model.Dec(next)); err != nil {
			return err
		}

		// 3. 单价
		unit, err := e.unitPrice(ctx, sale, list.Currency)
		if err != nil {
			return err
		}
		price := new(big.Int).Mul(unit, units)

		seller := common.HexToAddress(sale.Seller)
		if sale.Mode == model.SaleModeTransfer {
			for _, id := range ids {
				qty := one
				if kind == model.AssetFungible {
					qty = units
				}
				if err := checkDeliverable(ctx, tx, kind, collection, seller, id, qty); err != nil {
					return err
				}
			}
		}
		if err := e.checkFunds(ctx, tx, list.Buyer, list.Currency, new(big.Int).Add(price, tax)); err != nil {
			return err
		}

		// 4. 资金瀑布
		breakdown, err := e.distribute(ctx, tx, &payment{
			payer:        list.Buyer,
			payCurrency:  list.Currency,
			recvCurrency: list.Currency,
			price:        price,
			tax:          tax,
			seller:       seller,
			collection:   collection,
			tokenID:      ids[0],
			fees:         saleFees(sale),
		})
		if err != nil {
			return err
		}

		// 5. 交付
		if sale.Mode == model.SaleModeMint {
			if err := mintTo(ctx, tx, kind, collection, list.Buyer, ids, units); err != nil {
				return err
			}
		} else {
			for _, id := range ids {
				qty := one
				if kind == model.AssetFungible {
					qty = units
				}
				if err := deliver(ctx, tx, kind, collection, seller, list.Buyer, id, qty); err != nil {
					return err
				}
			}
		}

		recordID := utils.GenerateID()
		result = &Settlement{
			RecordID: recordID,
			Event:    EventSaleBought,
			Order: &model.Order{
				ID:         fmt.Sprintf("sale:%s:%s", sale.SaleID, recordID),
				TokenID:    ids[0],
				Collection: collection,
				Quantity:   units,
				Owner:      seller,
				Price:      price,
				Currency:   list.Currency,
				Tax:        tax,
				Buyer:      list.Buyer,
			},
			SettlementCurrency: list.Currency,
			Breakdown:          breakdown,
		}
		events, err = e.record(ctx, tx, result)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, events)
	utils.Logger.Info("批量销售成交",
		zap.String("sale_id", list.SaleID),
		zap.String("record_id", result.RecordID),
		zap.Int("assets", len(ids)))
	return ids, nil
}

func (e *Engine) requireManageSales(ctx context.Context, caller, collection common.Address) error {
	perms, err := e.caps.Resolve(ctx, caller, collection)
	if err != nil {
		return err
	}
	if !perms.Has(PermManageSales) {
		return ErrNotAdmin
	}
	return nil
}

// validateListing 费率之和在创建时校验，结算时不再重复
func (e *Engine) validateListing(saleID string, l *SaleListing) error {
	if saleID == "" {
		return withDetail(ErrInvalidSale, "sale id required")
	}
	if l.Collection == (common.Address{}) {
		return withDetail(ErrInvalidSale, "collection required")
	}
	if l.Mode != model.SaleModeTransfer && l.Mode != model.SaleModeMint {
		return withDetail(ErrInvalidSale, "unknown mode %d", l.Mode)
	}
	if l.Mode == model.SaleModeTransfer && l.Seller == (common.Address{}) {
		return withDetail(ErrInvalidSale, "transfer mode requires a seller")
	}
	if l.Mode == model.SaleModeMint && l.Seller == (common.Address{}) && l.Fees.PaymentRecipient == (common.Address{}) {
		return withDetail(ErrInvalidSale, "mint mode requires a payment recipient")
	}
	if l.MaxSupply == nil || l.MaxSupply.Sign() <= 0 {
		return withDetail(ErrInvalidSale, "max supply must be positive")
	}
	if l.TokenIDStart == nil {
		l.TokenIDStart = new(big.Int)
	}
	if l.TokenIDStart.Sign() < 0 {
		return withDetail(ErrInvalidSale, "negative token id start")
	}
	if l.TokenIDEnd == nil {
		l.TokenIDEnd = new(big.Int)
	}
	if l.TokenIDEnd.Sign() != 0 && l.TokenIDEnd.Cmp(l.TokenIDStart) < 0 {
		return withDetail(ErrInvalidSale, "token id range end before start")
	}
	if err := validateFees(l.Fees); err != nil {
		return err
	}
	if len(l.Prices) == 0 {
		return withDetail(ErrInvalidSale, "price table empty")
	}
	seen := make(map[common.Address]bool, len(l.Prices))
	for _, p := range l.Prices {
		if !e.supportedCurrency(p.Currency) {
			return withDetail(ErrUnsupportedCurrency, "%s", p.Currency.Hex())
		}
		if seen[p.Currency] {
			return withDetail(ErrInvalidSale, "duplicate currency %s", p.Currency.Hex())
		}
		seen[p.Currency] = true
		if p.Amount == nil || p.Amount.Sign() <= 0 {
			return withDetail(ErrInvalidSale, "price for %s must be positive", p.Currency.Hex())
		}
	}
	return nil
}

// saleUnits 铸造模式按已售数量顺序分配ID；转移模式使用买家指定的ID
func saleUnits(sale *model.PriceList, kind model.AssetKind, list model.BuyList) ([]*big.Int, *big.Int, error) {
	start := model.Big(sale.TokenIDStart)
	end := model.Big(sale.TokenIDEnd)
	inRange := func(id *big.Int) bool {
		if id.Cmp(start) < 0 {
			return false
		}
		return end.Sign() == 0 || id.Cmp(end) <= 0
	}

	quantity := list.Quantity
	if quantity == nil {
		quantity = big.NewInt(1)
	}
	if quantity.Sign() <= 0 {
		return nil, nil, withDetail(ErrInvalidOrder, "quantity must be positive")
	}

	if sale.Mode == model.SaleModeMint {
		if kind == model.AssetFungible {
			return []*big.Int{start}, quantity, nil
		}
		if !quantity.IsInt64() || quantity.Int64() > maxBatch {
			return nil, nil, withDetail(ErrInvalidOrder, "batch of %s exceeds %d", quantity, maxBatch)
		}
		n := int(quantity.Int64())
		next := new(big.Int).Add(start, model.Big(sale.Sold))
		ids := make([]*big.Int, 0, n)
		for i := 0; i < n; i++ {
			id := new(big.Int).Add(next, big.NewInt(int64(i)))
			if !inRange(id) {
				return nil, nil, withDetail(ErrCapExceeded, "token id %s outside sale range", id)
			}
			ids = append(ids, id)
		}
		return ids, quantity, nil
	}

	if len(list.TokenIDs) == 0 {
		return nil, nil, withDetail(ErrInvalidOrder, "token ids required")
	}
	if kind == model.AssetFungible {
		if len(list.TokenIDs) != 1 {
			return nil, nil, withDetail(ErrInvalidOrder, "fungible purchase takes one token id")
		}
		if list.TokenIDs[0] == nil || !inRange(list.TokenIDs[0]) {
			return nil, nil, withDetail(ErrInvalidOrder, "token id %v outside sale range", list.TokenIDs[0])
		}
		return list.TokenIDs, quantity, nil
	}
	if len(list.TokenIDs) > maxBatch {
		return nil, nil, withDetail(ErrInvalidOrder, "batch of %d exceeds %d", len(list.TokenIDs), maxBatch)
	}
	seen := make(map[string]bool, len(list.TokenIDs))
	for _, id := range list.TokenIDs {
		if id == nil || !inRange(id) {
			return nil, nil, withDetail(ErrInvalidOrder, "token id %v outside sale range", id)
		}
		if seen[id.String()] {
			return nil, nil, withDetail(ErrInvalidOrder, "duplicate token id %s", id)
		}
		seen[id.String()] = true
	}
	return list.TokenIDs, big.NewInt(int64(len(list.TokenIDs))), nil
}

// maxBatch 单次购买的唯一资产数量上限
const maxBatch = 100

// unitPrice 固定价格直接使用，法币价格按预言机换算
func (e *Engine) unitPrice(ctx context.Context, sale *model.PriceList, currency common.Address) (*big.Int, error) {
	key := model.AddrKey(currency)
	for _, p := range sale.Prices {
		if p.Currency != key {
			continue
		}
		amount := model.Big(p.Amount)
		if !p.Fiat {
			return amount, nil
		}
		if e.oracle == nil {
			return nil, ErrOracleUnavailable
		}
		var price *big.Int
		var decimals uint8
		err := e.guard.callout(func() (err error) {
			price, decimals, err = e.oracle.GetLatestPrice(ctx, currency)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("get latest price: %w", err)
		}
		if price == nil || price.Sign() <= 0 {
			return nil, withDetail(ErrOracleUnavailable, "non-positive oracle price")
		}
		return FiatToCurrency(amount, price, decimals), nil
	}
	return nil, withDetail(ErrUnsupportedCurrency, "sale does not accept %s", currency.Hex())
}

func saleFees(sale *model.PriceList) model.FeeConfig {
	return model.FeeConfig{
		PaymentRecipient:    common.HexToAddress(sale.PaymentRecipient),
		TaxRecipient:        common.HexToAddress(sale.TaxRecipient),
		CommissionRecipient: common.HexToAddress(sale.CommissionRecipient),
		PlatformRecipient:   common.HexToAddress(sale.PlatformRecipient),
		PlatformBps:         sale.PlatformBps,
		CommissionBps:       sale.CommissionBps,
	}
}

func loadSale(ctx context.Context, s *dao.Store, saleID string) (*model.PriceList, error) {
	sale, err := s.GetSale(ctx, saleID)
	if errors.Is(err, dao.ErrNotFound) {
		return nil, withDetail(ErrSaleNotFound, "%s", saleID)
	}
	return sale, err
}
