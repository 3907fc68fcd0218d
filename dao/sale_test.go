package dao

import (
	"context"
	"errors"
	"testing"

	"nft_settlement/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSaleKeepsSold(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	sale := &model.PriceList{
		SaleID:     "drop-1",
		Collection: model.AddrKey(coll),
		Mode:       model.SaleModeMint,
		MaxSupply:  decimal.NewFromInt(10),
		Active:     true,
		Prices: []model.PriceEntry{
			{Currency: model.AddrKey(weth), Amount: decimal.NewFromInt(100)},
		},
	}
	require.NoError(t, s.UpsertSale(ctx, sale))
	require.NoError(t, s.SetSold(ctx, "drop-1", decimal.NewFromInt(4)))

	update := &model.PriceList{
		SaleID:     "drop-1",
		Collection: model.AddrKey(coll),
		Mode:       model.SaleModeMint,
		MaxSupply:  decimal.NewFromInt(20),
		Active:     true,
		Prices: []model.PriceEntry{
			{Currency: model.AddrKey(model.NativeCurrency), Amount: decimal.NewFromInt(5), Fiat: true},
			{Currency: model.AddrKey(weth), Amount: decimal.NewFromInt(120)},
		},
	}
	require.NoError(t, s.UpsertSale(ctx, update))

	got, err := s.GetSale(ctx, "drop-1")
	require.NoError(t, err)
	assert.True(t, got.Sold.Equal(decimal.NewFromInt(4)))
	assert.True(t, got.MaxSupply.Equal(decimal.NewFromInt(20)))
	require.Len(t, got.Prices, 2)

	require.NoError(t, s.SetSaleActive(ctx, "drop-1", false))
	got, err = s.GetSale(ctx, "drop-1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = s.GetSale(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.SetSaleActive(ctx, "missing", false), ErrNotFound))
}

func TestOfferLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	offer := &model.OfferRecord{
		ID:         "offer-1",
		Maker:      model.AddrKey(bob),
		Collection: model.AddrKey(coll),
		TokenID:    decimal.NewFromInt(7),
		Quantity:   decimal.NewFromInt(1),
		Owner:      model.AddrKey(alice),
		Price:      decimal.NewFromInt(500),
		Currency:   model.AddrKey(weth),
	}
	require.NoError(t, s.CreateOffer(ctx, offer))

	offer.Price = decimal.NewFromInt(650)
	require.NoError(t, s.UpdateOffer(ctx, offer))
	got, err := s.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(650)))

	require.NoError(t, s.DeleteOffer(ctx, "offer-1"))
	_, err = s.GetOffer(ctx, "offer-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.DeleteOffer(ctx, "offer-1"), ErrNotFound))
}

func TestListSettlements(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	for i, ev := range []string{"BuyExecuted", "SaleExecuted", "BuyExecuted"} {
		rec := &model.SettlementRecord{
			ID:         string(rune('a' + i)),
			Event:      ev,
			OrderID:    ev,
			Collection: model.AddrKey(coll),
			Seller:     model.AddrKey(alice),
			Buyer:      model.AddrKey(bob),
		}
		payouts := []model.RoyaltyPayoutRecord{{Recipient: model.AddrKey(alice), Bps: 500, Amount: decimal.NewFromInt(5)}}
		require.NoError(t, s.CreateSettlement(ctx, rec, payouts))
	}

	records, total, err := s.ListSettlements(ctx, RecordFilter{UserAddr: model.AddrKey(bob), Event: "BuyExecuted"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, records, 2)

	payouts, err := s.RoyaltyPayouts(ctx, "a")
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, "a", payouts[0].SettlementID)
}
