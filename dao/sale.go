package dao

import (
	"context"
	"fmt"

	"nft_settlement/model"

	"github.com/shopspring/decimal"
)

// UpsertSale 创建或更新销售配置，价格表整体替换，已售数量保持不变
func (s *Store) UpsertSale(ctx context.Context, sale *model.PriceList) error {
	existing, err := s.GetSale(ctx, sale.SaleID)
	switch {
	case err == nil:
		sale.Sold = existing.Sold
		sale.CreatedAt = existing.CreatedAt
	case isNotFound(err):
		sale.Sold = decimal.Zero
	default:
		return err
	}

	prices := sale.Prices
	sale.Prices = nil
	if err := s.upsert(ctx, sale); err != nil {
		return err
	}
	if err := s.conn(ctx).Where("sale_id = ?", sale.SaleID).Delete(&model.PriceEntry{}).Error; err != nil {
		return fmt.Errorf("clear sale prices: %w", err)
	}
	for i := range prices {
		prices[i].ID = 0
		prices[i].SaleID = sale.SaleID
	}
	if len(prices) > 0 {
		if err := s.conn(ctx).Create(&prices).Error; err != nil {
			return fmt.Errorf("create sale prices: %w", err)
		}
	}
	sale.Prices = prices
	return nil
}

// GetSale 查询销售配置（含价格表）
func (s *Store) GetSale(ctx context.Context, saleID string) (*model.PriceList, error) {
	var sale model.PriceList
	err := s.conn(ctx).Preload("Prices").Where("sale_id = ?", saleID).Take(&sale).Error
	if notFound(err) {
		return nil, fmt.Errorf("%w: sale %s", ErrNotFound, saleID)
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	return &sale, nil
}

// SetSaleActive 启用/停用销售
func (s *Store) SetSaleActive(ctx context.Context, saleID string, active bool) error {
	res := s.conn(ctx).Model(&model.PriceList{}).Where("sale_id = ?", saleID).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("update sale: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: sale %s", ErrNotFound, saleID)
	}
	return nil
}

// SetSold 写入新的已售数量
func (s *Store) SetSold(ctx context.Context, saleID string, sold decimal.Decimal) error {
	res := s.conn(ctx).Model(&model.PriceList{}).Where("sale_id = ?", saleID).Update("sold", sold)
	if res.Error != nil {
		return fmt.Errorf("update sold: %w", res.Error)
	}
	return nil
}
