package dao

import (
	"context"
	"fmt"

	"nft_settlement/model"
)

// RecordFilter 结算记录查询条件
type RecordFilter struct {
	UserAddr   string // 买家/卖家地址
	Collection string
	Event      string
	Page       int
	PageSize   int
}

// CreateSettlement 写入结算记录及版税明细
func (s *Store) CreateSettlement(ctx context.Context, rec *model.SettlementRecord, payouts []model.RoyaltyPayoutRecord) error {
	if err := s.conn(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create settlement record: %w", err)
	}
	if len(payouts) == 0 {
		return nil
	}
	for i := range payouts {
		payouts[i].SettlementID = rec.ID
	}
	if err := s.conn(ctx).Create(&payouts).Error; err != nil {
		return fmt.Errorf("create royalty payouts: %w", err)
	}
	return nil
}

// ListSettlements 分页查询结算记录
func (s *Store) ListSettlements(ctx context.Context, f RecordFilter) ([]model.SettlementRecord, int64, error) {
	var records []model.SettlementRecord
	var total int64

	query := s.conn(ctx).Model(&model.SettlementRecord{})
	if f.UserAddr != "" {
		query = query.Where("seller = ? OR buyer = ?", f.UserAddr, f.UserAddr)
	}
	if f.Collection != "" {
		query = query.Where("collection = ?", f.Collection)
	}
	if f.Event != "" {
		query = query.Where("event = ?", f.Event)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 10
	}
	offset := (f.Page - 1) * f.PageSize
	if err := query.Offset(offset).Limit(f.PageSize).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// RoyaltyPayouts 某次结算的版税明细
func (s *Store) RoyaltyPayouts(ctx context.Context, settlementID string) ([]model.RoyaltyPayoutRecord, error) {
	var payouts []model.RoyaltyPayoutRecord
	if err := s.conn(ctx).Where("settlement_id = ?", settlementID).Order("id").Find(&payouts).Error; err != nil {
		return nil, fmt.Errorf("query royalty payouts: %w", err)
	}
	return payouts, nil
}
