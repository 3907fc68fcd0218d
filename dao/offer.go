package dao

import (
	"context"
	"fmt"

	"nft_settlement/model"
)

// CreateOffer 保存新报价
func (s *Store) CreateOffer(ctx context.Context, offer *model.OfferRecord) error {
	if err := s.conn(ctx).Create(offer).Error; err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	return nil
}

// GetOffer 根据ID查询报价
func (s *Store) GetOffer(ctx context.Context, offerID string) (*model.OfferRecord, error) {
	var offer model.OfferRecord
	err := s.conn(ctx).Where("id = ?", offerID).Take(&offer).Error
	if notFound(err) {
		return nil, fmt.Errorf("%w: offer %s", ErrNotFound, offerID)
	}
	if err != nil {
		return nil, fmt.Errorf("query offer: %w", err)
	}
	return &offer, nil
}

// UpdateOffer 更新报价金额与币种
func (s *Store) UpdateOffer(ctx context.Context, offer *model.OfferRecord) error {
	err := s.conn(ctx).Model(&model.OfferRecord{}).Where("id = ?", offer.ID).Updates(map[string]interface{}{
		"price":    offer.Price,
		"currency": offer.Currency,
	}).Error
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	return nil
}

// DeleteOffer 删除报价（成交或取消）
func (s *Store) DeleteOffer(ctx context.Context, offerID string) error {
	res := s.conn(ctx).Where("id = ?", offerID).Delete(&model.OfferRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete offer failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: offer %s", ErrNotFound, offerID)
	}
	return nil
}

// AppendOfferEvent 记录报价生命周期事件
func (s *Store) AppendOfferEvent(ctx context.Context, ev *model.OfferEvent) error {
	if err := s.conn(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("create offer event: %w", err)
	}
	return nil
}
