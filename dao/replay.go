package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nft_settlement/model"

	"gorm.io/gorm"
)

// IsUsed 订单ID是否已被消费
func (s *Store) IsUsed(ctx context.Context, orderID string) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(&model.UsedOrder{}).Where("order_id = ?", orderID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("query used order: %w", err)
	}
	return n > 0, nil
}

// MarkUsed 消费订单ID，重复消费返回 ErrAlreadyUsed
func (s *Store) MarkUsed(ctx context.Context, orderID, kind string) error {
	used, err := s.IsUsed(ctx, orderID)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s", ErrAlreadyUsed, orderID)
	}
	err = s.conn(ctx).Create(&model.UsedOrder{OrderID: orderID, Kind: kind, UsedAt: time.Now()}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrAlreadyUsed, orderID)
	}
	if err != nil {
		return fmt.Errorf("mark order used: %w", err)
	}
	return nil
}
