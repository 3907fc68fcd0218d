package utils

import (
	"github.com/google/uuid"
)

// GenerateID 生成报价ID、结算记录ID
func GenerateID() string {
	return uuid.NewString()
}
