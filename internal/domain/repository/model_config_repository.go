package repository

import (
	"context"

	"z-novel-setting-api/internal/domain/entity"
)

// ModelConfigRepository 用户模型配置仓储
type ModelConfigRepository interface {
	// GetByID 按 ID 读取用户的模型配置，未找到时返回 nil, nil
	GetByID(ctx context.Context, userID, id string) (*entity.UserModelConfig, error)
}

// CreditAccountRepository 积分账户仓储
type CreditAccountRepository interface {
	// GetByUserID 未开户时返回 nil, nil
	GetByUserID(ctx context.Context, userID string) (*entity.UserCreditAccount, error)
	// Deduct 扣减积分，余额不足时扣至 0
	Deduct(ctx context.Context, userID string, credits int64) error
}
