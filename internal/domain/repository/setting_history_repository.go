package repository

import (
	"context"

	"z-novel-setting-api/internal/domain/entity"
)

// SettingHistoryRepository 设定树持久化仓储
type SettingHistoryRepository interface {
	Create(ctx context.Context, history *entity.SettingHistory) error

	// GetByID 未找到时返回 nil, nil
	GetByID(ctx context.Context, id string) (*entity.SettingHistory, error)

	// Update 覆盖节点快照与根节点列表
	Update(ctx context.Context, history *entity.SettingHistory) error
}
