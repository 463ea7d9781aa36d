// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/internal/domain/repository"
)

// ModelConfigRepository 用户模型配置仓储实现
type ModelConfigRepository struct {
	client *Client
}

var _ repository.ModelConfigRepository = (*ModelConfigRepository)(nil)

// NewModelConfigRepository 创建用户模型配置仓储
func NewModelConfigRepository(client *Client) *ModelConfigRepository {
	return &ModelConfigRepository{client: client}
}

// GetByID 只返回属于 userID 的配置
func (r *ModelConfigRepository) GetByID(ctx context.Context, userID, id string) (*entity.UserModelConfig, error) {
	ctx, span := tracer.Start(ctx, "postgres.ModelConfigRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var mc entity.UserModelConfig
	if err := db.First(&mc, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get model config: %w", err)
	}
	return &mc, nil
}
