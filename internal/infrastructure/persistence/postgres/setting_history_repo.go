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

// SettingHistoryRepository 设定树快照仓储实现
type SettingHistoryRepository struct {
	client *Client
}

var _ repository.SettingHistoryRepository = (*SettingHistoryRepository)(nil)

// NewSettingHistoryRepository 创建设定树快照仓储
func NewSettingHistoryRepository(client *Client) *SettingHistoryRepository {
	return &SettingHistoryRepository{client: client}
}

// Create 写入新快照，ID 由数据库生成
func (r *SettingHistoryRepository) Create(ctx context.Context, history *entity.SettingHistory) error {
	ctx, span := tracer.Start(ctx, "postgres.SettingHistoryRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(history).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create setting history: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取快照
func (r *SettingHistoryRepository) GetByID(ctx context.Context, id string) (*entity.SettingHistory, error) {
	ctx, span := tracer.Start(ctx, "postgres.SettingHistoryRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var h entity.SettingHistory
	if err := db.First(&h, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get setting history: %w", err)
	}
	return &h, nil
}

// Update 覆盖快照内容，归属字段不变
func (r *SettingHistoryRepository) Update(ctx context.Context, history *entity.SettingHistory) error {
	ctx, span := tracer.Start(ctx, "postgres.SettingHistoryRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Model(&entity.SettingHistory{}).
		Where("id = ? AND user_id = ?", history.ID, history.UserID).
		Updates(map[string]any{
			"session_id":    history.SessionID,
			"novel_id":      history.NovelID,
			"prompt":        history.Prompt,
			"node_count":    history.NodeCount,
			"root_node_ids": history.RootNodeIDs,
			"nodes":         history.Nodes,
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to update setting history: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("setting history %s not found", history.ID)
	}
	return nil
}
