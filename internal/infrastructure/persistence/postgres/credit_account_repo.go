// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/internal/domain/repository"
)

// CreditAccountRepository 积分账户仓储实现
type CreditAccountRepository struct {
	client *Client
}

var _ repository.CreditAccountRepository = (*CreditAccountRepository)(nil)

// NewCreditAccountRepository 创建积分账户仓储
func NewCreditAccountRepository(client *Client) *CreditAccountRepository {
	return &CreditAccountRepository{client: client}
}

// GetByUserID 根据用户获取积分账户
func (r *CreditAccountRepository) GetByUserID(ctx context.Context, userID string) (*entity.UserCreditAccount, error) {
	ctx, span := tracer.Start(ctx, "postgres.CreditAccountRepository.GetByUserID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var acct entity.UserCreditAccount
	if err := db.First(&acct, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get credit account: %w", err)
	}
	return &acct, nil
}

// Deduct 原子扣减，余额最低为 0
func (r *CreditAccountRepository) Deduct(ctx context.Context, userID string, credits int64) error {
	ctx, span := tracer.Start(ctx, "postgres.CreditAccountRepository.Deduct")
	defer span.End()

	if credits <= 0 {
		return nil
	}
	db := getDB(ctx, r.client.db)
	err := db.Model(&entity.UserCreditAccount{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("GREATEST(balance - ?, 0)", credits)).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to deduct credits: %w", err)
	}
	return nil
}

// Grant 充值，账户不存在时创建
func (r *CreditAccountRepository) Grant(ctx context.Context, userID string, credits int64) error {
	ctx, span := tracer.Start(ctx, "postgres.CreditAccountRepository.Grant")
	defer span.End()

	db := getDB(ctx, r.client.db)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{"balance": gorm.Expr("user_credit_accounts.balance + ?", credits)}),
	}).Create(&entity.UserCreditAccount{UserID: userID, Balance: credits}).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to grant credits: %w", err)
	}
	return nil
}
