// Package quota 提供共享池积分相关能力
package quota

import (
	"context"
	"fmt"
	"math"
	"unicode/utf8"

	"z-novel-setting-api/internal/domain/repository"
	"z-novel-setting-api/internal/workflow/port"
)

// InsufficientCreditsError 表示共享池积分不足以支撑本轮调用
type InsufficientCreditsError struct {
	UserID    string
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: user=%s required=%d available=%d", e.UserID, e.Required, e.Available)
}

// CreditPreflightChecker 共享池调用前的积分预检
type CreditPreflightChecker struct {
	repo repository.CreditAccountRepository
}

func NewCreditPreflightChecker(repo repository.CreditAccountRepository) *CreditPreflightChecker {
	return &CreditPreflightChecker{repo: repo}
}

// EstimateTokens 按字符数粗略估算 token 上界
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text)
}

// EstimateCost 按每千 token 单价估算积分，向上取整
func EstimateCost(route port.ModelRoute, inputTokens, outputTokens int) int64 {
	cost := float64(inputTokens)/1000*route.InputPricePer1K + float64(outputTokens)/1000*route.OutputPricePer1K
	return int64(math.Ceil(cost))
}

// Check 私有路由直接放行；共享池要求可用余额覆盖预估费用与最低余额中的较大者。
// 返回：required/available（便于客户端展示），以及积分不足时的 error。
func (c *CreditPreflightChecker) Check(ctx context.Context, userID string, route port.ModelRoute, inputText string, outputTokens int) (required int64, available int64, err error) {
	if !route.IsSharedPool() {
		return 0, 0, nil
	}

	required = EstimateCost(route, EstimateTokens(inputText), outputTokens)
	if route.MinBalanceCredits > required {
		required = route.MinBalanceCredits
	}

	acct, err := c.repo.GetByUserID(ctx, userID)
	if err != nil {
		return required, 0, err
	}
	available = acct.Available()
	if available < required || available <= 0 {
		return required, available, &InsufficientCreditsError{
			UserID:    userID,
			Required:  required,
			Available: available,
		}
	}
	return required, available, nil
}
