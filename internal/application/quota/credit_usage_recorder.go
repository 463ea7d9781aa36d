package quota

import (
	"context"
	"fmt"
	"strings"

	"z-novel-setting-api/internal/domain/repository"
	"z-novel-setting-api/internal/domain/service"
	"z-novel-setting-api/internal/workflow/port"
	"z-novel-setting-api/pkg/logger"
)

// CreditUsageRecorder 按实际 token 用量扣减共享池积分
type CreditUsageRecorder struct {
	repo repository.CreditAccountRepository
}

func NewCreditUsageRecorder(repo repository.CreditAccountRepository) *CreditUsageRecorder {
	return &CreditUsageRecorder{repo: repo}
}

func (r *CreditUsageRecorder) Record(ctx context.Context, in service.LLMUsageInput) error {
	if r == nil || r.repo == nil {
		return nil
	}

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil
	}
	if in.PromptTokens < 0 || in.CompletionTokens < 0 {
		return fmt.Errorf("invalid token usage")
	}

	credits := EstimateCost(port.ModelRoute{
		InputPricePer1K:  in.InputPricePer1K,
		OutputPricePer1K: in.OutputPricePer1K,
	}, in.PromptTokens, in.CompletionTokens)
	if credits <= 0 {
		return nil
	}
	if err := r.repo.Deduct(ctx, userID, credits); err != nil {
		logger.Warn(ctx, "deduct shared pool credits failed",
			"session_id", in.SessionID,
			"workflow", in.Workflow,
			"credits", credits,
			"error", err.Error(),
		)
		return err
	}
	logger.Debug(ctx, "shared pool credits deducted",
		"session_id", in.SessionID,
		"workflow", in.Workflow,
		"provider", in.Provider,
		"model", in.Model,
		"tokens", in.TotalTokens(),
		"credits", credits,
	)
	return nil
}
