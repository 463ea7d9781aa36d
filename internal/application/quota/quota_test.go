package quota

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/internal/domain/service"
	"z-novel-setting-api/internal/workflow/port"
)

type memCreditRepo struct {
	mu        sync.Mutex
	accounts  map[string]*entity.UserCreditAccount
	deducted  map[string]int64
	deductErr error
}

func newMemCreditRepo() *memCreditRepo {
	return &memCreditRepo{
		accounts: make(map[string]*entity.UserCreditAccount),
		deducted: make(map[string]int64),
	}
}

func (r *memCreditRepo) GetByUserID(_ context.Context, userID string) (*entity.UserCreditAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[userID]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}

func (r *memCreditRepo) Deduct(_ context.Context, userID string, credits int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deductErr != nil {
		return r.deductErr
	}
	r.deducted[userID] += credits
	return nil
}

var poolRoute = port.ModelRoute{
	Kind:             port.RouteKindSharedPool,
	ConfigID:         "pool-a",
	InputPricePer1K:  2,
	OutputPricePer1K: 10,
}

func TestEstimateCost(t *testing.T) {
	assert.Equal(t, int64(0), EstimateCost(poolRoute, 0, 0))
	assert.Equal(t, int64(1), EstimateCost(poolRoute, 1, 0), "rounded up")
	assert.Equal(t, int64(12), EstimateCost(poolRoute, 1000, 1000))
	assert.Equal(t, int64(6), EstimateCost(poolRoute, 1500, 250))
	assert.Equal(t, 4, EstimateTokens("北境王国"))
}

func TestCheckSkipsPrivateRoutes(t *testing.T) {
	c := NewCreditPreflightChecker(newMemCreditRepo())
	required, available, err := c.Check(context.Background(), "u1", port.ModelRoute{Kind: port.RouteKindPrivate}, "text", 4000)
	require.NoError(t, err)
	assert.Zero(t, required)
	assert.Zero(t, available)
}

func TestCheckSharedPool(t *testing.T) {
	repo := newMemCreditRepo()
	repo.accounts["rich"] = &entity.UserCreditAccount{UserID: "rich", Balance: 100, Frozen: 10}
	repo.accounts["poor"] = &entity.UserCreditAccount{UserID: "poor", Balance: 20, Frozen: 15}
	c := NewCreditPreflightChecker(repo)
	input := strings.Repeat("雪", 1000)

	required, available, err := c.Check(context.Background(), "rich", poolRoute, input, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(12), required)
	assert.Equal(t, int64(90), available)

	required, available, err = c.Check(context.Background(), "poor", poolRoute, input, 1000)
	var ice *InsufficientCreditsError
	require.True(t, errors.As(err, &ice))
	assert.Equal(t, int64(12), required)
	assert.Equal(t, int64(5), available)
	assert.Equal(t, "poor", ice.UserID)

	_, _, err = c.Check(context.Background(), "nobody", poolRoute, "", 0)
	assert.True(t, errors.As(err, &ice), "users without an account cannot use the pool")
}

func TestCheckHonoursMinimumBalance(t *testing.T) {
	repo := newMemCreditRepo()
	repo.accounts["u1"] = &entity.UserCreditAccount{UserID: "u1", Balance: 30}
	c := NewCreditPreflightChecker(repo)
	route := poolRoute
	route.MinBalanceCredits = 50

	required, _, err := c.Check(context.Background(), "u1", route, "短", 10)
	assert.Equal(t, int64(50), required)
	var ice *InsufficientCreditsError
	assert.True(t, errors.As(err, &ice))
}

func TestRecorderDeductsActualUsage(t *testing.T) {
	repo := newMemCreditRepo()
	r := NewCreditUsageRecorder(repo)

	err := r.Record(context.Background(), service.LLMUsageInput{
		UserID:           "u1",
		Workflow:         "setting_extract",
		PromptTokens:     1500,
		CompletionTokens: 250,
		InputPricePer1K:  2,
		OutputPricePer1K: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), repo.deducted["u1"])

	require.NoError(t, r.Record(context.Background(), service.LLMUsageInput{UserID: "u1"}), "free calls deduct nothing")
	require.NoError(t, r.Record(context.Background(), service.LLMUsageInput{PromptTokens: 1000, InputPricePer1K: 1}), "anonymous usage is ignored")
	assert.Equal(t, int64(6), repo.deducted["u1"])
	assert.Len(t, repo.deducted, 1)

	assert.Error(t, r.Record(context.Background(), service.LLMUsageInput{UserID: "u1", PromptTokens: -1}))

	repo.deductErr = errors.New("db down")
	assert.Error(t, r.Record(context.Background(), service.LLMUsageInput{UserID: "u1", PromptTokens: 1000, InputPricePer1K: 1}))

	var nilRecorder *CreditUsageRecorder
	assert.NoError(t, nilRecorder.Record(context.Background(), service.LLMUsageInput{UserID: "u1"}))
}
