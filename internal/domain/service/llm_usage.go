package service

import "context"

// LLMUsageInput 一次共享池调用的计费数据，由 eino 回调在调用结束后产出
type LLMUsageInput struct {
	UserID    string
	SessionID string

	Workflow string
	Provider string
	Model    string

	PromptTokens     int
	CompletionTokens int
	DurationMs       int

	InputPricePer1K  float64
	OutputPricePer1K float64
}

// TotalTokens prompt 与 completion 之和
func (in LLMUsageInput) TotalTokens() int {
	return in.PromptTokens + in.CompletionTokens
}

// LLMUsageRecorder 记录用量并扣减积分。调用方不等待也不重试，实现自行记录失败。
type LLMUsageRecorder interface {
	Record(ctx context.Context, in LLMUsageInput) error
}
