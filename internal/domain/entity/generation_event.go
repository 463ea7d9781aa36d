package entity

import "time"

// GenerationEventType 事件类型
type GenerationEventType string

const (
	EventSessionStarted      GenerationEventType = "session_started"
	EventNodeCreated         GenerationEventType = "node_created"
	EventNodeUpdated         GenerationEventType = "node_updated"
	EventGenerationProgress  GenerationEventType = "generation_progress"
	EventGenerationError     GenerationEventType = "generation_error"
	EventGenerationCompleted GenerationEventType = "generation_completed"

	// 仅由事件流合成，不进入会话事件历史
	EventStreamReady GenerationEventType = "stream_ready"
	EventHeartbeat   GenerationEventType = "heartbeat"
)

// 事件错误码
const (
	EventErrValidation          = "VALIDATION_ERROR"
	EventErrParse               = "PARSE_ERROR"
	EventErrProvider            = "PROVIDER_ERROR"
	EventErrModelConfig         = "MODEL_CONFIG_ERROR"
	EventErrInsufficientCredits = "INSUFFICIENT_CREDITS"
	EventErrScopeViolation      = "SCOPE_VIOLATION"
	EventErrGenerationFailed    = "GENERATION_FAILED"
	EventErrCancelled           = "CANCELLED"
)

// 完成事件的 outcome
const (
	OutcomeCompleted = "completed"
	OutcomeModified  = "modified"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

// EventPayload 事件负载（封闭集合）
type EventPayload interface {
	EventType() GenerationEventType
}

// GenerationEvent 事件信封，sessionId 与 timestamp 在发出时确定
type GenerationEvent struct {
	Type      GenerationEventType `json:"type"`
	SessionID string              `json:"sessionId"`
	Timestamp time.Time           `json:"timestamp"`
	Payload   EventPayload        `json:"payload,omitempty"`
}

// NewGenerationEvent 构造事件
func NewGenerationEvent(sessionID string, payload EventPayload, now time.Time) GenerationEvent {
	return GenerationEvent{
		Type:      payload.EventType(),
		SessionID: sessionID,
		Timestamp: now,
		Payload:   payload,
	}
}

// IsTerminal 完成事件与不可恢复错误会结束事件流
func (e GenerationEvent) IsTerminal() bool {
	switch p := e.Payload.(type) {
	case GenerationCompleted:
		return true
	case GenerationError:
		return !p.Recoverable
	default:
		return false
	}
}

type SessionStarted struct {
	Mode        GenerationMode `json:"mode"`
	TotalRounds int            `json:"totalRounds"`
	Prompt      string         `json:"prompt,omitempty"`
}

func (SessionStarted) EventType() GenerationEventType { return EventSessionStarted }

type NodeCreated struct {
	Node   *SettingNode `json:"node"`
	TempID string       `json:"tempId,omitempty"`
}

func (NodeCreated) EventType() GenerationEventType { return EventNodeCreated }

type NodeUpdated struct {
	Node   *SettingNode `json:"node"`
	TempID string       `json:"tempId,omitempty"`
}

func (NodeUpdated) EventType() GenerationEventType { return EventNodeUpdated }

type GenerationProgress struct {
	Progress    int    `json:"progress"`
	CurrentStep string `json:"currentStep"`
	Round       int    `json:"round,omitempty"`
	TotalRounds int    `json:"totalRounds,omitempty"`
	Message     string `json:"message,omitempty"`
}

func (GenerationProgress) EventType() GenerationEventType { return EventGenerationProgress }

type GenerationError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	NodeID      string `json:"nodeId,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

func (GenerationError) EventType() GenerationEventType { return EventGenerationError }

type GenerationCompleted struct {
	NodeCount            int    `json:"nodeCount"`
	DurationMs           int64  `json:"durationMs"`
	Outcome              string `json:"outcome"`
	ToolDeclaredComplete bool   `json:"toolDeclaredComplete,omitempty"`
	HistoryID            string `json:"historyId,omitempty"`
}

func (GenerationCompleted) EventType() GenerationEventType { return EventGenerationCompleted }

type StreamReady struct {
	Channel string `json:"channel"`
}

func (StreamReady) EventType() GenerationEventType { return EventStreamReady }

type Heartbeat struct{}

func (Heartbeat) EventType() GenerationEventType { return EventHeartbeat }
