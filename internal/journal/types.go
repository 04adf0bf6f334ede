package journal

import "time"

// EventType 表示订单流水事件类型。
type EventType string

const (
	EventOrderSubmitted  EventType = "order_submitted"
	EventGridStarted     EventType = "grid_started"
	EventGridRefill      EventType = "grid_refill"
	EventGridCancelled   EventType = "grid_cancelled"
	EventTwapChunk       EventType = "twap_chunk"
	EventTwapCompleted   EventType = "twap_completed"
	EventTwapCancelled   EventType = "twap_cancelled"
	EventBracketPlaced   EventType = "bracket_placed"
	EventBracketRollback EventType = "bracket_rollback"
	EventError           EventType = "error"
)

// Event 封装一条订单或策略生命周期事件。
type Event struct {
	Type      EventType   `json:"type"`
	Symbol    string      `json:"symbol,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}
