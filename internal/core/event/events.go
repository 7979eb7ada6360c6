package event

import (
	"time"
)

// EventType represents the type of event
type EventType string

// Call lifecycle events
const (
	CallStateChanged EventType = "call.state_changed"
	CallDialed       EventType = "call.dialed"
	CallEnded        EventType = "call.ended"
	CallFailed       EventType = "call.failed"

	// Agent events
	AgentToolInvoked EventType = "agent.tool_invoked"

	// Internal/system events
	HandlerPanic EventType = "handler.panic"
)

// CallEvent represents a call-related event
type CallEvent struct {
	Type        EventType   `json:"type"`
	RoomName    string      `json:"room_name"`
	PhoneNumber string      `json:"phone_number,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Data        interface{} `json:"data,omitempty"`
	Error       error       `json:"error,omitempty"`
}

// StateChangeData carries a controller state transition
type StateChangeData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// OutcomeData describes how a call left the orchestrator
type OutcomeData struct {
	CustomerName  string    `json:"customer_name,omitempty"`
	Outcome       string    `json:"outcome"`
	SIPStatusCode int       `json:"sip_status_code,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// ToolData describes an agent tool invocation
type ToolData struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// NewCallEvent creates a new call event
func NewCallEvent(eventType EventType, roomName string) *CallEvent {
	return &CallEvent{
		Type:      eventType,
		RoomName:  roomName,
		Timestamp: time.Now(),
	}
}

// WithPhoneNumber adds the dialed number to the event
func (e *CallEvent) WithPhoneNumber(phoneNumber string) *CallEvent {
	e.PhoneNumber = phoneNumber
	return e
}

// WithData adds data to the event
func (e *CallEvent) WithData(data interface{}) *CallEvent {
	e.Data = data
	return e
}

// WithError adds error to the event
func (e *CallEvent) WithError(err error) *CallEvent {
	e.Error = err
	return e
}

// IsError returns true if the event contains an error
func (e *CallEvent) IsError() bool {
	return e.Error != nil
}

// GetStateChange returns state transition data if available
func (e *CallEvent) GetStateChange() (*StateChangeData, bool) {
	data, ok := e.Data.(*StateChangeData)
	return data, ok
}

// GetOutcome returns outcome data if available
func (e *CallEvent) GetOutcome() (*OutcomeData, bool) {
	data, ok := e.Data.(*OutcomeData)
	return data, ok
}
