// Package domain defines the core domain models for the voice-agent client.
package domain

// ConnectionState represents the user-visible state of a session.
type ConnectionState string

const (
	ConnectionStateIdle         ConnectionState = "idle"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
)

// EventType represents the type of an event channel message.
type EventType string

const (
	EventTypeStatus        EventType = "status"
	EventTypeToolCall      EventType = "tool_call"
	EventTypeSummary       EventType = "summary"
	EventTypeSessionClosed EventType = "session_closed"
)

// ToolCallStatus represents the status of a tool call as reported by the backend.
type ToolCallStatus string

const (
	ToolCallStatusActive    ToolCallStatus = "active"
	ToolCallStatusCompleted ToolCallStatus = "completed"
)

// Known tool names. The vocabulary is open: the backend may report others.
const (
	ToolIdentifyUser         = "identify_user"
	ToolFetchSlots           = "fetch_slots"
	ToolBookAppointment      = "book_appointment"
	ToolRetrieveAppointments = "retrieve_appointments"
	ToolCancelAppointment    = "cancel_appointment"
	ToolModifyAppointment    = "modify_appointment"
	ToolEndConversation      = "end_conversation"
)
