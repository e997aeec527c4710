package domain

// ToolCallEvent is a tool invocation reported during a conversation.
type ToolCallEvent struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    ToolCallStatus `json:"status"`
	Detail    string         `json:"detail"`
	Timestamp string         `json:"timestamp"`
}

// BookedAppointment is a display-only appointment entry of a Summary.
type BookedAppointment struct {
	ID            string `json:"id"`
	ContactNumber string `json:"contact_number"`
	Name          string `json:"name"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Status        string `json:"status"`
}

// Summary is the post-call recap produced once per session.
type Summary struct {
	SessionID          string              `json:"session_id"`
	ContactNumber      *string             `json:"contact_number,omitempty"`
	Summary            string              `json:"summary"`
	BookedAppointments []BookedAppointment `json:"booked_appointments"`
	Preferences        []string            `json:"preferences"`
	CreatedAt          string              `json:"created_at"`
}

// StatusPayload is the payload of a status event.
type StatusPayload struct {
	SessionID string          `json:"session_id"`
	State     ConnectionState `json:"state"`
}

// SessionClosedPayload is the payload of a session_closed event.
type SessionClosedPayload struct {
	SessionID string `json:"session_id"`
}
