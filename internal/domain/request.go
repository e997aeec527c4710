package domain

// SessionStartResponse is returned by POST /session/start.
type SessionStartResponse struct {
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
}

// TokenRequest is the body of POST /livekit/token.
type TokenRequest struct {
	SessionID string `json:"session_id"`
	Identity  string `json:"identity"`
}

// TokenResponse is returned by POST /livekit/token.
type TokenResponse struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Error    string `json:"error,omitempty"`
}

// ErrorResponse represents an error response from the backend.
type ErrorResponse struct {
	Error string `json:"error"`
}
