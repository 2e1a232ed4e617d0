package websocket

// WSMessage is the envelope for messages pushed to waiting login pages.
type WSMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Content   interface{} `json:"content,omitempty"`
}

// VerifiedMessage tells the frontend the emailed link was clicked and where
// the user is being sent.
type VerifiedMessage struct {
	Email       string `json:"email"`
	RedirectURL string `json:"redirect_url"`
}
