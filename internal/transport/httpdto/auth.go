package httpdto

type SessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type SessionResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
}
