package api

import "time"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	SetupRequired bool   `json:"setupRequired,omitempty"`
	RetryAfter    int    `json:"retryAfter,omitempty"`
}

// SuccessResponse is the body of a successful state-changing request.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// BootstrapStatusResponse is returned from GET /auth/bootstrap.
type BootstrapStatusResponse struct {
	SetupRequired bool `json:"setupRequired"`
}

// BootstrapRequest is the JSON body for POST /auth/bootstrap.
type BootstrapRequest struct {
	Password string `json:"password"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the JSON body for POST /auth/change-password.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// SessionResponse is returned from GET /auth/session.
type SessionResponse struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HotPatchResponse is returned from POST /hotpatch.
type HotPatchResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Output  string `json:"output,omitempty"`
}
