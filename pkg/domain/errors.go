package domain

import "errors"

// Common domain errors
var (
	ErrSymbolNotFound = errors.New("decode symbol not found")
	ErrHookInstall    = errors.New("hook installation failed")
	ErrConfigInvalid  = errors.New("invalid configuration")
)

// ErrorResponse defines the JSON error model returned by the admin API.
// It intentionally avoids exposing internal details while providing a stable machine-readable code.
type ErrorResponse struct {
	Code    string `json:"code"`    // Machine-readable error code (e.g., METHOD_NOT_ALLOWED)
	Message string `json:"message"` // Human-readable message (safe for logs)
}
