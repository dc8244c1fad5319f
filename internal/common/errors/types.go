package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of an error
type ErrorType string

const (
	// ErrTypeOAuthState represents a missing, tampered or expired OAuth state token
	ErrTypeOAuthState ErrorType = "oauth_state"
	// ErrTypeAccountConflict represents a provider account already owned by another user
	ErrTypeAccountConflict ErrorType = "account_conflict"
	// ErrTypeNotConnected represents a user without an active calendar connection
	ErrTypeNotConnected ErrorType = "not_connected"
	// ErrTypeTokenExpired represents a failed access-token refresh
	ErrTypeTokenExpired ErrorType = "token_expired"
	// ErrTypeEncryption represents a vault encryption/decryption failure
	ErrTypeEncryption ErrorType = "encryption"
	// ErrTypeUpstream represents a provider API failure
	ErrTypeUpstream ErrorType = "upstream"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeAuth represents authentication errors
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// OAuthStateError creates an error for an invalid or expired OAuth state token.
// The caller must restart the authorization flow.
func OAuthStateError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeOAuthState,
		Message: msg,
	}
}

// AccountConflictError creates an error for a provider account that is
// already actively connected to a different user.
func AccountConflictError(providerAccountID string) *AppError {
	return &AppError{
		Type:    ErrTypeAccountConflict,
		Message: "provider account is already connected to another user",
		Context: map[string]interface{}{"provider_account_id": providerAccountID},
	}
}

// NotConnectedError creates an error for a user with no active calendar connection
func NotConnectedError(userID string) *AppError {
	return &AppError{
		Type:    ErrTypeNotConnected,
		Message: "calendar not connected",
		Context: map[string]interface{}{"user_id": userID},
	}
}

// TokenExpiredError creates an error for a refresh that failed terminally.
// The caller must re-run the authorization flow.
func TokenExpiredError(userID, reason string) *AppError {
	return &AppError{
		Type:    ErrTypeTokenExpired,
		Message: reason,
		Context: map[string]interface{}{"user_id": userID},
	}
}

// EncryptionError creates an error for a vault failure. The cause is kept
// for logs only and never serialized.
func EncryptionError(operation string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeEncryption,
		Message: fmt.Sprintf("token %s failed", operation),
		Cause:   cause,
	}
}

// UpstreamError creates an error wrapping a provider API failure
func UpstreamError(msg string, statusCode int, reason string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeUpstream,
		Message: msg,
		Cause:   cause,
		Context: map[string]interface{}{
			"upstream_status": statusCode,
			"upstream_reason": reason,
		},
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// AuthError creates a new authentication error
func AuthError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// IsType checks if an error is of a specific type, unwrapping as needed
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}
