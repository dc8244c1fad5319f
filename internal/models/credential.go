package models

import (
	"time"
)

// Credential is a stored calendar connection for a user. The refresh token
// is held only in encrypted form together with the nonce and key identifier
// needed to decrypt it later.
type Credential struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	OrganizationID        string     `json:"organization_id,omitempty"`
	Email                 string     `json:"email"`
	ProviderAccountID     string     `json:"provider_account_id"`
	EncryptedRefreshToken string     `json:"-"`
	EncryptionNonce       string     `json:"-"`
	EncryptionKeyID       string     `json:"-"`
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at,omitempty"`
	ScopesGranted         []string   `json:"scopes_granted"`
	IsActive              bool       `json:"is_active"`
	LastSyncAt            *time.Time `json:"last_sync_at,omitempty"`
	LastError             string     `json:"last_error,omitempty"`
	ConnectedAt           time.Time  `json:"connected_at"`
	RevokedAt             *time.Time `json:"revoked_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// ConnectionStatus summarizes a user's calendar connection without exposing
// any token material.
type ConnectionStatus struct {
	Connected   bool       `json:"connected"`
	Email       string     `json:"email,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// SyncLogEntry records a single calendar mutation or sync attempt.
type SyncLogEntry struct {
	ID                 string                 `json:"id"`
	UserID             string                 `json:"user_id"`
	Operation          string                 `json:"operation"`
	ProviderEventID    string                 `json:"provider_event_id,omitempty"`
	LocalReferenceID   string                 `json:"local_reference_id,omitempty"`
	LocalReferenceType string                 `json:"local_reference_type,omitempty"`
	Status             string                 `json:"status"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
	RequestPayload     map[string]interface{} `json:"request_payload,omitempty"`
	ResponsePayload    map[string]interface{} `json:"response_payload,omitempty"`
	InitiatedBy        string                 `json:"initiated_by"`
	AgentID            string                 `json:"agent_id,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

// SyncLog operation constants
const (
	SyncOpCreateEvent = "create_event"
	SyncOpUpdateEvent = "update_event"
	SyncOpDeleteEvent = "delete_event"
	SyncOpSync        = "sync"
)

// SyncLog status constants
const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
	SyncStatusPending = "pending"
)

// SyncLog initiator constants
const (
	InitiatorUser   = "user"
	InitiatorAgent  = "ai_agent"
	InitiatorSystem = "system"
)
