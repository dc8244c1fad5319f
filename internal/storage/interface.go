package storage

import (
	"time"

	"calendar-service/internal/models"
)

// Storage persists calendar credentials and the sync audit trail.
//
// Implementations return a typed not-found error (errors.NotFoundError) when
// a lookup matches no row, so callers can tell "user never connected" apart
// from a transient database failure.
type Storage interface {
	// Connection management
	Connect(config StorageConfig) error
	Close() error
	Health() error

	// Credentials
	CreateCredential(cred *models.Credential) error

	// GetActiveCredential returns the active credential for a user, if any.
	GetActiveCredential(userID string) (*models.Credential, error)

	// GetCredentialByProviderAccount returns the active credential bound to
	// a provider account, regardless of which user owns it.
	GetCredentialByProviderAccount(providerAccountID string) (*models.Credential, error)

	UpdateCredentialExpiry(id string, expiresAt time.Time) error
	UpdateCredentialSyncTime(id string, at time.Time) error
	SetCredentialError(id string, message string) error

	// MarkCredentialRevoked deactivates the credential and records the
	// revocation time. The encrypted token material stays in place.
	MarkCredentialRevoked(id string) error

	// DeleteCredentialsForUser removes every credential row for a user.
	DeleteCredentialsForUser(userID string) error

	// ListExpiringCredentials returns active credentials whose access token
	// expiry falls before the cutoff, oldest first.
	ListExpiringCredentials(before time.Time, limit int) ([]*models.Credential, error)

	// Sync audit log
	CreateSyncLog(entry *models.SyncLogEntry) error
	// ListSyncLogsByUser returns entries newest first. An empty operation
	// matches all operations.
	ListSyncLogsByUser(userID, operation string, limit, offset int) ([]*models.SyncLogEntry, error)
	CountSyncLogsByUser(userID, operation string) (int, error)
	ListSyncLogsByReference(referenceType, referenceID string, limit int) ([]*models.SyncLogEntry, error)
}

type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}
