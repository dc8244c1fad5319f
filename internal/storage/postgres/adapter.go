package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lucsky/cuid"

	"calendar-service/internal/common/errors"
	"calendar-service/internal/models"
	"calendar-service/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	db, err := sql.Open("pgx", config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Connect(config storage.StorageConfig) error {
	pgConfig, ok := config.(*Config)
	if !ok {
		return fmt.Errorf("invalid config type for PostgreSQL storage")
	}

	newAdapter, err := NewAdapter(pgConfig)
	if err != nil {
		return err
	}

	// Close existing connection
	if a.db != nil {
		a.db.Close()
	}

	a.db = newAdapter.db
	a.config = newAdapter.config

	return nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS calendar_credentials (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			organization_id TEXT DEFAULT '',
			email TEXT NOT NULL,
			provider_account_id TEXT NOT NULL,
			encrypted_refresh_token TEXT NOT NULL,
			encryption_nonce TEXT NOT NULL,
			encryption_key_id TEXT NOT NULL,
			access_token_expires_at TIMESTAMPTZ,
			scopes_granted JSONB NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_sync_at TIMESTAMPTZ,
			last_error TEXT DEFAULT '',
			connected_at TIMESTAMPTZ NOT NULL,
			revoked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS calendar_sync_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			provider_event_id TEXT DEFAULT '',
			local_reference_id TEXT DEFAULT '',
			local_reference_type TEXT DEFAULT '',
			status TEXT NOT NULL,
			error_message TEXT DEFAULT '',
			request_payload JSONB,
			response_payload JSONB,
			initiated_by TEXT NOT NULL,
			agent_id TEXT DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_credentials_user_id ON calendar_credentials(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_provider_account ON calendar_credentials(provider_account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_active_expiry ON calendar_credentials(is_active, access_token_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_user_id ON calendar_sync_logs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_reference ON calendar_sync_logs(local_reference_type, local_reference_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON calendar_sync_logs(created_at)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

// Credential methods

func (a *Adapter) CreateCredential(cred *models.Credential) error {
	if cred.ID == "" {
		cred.ID = cuid.New()
	}
	if cred.ConnectedAt.IsZero() {
		cred.ConnectedAt = time.Now().UTC()
	}

	scopes, err := json.Marshal(cred.ScopesGranted)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	query := `INSERT INTO calendar_credentials
		(id, user_id, organization_id, email, provider_account_id,
		 encrypted_refresh_token, encryption_nonce, encryption_key_id,
		 access_token_expires_at, scopes_granted, is_active, last_error, connected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = a.db.Exec(query, cred.ID, cred.UserID, cred.OrganizationID, cred.Email,
		cred.ProviderAccountID, cred.EncryptedRefreshToken, cred.EncryptionNonce,
		cred.EncryptionKeyID, nullableTime(cred.AccessTokenExpiresAt), string(scopes),
		cred.IsActive, cred.LastError, cred.ConnectedAt)
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

const credentialColumns = `id, user_id, organization_id, email, provider_account_id,
	encrypted_refresh_token, encryption_nonce, encryption_key_id,
	access_token_expires_at, scopes_granted, is_active, last_sync_at, last_error,
	connected_at, revoked_at, created_at, updated_at`

func (a *Adapter) GetActiveCredential(userID string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM calendar_credentials WHERE user_id = $1 AND is_active = TRUE
		ORDER BY connected_at DESC LIMIT 1`

	return scanCredentialRow(a.db.QueryRow(query, userID))
}

func (a *Adapter) GetCredentialByProviderAccount(providerAccountID string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM calendar_credentials WHERE provider_account_id = $1 AND is_active = TRUE
		ORDER BY connected_at DESC LIMIT 1`

	return scanCredentialRow(a.db.QueryRow(query, providerAccountID))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredentialRow(row *sql.Row) (*models.Credential, error) {
	cred, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("credential")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred, nil
}

func scanCredential(row rowScanner) (*models.Credential, error) {
	cred := &models.Credential{}
	var scopes []byte
	var expiresAt, lastSyncAt, revokedAt sql.NullTime
	var lastError sql.NullString

	err := row.Scan(&cred.ID, &cred.UserID, &cred.OrganizationID, &cred.Email,
		&cred.ProviderAccountID, &cred.EncryptedRefreshToken, &cred.EncryptionNonce,
		&cred.EncryptionKeyID, &expiresAt, &scopes, &cred.IsActive, &lastSyncAt,
		&lastError, &cred.ConnectedAt, &revokedAt, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(scopes, &cred.ScopesGranted); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	if expiresAt.Valid {
		cred.AccessTokenExpiresAt = &expiresAt.Time
	}
	if lastSyncAt.Valid {
		cred.LastSyncAt = &lastSyncAt.Time
	}
	if revokedAt.Valid {
		cred.RevokedAt = &revokedAt.Time
	}
	cred.LastError = lastError.String

	return cred, nil
}

func (a *Adapter) UpdateCredentialExpiry(id string, expiresAt time.Time) error {
	query := `UPDATE calendar_credentials
		SET access_token_expires_at = $1, last_error = '', updated_at = NOW()
		WHERE id = $2`

	return a.execExpectingRow(query, "credential", expiresAt, id)
}

func (a *Adapter) UpdateCredentialSyncTime(id string, at time.Time) error {
	query := `UPDATE calendar_credentials
		SET last_sync_at = $1, updated_at = NOW() WHERE id = $2`

	return a.execExpectingRow(query, "credential", at, id)
}

func (a *Adapter) SetCredentialError(id string, message string) error {
	query := `UPDATE calendar_credentials
		SET last_error = $1, updated_at = NOW() WHERE id = $2`

	return a.execExpectingRow(query, "credential", message, id)
}

func (a *Adapter) MarkCredentialRevoked(id string) error {
	query := `UPDATE calendar_credentials
		SET is_active = FALSE, revoked_at = NOW(), updated_at = NOW()
		WHERE id = $1`

	return a.execExpectingRow(query, "credential", id)
}

func (a *Adapter) DeleteCredentialsForUser(userID string) error {
	_, err := a.db.Exec(`DELETE FROM calendar_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

func (a *Adapter) ListExpiringCredentials(before time.Time, limit int) ([]*models.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM calendar_credentials
		WHERE is_active = TRUE AND access_token_expires_at IS NOT NULL AND access_token_expires_at < $1
		ORDER BY access_token_expires_at ASC LIMIT $2`

	rows, err := a.db.Query(query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}

	return creds, rows.Err()
}

// Sync log methods

func (a *Adapter) CreateSyncLog(entry *models.SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = cuid.New()
	}

	reqPayload, err := marshalPayload(entry.RequestPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal request payload: %w", err)
	}
	respPayload, err := marshalPayload(entry.ResponsePayload)
	if err != nil {
		return fmt.Errorf("failed to marshal response payload: %w", err)
	}

	query := `INSERT INTO calendar_sync_logs
		(id, user_id, operation, provider_event_id, local_reference_id, local_reference_type,
		 status, error_message, request_payload, response_payload, initiated_by, agent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = a.db.Exec(query, entry.ID, entry.UserID, entry.Operation, entry.ProviderEventID,
		entry.LocalReferenceID, entry.LocalReferenceType, entry.Status, entry.ErrorMessage,
		reqPayload, respPayload, entry.InitiatedBy, entry.AgentID)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}

	return nil
}

const syncLogColumns = `id, user_id, operation, provider_event_id, local_reference_id,
	local_reference_type, status, error_message, request_payload, response_payload,
	initiated_by, agent_id, created_at`

func (a *Adapter) ListSyncLogsByUser(userID, operation string, limit, offset int) ([]*models.SyncLogEntry, error) {
	query := `SELECT ` + syncLogColumns + `
		FROM calendar_sync_logs WHERE user_id = $1 AND ($2 = '' OR operation = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`

	rows, err := a.db.Query(query, userID, operation, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	return scanSyncLogs(rows)
}

func (a *Adapter) CountSyncLogsByUser(userID, operation string) (int, error) {
	query := `SELECT COUNT(*) FROM calendar_sync_logs
		WHERE user_id = $1 AND ($2 = '' OR operation = $2)`

	var count int
	if err := a.db.QueryRow(query, userID, operation).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sync logs: %w", err)
	}
	return count, nil
}

func (a *Adapter) ListSyncLogsByReference(referenceType, referenceID string, limit int) ([]*models.SyncLogEntry, error) {
	query := `SELECT ` + syncLogColumns + `
		FROM calendar_sync_logs WHERE local_reference_type = $1 AND local_reference_id = $2
		ORDER BY created_at DESC LIMIT $3`

	rows, err := a.db.Query(query, referenceType, referenceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	return scanSyncLogs(rows)
}

func scanSyncLogs(rows *sql.Rows) ([]*models.SyncLogEntry, error) {
	var entries []*models.SyncLogEntry
	for rows.Next() {
		entry := &models.SyncLogEntry{}
		var reqPayload, respPayload []byte

		err := rows.Scan(&entry.ID, &entry.UserID, &entry.Operation, &entry.ProviderEventID,
			&entry.LocalReferenceID, &entry.LocalReferenceType, &entry.Status,
			&entry.ErrorMessage, &reqPayload, &respPayload, &entry.InitiatedBy,
			&entry.AgentID, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}

		if entry.RequestPayload, err = unmarshalPayload(reqPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request payload: %w", err)
		}
		if entry.ResponsePayload, err = unmarshalPayload(respPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response payload: %w", err)
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (a *Adapter) execExpectingRow(query, resource string, args ...interface{}) error {
	result, err := a.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", resource, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return errors.NotFoundError(resource)
	}

	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func marshalPayload(payload map[string]interface{}) (interface{}, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func unmarshalPayload(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
