package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"calendar-service/internal/common/errors"
	"calendar-service/internal/models"
)

// MemoryStorage is an in-memory Storage used by tests and as a fallback
// when no database is configured.
type MemoryStorage struct {
	mu          sync.RWMutex
	credentials map[string]*models.Credential
	syncLogs    []*models.SyncLogEntry
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		credentials: make(map[string]*models.Credential),
	}
}

func (m *MemoryStorage) Connect(config StorageConfig) error { return nil }
func (m *MemoryStorage) Close() error                       { return nil }
func (m *MemoryStorage) Health() error                      { return nil }

func (m *MemoryStorage) CreateCredential(cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cred.ID == "" {
		cred.ID = cuid.New()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	cp := *cred
	m.credentials[cred.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetActiveCredential(userID string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.credentials {
		if c.UserID == userID && c.IsActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errors.NotFoundError("credential")
}

func (m *MemoryStorage) GetCredentialByProviderAccount(providerAccountID string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.credentials {
		if c.ProviderAccountID == providerAccountID && c.IsActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errors.NotFoundError("credential")
}

func (m *MemoryStorage) UpdateCredentialExpiry(id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credentials[id]
	if !ok {
		return errors.NotFoundError("credential")
	}
	c.AccessTokenExpiresAt = &expiresAt
	c.LastError = ""
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStorage) UpdateCredentialSyncTime(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credentials[id]
	if !ok {
		return errors.NotFoundError("credential")
	}
	c.LastSyncAt = &at
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStorage) SetCredentialError(id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credentials[id]
	if !ok {
		return errors.NotFoundError("credential")
	}
	c.LastError = message
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStorage) MarkCredentialRevoked(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credentials[id]
	if !ok {
		return errors.NotFoundError("credential")
	}
	now := time.Now().UTC()
	c.IsActive = false
	c.RevokedAt = &now
	c.UpdatedAt = now
	return nil
}

func (m *MemoryStorage) DeleteCredentialsForUser(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.credentials {
		if c.UserID == userID {
			delete(m.credentials, id)
		}
	}
	return nil
}

func (m *MemoryStorage) ListExpiringCredentials(before time.Time, limit int) ([]*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Credential
	for _, c := range m.credentials {
		if c.IsActive && c.AccessTokenExpiresAt != nil && c.AccessTokenExpiresAt.Before(before) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccessTokenExpiresAt.Before(*out[j].AccessTokenExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStorage) CreateSyncLog(entry *models.SyncLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = cuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	m.syncLogs = append(m.syncLogs, &cp)
	return nil
}

func (m *MemoryStorage) ListSyncLogsByUser(userID, operation string, limit, offset int) ([]*models.SyncLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.SyncLogEntry
	// Newest first
	for i := len(m.syncLogs) - 1; i >= 0; i-- {
		e := m.syncLogs[i]
		if e.UserID != userID {
			continue
		}
		if operation != "" && e.Operation != operation {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	if offset >= len(matched) {
		return []*models.SyncLogEntry{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryStorage) CountSyncLogsByUser(userID, operation string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.syncLogs {
		if e.UserID != userID {
			continue
		}
		if operation != "" && e.Operation != operation {
			continue
		}
		count++
	}
	return count, nil
}

func (m *MemoryStorage) ListSyncLogsByReference(referenceType, referenceID string, limit int) ([]*models.SyncLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.SyncLogEntry
	for i := len(m.syncLogs) - 1; i >= 0; i-- {
		e := m.syncLogs[i]
		if e.LocalReferenceType == referenceType && e.LocalReferenceID == referenceID {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
