// Package tokens manages the calendar connection lifecycle: authorization,
// access token refresh, and revocation.
//
// Refresh tokens are stored encrypted and only ever decrypted inside this
// package. Access tokens are short-lived and held in memory only; after a
// restart the first caller triggers a refresh.
package tokens

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"calendar-service/internal/common/errors"
	"calendar-service/internal/common/logging"
	"calendar-service/internal/locks"
	"calendar-service/internal/models"
	"calendar-service/internal/state"
	"calendar-service/internal/storage"
	"calendar-service/internal/vault"
)

const (
	// refreshSkew is how long before actual expiry an access token is
	// treated as expired, so callers never receive a token about to die
	// mid-request.
	refreshSkew = 5 * time.Minute

	// refreshLockExpiry bounds how long a crashed instance can hold a
	// distributed refresh lock.
	refreshLockExpiry = 30 * time.Second

	// refreshTimeout bounds a refresh that has been detached from its
	// caller's context.
	refreshTimeout = 30 * time.Second
)

type cachedAccess struct {
	token  string
	expiry time.Time
}

// Manager owns credential state transitions. All mutations of a user's
// credential row flow through here.
type Manager struct {
	store    storage.Storage
	vault    *vault.Vault
	states   *state.Service
	provider Provider
	locks    locks.LockManager
	logger   logging.Logger

	mu    sync.RWMutex
	cache map[string]cachedAccess
}

func NewManager(store storage.Storage, v *vault.Vault, states *state.Service, provider Provider, lockManager locks.LockManager, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Manager{
		store:    store,
		vault:    v,
		states:   states,
		provider: provider,
		locks:    lockManager,
		logger:   logger,
		cache:    make(map[string]cachedAccess),
	}
}

// IssueAuthorization starts the connect flow for a user and returns the
// provider consent URL.
func (m *Manager) IssueAuthorization(userID string) (string, error) {
	stateToken, err := m.states.Issue(userID)
	if err != nil {
		return "", err
	}

	return m.provider.AuthorizationURL(stateToken), nil
}

// CompleteAuthorization finishes the connect flow from the provider
// callback. It verifies the state token, exchanges the code, resolves the
// account identity, rejects accounts already connected by another user,
// and replaces any previous credential for this user.
func (m *Manager) CompleteAuthorization(ctx context.Context, stateToken, code string) (*models.Credential, error) {
	userID, err := m.states.Verify(stateToken)
	if err != nil {
		return nil, err
	}

	grant, err := m.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	identity, err := m.provider.UserInfo(ctx, grant.AccessToken)
	if err != nil {
		return nil, err
	}

	if err := m.checkOwnership(userID, identity.AccountID); err != nil {
		return nil, err
	}

	ciphertext, nonce, keyID, err := m.vault.Encrypt(grant.RefreshToken)
	if err != nil {
		return nil, err
	}

	// Reconnecting replaces the previous credential outright
	if err := m.store.DeleteCredentialsForUser(userID); err != nil {
		return nil, errors.InternalError("failed to clear previous credentials", err)
	}

	cred := &models.Credential{
		UserID:                userID,
		Email:                 identity.Email,
		ProviderAccountID:     identity.AccountID,
		EncryptedRefreshToken: ciphertext,
		EncryptionNonce:       nonce,
		EncryptionKeyID:       keyID,
		ScopesGranted:         grant.Scopes,
		IsActive:              true,
		ConnectedAt:           time.Now().UTC(),
	}
	if !grant.Expiry.IsZero() {
		expiry := grant.Expiry.UTC()
		cred.AccessTokenExpiresAt = &expiry
	}

	if err := m.store.CreateCredential(cred); err != nil {
		return nil, errors.InternalError("failed to store credential", err)
	}

	m.cacheAccess(userID, grant.AccessToken, grant.Expiry)

	m.logger.Info("Calendar connected",
		logging.String("user_id", userID),
		logging.String("email", identity.Email),
	)

	return cred, nil
}

// checkOwnership rejects a provider account that is actively connected by
// a different user. Reconnecting one's own account is always allowed.
func (m *Manager) checkOwnership(userID, providerAccountID string) error {
	existing, err := m.store.GetCredentialByProviderAccount(providerAccountID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil
		}
		return errors.InternalError("failed to check account ownership", err)
	}

	if existing.UserID != userID {
		return errors.AccountConflictError(providerAccountID)
	}

	return nil
}

// GetValidAccessToken returns an access token valid for at least the skew
// window, refreshing through the provider if needed. Concurrent calls for
// the same user are serialized on a per-user lock so only one refresh is
// in flight; the rest reuse its result.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	if token, ok := m.cachedToken(userID); ok {
		return token, nil
	}

	lock, err := m.locks.AcquireLock(ctx, "token-refresh:"+userID, refreshLockExpiry)
	if err != nil {
		return "", err
	}
	defer lock.Release(ctx)

	// Another holder may have refreshed while we waited
	if token, ok := m.cachedToken(userID); ok {
		return token, nil
	}

	return m.refresh(ctx, userID)
}

func (m *Manager) refresh(ctx context.Context, userID string) (string, error) {
	// A refresh that has started must run to completion and commit its
	// result even if the caller goes away: the provider may rotate the
	// refresh secret on this call, and aborting the exchange would lose
	// the only copy of the new secret.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()

	cred, err := m.loadCredential(userID)
	if err != nil {
		return "", err
	}

	refreshToken, err := m.decryptRefreshToken(cred)
	if err != nil {
		return "", err
	}

	access, err := m.provider.Refresh(ctx, refreshToken)
	if err != nil {
		// Any refresh failure, including a timeout, means the user has no
		// valid token right now. Remember why so status reporting can
		// surface it.
		reason := refreshFailureReason(err)
		if storeErr := m.store.SetCredentialError(cred.ID, reason); storeErr != nil {
			m.logger.Warn("Failed to record credential error",
				logging.String("user_id", userID),
				logging.Err(storeErr),
			)
		}
		m.dropCache(userID)
		return "", errors.TokenExpiredError(userID, reason)
	}

	m.cacheAccess(userID, access.AccessToken, access.Expiry)

	if err := m.store.UpdateCredentialExpiry(cred.ID, access.Expiry.UTC()); err != nil {
		// The token itself is good; persisting expiry is bookkeeping
		m.logger.Warn("Failed to persist access token expiry",
			logging.String("user_id", userID),
			logging.Err(err),
		)
	}

	m.logger.Debug("Access token refreshed",
		logging.String("user_id", userID),
		logging.Time("expiry", access.Expiry),
	)

	return access.AccessToken, nil
}

// Revoke disconnects a user's calendar. Provider-side revocation is best
// effort; the local credential is deactivated regardless so the connection
// is gone from the service's point of view.
func (m *Manager) Revoke(ctx context.Context, userID string) error {
	cred, err := m.loadCredential(userID)
	if err != nil {
		return err
	}

	refreshToken, err := m.decryptRefreshToken(cred)
	if err == nil {
		if revokeErr := m.provider.Revoke(ctx, refreshToken); revokeErr != nil {
			m.logger.Warn("Provider-side token revocation failed",
				logging.String("user_id", userID),
				logging.Err(revokeErr),
			)
		}
	} else {
		m.logger.Warn("Could not decrypt refresh token for revocation",
			logging.String("user_id", userID),
			logging.Err(err),
		)
	}

	if err := m.store.MarkCredentialRevoked(cred.ID); err != nil {
		return errors.InternalError("failed to mark credential revoked", err)
	}

	m.dropCache(userID)

	m.logger.Info("Calendar disconnected", logging.String("user_id", userID))

	return nil
}

// Status reports the user's connection without exposing token material.
// A user with no active credential gets Connected: false, not an error.
func (m *Manager) Status(userID string) (*models.ConnectionStatus, error) {
	cred, err := m.store.GetActiveCredential(userID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return &models.ConnectionStatus{Connected: false}, nil
		}
		return nil, errors.InternalError("failed to load credential", err)
	}

	connectedAt := cred.ConnectedAt
	return &models.ConnectionStatus{
		Connected:   true,
		Email:       cred.Email,
		Scopes:      cred.ScopesGranted,
		ConnectedAt: &connectedAt,
		LastSyncAt:  cred.LastSyncAt,
		LastError:   cred.LastError,
	}, nil
}

// RecordSync stamps the credential's last successful sync time.
func (m *Manager) RecordSync(userID string) {
	cred, err := m.store.GetActiveCredential(userID)
	if err != nil {
		return
	}
	if err := m.store.UpdateCredentialSyncTime(cred.ID, time.Now().UTC()); err != nil {
		m.logger.Warn("Failed to record sync time",
			logging.String("user_id", userID),
			logging.Err(err),
		)
	}
}

// decryptRefreshToken checks the stored key fingerprint against the active
// vault key before decrypting, so a credential written under a rotated-out
// key fails with a clear diagnostic instead of a bare GCM tag mismatch.
func (m *Manager) decryptRefreshToken(cred *models.Credential) (string, error) {
	if cred.EncryptionKeyID != "" && cred.EncryptionKeyID != m.vault.KeyID() {
		return "", errors.EncryptionError("decryption", nil).
			WithContext("stored_key_id", cred.EncryptionKeyID)
	}
	return m.vault.Decrypt(cred.EncryptedRefreshToken, cred.EncryptionNonce)
}

// refreshFailureReason picks the last_error message for a failed refresh.
func refreshFailureReason(err error) string {
	switch {
	case errors.IsType(err, errors.ErrTypeTokenExpired):
		return "refresh rejected by provider"
	case errors.IsType(err, errors.ErrTypeTimeout) || stderrors.Is(err, context.DeadlineExceeded):
		return "refresh timed out"
	default:
		return "refresh failed"
	}
}

func (m *Manager) loadCredential(userID string) (*models.Credential, error) {
	cred, err := m.store.GetActiveCredential(userID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil, errors.NotConnectedError(userID)
		}
		return nil, errors.InternalError("failed to load credential", err)
	}
	return cred, nil
}

func (m *Manager) cachedToken(userID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.cache[userID]
	if !ok || entry.token == "" {
		return "", false
	}
	if time.Now().After(entry.expiry.Add(-refreshSkew)) {
		return "", false
	}
	return entry.token, true
}

func (m *Manager) cacheAccess(userID, token string, expiry time.Time) {
	if token == "" {
		return
	}
	m.mu.Lock()
	m.cache[userID] = cachedAccess{token: token, expiry: expiry}
	m.mu.Unlock()
}

func (m *Manager) dropCache(userID string) {
	m.mu.Lock()
	delete(m.cache, userID)
	m.mu.Unlock()
}
