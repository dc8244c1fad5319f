package tokens

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-service/internal/common/errors"
	"calendar-service/internal/locks"
	"calendar-service/internal/state"
	"calendar-service/internal/storage"
	"calendar-service/internal/vault"
)

const testMasterKey = "dGVzdC1rZXktMzItYnl0ZXMtbG9uZy1leGFjdGx5ISE="

// fakeProvider is an in-memory Provider with call counters.
type fakeProvider struct {
	mu           sync.Mutex
	refreshCalls int32
	revokeCalls  int
	revokeErr    error
	refreshErr   error
	exchangeErr  error
	identity     Identity
	refreshDelay time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		identity: Identity{AccountID: "acct-1", Email: "user@example.com"},
	}
}

func (f *fakeProvider) AuthorizationURL(state string) string {
	return "https://provider.example.com/auth?state=" + url.QueryEscape(state)
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &Grant{
		RefreshToken: "refresh-for-" + code,
		AccessToken:  "access-initial",
		Expiry:       time.Now().Add(time.Hour),
		Scopes:       []string{"https://www.googleapis.com/auth/calendar.events"},
	}, nil
}

func (f *fakeProvider) UserInfo(ctx context.Context, accessToken string) (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity := f.identity
	return &identity, nil
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*Access, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	if f.refreshDelay > 0 {
		// A real provider call dies with its context
		select {
		case <-time.After(f.refreshDelay):
		case <-ctx.Done():
			return nil, errors.UpstreamError("token refresh aborted", 0, "token_endpoint", ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &Access{
		AccessToken: "access-refreshed",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeProvider) Revoke(ctx context.Context, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	return f.revokeErr
}

func newTestManager(t *testing.T, provider Provider) (*Manager, storage.Storage) {
	t.Helper()

	v, err := vault.New(testMasterKey)
	require.NoError(t, err)

	states, err := state.NewService("test-state-secret-at-least-32-chars!!", 10*time.Minute)
	require.NoError(t, err)

	store := storage.NewMemoryStorage()
	manager := NewManager(store, v, states, provider, locks.NewLocalManager(), nil)
	return manager, store
}

func connect(t *testing.T, m *Manager, userID string) {
	t.Helper()

	authURL, err := m.IssueAuthorization(userID)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	stateToken := parsed.Query().Get("state")
	require.NotEmpty(t, stateToken)

	_, err = m.CompleteAuthorization(context.Background(), stateToken, "auth-code")
	require.NoError(t, err)
}

func TestManager_ConnectFlow(t *testing.T) {
	provider := newFakeProvider()
	manager, store := newTestManager(t, provider)

	connect(t, manager, "user-1")

	cred, err := store.GetActiveCredential("user-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", cred.Email)
	assert.Equal(t, "acct-1", cred.ProviderAccountID)
	assert.True(t, cred.IsActive)

	// The stored token must not be the plaintext refresh token
	assert.NotEqual(t, "refresh-for-auth-code", cred.EncryptedRefreshToken)
	assert.NotEmpty(t, cred.EncryptionNonce)
	assert.NotEmpty(t, cred.EncryptionKeyID)

	// The initial access token is cached, so no refresh happens
	token, err := manager.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-initial", token)
	assert.Equal(t, int32(0), atomic.LoadInt32(&provider.refreshCalls))
}

func TestManager_CompleteAuthorization_BadState(t *testing.T) {
	provider := newFakeProvider()
	manager, _ := newTestManager(t, provider)

	_, err := manager.CompleteAuthorization(context.Background(), "not-a-valid-state", "code")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeOAuthState))
}

func TestManager_CompleteAuthorization_AccountConflict(t *testing.T) {
	provider := newFakeProvider()
	manager, store := newTestManager(t, provider)

	connect(t, manager, "user-1")

	// A second user connecting the same provider account is rejected
	authURL, err := manager.IssueAuthorization("user-2")
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)

	_, err = manager.CompleteAuthorization(context.Background(), parsed.Query().Get("state"), "other-code")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAccountConflict))

	// The first user's credential is untouched
	cred, err := store.GetActiveCredential("user-1")
	require.NoError(t, err)
	assert.True(t, cred.IsActive)

	// And the second user gained nothing
	_, err = store.GetActiveCredential("user-2")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestManager_Reconnect_ReplacesCredential(t *testing.T) {
	provider := newFakeProvider()
	manager, store := newTestManager(t, provider)

	connect(t, manager, "user-1")
	first, err := store.GetActiveCredential("user-1")
	require.NoError(t, err)

	connect(t, manager, "user-1")
	second, err := store.GetActiveCredential("user-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestManager_GetValidAccessToken_RefreshesWhenExpired(t *testing.T) {
	provider := newFakeProvider()
	manager, _ := newTestManager(t, provider)

	connect(t, manager, "user-1")

	// Force the cached token to look expired
	manager.cacheAccess("user-1", "access-initial", time.Now().Add(time.Minute))

	token, err := manager.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.refreshCalls))
}

func TestManager_GetValidAccessToken_SingleRefreshUnderContention(t *testing.T) {
	provider := newFakeProvider()
	provider.refreshDelay = 50 * time.Millisecond
	manager, _ := newTestManager(t, provider)

	connect(t, manager, "user-1")
	manager.dropCache("user-1")

	const goroutines = 10
	var wg sync.WaitGroup
	tokens := make([]string, goroutines)
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = manager.GetValidAccessToken(context.Background(), "user-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-refreshed", tokens[i])
	}

	// Only one outbound refresh despite ten concurrent callers
	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.refreshCalls))
}

func TestManager_GetValidAccessToken_CommitsAfterCallerCancel(t *testing.T) {
	provider := newFakeProvider()
	provider.refreshDelay = 50 * time.Millisecond
	manager, store := newTestManager(t, provider)

	connect(t, manager, "user-1")
	manager.dropCache("user-1")

	before, err := store.GetActiveCredential("user-1")
	require.NoError(t, err)

	// Cancel the caller's context while the provider call is in flight.
	// The refreshed token and expiry must still be committed.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	token, err := manager.GetValidAccessToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", token)

	after, err := store.GetActiveCredential("user-1")
	require.NoError(t, err)
	require.NotNil(t, after.AccessTokenExpiresAt)
	if before.AccessTokenExpiresAt != nil {
		assert.True(t, after.AccessTokenExpiresAt.After(*before.AccessTokenExpiresAt))
	}

	// The cached result survives for the next caller
	again, err := manager.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.refreshCalls))
}

func TestManager_GetValidAccessToken_NotConnected(t *testing.T) {
	provider := newFakeProvider()
	manager, _ := newTestManager(t, provider)

	_, err := manager.GetValidAccessToken(context.Background(), "stranger")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotConnected))
}

func TestManager_GetValidAccessToken_DeadRefreshToken(t *testing.T) {
	provider := newFakeProvider()
	manager, store := newTestManager(t, provider)

	connect(t, manager, "user-1")
	manager.dropCache("user-1")

	provider.mu.Lock()
	provider.refreshErr = errors.TokenExpiredError("", "invalid_grant")
	provider.mu.Unlock()

	_, err := manager.GetValidAccessToken(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTokenExpired))

	// The failure reason is recorded on the credential
	cred, err := store.GetActiveCredential("user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, cred.LastError)
}

func TestManager_GetValidAccessToken_RefreshFailureRecordsError(t *testing.T) {
	tests := []struct {
		name       string
		refreshErr error
		wantReason string
	}{
		{
			name:       "timeout",
			refreshErr: errors.UpstreamError("token refresh failed", 0, "token_endpoint", context.DeadlineExceeded),
			wantReason: "refresh timed out",
		},
		{
			name:       "provider outage",
			refreshErr: errors.UpstreamError("token refresh failed", 503, "token_endpoint", nil),
			wantReason: "refresh failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider()
			manager, store := newTestManager(t, provider)

			connect(t, manager, "user-1")
			manager.dropCache("user-1")

			provider.mu.Lock()
			provider.refreshErr = tt.refreshErr
			provider.mu.Unlock()

			// Never success, and never a transient error the caller would
			// retry against a token that does not exist
			_, err := manager.GetValidAccessToken(context.Background(), "user-1")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeTokenExpired))

			cred, err := store.GetActiveCredential("user-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantReason, cred.LastError)
		})
	}
}

func TestManager_GetValidAccessToken_RotatedKeyRejected(t *testing.T) {
	provider := newFakeProvider()
	manager, store := newTestManager(t, provider)

	connect(t, manager, "user-1")
	manager.dropCache("user-1")

	// Rewrite the credential as if it had been sealed under an older key
	cred, err := store.GetActiveCredential("user-1")
	require.NoError(t, err)
	require.NoError(t, store.DeleteCredentialsForUser("user-1"))
	cred.EncryptionKeyID = "0ld8key1"
	require.NoError(t, store.CreateCredential(cred))

	_, err = manager.GetValidAccessToken(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeEncryption))
	assert.Equal(t, int32(0), atomic.LoadInt32(&provider.refreshCalls))
}

func TestManager_Revoke(t *testing.T) {
	provider := newFakeProvider()
	manager, store := newTestManager(t, provider)

	connect(t, manager, "user-1")
	require.NoError(t, manager.Revoke(context.Background(), "user-1"))

	assert.Equal(t, 1, provider.revokeCalls)

	_, err := store.GetActiveCredential("user-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = manager.GetValidAccessToken(context.Background(), "user-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotConnected))
}

func TestManager_Revoke_ProviderFailureStillDisconnects(t *testing.T) {
	provider := newFakeProvider()
	provider.revokeErr = errors.UpstreamError("revocation endpoint down", 503, "unavailable", nil)
	manager, store := newTestManager(t, provider)

	connect(t, manager, "user-1")
	require.NoError(t, manager.Revoke(context.Background(), "user-1"))

	// Local disconnect happens even when the provider call fails
	_, err := store.GetActiveCredential("user-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestManager_Revoke_NotConnected(t *testing.T) {
	provider := newFakeProvider()
	manager, _ := newTestManager(t, provider)

	err := manager.Revoke(context.Background(), "stranger")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotConnected))
}

func TestManager_Status(t *testing.T) {
	provider := newFakeProvider()
	manager, _ := newTestManager(t, provider)

	status, err := manager.Status("user-1")
	require.NoError(t, err)
	assert.False(t, status.Connected)

	connect(t, manager, "user-1")

	status, err = manager.Status("user-1")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, "user@example.com", status.Email)
	assert.NotNil(t, status.ConnectedAt)

	require.NoError(t, manager.Revoke(context.Background(), "user-1"))

	status, err = manager.Status("user-1")
	require.NoError(t, err)
	assert.False(t, status.Connected)
}
