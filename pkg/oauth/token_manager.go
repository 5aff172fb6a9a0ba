package oauth

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshMargin = 2 * time.Minute
	defaultCacheSize     = 1024
	defaultCacheTTL      = time.Hour
	refreshTimeout       = 30 * time.Second
)

type TokenManagerConfig struct {
	RefreshMargin time.Duration
	CacheSize     int
	Now           func() time.Time
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// TokenManager hands out valid access tokens and refreshes them when they are
// close to expiry. At most one refresh per credential is in flight: the lock
// table serializes across replicas and singleflight coalesces callers in this
// process so they share the result.
type TokenManager struct {
	store     *CredentialStore
	refresher Refresher
	locks     LockTable
	group     singleflight.Group
	cache     *expirable.LRU[uint, cachedToken]
	margin    time.Duration
	now       func() time.Time

	mu          sync.Mutex
	invalidated map[uint]string // credential id -> access token rejected by the API
	generation  map[uint]uint64 // bumped by Invalidate; keys flights and guards the cache
}

func NewTokenManager(store *CredentialStore, refresher Refresher, locks LockTable, cfg TokenManagerConfig) *TokenManager {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = defaultRefreshMargin
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if locks == nil {
		locks = NewLocalLockTable()
	}

	return &TokenManager{
		store:       store,
		refresher:   refresher,
		locks:       locks,
		cache:       expirable.NewLRU[uint, cachedToken](cfg.CacheSize, nil, defaultCacheTTL),
		margin:      cfg.RefreshMargin,
		now:         cfg.Now,
		invalidated: make(map[uint]string),
		generation:  make(map[uint]uint64),
	}
}

// AccessToken returns an access token valid for at least the refresh margin
func (m *TokenManager) AccessToken(ctx context.Context, credentialId uint) (string, error) {
	if tok, ok := m.cached(credentialId); ok {
		return tok, nil
	}

	// A flight that started before an Invalidate may still hold the rejected
	// token, so callers after it get their own flight.
	gen := m.generationOf(credentialId)
	key := strconv.FormatUint(uint64(credentialId), 10) + "/" + strconv.FormatUint(gen, 10)

	// Detached from the first caller's cancellation
	work := func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.load(loadCtx, credentialId, gen)
	}

	ch := m.group.DoChan(key, work)
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached token after the API rejected it. The next
// AccessToken call refreshes unless the stored token already differs from
// staleToken, meaning another caller refreshed in the meantime.
func (m *TokenManager) Invalidate(credentialId uint, staleToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(credentialId)
	m.invalidated[credentialId] = staleToken
	m.generation[credentialId]++
}

func (m *TokenManager) generationOf(credentialId uint) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation[credentialId]
}

func (m *TokenManager) cached(credentialId uint) (string, bool) {
	entry, ok := m.cache.Get(credentialId)
	if !ok {
		return "", false
	}
	if NeedsRefresh(entry.expiresAt, m.now(), m.margin) {
		m.cache.Remove(credentialId)
		return "", false
	}
	return entry.accessToken, true
}

// stale reports whether cred still holds a token the API rejected
func (m *TokenManager) stale(cred *DecryptedCredential) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rejected, ok := m.invalidated[cred.Id]
	if !ok {
		return false
	}
	if rejected != cred.AccessToken {
		delete(m.invalidated, cred.Id)
		return false
	}
	return true
}

func (m *TokenManager) usable(cred *DecryptedCredential) bool {
	return !m.stale(cred) && !NeedsRefresh(cred.TokenExpiresAt, m.now(), m.margin)
}

func (m *TokenManager) load(ctx context.Context, credentialId uint, gen uint64) (string, error) {
	cred, err := m.active(ctx, credentialId)
	if err != nil {
		return "", err
	}
	if m.usable(cred) {
		return m.remember(cred.Id, gen, cred.AccessToken, cred.TokenExpiresAt), nil
	}

	release, err := m.locks.Acquire(ctx, common.Keys.OAuthRefreshLock(credentialId))
	if err != nil {
		return "", &types.RefreshFailedError{CredentialId: credentialId, Cause: err}
	}
	defer release()

	// Another holder may have refreshed while we waited
	cred, err = m.active(ctx, credentialId)
	if err != nil {
		return "", err
	}
	if m.usable(cred) {
		return m.remember(cred.Id, gen, cred.AccessToken, cred.TokenExpiresAt), nil
	}

	tokens, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return "", m.refreshFailed(ctx, cred, err)
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}
	if err := m.store.ReplaceTokens(ctx, cred.Id, tokens.AccessToken, refreshToken, tokens.ExpiresAt); err != nil {
		return "", err
	}

	m.mu.Lock()
	delete(m.invalidated, cred.Id)
	m.mu.Unlock()

	log.Info().
		Uint("credential_id", cred.Id).
		Time("expires_at", tokens.ExpiresAt).
		Bool("rotated", tokens.RefreshToken != "" && tokens.RefreshToken != cred.RefreshToken).
		Msg("refreshed access token")

	return m.remember(cred.Id, gen, tokens.AccessToken, tokens.ExpiresAt), nil
}

func (m *TokenManager) active(ctx context.Context, credentialId uint) (*DecryptedCredential, error) {
	cred, err := m.store.Get(ctx, credentialId)
	if err != nil {
		return nil, err
	}
	if !cred.IsActive {
		return nil, &types.CredentialInactiveError{CredentialId: credentialId}
	}
	return cred, nil
}

func (m *TokenManager) refreshFailed(ctx context.Context, cred *DecryptedCredential, cause error) error {
	permanent := IsPermanent(cause)
	if permanent {
		reason := cause.Error()
		var te *TokenEndpointError
		if errors.As(cause, &te) && te.Code != "" {
			reason = te.Code
		}
		if err := m.store.Deactivate(ctx, cred.Id, reason); err != nil {
			log.Error().Uint("credential_id", cred.Id).Err(err).Msg("failed to deactivate credential")
		}
		log.Warn().Uint("credential_id", cred.Id).Str("reason", reason).Msg("credential deactivated after refresh rejection")
	} else {
		log.Warn().Uint("credential_id", cred.Id).Err(cause).Msg("token refresh failed")
	}

	return &types.RefreshFailedError{CredentialId: cred.Id, Permanent: permanent, Cause: cause}
}

// remember caches the token unless an Invalidate happened since the flight
// for gen started
func (m *TokenManager) remember(credentialId uint, gen uint64, accessToken string, expiresAt time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation[credentialId] == gen {
		m.cache.Add(credentialId, cachedToken{accessToken: accessToken, expiresAt: expiresAt})
	}
	return accessToken
}
