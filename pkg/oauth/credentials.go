package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/secrets"
	"github.com/beam-cloud/mailsync/pkg/types"
)

// DecryptedCredential is a credential with its tokens opened. It lives in
// memory only and must never be logged or persisted.
type DecryptedCredential struct {
	*types.Credential
	AccessToken  string
	RefreshToken string
}

// CredentialStore seals tokens on write and opens them on read
type CredentialStore struct {
	repo   repository.CredentialRepository
	sealer *secrets.Sealer
}

func NewCredentialStore(repo repository.CredentialRepository, sealer *secrets.Sealer) *CredentialStore {
	return &CredentialStore{repo: repo, sealer: sealer}
}

// Get returns the decrypted credential, or CredentialNotFoundError
func (s *CredentialStore) Get(ctx context.Context, id uint) (*DecryptedCredential, error) {
	cred, err := s.repo.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, &types.CredentialNotFoundError{CredentialId: id}
	}

	access, err := s.sealer.OpenString(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("open access token for credential %d: %w", id, err)
	}
	refresh, err := s.sealer.OpenString(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("open refresh token for credential %d: %w", id, err)
	}

	return &DecryptedCredential{Credential: cred, AccessToken: access, RefreshToken: refresh}, nil
}

// ReplaceTokens atomically stores a new token triple. An empty refresh token
// is rejected; callers keep the previous one when the provider did not rotate it.
func (s *CredentialStore) ReplaceTokens(ctx context.Context, id uint, accessToken, refreshToken string, expiresAt time.Time) error {
	if refreshToken == "" {
		return fmt.Errorf("replace tokens for credential %d: empty refresh token", id)
	}

	update, err := s.seal(accessToken, refreshToken, expiresAt)
	if err != nil {
		return err
	}
	return s.repo.UpdateCredentialTokens(ctx, id, *update)
}

func (s *CredentialStore) Deactivate(ctx context.Context, id uint, reason string) error {
	return s.repo.DeactivateCredential(ctx, id, reason)
}

// Save stores tokens from an authorization-code exchange. The active credential
// for (businessId, tenantId) is updated in place if one exists.
func (s *CredentialStore) Save(ctx context.Context, businessId uint, tenantId, clientId string, tokens *types.TokenSet) (*types.Credential, error) {
	update, err := s.seal(tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return s.repo.SaveCredential(ctx, &types.Credential{
		BusinessId:     businessId,
		TenantId:       tenantId,
		ClientId:       clientId,
		AccessToken:    update.AccessToken,
		RefreshToken:   update.RefreshToken,
		TokenExpiresAt: update.TokenExpiresAt,
		Scopes:         tokens.Scopes,
		IsActive:       true,
	})
}

func (s *CredentialStore) seal(accessToken, refreshToken string, expiresAt time.Time) (*types.CredentialTokenUpdate, error) {
	sealedAccess, err := s.sealer.SealString(accessToken)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	sealedRefresh, err := s.sealer.SealString(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("seal refresh token: %w", err)
	}
	return &types.CredentialTokenUpdate{
		AccessToken:    sealedAccess,
		RefreshToken:   sealedRefresh,
		TokenExpiresAt: expiresAt.UTC(),
	}, nil
}
