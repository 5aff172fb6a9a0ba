package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUpsertEmailFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend()

	const writers = 16
	var wg sync.WaitGroup
	created := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.UpsertEmail(ctx, &types.Email{ProviderMessageId: "AAMk-1", MailboxId: 1, Subject: "hello"})
			assert.NoError(t, err)
			created <- ok
		}()
	}
	wg.Wait()
	close(created)

	wins := 0
	for ok := range created {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	exists, err := repo.EmailExists(ctx, "AAMk-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemorySaveCredentialKeepsOneActive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend()

	first, err := repo.SaveCredential(ctx, &types.Credential{BusinessId: 1, TenantId: "t", AccessToken: []byte("a1"), RefreshToken: []byte("r1")})
	require.NoError(t, err)
	assert.Equal(t, 1, first.TokenVersion)
	assert.True(t, first.IsActive)

	second, err := repo.SaveCredential(ctx, &types.Credential{BusinessId: 1, TenantId: "t", AccessToken: []byte("a2"), RefreshToken: []byte("r2")})
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, 2, second.TokenVersion)
	assert.Equal(t, []byte("a2"), second.AccessToken)

	require.NoError(t, repo.DeactivateCredential(ctx, first.Id, "invalid_grant"))

	third, err := repo.SaveCredential(ctx, &types.Credential{BusinessId: 1, TenantId: "t", AccessToken: []byte("a3"), RefreshToken: []byte("r3")})
	require.NoError(t, err)
	assert.NotEqual(t, first.Id, third.Id)

	active, err := repo.GetActiveCredential(ctx, 1, "t")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, third.Id, active.Id)

	old, err := repo.GetCredential(ctx, first.Id)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, "invalid_grant", old.DeactivatedReason)
	assert.NotNil(t, old.DeactivatedAt)
}

func TestMemoryUpdateCredentialTokensBumpsVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend()

	c, err := repo.SaveCredential(ctx, &types.Credential{BusinessId: 1, TenantId: "t"})
	require.NoError(t, err)

	expires := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateCredentialTokens(ctx, c.Id, types.CredentialTokenUpdate{
		AccessToken: []byte("a"), RefreshToken: []byte("r"), TokenExpiresAt: expires,
	}))

	got, err := repo.GetCredential(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, c.TokenVersion+1, got.TokenVersion)
	assert.Equal(t, expires, got.TokenExpiresAt)

	var notFound *types.CredentialNotFoundError
	assert.ErrorAs(t, repo.UpdateCredentialTokens(ctx, 999, types.CredentialTokenUpdate{}), &notFound)
}

func TestMemorySyncStateLeavesNilFieldsUntouched(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend()

	m, err := repo.CreateMailbox(ctx, &types.Mailbox{CredentialId: 1, MailboxAddress: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusActive, m.SyncStatus)

	token := `{"inbox":"link"}`
	now := time.Now().UTC()
	require.NoError(t, repo.UpdateMailboxSyncState(ctx, m.Id, types.MailboxSyncState{
		DeltaSyncToken: &token, LastSyncAt: &now, SyncStatus: types.SyncStatusActive,
	}))
	require.NoError(t, repo.UpdateMailboxSyncState(ctx, m.Id, types.MailboxSyncState{
		SyncStatus: types.SyncStatusError, SyncError: "boom",
	}))

	got, err := repo.GetMailbox(ctx, m.Id)
	require.NoError(t, err)
	assert.Equal(t, token, got.DeltaSyncToken)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, now.Equal(*got.LastSyncAt))
	assert.Equal(t, types.SyncStatusError, got.SyncStatus)
	assert.Equal(t, "boom", got.SyncError)
}

func TestMemoryListSyncableSkipsInactiveCredentials(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend()

	active, _ := repo.SaveCredential(ctx, &types.Credential{BusinessId: 1, TenantId: "a"})
	inactive, _ := repo.SaveCredential(ctx, &types.Credential{BusinessId: 1, TenantId: "b"})
	require.NoError(t, repo.DeactivateCredential(ctx, inactive.Id, "revoked"))

	m1, _ := repo.CreateMailbox(ctx, &types.Mailbox{CredentialId: active.Id, MailboxAddress: "a@x.com"})
	_, _ = repo.CreateMailbox(ctx, &types.Mailbox{CredentialId: inactive.Id, MailboxAddress: "b@x.com"})

	list, err := repo.ListSyncableMailboxes(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, m1.Id, list[0].Id)
}

func TestMemoryCRMLookups(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend()

	company := uint(77)
	c := repo.AddContact(1, "Jane@Acme.com", &company)
	repo.AddDeal(1, &c.Id, &company, true)
	repo.AddDeal(1, &c.Id, nil, false)
	repo.AddDeal(2, &c.Id, nil, true)

	got, err := repo.FindContactByAddress(ctx, 1, "jane@acme.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.Id, got.Id)

	none, err := repo.FindContactByAddress(ctx, 2, "jane@acme.com")
	require.NoError(t, err)
	assert.Nil(t, none)

	deals, err := repo.FindOpenDealsForContact(ctx, 1, c.Id)
	require.NoError(t, err)
	assert.Len(t, deals, 1)

	deals, err = repo.FindOpenDealsForCompany(ctx, 1, company)
	require.NoError(t, err)
	assert.Len(t, deals, 1)
}
