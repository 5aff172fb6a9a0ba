package mailsync

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncerRunOnceSkipsInactiveCredentials(t *testing.T) {
	graph := newFakeGraph("Inbox")
	graph.add("inbox", message("m1", "a@client.com"))
	f := newEngineFixture(t, graph)
	ctx := context.Background()

	other, err := f.repo.SaveCredential(ctx, &types.Credential{BusinessId: 2, TenantId: "other"})
	require.NoError(t, err)
	inactive, err := f.repo.CreateMailbox(ctx, &types.Mailbox{
		CredentialId:   other.Id,
		BusinessId:     2,
		MailboxAddress: "ops@other.com",
		SyncInbound:    true,
		SyncFolders:    []string{"Inbox"},
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.DeactivateCredential(ctx, other.Id, "invalid_grant"))

	s := NewSyncer(f.repo, f.engine, nil, SyncerConfig{Concurrency: 2})
	s.RunOnce(ctx)

	assert.NotNil(t, f.reload(t).LastSyncAt)

	skipped, err := f.repo.GetMailbox(ctx, inactive.Id)
	require.NoError(t, err)
	assert.Nil(t, skipped.LastSyncAt)
	assert.Empty(t, skipped.DeltaSyncToken)
}

func TestSyncerStartStop(t *testing.T) {
	graph := newFakeGraph("Inbox")
	graph.add("inbox", message("m1", "a@client.com"))
	f := newEngineFixture(t, graph)

	api := &fakeSubscriptions{}
	subs := NewSubscriptionManager(f.repo, api, webhookCfg)

	s := NewSyncer(f.repo, f.engine, subs, SyncerConfig{Interval: time.Hour, Concurrency: 1})
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		m, err := f.repo.GetMailbox(context.Background(), f.mailbox.Id)
		return err == nil && m.LastSyncAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()

	m := f.reload(t)
	assert.NotEmpty(t, m.WebhookSubscriptionId)
	assert.Len(t, api.created, 1)
}

func TestSyncerStopCancelsInFlightPass(t *testing.T) {
	graph := newFakeGraph("Inbox")
	graph.add("inbox", message("m1", "a@client.com"))
	graph.hold = make(chan struct{}, 1)
	f := newEngineFixture(t, graph)

	s := NewSyncer(f.repo, f.engine, nil, SyncerConfig{Interval: time.Hour, Concurrency: 1})
	s.Start(context.Background())

	// The full sync is waiting on the provider
	<-graph.hold
	s.Stop()

	m := f.reload(t)
	assert.Equal(t, types.SyncStatusError, m.SyncStatus)
	assert.Nil(t, m.LastSyncAt)

	exists, err := f.repo.EmailExists(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalMailboxGuard(t *testing.T) {
	g := NewLocalMailboxGuard()
	ctx := context.Background()

	release, ok, err := g.TryLock(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.TryLock(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = g.TryLock(ctx, 2)
	assert.True(t, ok)

	release()
	release()
	_, ok, _ = g.TryLock(ctx, 1)
	assert.True(t, ok)
}

func TestRedisMailboxGuard(t *testing.T) {
	s := miniredis.RunT(t)
	rdb, err := common.NewRedisClient(types.RedisConfig{Addrs: []string{s.Addr()}, Mode: types.RedisModeSingle})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	a := NewRedisMailboxGuard(rdb, time.Minute)
	b := NewRedisMailboxGuard(rdb, time.Minute)
	ctx := context.Background()

	release, ok, err := a.TryLock(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.Exists(common.Keys.MailboxSyncLock(7)))

	_, ok, err = b.TryLock(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	_, ok, err = b.TryLock(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
}
