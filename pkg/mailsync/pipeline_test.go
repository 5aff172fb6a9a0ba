package mailsync

import (
	"context"
	"errors"
	"testing"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingEmitter struct{ calls int }

func (f *failingEmitter) Emit(ctx context.Context, data map[string]any) error {
	f.calls++
	return errors.New("stream unavailable")
}

func TestPipelineEmitsEvents(t *testing.T) {
	f := newEngineFixture(t, newFakeGraph("Inbox"))
	contact := f.repo.AddContact(1, "buyer@client.com", nil)

	events := common.NewLocalEventEmitter(10)
	pipeline := NewPipeline(f.repo, NewAutoLinker(f.repo), NewProcessor(DefaultPreviewLength)).WithEvents(events)
	ctx := context.Background()

	msg := message("m1", "buyer@client.com", "sales@acme.com")
	outcome, err := pipeline.Persist(ctx, f.mailbox, &msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	// A duplicate is not announced again
	outcome, err = pipeline.Persist(ctx, f.mailbox, &msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)

	deleted, err := pipeline.Remove(ctx, "m1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = pipeline.Remove(ctx, "m1")
	require.NoError(t, err)
	require.False(t, deleted)

	got := events.Events()
	require.Len(t, got, 2)

	assert.Equal(t, EventEmailStored, got[0]["type"])
	assert.Equal(t, "m1", got[0]["provider_message_id"])
	assert.Equal(t, f.mailbox.Id, got[0]["mailbox_id"])
	assert.Equal(t, "inbound", got[0]["direction"])
	assert.Equal(t, "true", got[0]["auto_linked"])
	assert.Equal(t, contact.Id, got[0]["contact_id"])
	assert.NotContains(t, got[0], "deal_id")

	assert.Equal(t, map[string]any{"type": EventEmailDeleted, "provider_message_id": "m1"}, got[1])
}

func TestPipelineEventFailureDoesNotFailWrite(t *testing.T) {
	f := newEngineFixture(t, newFakeGraph("Inbox"))
	emitter := &failingEmitter{}
	pipeline := NewPipeline(f.repo, NewAutoLinker(f.repo), NewProcessor(DefaultPreviewLength)).WithEvents(emitter)

	msg := message("m2", "someone@else.com", "sales@acme.com")
	outcome, err := pipeline.Persist(context.Background(), f.mailbox, &msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, 1, emitter.calls)

	exists, err := pipeline.Exists(context.Background(), "m2")
	require.NoError(t, err)
	assert.True(t, exists)
}
