package mailsync

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/sources/clients"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeGraph models each folder as an append-only change log. Delta links encode
// a log offset, so resuming from a link returns exactly the changes after it.
type fakeGraph struct {
	mu      sync.Mutex
	folders []*fakeFolder

	listErr   error
	expired   map[string]bool  // folder id -> delta link rejected
	folderErr map[string]error // folder id -> error for every message call
	calls     map[string]int   // folder id -> message calls
	hold      chan struct{}    // if set, ListMessages signals it and waits for cancellation
}

type fakeFolder struct {
	folder  clients.MailFolder
	changes []fakeChange
}

type fakeChange struct {
	msg     clients.Message
	removed bool
}

func newFakeGraph(names ...string) *fakeGraph {
	g := &fakeGraph{
		expired:   make(map[string]bool),
		folderErr: make(map[string]error),
		calls:     make(map[string]int),
	}
	for _, name := range names {
		id := strings.ToLower(strings.ReplaceAll(name, " ", ""))
		g.folders = append(g.folders, &fakeFolder{folder: clients.MailFolder{ID: id, DisplayName: name}})
	}
	return g
}

func (g *fakeGraph) folder(id string) *fakeFolder {
	for _, f := range g.folders {
		if f.folder.ID == id {
			return f
		}
	}
	return nil
}

func (g *fakeGraph) add(folderId string, msgs ...clients.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f := g.folder(folderId)
	for _, m := range msgs {
		f.changes = append(f.changes, fakeChange{msg: m})
	}
}

func (g *fakeGraph) remove(folderId, messageId string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f := g.folder(folderId)
	f.changes = append(f.changes, fakeChange{msg: clients.Message{ID: messageId}, removed: true})
}

// live returns the folder's current messages, newest first
func (f *fakeFolder) live() []clients.Message {
	var order []string
	state := make(map[string]clients.Message)
	for _, c := range f.changes {
		if c.removed {
			delete(state, c.msg.ID)
			continue
		}
		if _, ok := state[c.msg.ID]; !ok {
			order = append(order, c.msg.ID)
		}
		state[c.msg.ID] = c.msg
	}
	var out []clients.Message
	for i := len(order) - 1; i >= 0; i-- {
		if m, ok := state[order[i]]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (g *fakeGraph) enter(folderId string) (*fakeFolder, error) {
	g.calls[folderId]++
	if err := g.folderErr[folderId]; err != nil {
		return nil, err
	}
	f := g.folder(folderId)
	if f == nil {
		return nil, &types.ProviderError{StatusCode: http.StatusNotFound, Code: "ErrorItemNotFound"}
	}
	return f, nil
}

func (g *fakeGraph) link(folderId string, offset int) string {
	return fmt.Sprintf("https://graph.test/v1.0/delta?folder=%s&$deltatoken=%d", folderId, offset)
}

func (g *fakeGraph) ListFolders(ctx context.Context, credentialId uint, mailbox string) ([]clients.MailFolder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	var out []clients.MailFolder
	for _, f := range g.folders {
		out = append(out, f.folder)
	}
	return out, nil
}

func (g *fakeGraph) ListMessages(ctx context.Context, credentialId uint, mailbox, folderId string, top int) ([]clients.Message, error) {
	if g.hold != nil {
		g.hold <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	f, err := g.enter(folderId)
	if err != nil {
		return nil, err
	}
	live := f.live()
	return live[:min(top, len(live))], nil
}

func (g *fakeGraph) GetMessage(ctx context.Context, credentialId uint, mailbox, messageId string) (*clients.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, f := range g.folders {
		for _, m := range f.live() {
			if m.ID == messageId {
				return &m, nil
			}
		}
	}
	return nil, &types.ProviderError{StatusCode: http.StatusNotFound, Code: "ErrorItemNotFound"}
}

func (g *fakeGraph) MessagesDelta(ctx context.Context, credentialId uint, mailbox, folderId, deltaLink string) (*clients.DeltaResult[clients.Message], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, err := g.enter(folderId)
	if err != nil {
		return nil, err
	}
	if deltaLink == "" {
		return nil, fmt.Errorf("unexpected baseline round with full fields")
	}
	if g.expired[folderId] {
		return nil, &types.ProviderError{StatusCode: http.StatusGone, Code: "SyncStateNotFound"}
	}

	i := strings.LastIndex(deltaLink, "=")
	offset, err := strconv.Atoi(deltaLink[i+1:])
	if err != nil {
		return nil, err
	}

	result := &clients.DeltaResult[clients.Message]{DeltaLink: g.link(folderId, len(f.changes))}
	for _, c := range f.changes[offset:] {
		if c.removed {
			result.DeletedIds = append(result.DeletedIds, c.msg.ID)
			continue
		}
		result.Items = append(result.Items, c.msg)
	}
	return result, nil
}

func (g *fakeGraph) BaselineDelta(ctx context.Context, credentialId uint, mailbox, folderId string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, err := g.enter(folderId)
	if err != nil {
		return "", err
	}
	delete(g.expired, folderId)
	return g.link(folderId, len(f.changes)), nil
}

var testEpoch = time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

func message(id, from string, to ...string) clients.Message {
	received := testEpoch.Add(time.Duration(len(id)) * time.Minute)
	m := clients.Message{
		ID:               id,
		ConversationID:   "conv-" + id,
		Subject:          "Subject " + id,
		Body:             &clients.ItemBody{ContentType: "html", Content: "<p>Hello from " + id + "</p>"},
		From:             &clients.Recipient{EmailAddress: clients.EmailAddress{Address: from}},
		ReceivedDateTime: &received,
		SentDateTime:     &received,
	}
	for _, addr := range to {
		m.ToRecipients = append(m.ToRecipients, clients.Recipient{EmailAddress: clients.EmailAddress{Address: addr}})
	}
	return m
}

type engineFixture struct {
	repo    *repository.MemoryBackend
	graph   *fakeGraph
	engine  *Engine
	mailbox *types.Mailbox
}

func newEngineFixture(t *testing.T, graph *fakeGraph, folders ...string) *engineFixture {
	t.Helper()
	repo := repository.NewMemoryBackendForTest(func() time.Time { return testEpoch })
	ctx := context.Background()

	cred, err := repo.SaveCredential(ctx, &types.Credential{BusinessId: 1, TenantId: "acme", TokenExpiresAt: testEpoch.Add(time.Hour)})
	require.NoError(t, err)

	if len(folders) == 0 {
		folders = []string{"Inbox"}
	}
	mailbox, err := repo.CreateMailbox(ctx, &types.Mailbox{
		CredentialId:   cred.Id,
		BusinessId:     1,
		MailboxAddress: "sales@acme.com",
		SyncInbound:    true,
		SyncOutbound:   true,
		SyncFolders:    folders,
	})
	require.NoError(t, err)

	pipeline := NewPipeline(repo, NewAutoLinker(repo), NewProcessor(DefaultPreviewLength))
	engine := NewEngine(repo, graph, pipeline, NewLocalMailboxGuard(), EngineConfig{
		FolderTimeout: 5 * time.Second,
		PassTimeout:   10 * time.Second,
		FullSyncLimit: 100,
		Now:           func() time.Time { return testEpoch },
	})

	return &engineFixture{repo: repo, graph: graph, engine: engine, mailbox: mailbox}
}

func (f *engineFixture) reload(t *testing.T) *types.Mailbox {
	t.Helper()
	m, err := f.repo.GetMailbox(context.Background(), f.mailbox.Id)
	require.NoError(t, err)
	return m
}

func (f *engineFixture) providerIds(t *testing.T) []string {
	t.Helper()
	emails, err := f.repo.ListEmails(context.Background(), f.mailbox.Id, 0)
	require.NoError(t, err)
	var ids []string
	for _, e := range emails {
		ids = append(ids, e.ProviderMessageId)
	}
	slices.Sort(ids)
	return ids
}
