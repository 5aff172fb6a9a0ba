package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	mu          sync.Mutex
	tokens      []string
	served      int
	invalidated []string
	err         error
}

func (f *fakeTokens) AccessToken(ctx context.Context, credentialId uint) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	token := f.tokens[min(f.served, len(f.tokens)-1)]
	return token, nil
}

func (f *fakeTokens) Invalidate(credentialId uint, staleToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, staleToken)
	f.served++
}

func newTestGraph(t *testing.T, handler http.HandlerFunc, tokens ...string) (*GraphClient, *fakeTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	if len(tokens) == 0 {
		tokens = []string{"token-1"}
	}
	ft := &fakeTokens{tokens: tokens}
	return NewGraphClient(types.GraphConfig{BaseURL: srv.URL + "/v1.0", Timeout: 5 * time.Second, PageSize: 2}, ft), ft
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestDoSendsBearerToken(t *testing.T) {
	var auth string
	c, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1.0/users/sales@acme.com/messages/m1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"id": "m1", "subject": "hi"})
	})

	msg, err := c.GetMessage(context.Background(), 1, "sales@acme.com", "m1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-1", auth)
	assert.Equal(t, "hi", msg.Subject)
}

func TestDoRetriesOnceAfter401(t *testing.T) {
	var calls atomic.Int32
	c, ft := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer stale" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "InvalidAuthenticationToken"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "m1"})
	}, "stale", "fresh")

	_, err := c.GetMessage(context.Background(), 1, "a@x.com", "m1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"stale"}, ft.invalidated)
}

func TestDoSecond401IsAuthenticationFailed(t *testing.T) {
	var calls atomic.Int32
	c, ft := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, "t1", "t2", "t3")

	_, err := c.GetMessage(context.Background(), 1, "a@x.com", "m1")

	var authErr *types.AuthenticationFailedError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "/users/a@x.com/messages/m1", authErr.Endpoint)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, ft.invalidated, 1)
}

func TestDoTokenErrorIsReturned(t *testing.T) {
	c, ft := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	ft.err = &types.CredentialInactiveError{CredentialId: 1}

	_, err := c.GetMessage(context.Background(), 1, "a@x.com", "m1")
	assert.True(t, types.IsCredentialFatal(err))
}

func TestDoProviderError(t *testing.T) {
	c, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]string{"code": "TooManyRequests", "message": "slow down"}})
	})

	_, err := c.GetMessage(context.Background(), 1, "a@x.com", "m1")

	var pe *types.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "TooManyRequests", pe.Code)
	assert.Equal(t, "slow down", pe.Message)
	assert.Equal(t, 7*time.Second, pe.RetryAfter)
	assert.True(t, types.IsProviderStatus(err, http.StatusTooManyRequests))
}

func TestDoRejectsMalformedShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"id":`},
		{"message without id", `{"subject":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			_, err := c.GetMessage(context.Background(), 1, "a@x.com", "m1")

			var pe *types.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "malformedResponse", pe.Code)
			assert.Equal(t, http.StatusOK, pe.StatusCode)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, time.Minute, parseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage", now))
}

// pagedServer serves value pages and links them through nextLink
func pagedServer(t *testing.T, pages [][]map[string]any, deltaLink string, hits *atomic.Int32) http.HandlerFunc {
	var base string
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if base == "" {
			base = "http://" + r.Host
		}
		idx := 0
		if p := r.URL.Query().Get("page"); p != "" {
			fmt.Sscanf(p, "%d", &idx)
		}
		body := map[string]any{"value": pages[idx]}
		if idx+1 < len(pages) {
			body["@odata.nextLink"] = fmt.Sprintf("%s/v1.0/next?page=%d", base, idx+1)
		} else if deltaLink != "" {
			body["@odata.deltaLink"] = deltaLink
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func TestPagesFollowsNextLink(t *testing.T) {
	var hits atomic.Int32
	pages := [][]map[string]any{
		{{"id": "f1", "displayName": "Inbox"}, {"id": "f2", "displayName": "Sent Items"}},
		{{"id": "f3", "displayName": "Archive"}},
	}
	c, _ := newTestGraph(t, pagedServer(t, pages, "", &hits))

	folders, err := c.ListFolders(context.Background(), 1, "a@x.com")
	require.NoError(t, err)
	require.Len(t, folders, 3)
	assert.Equal(t, "Archive", folders[2].DisplayName)
	assert.Equal(t, int32(2), hits.Load())
}

func TestPagesIsLazy(t *testing.T) {
	var hits atomic.Int32
	pages := [][]map[string]any{
		{{"id": "f1", "displayName": "Inbox"}},
		{{"id": "f2", "displayName": "Sent Items"}},
		{{"id": "f3", "displayName": "Archive"}},
	}
	c, _ := newTestGraph(t, pagedServer(t, pages, "", &hits))

	for f, err := range c.Folders(context.Background(), 1, "a@x.com") {
		require.NoError(t, err)
		if f.DisplayName == "Inbox" {
			break
		}
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestPagesRejectsMissingValue(t *testing.T) {
	c, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": []string{}})
	})

	_, err := c.ListFolders(context.Background(), 1, "a@x.com")
	var pe *types.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "malformedResponse", pe.Code)
}

func TestListMessagesStopsAtTop(t *testing.T) {
	var hits atomic.Int32
	pages := [][]map[string]any{
		{{"id": "m1"}, {"id": "m2"}},
		{{"id": "m3"}, {"id": "m4"}},
		{{"id": "m5"}},
	}
	c, _ := newTestGraph(t, pagedServer(t, pages, "", &hits))

	msgs, err := c.ListMessages(context.Background(), 1, "a@x.com", "inbox", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[2].ID)
	assert.Equal(t, int32(2), hits.Load())
}

func TestMessagesDeltaSegregatesRemoved(t *testing.T) {
	var hits atomic.Int32
	var prefer string
	pages := [][]map[string]any{
		{{"id": "m1", "subject": "one"}, {"id": "gone", "@removed": map[string]string{"reason": "deleted"}}},
		{{"id": "m2", "subject": "two"}},
	}
	inner := pagedServer(t, pages, "https://graph.example/delta?$deltatoken=T2", &hits)
	c, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		if prefer == "" {
			prefer = r.Header.Get("Prefer")
			assert.True(t, strings.HasSuffix(r.URL.Path, "/mailFolders/inbox/messages/delta"))
		}
		inner(w, r)
	})

	result, err := c.MessagesDelta(context.Background(), 1, "a@x.com", "inbox", "")
	require.NoError(t, err)
	assert.Equal(t, "odata.maxpagesize=2", prefer)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "m2", result.Items[1].ID)
	assert.Equal(t, []string{"gone"}, result.DeletedIds)
	assert.Equal(t, "https://graph.example/delta?$deltatoken=T2", result.DeltaLink)
}

func TestMessagesDeltaReplaysLinkVerbatim(t *testing.T) {
	var rawQuery string
	var srvURL string
	c, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{}, "@odata.deltaLink": srvURL + "/v1.0/delta?$deltatoken=T3"})
	})
	srvURL = strings.TrimSuffix(c.baseURL, "/v1.0")

	link := srvURL + "/v1.0/users/a/mailFolders/inbox/messages/delta?$deltatoken=T2%3D%3D"
	result, err := c.MessagesDelta(context.Background(), 1, "a@x.com", "inbox", link)
	require.NoError(t, err)
	assert.Equal(t, "$deltatoken=T2%3D%3D", rawQuery)
	assert.Empty(t, result.Items)
	assert.Equal(t, srvURL+"/v1.0/delta?$deltatoken=T3", result.DeltaLink)
}

func TestMessagesDeltaWithoutDeltaLinkFails(t *testing.T) {
	c, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
	})

	_, err := c.MessagesDelta(context.Background(), 1, "a@x.com", "inbox", "")

	var pe *types.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "malformedResponse", pe.Code)
	assert.False(t, IsDeltaExpired(err))
}

// selectingDeltaServer keeps the first round's $select inside the delta link
// and projects later rounds onto it, the way Graph does.
func selectingDeltaServer(message map[string]any, firstSelect *string) (http.HandlerFunc, *string) {
	var srvURL string
	handler := func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		token := q.Get("$deltatoken")
		if token == "" {
			*firstSelect = q.Get("$select")
			link := srvURL + "/v1.0/delta?$deltatoken=" + url.QueryEscape(*firstSelect)
			writeJSON(w, http.StatusOK, map[string]any{"value": []any{}, "@odata.deltaLink": link})
			return
		}

		fields := map[string]bool{"id": true}
		for _, f := range strings.Split(token, ",") {
			fields[f] = true
		}
		projected := map[string]any{}
		for k, v := range message {
			if fields[k] {
				projected[k] = v
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"value":            []any{projected},
			"@odata.deltaLink": srvURL + "/v1.0/delta?$deltatoken=" + url.QueryEscape(token),
		})
	}
	return handler, &srvURL
}

func TestBaselineDeltaLinkKeepsMessageFields(t *testing.T) {
	message := map[string]any{
		"id":               "m9",
		"subject":          "Quote for Q3",
		"from":             map[string]any{"emailAddress": map[string]string{"address": "buyer@client.com"}},
		"toRecipients":     []any{map[string]any{"emailAddress": map[string]string{"address": "sales@acme.com"}}},
		"receivedDateTime": "2024-05-01T10:00:00Z",
	}
	var firstSelect string
	handler, srvURL := selectingDeltaServer(message, &firstSelect)
	c, _ := newTestGraph(t, handler)
	*srvURL = strings.TrimSuffix(c.baseURL, "/v1.0")

	link, err := c.BaselineDelta(context.Background(), 1, "sales@acme.com", "inbox")
	require.NoError(t, err)
	assert.Equal(t, messageSelect, firstSelect)

	result, err := c.MessagesDelta(context.Background(), 1, "sales@acme.com", "inbox", link)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)

	got := result.Items[0]
	assert.Equal(t, "Quote for Q3", got.Subject)
	require.NotNil(t, got.From)
	assert.Equal(t, "buyer@client.com", got.From.EmailAddress.Address)
	require.Len(t, got.ToRecipients, 1)
	require.NotNil(t, got.ReceivedDateTime)
}

func TestIsDeltaExpired(t *testing.T) {
	assert.True(t, IsDeltaExpired(&types.ProviderError{StatusCode: http.StatusGone}))
	assert.True(t, IsDeltaExpired(&types.ProviderError{StatusCode: http.StatusBadRequest, Code: "SyncStateNotFound"}))
	assert.True(t, IsDeltaExpired(&types.ProviderError{StatusCode: http.StatusBadRequest, Code: "resyncRequired"}))
	assert.False(t, IsDeltaExpired(&types.ProviderError{StatusCode: http.StatusBadRequest, Code: "BadRequest"}))
	assert.False(t, IsDeltaExpired(errors.New("boom")))
}

func TestSubscriptionLifecycle(t *testing.T) {
	expires := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "/v1.0/subscriptions", r.URL.Path)
			var body Subscription
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "created,updated,deleted", body.ChangeType)
			assert.Equal(t, "users/a@x.com/messages", body.Resource)
			body.ID = "sub-1"
			writeJSON(w, http.StatusCreated, body)
		case http.MethodPatch:
			assert.Equal(t, "/v1.0/subscriptions/sub-1", r.URL.Path)
			writeJSON(w, http.StatusOK, map[string]any{"id": "sub-1", "expirationDateTime": expires.Add(time.Hour)})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	sub, err := c.CreateSubscription(ctx, 1, SubscriptionRequest{
		Resource:        MessagesResource("a@x.com"),
		ChangeTypes:     []string{ChangeCreated, ChangeUpdated, ChangeDeleted},
		NotificationURL: "https://crm.example/webhooks/notifications",
		ClientState:     "secret",
		ExpiresAt:       expires,
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)
	assert.True(t, sub.ExpirationDateTime.Equal(expires))

	renewed, err := c.RenewSubscription(ctx, 1, "sub-1", expires.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, renewed.ExpirationDateTime.Equal(expires.Add(time.Hour)))

	require.NoError(t, c.DeleteSubscription(ctx, 1, "sub-1"))
}

func TestMessageIdFromResource(t *testing.T) {
	tests := []struct {
		resource string
		want     string
		wantErr  bool
	}{
		{"Users/u-1/Messages/AAMkAD=", "AAMkAD=", false},
		{"users/sales@acme.com/messages('AAMk-2')", "AAMk-2", false},
		{"Users/u-1/mailFolders('Inbox')/Messages/m3", "m3", false},
		{"Users/u-1/Events/e1", "", true},
		{"Users/u-1/Messages", "", true},
	}
	for _, tt := range tests {
		got, err := MessageIdFromResource(tt.resource)
		if tt.wantErr {
			assert.Error(t, err, tt.resource)
			continue
		}
		require.NoError(t, err, tt.resource)
		assert.Equal(t, tt.want, got)
	}
}
