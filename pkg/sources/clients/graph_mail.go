package clients

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Fields the message processor reads
const messageSelect = "id,conversationId,parentFolderId,subject,bodyPreview,body,from,sender,toRecipients,ccRecipients,sentDateTime,receivedDateTime,hasAttachments,isDraft"

func userPath(mailbox string, rest ...string) string {
	parts := append([]string{"users", url.PathEscape(mailbox)}, rest...)
	return "/" + strings.Join(parts, "/")
}

// Folders streams the mailbox's top-level mail folders
func (c *GraphClient) Folders(ctx context.Context, credentialId uint, mailbox string) iter.Seq2[MailFolder, error] {
	req := Request{
		Path:  userPath(mailbox, "mailFolders"),
		Query: url.Values{"$top": {"100"}, "$select": {"id,displayName,parentFolderId,childFolderCount,totalItemCount"}},
	}
	return func(yield func(MailFolder, error) bool) {
		for page, err := range Pages[MailFolder](ctx, c, credentialId, req) {
			if err != nil {
				yield(MailFolder{}, err)
				return
			}
			for _, f := range page.Value {
				if !yield(f, nil) {
					return
				}
			}
		}
	}
}

func (c *GraphClient) ListFolders(ctx context.Context, credentialId uint, mailbox string) ([]MailFolder, error) {
	var folders []MailFolder
	for f, err := range c.Folders(ctx, credentialId, mailbox) {
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, nil
}

// ListMessages returns at most top of the folder's most recently received messages
func (c *GraphClient) ListMessages(ctx context.Context, credentialId uint, mailbox, folderId string, top int) ([]Message, error) {
	if top <= 0 {
		return nil, nil
	}
	pageSize := min(top, c.pageSize)
	req := Request{
		Path: userPath(mailbox, "mailFolders", url.PathEscape(folderId), "messages"),
		Query: url.Values{
			"$top":     {strconv.Itoa(pageSize)},
			"$orderby": {"receivedDateTime desc"},
			"$select":  {messageSelect},
		},
	}

	messages := make([]Message, 0, top)
	for page, err := range Pages[Message](ctx, c, credentialId, req) {
		if err != nil {
			return nil, err
		}
		for _, m := range page.Value {
			messages = append(messages, m)
			if len(messages) == top {
				return messages, nil
			}
		}
	}
	return messages, nil
}

func (c *GraphClient) GetMessage(ctx context.Context, credentialId uint, mailbox, messageId string) (*Message, error) {
	msg := &Message{}
	err := c.Do(ctx, credentialId, Request{
		Path:  userPath(mailbox, "messages", url.PathEscape(messageId)),
		Query: url.Values{"$select": {messageSelect}},
	}, msg)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// deltaRequest builds the first round of a folder delta, or replays deltaLink.
// Graph carries the first round's $select inside the links it returns, so the
// baseline must select everything later rounds need.
func (c *GraphClient) deltaRequest(mailbox, folderId, deltaLink string) Request {
	headers := map[string]string{"Prefer": "odata.maxpagesize=" + strconv.Itoa(c.pageSize)}
	if deltaLink != "" {
		return Request{Path: deltaLink, Headers: headers}
	}
	return Request{
		Path:    userPath(mailbox, "mailFolders", url.PathEscape(folderId), "messages", "delta"),
		Query:   url.Values{"$select": {messageSelect}},
		Headers: headers,
	}
}

// MessagesDelta resumes the folder's delta from deltaLink, or runs a baseline
// round when deltaLink is empty. The link is replayed as-is.
func (c *GraphClient) MessagesDelta(ctx context.Context, credentialId uint, mailbox, folderId, deltaLink string) (*DeltaResult[Message], error) {
	return DeltaQuery[Message](ctx, c, credentialId, c.deltaRequest(mailbox, folderId, deltaLink))
}

// BaselineDelta drains a baseline round and returns the terminal deltaLink.
// Used to seed incremental state after a full sync; the items are discarded.
func (c *GraphClient) BaselineDelta(ctx context.Context, credentialId uint, mailbox, folderId string) (string, error) {
	result, err := DeltaQuery[Message](ctx, c, credentialId, c.deltaRequest(mailbox, folderId, ""))
	if err != nil {
		return "", err
	}
	return result.DeltaLink, nil
}

// Subscriptions

type SubscriptionRequest struct {
	Resource        string
	ChangeTypes     []string
	NotificationURL string
	ClientState     string
	ExpiresAt       time.Time
}

func (c *GraphClient) CreateSubscription(ctx context.Context, credentialId uint, in SubscriptionRequest) (*Subscription, error) {
	if in.NotificationURL == "" {
		return nil, errors.New("notification url is required")
	}
	body := Subscription{
		Resource:           in.Resource,
		ChangeType:         strings.Join(in.ChangeTypes, ","),
		NotificationURL:    in.NotificationURL,
		ClientState:        in.ClientState,
		ExpirationDateTime: in.ExpiresAt.UTC(),
	}
	sub := &Subscription{}
	if err := c.Do(ctx, credentialId, Request{Method: http.MethodPost, Path: "/subscriptions", Body: body}, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *GraphClient) RenewSubscription(ctx context.Context, credentialId uint, subscriptionId string, expiresAt time.Time) (*Subscription, error) {
	body := struct {
		ExpirationDateTime time.Time `json:"expirationDateTime"`
	}{expiresAt.UTC()}

	sub := &Subscription{}
	err := c.Do(ctx, credentialId, Request{
		Method: http.MethodPatch,
		Path:   "/subscriptions/" + url.PathEscape(subscriptionId),
		Body:   body,
	}, sub)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *GraphClient) DeleteSubscription(ctx context.Context, credentialId uint, subscriptionId string) error {
	return c.Do(ctx, credentialId, Request{
		Method: http.MethodDelete,
		Path:   "/subscriptions/" + url.PathEscape(subscriptionId),
	}, nil)
}

// MessagesResource is the subscription resource covering every folder of a mailbox
func MessagesResource(mailbox string) string {
	return fmt.Sprintf("users/%s/messages", mailbox)
}

// MessageIdFromResource extracts the message id from a notification resource,
// accepting both "Users/{u}/Messages/{id}" and "users/{u}/messages('{id}')".
func MessageIdFromResource(resource string) (string, error) {
	lower := strings.ToLower(resource)
	idx := strings.LastIndex(lower, "messages")
	if idx < 0 {
		return "", fmt.Errorf("resource %q does not reference a message", resource)
	}

	rest := resource[idx+len("messages"):]
	var id string
	switch {
	case strings.HasPrefix(rest, "/"):
		id = strings.TrimPrefix(rest, "/")
		if i := strings.IndexByte(id, '/'); i >= 0 {
			id = id[:i]
		}
	case strings.HasPrefix(rest, "('") && strings.HasSuffix(rest, "')"):
		id = rest[2 : len(rest)-2]
	}

	if id == "" {
		return "", fmt.Errorf("resource %q does not reference a message", resource)
	}
	return id, nil
}
