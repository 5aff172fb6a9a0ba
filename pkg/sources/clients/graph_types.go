package clients

import (
	"errors"
	"time"
)

// Wire types for the subset of Microsoft Graph used by mail sync.

type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

type ItemBody struct {
	ContentType string `json:"contentType"` // "text" or "html"
	Content     string `json:"content"`
}

// Removed marks a delta item that no longer exists in the folder
type Removed struct {
	Reason string `json:"reason"` // "changed" or "deleted"
}

type Message struct {
	ID               string      `json:"id"`
	ConversationID   string      `json:"conversationId,omitempty"`
	ParentFolderID   string      `json:"parentFolderId,omitempty"`
	Subject          string      `json:"subject,omitempty"`
	BodyPreview      string      `json:"bodyPreview,omitempty"`
	Body             *ItemBody   `json:"body,omitempty"`
	From             *Recipient  `json:"from,omitempty"`
	Sender           *Recipient  `json:"sender,omitempty"`
	ToRecipients     []Recipient `json:"toRecipients,omitempty"`
	CcRecipients     []Recipient `json:"ccRecipients,omitempty"`
	SentDateTime     *time.Time  `json:"sentDateTime,omitempty"`
	ReceivedDateTime *time.Time  `json:"receivedDateTime,omitempty"`
	HasAttachments   bool        `json:"hasAttachments"`
	IsDraft          bool        `json:"isDraft,omitempty"`
	Removed          *Removed    `json:"@removed,omitempty"`
}

func (m Message) ItemID() string  { return m.ID }
func (m Message) IsRemoved() bool { return m.Removed != nil }

func (m Message) Validate() error {
	if m.ID == "" {
		return errors.New("message without id")
	}
	return nil
}

type MailFolder struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"displayName"`
	ParentFolderID   string   `json:"parentFolderId,omitempty"`
	ChildFolderCount int      `json:"childFolderCount"`
	TotalItemCount   int      `json:"totalItemCount"`
	Removed          *Removed `json:"@removed,omitempty"`
}

func (f MailFolder) ItemID() string  { return f.ID }
func (f MailFolder) IsRemoved() bool { return f.Removed != nil }

func (f MailFolder) Validate() error {
	if f.ID == "" {
		return errors.New("folder without id")
	}
	return nil
}

type Subscription struct {
	ID                 string    `json:"id,omitempty"`
	Resource           string    `json:"resource,omitempty"`
	ChangeType         string    `json:"changeType,omitempty"`
	NotificationURL    string    `json:"notificationUrl,omitempty"`
	ClientState        string    `json:"clientState,omitempty"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
}

func (s Subscription) Validate() error {
	if s.ID == "" {
		return errors.New("subscription without id")
	}
	return nil
}

// Change notification types for webhook delivery

const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

type ResourceData struct {
	ODataType string `json:"@odata.type,omitempty"`
	ODataID   string `json:"@odata.id,omitempty"`
	ID        string `json:"id,omitempty"`
}

type ChangeNotification struct {
	SubscriptionID                 string        `json:"subscriptionId"`
	SubscriptionExpirationDateTime *time.Time    `json:"subscriptionExpirationDateTime,omitempty"`
	ChangeType                     string        `json:"changeType"`
	Resource                       string        `json:"resource"`
	ResourceData                   *ResourceData `json:"resourceData,omitempty"`
	ClientState                    string        `json:"clientState,omitempty"`
	TenantID                       string        `json:"tenantId,omitempty"`
}

type ChangeNotificationCollection struct {
	Value []ChangeNotification `json:"value"`
}

// graphError is Graph's error envelope
type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
