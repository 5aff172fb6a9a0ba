package mailsync

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/beam-cloud/mailsync/pkg/sources/clients"
	"github.com/beam-cloud/mailsync/pkg/types"
)

const DefaultPreviewLength = 280

var (
	whitespaceRegex = regexp.MustCompile(`[\s\p{Zs}]+`)
	// Zero-width and other invisible code points common in marketing mail
	invisibleRegex = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{180E}\x{2060}-\x{2064}\x{206A}-\x{206F}]+`)
)

// Processor normalizes provider messages. It has no I/O and is safe for concurrent use.
type Processor struct {
	previewLength int
}

func NewProcessor(previewLength int) Processor {
	if previewLength <= 0 {
		previewLength = DefaultPreviewLength
	}
	return Processor{previewLength: previewLength}
}

// ProcessMessage normalizes msg with the default preview length
func ProcessMessage(msg *clients.Message, mailboxAddress string) *types.Email {
	return NewProcessor(DefaultPreviewLength).Process(msg, mailboxAddress)
}

// Process maps a provider message to an Email. Direction is outbound only when
// the sender is the mailbox that fetched it. Mailbox and business ids are left
// for the caller.
func (p Processor) Process(msg *clients.Message, mailboxAddress string) *types.Email {
	email := &types.Email{
		ProviderMessageId:      msg.ID,
		ProviderConversationId: msg.ConversationID,
		Subject:                strings.TrimSpace(msg.Subject),
		ToAddresses:            recipientAddresses(msg.ToRecipients),
		CcAddresses:            recipientAddresses(msg.CcRecipients),
		SentAt:                 utc(msg.SentDateTime),
		ReceivedAt:             utc(msg.ReceivedDateTime),
		HasAttachments:         msg.HasAttachments,
		Direction:              types.DirectionInbound,
	}

	from := msg.From
	if from == nil {
		from = msg.Sender
	}
	if from != nil {
		email.FromAddress = normalizeAddress(from.EmailAddress.Address)
		email.FromName = strings.TrimSpace(from.EmailAddress.Name)
	}
	if email.FromAddress != "" && email.FromAddress == normalizeAddress(mailboxAddress) {
		email.Direction = types.DirectionOutbound
	}

	if msg.Body != nil && strings.EqualFold(msg.Body.ContentType, "html") {
		email.BodyHtml = msg.Body.Content
	}
	email.BodyPreview = p.preview(msg)

	return email
}

func (p Processor) preview(msg *clients.Message) string {
	var text string
	if msg.Body != nil && msg.Body.Content != "" {
		if strings.EqualFold(msg.Body.ContentType, "html") {
			text = htmlToText(msg.Body.Content)
		} else {
			text = msg.Body.Content
		}
	}

	text = collapse(text)
	if text == "" {
		text = collapse(msg.BodyPreview)
	}
	return truncateRunes(text, p.previewLength)
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head, meta, link, title").Remove()
	// Keep words in adjacent blocks apart
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr, td").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml(" ")
	})
	return doc.Text()
}

func collapse(s string) string {
	s = invisibleRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i, count := 0, 0
	for i = range s {
		if count == n {
			break
		}
		count++
	}
	return strings.TrimSpace(s[:i])
}

func recipientAddresses(rs []clients.Recipient) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		if addr := normalizeAddress(r.EmailAddress.Address); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
