package mailsync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/sources/clients"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
)

// Outcome of persisting one provider message
type Outcome int

const (
	EventEmailStored  = "email.stored"
	EventEmailDeleted = "email.deleted"
)

const (
	OutcomeCreated Outcome = iota
	OutcomeDuplicate
	OutcomeFiltered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFiltered:
		return "filtered"
	}
	return "unknown"
}

// Pipeline is the shared process, link and persist path used by both the sync
// engine and the webhook ingestor
type Pipeline struct {
	emails    repository.EmailRepository
	linker    *AutoLinker
	processor Processor
	events    common.EventEmitter
}

func NewPipeline(emails repository.EmailRepository, linker *AutoLinker, processor Processor) *Pipeline {
	return &Pipeline{emails: emails, linker: linker, processor: processor}
}

// WithEvents publishes an event for every stored or removed email
func (p *Pipeline) WithEvents(events common.EventEmitter) *Pipeline {
	p.events = events
	return p
}

// Persist normalizes msg for mailbox and inserts it unless a row with the same
// provider message id exists. Drafts and disabled directions are filtered.
func (p *Pipeline) Persist(ctx context.Context, mailbox *types.Mailbox, msg *clients.Message) (Outcome, error) {
	if msg.IsDraft {
		return OutcomeFiltered, nil
	}

	email := p.processor.Process(msg, mailbox.MailboxAddress)
	if !mailbox.SyncsDirection(email.Direction) {
		return OutcomeFiltered, nil
	}

	exists, err := p.emails.EmailExists(ctx, email.ProviderMessageId)
	if err != nil {
		return 0, fmt.Errorf("check email exists: %w", err)
	}
	if exists {
		return OutcomeDuplicate, nil
	}

	email.MailboxId = mailbox.Id
	email.BusinessId = mailbox.BusinessId

	links, err := p.linker.AutoLink(ctx, mailbox.BusinessId, email)
	if err != nil {
		return 0, err
	}
	email.ContactId = links.ContactId
	email.CompanyId = links.CompanyId
	email.DealId = links.DealId
	email.AutoLinked = !links.IsEmpty()

	// A concurrent writer may still win between the check and the insert
	created, err := p.emails.UpsertEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("upsert email: %w", err)
	}
	if !created {
		return OutcomeDuplicate, nil
	}

	log.Debug().
		Uint("mailbox_id", mailbox.Id).
		Str("provider_message_id", email.ProviderMessageId).
		Str("direction", string(email.Direction)).
		Bool("auto_linked", email.AutoLinked).
		Msg("email stored")

	p.emit(ctx, storedEvent(email))
	return OutcomeCreated, nil
}

// Remove deletes the local row for a provider message, reporting whether one existed
func (p *Pipeline) Remove(ctx context.Context, providerMessageId string) (bool, error) {
	deleted, err := p.emails.DeleteEmailByProviderId(ctx, providerMessageId)
	if err != nil {
		return false, fmt.Errorf("delete email: %w", err)
	}
	if deleted {
		p.emit(ctx, map[string]any{"type": EventEmailDeleted, "provider_message_id": providerMessageId})
	}
	return deleted, nil
}

// Exists reports whether a provider message is already stored
func (p *Pipeline) Exists(ctx context.Context, providerMessageId string) (bool, error) {
	exists, err := p.emails.EmailExists(ctx, providerMessageId)
	if err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}
	return exists, nil
}

// emit never fails the write it follows
func (p *Pipeline) emit(ctx context.Context, event map[string]any) {
	if p.events == nil {
		return
	}
	if err := p.events.Emit(context.WithoutCancel(ctx), event); err != nil {
		log.Warn().Err(err).Interface("type", event["type"]).Msg("failed to publish email event")
	}
}

func storedEvent(email *types.Email) map[string]any {
	event := map[string]any{
		"type":                EventEmailStored,
		"email_id":            email.Id,
		"mailbox_id":          email.MailboxId,
		"business_id":         email.BusinessId,
		"provider_message_id": email.ProviderMessageId,
		"direction":           string(email.Direction),
		"auto_linked":         strconv.FormatBool(email.AutoLinked),
	}
	for key, id := range map[string]*uint{"contact_id": email.ContactId, "company_id": email.CompanyId, "deal_id": email.DealId} {
		if id != nil {
			event[key] = *id
		}
	}
	return event
}
