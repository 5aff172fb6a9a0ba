package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/mailsync"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/sources/clients"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClientStateMismatch = errors.New("client state mismatch")
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrUnknownChangeType   = errors.New("unknown change type")
	ErrIngestorBusy        = errors.New("ingestor at capacity, batch dropped")
)

// MessageFetcher loads a single message for a created notification
type MessageFetcher interface {
	GetMessage(ctx context.Context, credentialId uint, mailbox, messageId string) (*clients.Message, error)
}

type Config struct {
	ClientState    string
	ProcessTimeout time.Duration
	DedupeTTL      time.Duration
	Concurrency    int
}

// Ingestor turns change notifications into single-message fetch and persist
// operations. Errors never leave the ingestor; they go to the failure sink.
type Ingestor struct {
	mailboxes repository.MailboxRepository
	fetcher   MessageFetcher
	pipeline  *mailsync.Pipeline
	seen      Tracker
	failures  *FailureSink
	cfg       Config

	workers *errgroup.Group
}

func NewIngestor(mailboxes repository.MailboxRepository, fetcher MessageFetcher, pipeline *mailsync.Pipeline, seen Tracker, failures *FailureSink, cfg Config) *Ingestor {
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 20 * time.Second
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	workers := &errgroup.Group{}
	workers.SetLimit(cfg.Concurrency)

	return &Ingestor{
		mailboxes: mailboxes,
		fetcher:   fetcher,
		pipeline:  pipeline,
		seen:      seen,
		failures:  failures,
		cfg:       cfg,
		workers:   workers,
	}
}

// Dispatch processes a batch in the background so the HTTP handler can ack at
// once. Processing keeps the request's values but not its cancellation. At most
// Concurrency batches run at a time; a batch arriving when all workers are busy
// is recorded as failed and left to the periodic sync.
func (i *Ingestor) Dispatch(ctx context.Context, batch *clients.ChangeNotificationCollection) {
	if batch == nil || len(batch.Value) == 0 {
		return
	}

	base := context.WithoutCancel(ctx)
	started := i.workers.TryGo(func() error {
		for _, n := range batch.Value {
			i.Handle(base, n)
		}
		return nil
	})
	if !started {
		for _, n := range batch.Value {
			i.failures.Record(base, i.failed(n, ErrIngestorBusy))
		}
	}
}

// Wait blocks until every dispatched batch has been processed
func (i *Ingestor) Wait() {
	_ = i.workers.Wait()
}

// Handle processes one notification under the configured timeout and routes
// any failure to the sink
func (i *Ingestor) Handle(ctx context.Context, n clients.ChangeNotification) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.ProcessTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			i.failures.Record(context.WithoutCancel(ctx), i.failed(n, fmt.Errorf("panic: %v", r)))
		}
	}()

	if err := i.Process(ctx, n); err != nil {
		var failure *types.NotificationProcessingFailedError
		if !errors.As(err, &failure) {
			failure = i.failed(n, err)
		}
		i.failures.Record(ctx, failure)
	}
}

// Process applies one notification. created fetches and stores the message
// unless it is already present; deleted removes it; updated is a no-op.
func (i *Ingestor) Process(ctx context.Context, n clients.ChangeNotification) error {
	if i.cfg.ClientState != "" && n.ClientState != i.cfg.ClientState {
		return i.failed(n, ErrClientStateMismatch)
	}

	mailbox, err := i.mailboxes.GetMailboxBySubscription(ctx, n.SubscriptionID)
	if err != nil {
		return i.failed(n, fmt.Errorf("get mailbox: %w", err))
	}
	if mailbox == nil {
		return i.failed(n, ErrUnknownSubscription)
	}

	messageId := ""
	if n.ResourceData != nil {
		messageId = n.ResourceData.ID
	}
	if messageId == "" {
		if messageId, err = clients.MessageIdFromResource(n.Resource); err != nil {
			return i.failed(n, err)
		}
	}

	switch n.ChangeType {
	case clients.ChangeCreated:
		err = i.created(ctx, mailbox, n, messageId)
	case clients.ChangeDeleted:
		var deleted bool
		deleted, err = i.pipeline.Remove(ctx, messageId)
		if err == nil {
			log.Debug().Uint("mailbox_id", mailbox.Id).Str("provider_message_id", messageId).Bool("deleted", deleted).Msg("notification: message removed")
		}
	case clients.ChangeUpdated:
		// Read state and flags are not mirrored
		return nil
	default:
		err = ErrUnknownChangeType
	}

	if err != nil {
		return i.failed(n, err)
	}
	return nil
}

func (i *Ingestor) created(ctx context.Context, mailbox *types.Mailbox, n clients.ChangeNotification, messageId string) error {
	key := common.Keys.WebhookSeen(n.SubscriptionID, n.ChangeType, messageId)
	first, err := i.seen.MarkOnce(ctx, key, i.cfg.DedupeTTL)
	if err != nil {
		log.Warn().Err(err).Str("subscription_id", n.SubscriptionID).Msg("notification dedupe unavailable")
		first = true
	}
	if !first {
		return nil
	}

	if err := i.store(ctx, mailbox, messageId); err != nil {
		// Let a provider redelivery try again
		if ferr := i.seen.Forget(context.WithoutCancel(ctx), key); ferr != nil {
			log.Warn().Err(ferr).Str("key", key).Msg("failed to clear notification marker")
		}
		return err
	}
	return nil
}

func (i *Ingestor) store(ctx context.Context, mailbox *types.Mailbox, messageId string) error {
	// The periodic sync may already have stored it
	exists, err := i.pipeline.Exists(ctx, messageId)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	msg, err := i.fetcher.GetMessage(ctx, mailbox.CredentialId, mailbox.MailboxAddress, messageId)
	if err != nil {
		return fmt.Errorf("fetch message: %w", err)
	}

	outcome, err := i.pipeline.Persist(ctx, mailbox, msg)
	if err != nil {
		return err
	}
	log.Debug().Uint("mailbox_id", mailbox.Id).Str("provider_message_id", messageId).Stringer("outcome", outcome).Msg("notification: message processed")
	return nil
}

func (i *Ingestor) failed(n clients.ChangeNotification, cause error) *types.NotificationProcessingFailedError {
	return &types.NotificationProcessingFailedError{
		SubscriptionId: n.SubscriptionID,
		ChangeType:     n.ChangeType,
		Resource:       n.Resource,
		Cause:          cause,
	}
}
