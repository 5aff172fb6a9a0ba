package mailsync

import (
	"context"
	"sync"
	"time"

	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type SyncerConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
	Concurrency  int
}

// Syncer periodically syncs every mailbox whose credential is active. Mailboxes
// run in parallel up to Concurrency; each pass is guarded per mailbox by the engine.
type Syncer struct {
	mailboxes     repository.MailboxRepository
	engine        *Engine
	subscriptions *SubscriptionManager
	cfg           SyncerConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSyncer(mailboxes repository.MailboxRepository, engine *Engine, subscriptions *SubscriptionManager, cfg SyncerConfig) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Syncer{mailboxes: mailboxes, engine: engine, subscriptions: subscriptions, cfg: cfg}
}

// Start runs the sync loop in the background until ctx is done or Stop is called
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop cancels the loop and waits for in-flight passes to return
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Syncer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	log.Info().Dur("interval", s.cfg.Interval).Int("concurrency", s.cfg.Concurrency).Msg("mailbox syncer started")

	if s.cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.InitialDelay):
		}
	}

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("mailbox syncer stopped")
			return
		case <-t.C:
		}
	}
}

// RunOnce syncs all syncable mailboxes once and waits for them to finish.
// Individual mailbox failures are logged and recorded on the mailbox.
func (s *Syncer) RunOnce(ctx context.Context) {
	mailboxes, err := s.mailboxes.ListSyncableMailboxes(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("syncer: failed to list mailboxes")
		return
	}
	if len(mailboxes) == 0 {
		log.Debug().Msg("syncer: no mailboxes to sync")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, mailbox := range mailboxes {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if s.subscriptions != nil && s.subscriptions.Enabled() {
				if _, err := s.subscriptions.EnsureSubscription(gctx, mailbox); err != nil {
					log.Warn().Uint("mailbox_id", mailbox.Id).Err(err).Msg("syncer: subscription upkeep failed")
				}
			}

			if _, err := s.engine.SyncMailbox(gctx, mailbox.Id); err != nil {
				log.Warn().Uint("mailbox_id", mailbox.Id).Err(err).Msg("syncer: mailbox sync failed")
			}
			// Mailboxes are independent; never cancel siblings
			return nil
		})
	}

	_ = g.Wait()
}
