package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/mailsync"
	"github.com/beam-cloud/mailsync/pkg/oauth"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/secrets"
	"github.com/beam-cloud/mailsync/pkg/sources/clients"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/beam-cloud/mailsync/pkg/webhooks"
	"github.com/rs/zerolog/log"
)

const (
	memoryTrackerSize = 50000
	failureWindow     = 24 * time.Hour
)

// Services is the mail sync object graph shared by the gateway and the CLI.
// RedisClient is nil in local mode; every redis-backed piece then falls back
// to its in-process variant.
type Services struct {
	Config      types.AppConfig
	Backend     repository.BackendRepository
	RedisClient *common.RedisClient

	Microsoft     *oauth.MicrosoftClient
	Credentials   *oauth.CredentialStore
	Tokens        *oauth.TokenManager
	Graph         *clients.GraphClient
	Pipeline      *mailsync.Pipeline
	Engine        *mailsync.Engine
	Subscriptions *mailsync.SubscriptionManager
	Syncer        *mailsync.Syncer
	Failures      *webhooks.FailureSink
	Ingestor      *webhooks.Ingestor
}

// NewServices wires the sync engine, token lifecycle and webhook ingestor
func NewServices(config types.AppConfig, backend repository.BackendRepository, rdb *common.RedisClient) (*Services, error) {
	sealer, err := newSealer(config)
	if err != nil {
		return nil, err
	}

	var (
		locks    oauth.LockTable
		guard    mailsync.MailboxGuard
		seen     webhooks.Tracker
		failures webhooks.Tracker
		events   common.EventEmitter
	)
	if rdb != nil {
		tracker := common.NewSeenTracker(rdb)
		locks = oauth.NewRedisLockTable(rdb, config.OAuth.LockTTL)
		guard = mailsync.NewRedisMailboxGuard(rdb, config.Sync.LockTTL)
		seen, failures = tracker, tracker
		events = common.NewEventStream(rdb, common.Keys.EmailEvents(), config.Events.MaxLen)
	} else {
		locks = oauth.NewLocalLockTable()
		guard = mailsync.NewLocalMailboxGuard()
		seen = webhooks.NewMemoryTracker(memoryTrackerSize, config.Webhooks.DedupeTTL)
		failures = webhooks.NewMemoryTracker(memoryTrackerSize, failureWindow)
		events = common.NewLocalEventEmitter(0)
	}

	s := &Services{Config: config, Backend: backend, RedisClient: rdb}

	s.Microsoft = oauth.NewMicrosoftClient(config.OAuth.Microsoft)
	if !s.Microsoft.IsConfigured() {
		log.Warn().Msg("microsoft oauth is not configured, token refresh and new connections will fail")
	}

	s.Credentials = oauth.NewCredentialStore(backend, sealer)
	s.Tokens = oauth.NewTokenManager(s.Credentials, s.Microsoft, locks, oauth.TokenManagerConfig{
		RefreshMargin: config.OAuth.RefreshMargin,
	})
	s.Graph = clients.NewGraphClient(config.Graph, s.Tokens)

	s.Pipeline = mailsync.NewPipeline(backend, mailsync.NewAutoLinker(backend), mailsync.NewProcessor(config.Sync.PreviewLength))
	if config.Events.Enabled {
		s.Pipeline.WithEvents(events)
	}
	s.Engine = mailsync.NewEngine(backend, s.Graph, s.Pipeline, guard, mailsync.EngineConfig{
		FolderTimeout: config.Sync.FolderTimeout,
		PassTimeout:   config.Sync.PassTimeout,
		FullSyncLimit: config.Sync.FullSyncLimit,
	})
	s.Subscriptions = mailsync.NewSubscriptionManager(backend, s.Graph, config.Webhooks)
	s.Syncer = mailsync.NewSyncer(backend, s.Engine, s.Subscriptions, mailsync.SyncerConfig{
		Interval:     config.Sync.Interval,
		InitialDelay: config.Sync.InitialDelay,
		Concurrency:  config.Sync.Concurrency,
	})

	s.Failures = webhooks.NewFailureSink(failures, failureWindow)
	s.Ingestor = webhooks.NewIngestor(backend, s.Graph, s.Pipeline, seen, s.Failures, webhooks.Config{
		ClientState:    config.Webhooks.ClientState,
		ProcessTimeout: config.Webhooks.ProcessTimeout,
		DedupeTTL:      config.Webhooks.DedupeTTL,
		Concurrency:    config.Webhooks.Concurrency,
	})

	return s, nil
}

// newSealer requires a key outside local mode. Local mode without a key gets
// an ephemeral one; stored credentials are then unreadable after a restart.
func newSealer(config types.AppConfig) (*secrets.Sealer, error) {
	if config.Encryption.Key != "" {
		sealer, err := secrets.NewSealerFromBase64(config.Encryption.Key)
		if err != nil {
			return nil, fmt.Errorf("encryption.key: %w", err)
		}
		return sealer, nil
	}

	if !config.IsLocalMode() {
		return nil, errors.New("encryption.key is required outside local mode")
	}

	key, err := secrets.GenerateKey()
	if err != nil {
		return nil, err
	}
	log.Warn().Msg("encryption.key not set, using an ephemeral key")
	return secrets.NewSealerFromBase64(key)
}
