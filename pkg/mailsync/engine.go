package mailsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/sources/clients"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
)

const DefaultFullSyncLimit = 100

// GraphAPI is the subset of the Graph client used for mail sync
type GraphAPI interface {
	ListFolders(ctx context.Context, credentialId uint, mailbox string) ([]clients.MailFolder, error)
	ListMessages(ctx context.Context, credentialId uint, mailbox, folderId string, top int) ([]clients.Message, error)
	GetMessage(ctx context.Context, credentialId uint, mailbox, messageId string) (*clients.Message, error)
	MessagesDelta(ctx context.Context, credentialId uint, mailbox, folderId, deltaLink string) (*clients.DeltaResult[clients.Message], error)
	BaselineDelta(ctx context.Context, credentialId uint, mailbox, folderId string) (string, error)
}

var _ GraphAPI = (*clients.GraphClient)(nil)

type EngineConfig struct {
	FolderTimeout time.Duration
	PassTimeout   time.Duration
	FullSyncLimit int
	Now           func() time.Time
}

// Engine runs sync passes for single mailboxes
type Engine struct {
	mailboxes repository.MailboxRepository
	graph     GraphAPI
	pipeline  *Pipeline
	guard     MailboxGuard
	cfg       EngineConfig
}

func NewEngine(mailboxes repository.MailboxRepository, graph GraphAPI, pipeline *Pipeline, guard MailboxGuard, cfg EngineConfig) *Engine {
	if cfg.FolderTimeout <= 0 {
		cfg.FolderTimeout = 2 * time.Minute
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 10 * time.Minute
	}
	if cfg.FullSyncLimit <= 0 {
		cfg.FullSyncLimit = DefaultFullSyncLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if guard == nil {
		guard = NewLocalMailboxGuard()
	}
	return &Engine{mailboxes: mailboxes, graph: graph, pipeline: pipeline, guard: guard, cfg: cfg}
}

type SyncMode string

const (
	SyncModeFull   SyncMode = "full"
	SyncModeDelta  SyncMode = "delta"
	SyncModeResync SyncMode = "resync" // delta link expired, fell back to full
)

type FolderReport struct {
	FolderId   string   `json:"folder_id,omitempty"`
	Name       string   `json:"name"`
	Mode       SyncMode `json:"mode,omitempty"`
	Created    int      `json:"created"`
	Duplicates int      `json:"duplicates"`
	Filtered   int      `json:"filtered"`
	Deleted    int      `json:"deleted"`
	Error      string   `json:"error,omitempty"`

	err error
}

func (f *FolderReport) Failed() bool { return f.err != nil }

func (f *FolderReport) count(o Outcome) {
	switch o {
	case OutcomeCreated:
		f.Created++
	case OutcomeDuplicate:
		f.Duplicates++
	case OutcomeFiltered:
		f.Filtered++
	}
}

type SyncReport struct {
	MailboxId  uint             `json:"mailbox_id"`
	Skipped    bool             `json:"skipped,omitempty"` // another pass holds the mailbox
	Status     types.SyncStatus `json:"status,omitempty"`
	Folders    []*FolderReport  `json:"folders"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

func (r *SyncReport) Created() int {
	n := 0
	for _, f := range r.Folders {
		n += f.Created
	}
	return n
}

func (r *SyncReport) FailedFolders() []string {
	var names []string
	for _, f := range r.Folders {
		if f.Failed() {
			names = append(names, f.Name)
		}
	}
	return names
}

// SyncMailbox runs one pass over the mailbox's configured folders. Folder
// failures are isolated and reported; credential failures abort the pass with
// MailboxSyncAbortedError. Delta links are committed once, after every folder
// has finished writing.
func (e *Engine) SyncMailbox(ctx context.Context, mailboxId uint) (*SyncReport, error) {
	mailbox, err := e.mailboxes.GetMailbox(ctx, mailboxId)
	if err != nil {
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	if mailbox == nil {
		return nil, &types.MailboxNotFoundError{MailboxId: mailboxId}
	}

	report := &SyncReport{MailboxId: mailboxId, StartedAt: e.cfg.Now()}

	release, ok, err := e.guard.TryLock(ctx, mailboxId)
	if err != nil {
		return nil, fmt.Errorf("lock mailbox: %w", err)
	}
	if !ok {
		log.Info().Uint("mailbox_id", mailboxId).Msg("mailbox sync already running, skipping")
		report.Skipped = true
		report.FinishedAt = e.cfg.Now()
		return report, nil
	}
	defer release()

	passCtx, cancel := context.WithTimeout(ctx, e.cfg.PassTimeout)
	defer cancel()

	links := decodeDeltaLinks(mailbox)

	folders, err := e.graph.ListFolders(passCtx, mailbox.CredentialId, mailbox.MailboxAddress)
	if err != nil {
		return report, e.abort(ctx, mailbox, report, nil, fmt.Errorf("list folders: %w", err))
	}

	for _, name := range mailbox.SyncFolders {
		folder := findFolder(folders, name)
		if folder == nil {
			fr := &FolderReport{Name: name, err: errors.New("folder not found")}
			fr.Error = fr.err.Error()
			report.Folders = append(report.Folders, fr)
			log.Warn().Uint("mailbox_id", mailbox.Id).Str("folder", name).Msg("configured folder not found in mailbox")
			continue
		}

		fr, link, err := e.syncFolder(passCtx, mailbox, folder, links[folder.ID])
		report.Folders = append(report.Folders, fr)
		if err != nil {
			if types.IsCredentialFatal(err) {
				return report, e.abort(ctx, mailbox, report, links, err)
			}
			fr.err = &types.FolderSyncFailedError{Folder: folder.DisplayName, Cause: err}
			fr.Error = fr.err.Error()
			log.Error().Uint("mailbox_id", mailbox.Id).Str("folder", folder.DisplayName).Err(err).Msg("folder sync failed")
			continue
		}
		links[folder.ID] = link
	}

	state := types.MailboxSyncState{DeltaSyncToken: encodeDeltaLinks(links)}
	if failed := report.FailedFolders(); len(failed) > 0 {
		state.SyncStatus = types.SyncStatusError
		state.SyncError = "folders failed: " + strings.Join(failed, ", ")
	} else {
		now := e.cfg.Now()
		state.LastSyncAt = &now
		state.SyncStatus = types.SyncStatusActive
	}
	report.Status = state.SyncStatus

	if err := e.mailboxes.UpdateMailboxSyncState(context.WithoutCancel(ctx), mailbox.Id, state); err != nil {
		return report, fmt.Errorf("update sync state: %w", err)
	}

	report.FinishedAt = e.cfg.Now()
	log.Info().
		Uint("mailbox_id", mailbox.Id).
		Int("created", report.Created()).
		Int("folders", len(report.Folders)).
		Str("status", string(report.Status)).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("mailbox sync finished")
	return report, nil
}

// abort flips the mailbox to error. Links advanced by folders that completed
// before the failure are kept.
func (e *Engine) abort(ctx context.Context, mailbox *types.Mailbox, report *SyncReport, links map[string]string, cause error) error {
	err := &types.MailboxSyncAbortedError{MailboxId: mailbox.Id, Cause: cause}
	log.Error().Uint("mailbox_id", mailbox.Id).Err(cause).Msg("mailbox sync aborted")

	state := types.MailboxSyncState{SyncStatus: types.SyncStatusError, SyncError: cause.Error()}
	if links != nil {
		state.DeltaSyncToken = encodeDeltaLinks(links)
	}
	if uerr := e.mailboxes.UpdateMailboxSyncState(context.WithoutCancel(ctx), mailbox.Id, state); uerr != nil {
		log.Error().Uint("mailbox_id", mailbox.Id).Err(uerr).Msg("failed to record sync error")
	}

	report.Status = types.SyncStatusError
	report.FinishedAt = e.cfg.Now()
	return err
}

// syncFolder returns the folder's next delta link. Nothing is returned for
// commit unless every item of the round was persisted.
func (e *Engine) syncFolder(ctx context.Context, mailbox *types.Mailbox, folder *clients.MailFolder, link string) (*FolderReport, string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FolderTimeout)
	defer cancel()

	fr := &FolderReport{FolderId: folder.ID, Name: folder.DisplayName}

	if link != "" {
		fr.Mode = SyncModeDelta
		next, err := e.deltaSync(ctx, mailbox, folder, link, fr)
		if err == nil {
			return fr, next, nil
		}
		if !clients.IsDeltaExpired(err) {
			return fr, "", err
		}
		log.Warn().Uint("mailbox_id", mailbox.Id).Str("folder", folder.DisplayName).Err(err).Msg("delta link expired, resyncing folder")
		fr.Mode = SyncModeResync
	} else {
		fr.Mode = SyncModeFull
	}

	next, err := e.fullSync(ctx, mailbox, folder, fr)
	if err != nil {
		return fr, "", err
	}
	return fr, next, nil
}

func (e *Engine) deltaSync(ctx context.Context, mailbox *types.Mailbox, folder *clients.MailFolder, link string, fr *FolderReport) (string, error) {
	result, err := e.graph.MessagesDelta(ctx, mailbox.CredentialId, mailbox.MailboxAddress, folder.ID, link)
	if err != nil {
		return "", err
	}

	for i := range result.Items {
		outcome, err := e.pipeline.Persist(ctx, mailbox, &result.Items[i])
		if err != nil {
			return "", err
		}
		fr.count(outcome)
	}

	for _, id := range result.DeletedIds {
		deleted, err := e.pipeline.Remove(ctx, id)
		if err != nil {
			return "", err
		}
		if deleted {
			fr.Deleted++
		}
	}

	return result.DeltaLink, nil
}

// fullSync seeds the baseline before listing, so messages arriving in between
// show up in the next delta round rather than falling through the gap
func (e *Engine) fullSync(ctx context.Context, mailbox *types.Mailbox, folder *clients.MailFolder, fr *FolderReport) (string, error) {
	baseline, err := e.graph.BaselineDelta(ctx, mailbox.CredentialId, mailbox.MailboxAddress, folder.ID)
	if err != nil {
		return "", fmt.Errorf("baseline delta: %w", err)
	}

	messages, err := e.graph.ListMessages(ctx, mailbox.CredentialId, mailbox.MailboxAddress, folder.ID, e.cfg.FullSyncLimit)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	for i := range messages {
		outcome, err := e.pipeline.Persist(ctx, mailbox, &messages[i])
		if err != nil {
			return "", err
		}
		fr.count(outcome)
	}
	return baseline, nil
}

func findFolder(folders []clients.MailFolder, name string) *clients.MailFolder {
	for i := range folders {
		if strings.EqualFold(strings.TrimSpace(folders[i].DisplayName), strings.TrimSpace(name)) {
			return &folders[i]
		}
	}
	return nil
}

// Delta links are kept per folder id in one JSON object. The links themselves
// are replayed verbatim.

func decodeDeltaLinks(mailbox *types.Mailbox) map[string]string {
	links := make(map[string]string)
	if mailbox.DeltaSyncToken == "" {
		return links
	}
	if err := json.Unmarshal([]byte(mailbox.DeltaSyncToken), &links); err != nil {
		log.Warn().Uint("mailbox_id", mailbox.Id).Err(err).Msg("unreadable delta state, running full sync")
		return make(map[string]string)
	}
	return links
}

func encodeDeltaLinks(links map[string]string) *string {
	b, _ := json.Marshal(links)
	s := string(b)
	return &s
}
