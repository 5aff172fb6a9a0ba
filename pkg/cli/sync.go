package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/beam-cloud/mailsync/pkg/gateway"
	"github.com/beam-cloud/mailsync/pkg/mailsync"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/spf13/cobra"
)

var removeSubscription bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}

		backend, rdb, err := gateway.OpenBackends(config, "MailsyncCLI")
		if err != nil {
			return err
		}
		defer closeBackends(backend, rdb)

		if err := withSpinner("Running migrations...", backend.RunMigrations); err != nil {
			return err
		}
		if !PrintJSON(map[string]bool{"migrated": true}) {
			PrintSuccess("Migrations applied")
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <mailbox_id>",
	Short: "Run one sync pass for a mailbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mailboxId, err := parseID(args[0])
		if err != nil {
			return err
		}

		services, err := openServices()
		if err != nil {
			return err
		}
		defer closeServices(services)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var report *mailsync.SyncReport
		err = withSpinner("Syncing mailbox...", func() error {
			var err error
			report, err = services.Engine.SyncMailbox(ctx, mailboxId)
			return err
		})

		// An aborted pass still reports the folders it got through
		var aborted *types.MailboxSyncAbortedError
		if err != nil && !(errors.As(err, &aborted) && report != nil) {
			return err
		}

		if !PrintJSON(report) {
			printReport(report)
		}
		return err
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <mailbox_id>",
	Short: "Create or renew a mailbox's change notification subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mailboxId, err := parseID(args[0])
		if err != nil {
			return err
		}

		services, err := openServices()
		if err != nil {
			return err
		}
		defer closeServices(services)

		ctx := context.Background()
		mailbox, err := services.Backend.GetMailbox(ctx, mailboxId)
		if err != nil {
			return err
		}
		if mailbox == nil {
			return &types.MailboxNotFoundError{MailboxId: mailboxId}
		}

		if removeSubscription {
			if err := services.Subscriptions.RemoveSubscription(ctx, mailbox); err != nil {
				return err
			}
			if !PrintJSON(mailbox) {
				PrintSuccess("Subscription removed")
			}
			return nil
		}

		if !services.Subscriptions.Enabled() {
			return errors.New("webhooks.notificationUrl is not configured")
		}

		changed, err := services.Subscriptions.EnsureSubscription(ctx, mailbox)
		if err != nil {
			return err
		}

		if PrintJSON(mailbox) {
			return nil
		}
		if changed {
			PrintSuccess("Subscription updated")
		} else {
			PrintInfo("Subscription is current")
		}
		PrintKeyValue("ID", mailbox.WebhookSubscriptionId)
		if mailbox.WebhookExpiresAt != nil {
			PrintKeyValue("Expires", mailbox.WebhookExpiresAt.Format("2006-01-02 15:04 MST"))
		}
		return nil
	},
}

func init() {
	subscribeCmd.Flags().BoolVar(&removeSubscription, "remove", false, "Delete the subscription instead")
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id: %q", arg)
	}
	return uint(id), nil
}

func printReport(report *mailsync.SyncReport) {
	PrintNewline()
	if report.Skipped {
		PrintWarning("Another sync pass holds this mailbox")
		PrintNewline()
		return
	}

	PrintKeyValue("Mailbox", strconv.FormatUint(uint64(report.MailboxId), 10))
	PrintKeyValueStyled("Status", string(report.Status), statusStyle(report.Status))
	PrintKeyValue("Duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String())
	PrintNewline()

	table := NewTable("FOLDER", "MODE", "CREATED", "DUPLICATE", "FILTERED", "DELETED", "ERROR")
	for _, f := range report.Folders {
		table.AddRow(
			f.Name,
			string(f.Mode),
			strconv.Itoa(f.Created),
			strconv.Itoa(f.Duplicates),
			strconv.Itoa(f.Filtered),
			strconv.Itoa(f.Deleted),
			Truncate(f.Error, 48),
		)
	}
	table.Print()
	PrintNewline()
}
