package cli

import (
	"context"
	"errors"
	"time"

	"github.com/beam-cloud/mailsync/pkg/auth"
	"github.com/beam-cloud/mailsync/pkg/secrets"
	"github.com/spf13/cobra"
)

var (
	tokenSubject  string
	tokenBusiness uint
	tokenExpires  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage operator API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an operator token signed with gateway.authSecret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		if config.Gateway.AuthSecret == "" {
			return errors.New("gateway.authSecret is not configured")
		}

		validator, err := auth.NewJWTValidator(config.Gateway.AuthSecret)
		if err != nil {
			return err
		}
		token, err := validator.Issue(tokenSubject, tokenBusiness, tokenExpires)
		if err != nil {
			return err
		}

		if PrintJSON(map[string]any{"token": token, "expires_in": tokenExpires.String()}) {
			return nil
		}

		PrintSuccess("Token issued")
		PrintNewline()
		// One-time display
		PrintKeyValueStyled("Token", token, CodeStyle)
		PrintKeyValue("Subject", tokenSubject)
		if tokenBusiness == 0 {
			PrintKeyValue("Scope", "all businesses")
		} else {
			PrintKeyValue("Scope", "business "+formatUint(tokenBusiness))
		}
		PrintKeyValue("Expires", time.Now().Add(tokenExpires).Format(time.RFC3339))
		PrintNewline()
		return nil
	},
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Inspect stored OAuth credentials",
}

var credentialCheckCmd = &cobra.Command{
	Use:   "check <credential_id>",
	Short: "Obtain an access token for a credential, refreshing it if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		credentialId, err := parseID(args[0])
		if err != nil {
			return err
		}

		services, err := openServices()
		if err != nil {
			return err
		}
		defer closeServices(services)

		ctx := context.Background()
		err = withSpinner("Checking credential...", func() error {
			_, err := services.Tokens.AccessToken(ctx, credentialId)
			return err
		})
		if err != nil {
			return err
		}

		cred, err := services.Credentials.Get(ctx, credentialId)
		if err != nil {
			return err
		}

		if PrintJSON(cred.Credential) {
			return nil
		}
		PrintSuccess("Credential is usable")
		PrintKeyValue("Business", formatUint(cred.BusinessId))
		PrintKeyValue("Tenant", cred.TenantId)
		PrintKeyValue("Expires", cred.TokenExpiresAt.Format(time.RFC3339))
		PrintKeyValue("Version", formatUint(uint(cred.TokenVersion)))
		return nil
	},
}

var keyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a base64 key for encryption.key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := secrets.GenerateKey()
		if err != nil {
			return err
		}
		if !PrintJSON(map[string]string{"key": key}) {
			PrintKeyValueStyled("Key", key, CodeStyle)
		}
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	tokenIssueCmd.Flags().UintVar(&tokenBusiness, "business", 0, "Restrict the token to one business (0 for all)")
	tokenIssueCmd.Flags().DurationVar(&tokenExpires, "expires", 24*time.Hour, "Token lifetime")
	tokenCmd.AddCommand(tokenIssueCmd)

	credentialCmd.AddCommand(credentialCheckCmd)
}
