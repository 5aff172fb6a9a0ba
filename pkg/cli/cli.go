package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Build information (injected at compile time via ldflags)
var (
	Version = "dev"
)

var (
	configPath string
	jsonOutput bool
)

// Custom help template with styled output
var helpTemplate = `{{with .Long}}{{. | trim}}

{{end}}{{if .HasAvailableSubCommands}}` + `{{.CommandPath}}` + ` ` + `<command>` + `

{{end}}{{if .HasAvailableSubCommands}}Commands:
{{range .Commands}}{{if .IsAvailableCommand}}  {{rpad .Name .NamePadding }}  {{.Short}}
{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}
Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}
`

var rootCmd = &cobra.Command{
	Use:   "mailsync",
	Short: "Mailbox sync operator tools",
	Long: lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true).Render("mailsync") + ` - Mailbox sync operator tools

Run migrations, trigger mailbox syncs, manage webhook subscriptions
and issue operator tokens against the configured backends.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		SetJSONOutput(jsonOutput)
	},
}

func init() {
	rootCmd.SetHelpTemplate(helpTemplate)
	rootCmd.SetVersionTemplate(fmt.Sprintf("  %s version %s\n", BrandStyle.Render("mailsync"), Version))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnv("CONFIG_PATH", ""), "Config file (yaml or json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(credentialCmd)
	rootCmd.AddCommand(keyCmd)
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
