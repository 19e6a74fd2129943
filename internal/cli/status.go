package cli

import (
	"fmt"
	"os"

	"github.com/soyeahso/vlowchat/internal/config"
	"github.com/soyeahso/vlowchat/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vlowchat status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("vlowchat %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:   %s\n", paths.Config)
			fmt.Printf("Data:     %s\n", paths.Data)
			fmt.Printf("Exports:  %s\n", paths.Exports)
			fmt.Println()

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Println("Config:   not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:   error loading: %v\n", err)
				return nil
			}

			fmt.Printf("Server:   port=%d bind=%s tls=%v\n", cfg.Server.Port, cfg.Server.Bind, cfg.Server.TLS.Enabled)
			dsn := cfg.Database.DSN
			if dsn == "" {
				dsn = paths.DefaultSQLitePath()
			}
			if cfg.Database.Driver == "postgres" {
				dsn = "(configured)"
			}
			fmt.Printf("Database: driver=%s dsn=%s\n", cfg.Database.Driver, dsn)

			if cfg.WhatsApp.Configured() {
				fmt.Printf("WhatsApp: phone_number_id=%s api=%s signed_webhooks=%v\n",
					cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.APIVersion, cfg.WhatsApp.AppSecret != "")
			} else {
				fmt.Println("WhatsApp: (not configured)")
			}
			fmt.Printf("Widget:   rate=%d/%ds require_secret=%v\n",
				cfg.RateLimit.Requests, cfg.RateLimit.WindowSeconds, cfg.Widget.RequireSecret)

			if cfg.Media.Enabled {
				fmt.Printf("Media:    bucket=%s region=%s\n", cfg.Media.Bucket, cfg.Media.Region)
			} else {
				fmt.Println("Media:    (disabled)")
			}
			if cfg.Realtime.AMQP.URL != "" {
				fmt.Printf("AMQP:     exchange=%s\n", cfg.Realtime.AMQP.Exchange)
			} else {
				fmt.Println("AMQP:     (disabled)")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
