package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/soyeahso/vlowchat/internal/channel/widget"
	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/gateway"
	"github.com/soyeahso/vlowchat/internal/store"
	"github.com/spf13/cobra"
)

// withDB loads config, opens the database and runs fn.
func withDB(fn func(db *store.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

// newSecret returns a random opaque credential with the given prefix.
func newSecret(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage workspaces",
	}
	cmd.AddCommand(newWorkspaceCreateCmd())
	cmd.AddCommand(newWorkspaceListCmd())
	cmd.AddCommand(newWorkspaceWidgetCmd())
	return cmd
}

func newWorkspaceCreateCmd() *cobra.Command {
	var ws domain.Workspace
	var owner string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws.Name = args[0]
			return withDB(func(db *store.DB) error {
				created, err := db.CreateWorkspace(cmd.Context(), ws)
				if err != nil {
					return err
				}
				if owner != "" {
					if _, err := db.AddMember(cmd.Context(), created.ID, owner, domain.RoleOwner); err != nil {
						return err
					}
				}
				fmt.Printf("Created workspace %s (%s)\n", created.ID, created.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ws.WhatsAppPhoneNumber, "phone", "", "WhatsApp business number that routes to this workspace")
	cmd.Flags().StringVar(&ws.Timezone, "timezone", "", "IANA timezone for daily invoice numbering (default UTC)")
	cmd.Flags().StringVar(&ws.CurrencyCode, "currency", "", "default invoice currency (default IDR)")
	cmd.Flags().StringVar(&ws.Locale, "locale", "", "display locale (default id-ID)")
	cmd.Flags().StringVar(&owner, "owner", "", "user id to add as owner")
	return cmd
}

func newWorkspaceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *store.DB) error {
				list, err := db.ListWorkspaces(cmd.Context())
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No workspaces.")
					return nil
				}
				for _, ws := range list {
					phone := ws.WhatsAppPhoneNumber
					if phone == "" {
						phone = "-"
					}
					fmt.Printf("%s  %-24s phone=%s tz=%s widget_secret=%v\n",
						ws.ID, ws.Name, phone, ws.Timezone, ws.HasWidgetSecret())
				}
				return nil
			})
		},
	}
}

func newWorkspaceWidgetCmd() *cobra.Command {
	var (
		rotate  bool
		origins []string
	)

	cmd := &cobra.Command{
		Use:   "widget <workspace-id>",
		Short: "Configure the website widget secret and allowed origins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *store.DB) error {
				ws, err := db.GetWorkspace(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				hash := ws.WidgetSecretHash
				var secret string
				if rotate {
					secret = newSecret("vw_")
					hash = widget.HashSecret(secret)
				}
				if !cmd.Flags().Changed("origin") {
					origins = ws.WidgetAllowedOrigins
				}
				if err := db.UpdateWidgetSettings(cmd.Context(), ws.ID, hash, origins); err != nil {
					return err
				}
				if secret != "" {
					fmt.Printf("Widget secret (shown once): %s\n", secret)
				}
				fmt.Printf("Allowed origins: %s\n", strings.Join(origins, ", "))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&rotate, "rotate-secret", false, "generate a new widget secret")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "allowed browser origin (repeatable; empty allows any)")
	return cmd
}

func newMemberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage workspace members",
	}
	cmd.AddCommand(newMemberAddCmd())
	cmd.AddCommand(newMemberListCmd())
	return cmd
}

func newMemberAddCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "add <workspace-id> <user-id>",
		Short: "Add a user to a workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withDB(func(db *store.DB) error {
				m, err := db.AddMember(cmd.Context(), args[0], args[1], r)
				if err != nil {
					return err
				}
				fmt.Printf("Added %s to %s as %s\n", m.UserID, m.WorkspaceID, m.Role)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", string(domain.RoleAdmin), "member role (owner, admin)")
	return cmd
}

func newMemberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <workspace-id>",
		Short: "List workspace members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *store.DB) error {
				members, err := db.ListMembers(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, m := range members {
					fmt.Printf("%-24s %s\n", m.UserID, m.Role)
				}
				return nil
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(newTokenCreateCmd())
	return cmd
}

func newTokenCreateCmd() *cobra.Command {
	var (
		kind  string
		label string
	)

	cmd := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Issue an API token for a user (agent or ai)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := domain.TokenKind(kind)
			if k != domain.TokenKindAgent && k != domain.TokenKindAI {
				return fmt.Errorf("invalid token kind %q (want agent or ai)", kind)
			}
			token := newSecret("vc_")
			return withDB(func(db *store.DB) error {
				if err := db.CreateToken(cmd.Context(), gateway.HashToken(token), args[0], label, k); err != nil {
					return err
				}
				fmt.Printf("Token for %s (%s, shown once):\n%s\n", args[0], k, token)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(domain.TokenKindAgent), "token kind (agent, ai)")
	cmd.Flags().StringVar(&label, "label", "", "free-form label")
	return cmd
}
