package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/hooks"
	"github.com/soyeahso/vlowchat/internal/invoice"
	"github.com/spf13/cobra"
)

func newInvoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Work with the invoice ledger",
	}
	cmd.AddCommand(newInvoiceExportCmd())
	return cmd
}

func newInvoiceExportCmd() *cobra.Command {
	var (
		user     string
		statuses []string
		chatID   string
		out      string
	)

	cmd := &cobra.Command{
		Use:   "export <workspace-id>",
		Short: "Export invoices to an .xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := invoice.New(db, hooks.NewManager(log), cfg.Invoices.NumberPrefix, log)
			p := domain.Principal{UserID: user, Kind: domain.TokenKindAgent, Label: "cli"}

			var buf bytes.Buffer
			n, err := svc.Export(cmd.Context(), p, args[0], invoice.ListRequest{
				Statuses: statuses,
				ChatID:   chatID,
			}, &buf)
			if err != nil {
				return err
			}

			if out == "" {
				if err := paths.EnsureDirs(); err != nil {
					return err
				}
				out = filepath.Join(paths.Exports, fmt.Sprintf("invoices-%s-%s.xlsx",
					strings.SplitN(args[0], "-", 2)[0], time.Now().Format("20060102")))
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o600); err != nil {
				return err
			}
			fmt.Printf("Exported %d invoice(s) to %s\n", n, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "member user id to export as")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (repeatable)")
	cmd.Flags().StringVar(&chatID, "chat", "", "filter by chat id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default ~/.vlowchat/exports/...)")
	return cmd
}
