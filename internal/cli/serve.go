package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/vlowchat/internal/channel"
	"github.com/soyeahso/vlowchat/internal/channel/whatsapp"
	"github.com/soyeahso/vlowchat/internal/channel/widget"
	"github.com/soyeahso/vlowchat/internal/dispatch"
	"github.com/soyeahso/vlowchat/internal/gateway"
	"github.com/soyeahso/vlowchat/internal/hooks"
	"github.com/soyeahso/vlowchat/internal/inbox"
	"github.com/soyeahso/vlowchat/internal/ingest"
	"github.com/soyeahso/vlowchat/internal/invoice"
	"github.com/soyeahso/vlowchat/internal/media"
	"github.com/soyeahso/vlowchat/internal/ratelimit"
	"github.com/soyeahso/vlowchat/internal/realtime"
	"github.com/soyeahso/vlowchat/internal/store"
	"github.com/spf13/cobra"
)

const prunerInterval = 5 * time.Minute

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"run", "gateway"},
		Short:   "Start the HTTP and WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			log.Info().Str("driver", db.Driver()).Msg("database ready")

			hookMgr := hooks.NewManager(log)

			limiter := ratelimit.New(db, cfg.RateLimit.Requests, cfg.RateLimit.Window(), log)
			go limiter.RunPruner(ctx, prunerInterval)

			waClient := whatsapp.NewClient(cfg.WhatsApp, log)
			if !waClient.Configured() {
				log.Warn().Msg("whatsapp credentials missing, outbound whatsapp sends will fail")
			}
			channels := channel.NewRegistry(log)
			channels.Register(whatsapp.NewChannel(waClient))
			channels.Register(widget.NewChannel())

			ingestOpts := ingest.Options{
				Store:               db,
				Workspaces:          store.NewWorkspaceCache(db, cfg.Cache.WorkspaceTTL()),
				Limiter:             limiter,
				MediaTimeout:        cfg.Media.Timeout(),
				Hooks:               hookMgr,
				RequireWidgetSecret: cfg.Widget.RequireSecret,
				Log:                 log,
			}
			if cfg.Media.Enabled {
				uploader, err := media.NewUploader(cfg.Media, log)
				if err != nil {
					return err
				}
				ingestOpts.Media = media.NewRehoster(waClient, uploader, cfg.Media.MaxBytes)
			}

			if cfg.Realtime.AMQP.URL != "" {
				pub, err := realtime.DialAMQP(ctx, cfg.Realtime.AMQP, log)
				if err != nil {
					return fmt.Errorf("connecting to amqp: %w", err)
				}
				defer pub.Close()

				bridge := realtime.NewBridge(pub, cfg.Realtime.AMQP.Producer, cfg.Realtime.AMQP.QueueSize, log)
				bridge.Attach(hookMgr)
				bridgeCtx, stopBridge := context.WithCancel(ctx)
				bridgeDone := make(chan struct{})
				go func() {
					defer close(bridgeDone)
					bridge.Run(bridgeCtx)
				}()
				defer func() {
					stopBridge()
					<-bridgeDone
				}()
			}

			ingestSvc := ingest.New(ingestOpts)
			defer ingestSvc.Wait()

			srv := gateway.New(cfg, log,
				gateway.WithDirectory(db),
				gateway.WithPinger(db),
				gateway.WithHooks(hookMgr),
				gateway.WithChannels(channels),
				gateway.WithIngest(ingestSvc),
				gateway.WithDispatch(dispatch.New(dispatch.Options{
					Store:       db,
					Channels:    channels,
					Hooks:       hookMgr,
					SendTimeout: cfg.WhatsApp.Timeout(),
					Log:         log,
				})),
				gateway.WithInbox(inbox.New(db, hookMgr, log)),
				gateway.WithInvoices(invoice.New(db, hookMgr, cfg.Invoices.NumberPrefix, log)),
			)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and list them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.AppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range applied {
				fmt.Printf("%03d  %-28s %s\n", m.Version, m.Name, m.AppliedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
