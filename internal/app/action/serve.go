package action

import (
	"context"
	"log/slog"

	"github.com/scribly/presence/internal/app/logger/logging"
	"github.com/scribly/presence/internal/presence"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func ServeCommand() *cli.Command {
	cmd := &cli.Command{
		Name:        "serve",
		Description: "Start the presence server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "bind-addr",
				Value: defaultBindAddr,
				Usage: "Address for the presence server to listen on",
			},
			&cli.StringFlag{
				Name:  "public-addr",
				Value: defaultPublicAddr,
				Usage: "Public address advertised in the well-known document",
			},
			&cli.StringSliceFlag{
				Name:  "cors-origin",
				Usage: "Allowed CORS origins (default: any)",
			},
			&cli.StringFlag{
				Name:  "auth-secret",
				Usage: "HS256 secret used to verify presence tokens (empty runs the server open)",
			},
			&cli.StringFlag{
				Name:  "resync-interval",
				Value: defaultResyncInterval,
				Usage: "How often to re-send the room-users snapshot to every room (0 disables)",
			},
			&cli.StringFlag{
				Name:  "wire-format",
				Value: defaultWireFormat,
				Usage: "Wire codec (json, cbor)",
			},
			&cli.StringFlag{
				Name:  "database-type",
				Value: defaultDatabaseType,
				Usage: "Audit trail database (none, memory, sqlite)",
			},
			&cli.StringFlag{
				Name:  "sqlite-path",
				Value: defaultDatabasePath,
				Usage: "Path to the sqlite audit database file",
			},
		},
	}

	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		db, err := selectDatabaseType(c)
		if err != nil {
			return err
		}
		defer func() {
			if db == nil {
				return
			}
			if err := db.Close(); err != nil {
				slog.Error("Failed to close database", logging.Error(err))
			}
		}()

		opts, err := selectServerOptions(c)
		if err != nil {
			return err
		}
		srv := presence.NewServer(db, opts...)

		if db != nil {
			unsubscribe := presence.AttachAuditLog(srv.Bus, db)
			defer unsubscribe()
		}

		start, stop := srv.Handlers()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		group, groupContext := errgroup.WithContext(ctx)
		group.Go(func() error {
			srv.Registry.Run(groupContext)
			return nil
		})
		group.Go(func() error {
			defer cancel()
			return srv.Graceful(groupContext, start, stop)
		})
		return group.Wait()
	}

	return cmd
}
