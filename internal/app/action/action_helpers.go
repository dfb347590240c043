package action

import (
	"fmt"
	"time"

	"github.com/scribly/presence/internal/database"
	"github.com/scribly/presence/internal/presence"
	"github.com/urfave/cli/v3"
)

// selectDatabaseType opens the audit database named by the flags, or returns
// nil when auditing is disabled.
func selectDatabaseType(c *cli.Command) (*database.SQLite, error) {
	switch c.String("database-type") {
	case "none":
		return nil, nil
	case "memory":
		return database.NewMemory()
	case "sqlite":
		return database.NewLocal(c.String("sqlite-path"))
	default:
		return nil, fmt.Errorf("unknown database type: %q", c.String("database-type"))
	}
}

func selectServerOptions(c *cli.Command) ([]presence.Option, error) {
	resyncEvery, err := time.ParseDuration(c.String("resync-interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid resync interval: %w", err)
	}

	opts := []presence.Option{
		presence.WithAddr(c.String("bind-addr"), c.String("public-addr")),
		presence.WithResyncEvery(resyncEvery),
		presence.WithWireFormat(c.String("wire-format")),
		presence.WithVersion(c.Root().Version),
	}
	if origins := c.StringSlice("cors-origin"); len(origins) > 0 {
		opts = append(opts, presence.WithCORSAllowedOrigins(origins))
	}
	if secret := c.String("auth-secret"); secret != "" {
		opts = append(opts, presence.WithAuthSecret(secret))
	}
	return opts, nil
}
