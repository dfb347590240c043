package action

import (
	"context"
	"fmt"
	"time"

	"github.com/scribly/presence/internal/auth"
	"github.com/scribly/presence/internal/wire"
	"github.com/urfave/cli/v3"
)

// TokenCommand mints a presence token for local development. Production
// tokens come from the account service, not from this binary.
func TokenCommand() *cli.Command {
	cmd := &cli.Command{
		Name:        "token",
		Description: "Mint a development presence token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "auth-secret",
				Usage:    "HS256 secret shared with the presence server",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "user-id",
				Usage:    "Subject of the token",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Display name",
			},
			&cli.StringFlag{
				Name:  "avatar-url",
				Usage: "Avatar reference",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Value: 24 * time.Hour,
				Usage: "Token lifetime",
			},
		},
	}

	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		verifier := auth.NewTokenVerifier(c.String("auth-secret"))
		token, err := verifier.Issue(wire.User{
			ID:        c.String("user-id"),
			Name:      c.String("name"),
			AvatarURL: c.String("avatar-url"),
		}, c.Duration("ttl"))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	return cmd
}
