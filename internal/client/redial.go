package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/scribly/presence/internal/app/logger/logging"
	"github.com/scribly/presence/internal/wire"
)

// Redial re-opens the session with exponential backoff until it succeeds or
// the context is cancelled. Reconnection is application policy, not part of
// the presence protocol, which is why it lives next to the client instead of
// inside it.
func Redial(ctx context.Context, c *Client, noteID string, user wire.User) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until the context says otherwise

	return backoff.Retry(func() error {
		if err := c.Open(ctx, noteID, user); err != nil {
			slog.Debug("Redial attempt failed", logging.NoteID(noteID), logging.Error(err))
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}
