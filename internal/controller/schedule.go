package controller

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Schedule runs Sync every interval until ctx is done. A tick that finds a
// synchronization already running is skipped. A non-positive interval
// disables the schedule.
func (c *Controller) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		log.Info().Msg("Background synchronization disabled")
		return nil
	}

	log.Info().Dur("interval", interval).Msg("Background synchronization scheduled")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := c.Sync(ctx)
			switch {
			case errors.Is(err, ErrBusy):
				log.Debug().Msg("Scheduled synchronization skipped, another one is running")
			case err != nil:
				log.Warn().Err(err).Msg("Scheduled synchronization failed")
			}
		}
	}
}
