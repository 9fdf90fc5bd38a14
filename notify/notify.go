// Package notify surfaces due prospective memories as desktop
// notifications.
package notify

import (
	"time"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"github.com/mnemo-agent/mnemod/stores"
)

// Notifier scans a prospective store and raises one desktop notification per
// newly due intention. Notification failures are logged and the memory is
// still marked triggered, so a headless host doesn't re-notify forever.
type Notifier struct {
	store  *stores.ProspectiveStore
	logger zerolog.Logger
}

func New(store *stores.ProspectiveStore, logger zerolog.Logger) *Notifier {
	return &Notifier{
		store:  store,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// ScanDue notifies for every pending intention whose trigger time has
// passed. Returns how many were triggered.
func (n *Notifier) ScanDue(now time.Time) int {
	due := n.store.GetDue(now.UnixMilli())
	for _, m := range due {
		if err := beeep.Notify("Reminder", m.Intention, ""); err != nil {
			n.logger.Warn().Err(err).Str("id", m.ID).Msg("Desktop notification failed")
		}
		if err := n.store.MarkTriggered(m.ID); err != nil {
			n.logger.Warn().Err(err).Str("id", m.ID).Msg("Could not mark intention triggered")
			continue
		}
		n.logger.Info().Str("id", m.ID).Str("intention", m.Intention).Msg("Prospective memory triggered")
	}
	return len(due)
}
