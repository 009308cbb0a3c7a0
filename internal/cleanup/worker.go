// Package cleanup runs periodic housekeeping: pruning lapsed signups and
// forcing silent drivers out of the online index.
package cleanup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camride/dispatch/internal/keys"
	"github.com/camride/dispatch/internal/presence"
	"github.com/camride/dispatch/pkg/config"
	"github.com/camride/dispatch/pkg/logger"
	redisClient "github.com/camride/dispatch/pkg/redis"
)

const (
	tickInterval       = 1 * time.Minute
	presenceSweepEvery = 5 * time.Minute
	signupPruneEvery   = 1 * time.Hour
	staleLocationAfter = 1 * time.Hour
	pruneBatchSize     = 200
)

// Presence is the slice of the presence service the worker needs.
type Presence interface {
	GetLocation(ctx context.Context, driverID uuid.UUID) (*presence.DriverLocation, error)
	GoOffline(ctx context.Context, driverID uuid.UUID) error
}

// ArtifactRemover deletes a partially uploaded signup document from the
// object store. Nil disables artifact removal.
type ArtifactRemover func(ctx context.Context, url string) error

// Worker runs the housekeeping loop.
type Worker struct {
	signups        SignupStore
	redis          redisClient.ClientInterface
	presence       Presence
	removeArtifact ArtifactRemover
	runOnStartup   bool

	done chan struct{}
	now  func() time.Time

	lastPresenceSweep time.Time
	lastSignupPrune   time.Time
}

// NewWorker creates the cleanup worker.
func NewWorker(signups SignupStore, redis redisClient.ClientInterface, pres Presence, removeArtifact ArtifactRemover, cfg config.CleanupConfig) *Worker {
	return &Worker{
		signups:        signups,
		redis:          redis,
		presence:       pres,
		removeArtifact: removeArtifact,
		runOnStartup:   cfg.RunOnStartup,
		done:           make(chan struct{}),
		now:            time.Now,
	}
}

// Start runs the housekeeping loop until the context is canceled or Stop is
// called.
func (w *Worker) Start(ctx context.Context) {
	logger.Info("cleanup worker started")

	if w.runOnStartup {
		w.sweepStalePresence(ctx)
		w.pruneExpiredSignups(ctx)
	}
	now := w.now()
	w.lastPresenceSweep = now
	w.lastSignupPrune = now

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			logger.Info("cleanup worker stopped")
			return
		case <-w.done:
			logger.Info("cleanup worker shutdown requested")
			return
		}
	}
}

// Stop shuts the worker down.
func (w *Worker) Stop() {
	close(w.done)
}

func (w *Worker) tick(ctx context.Context) {
	now := w.now()
	if now.Sub(w.lastPresenceSweep) >= presenceSweepEvery {
		w.lastPresenceSweep = now
		w.sweepStalePresence(ctx)
	}
	if now.Sub(w.lastSignupPrune) >= signupPruneEvery {
		w.lastSignupPrune = now
		w.pruneExpiredSignups(ctx)
	}
}

// sweepStalePresence forces drivers whose last location report is over an
// hour old out of the online index, so dispatch never offers trips to a
// phone that died mid-shift.
func (w *Worker) sweepStalePresence(ctx context.Context) {
	online, err := w.redis.SetMembers(ctx, keys.DriversOnline)
	if err != nil {
		logger.WarnContext(ctx, "presence sweep failed to list online drivers", zap.Error(err))
		return
	}

	var forced int
	for _, member := range online {
		driverID, err := uuid.Parse(member)
		if err != nil {
			logger.WarnContext(ctx, "presence sweep found malformed member", zap.String("member", member))
			continue
		}
		if !w.isStale(ctx, driverID) {
			continue
		}
		if err := w.presence.GoOffline(ctx, driverID); err != nil {
			logger.WarnContext(ctx, "presence sweep failed to force driver offline",
				zap.String("driver_id", member), zap.Error(err))
			continue
		}
		forced++
	}

	if forced > 0 {
		logger.InfoContext(ctx, "presence sweep forced stale drivers offline",
			zap.Int("count", forced), zap.Int("online", len(online)))
	}
}

// isStale reports whether the driver has gone silent for staleLocationAfter.
// The location hash expires minutes after the last report, so when it is
// gone the longer-lived heartbeat key decides.
func (w *Worker) isStale(ctx context.Context, driverID uuid.UUID) bool {
	loc, err := w.presence.GetLocation(ctx, driverID)
	if err == nil {
		return w.now().Sub(loc.Timestamp) >= staleLocationAfter
	}

	alive, err := w.redis.Exists(ctx, keys.DriverOnline(driverID.String()))
	if err != nil {
		logger.WarnContext(ctx, "presence sweep failed to check heartbeat",
			zap.String("driver_id", driverID.String()), zap.Error(err))
		return false
	}
	return !alive
}

// pruneExpiredSignups deletes signups whose confirmation window lapsed,
// removing any uploaded document first. A row whose artifact cannot be
// deleted is kept so the next run retries it.
func (w *Worker) pruneExpiredSignups(ctx context.Context) {
	var pruned int
	for {
		expired, err := w.signups.ListExpired(ctx, pruneBatchSize)
		if err != nil {
			logger.WarnContext(ctx, "signup prune failed to list expired rows", zap.Error(err))
			return
		}
		if len(expired) == 0 {
			break
		}

		var deleted int
		for _, s := range expired {
			if s.DocumentURL != nil && w.removeArtifact != nil {
				if err := w.removeArtifact(ctx, *s.DocumentURL); err != nil {
					logger.WarnContext(ctx, "signup prune failed to remove artifact",
						zap.String("signup_id", s.ID.String()), zap.Error(err))
					continue
				}
			}
			if err := w.signups.Delete(ctx, s.ID); err != nil {
				logger.WarnContext(ctx, "signup prune failed to delete row",
					zap.String("signup_id", s.ID.String()), zap.Error(err))
				continue
			}
			deleted++
		}
		pruned += deleted

		// A short batch means the backlog is drained; a batch where nothing
		// could be deleted would otherwise loop forever.
		if len(expired) < pruneBatchSize || deleted == 0 {
			break
		}
	}

	if pruned > 0 {
		logger.InfoContext(ctx, "signup prune removed expired signups", zap.Int("count", pruned))
	}
}
