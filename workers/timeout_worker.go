package workers

import (
	"context"
	"log"
	"time"

	"rps-arena-system/cache"
	"rps-arena-system/models"
	"rps-arena-system/services"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// TimeoutReclaimer forces terminal resolution of abandoned matches. It polls
// the durable store on a fixed interval, independent of request traffic, and
// refunds escrowed stakes to every bound player. Per-match failures are
// logged and skipped; a failed match stays non-terminal and is re-selected
// next cycle.
type TimeoutReclaimer struct {
	DB     *gorm.DB
	Cache  *cache.MatchCache
	Txns   *services.TransactionService
	Events *services.EventBroker

	MatchTimeout  time.Duration
	CheckInterval time.Duration
}

func NewTimeoutReclaimer(db *gorm.DB, matchCache *cache.MatchCache, txns *services.TransactionService, events *services.EventBroker, matchTimeout, checkInterval time.Duration) *TimeoutReclaimer {
	return &TimeoutReclaimer{
		DB:            db,
		Cache:         matchCache,
		Txns:          txns,
		Events:        events,
		MatchTimeout:  matchTimeout,
		CheckInterval: checkInterval,
	}
}

// Start schedules the reclaimer and blocks until ctx is cancelled.
func (w *TimeoutReclaimer) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.CheckInterval),
		gocron.NewTask(func() {
			w.CheckExpiredMatches(ctx)
		}),
	)
	if err != nil {
		return err
	}

	sched.Start()
	log.Printf("✅ Timeout reclaimer running (every %s, match timeout %s)", w.CheckInterval, w.MatchTimeout)

	<-ctx.Done()
	return sched.Shutdown()
}

// CheckExpiredMatches runs one reclamation cycle.
func (w *TimeoutReclaimer) CheckExpiredMatches(ctx context.Context) {
	threshold := time.Now().UTC().Add(-w.MatchTimeout)

	var expired []models.Match
	err := w.DB.
		Where("status IN ? AND created_at < ?",
			[]string{models.MatchStatusWaiting, models.MatchStatusInProgress}, threshold).
		Find(&expired).Error
	if err != nil {
		log.Printf("[Reclaimer] DB error: %v", err)
		return
	}

	if len(expired) > 0 {
		log.Printf("[Reclaimer] Found %d expired matches", len(expired))
	}

	for i := range expired {
		if err := w.processExpiredMatch(ctx, &expired[i]); err != nil {
			log.Printf("[Reclaimer] Error processing match %s: %v", expired[i].ID, err)
			continue
		}
	}
}

// processExpiredMatch marks one match timed out and refunds every player who
// escrowed a stake. Everything durable happens in one transaction; the cache
// entries are deleted afterwards whether or not they still exist.
func (w *TimeoutReclaimer) processExpiredMatch(ctx context.Context, match *models.Match) error {
	err := w.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND status IN ?", match.ID,
				[]string{models.MatchStatusWaiting, models.MatchStatusInProgress}).
			Updates(map[string]any{
				"status":       models.MatchStatusTimeout,
				"completed_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// settled or reclaimed concurrently; nothing to do
			return nil
		}

		// The scan snapshot can be stale: a join landing between scan and
		// the update above has already escrowed two stakes. Refund from the
		// row as it stands now, not as it looked during the scan.
		var current models.Match
		if err := tx.First(&current, "id = ?", match.ID).Error; err != nil {
			return err
		}

		// Stakes are escrowed only once a second player joins, so a match
		// that never left waiting has nothing to refund.
		if current.StakeAmount > 0 && current.Player2ID != nil {
			for _, playerID := range []string{current.Player1ID, *current.Player2ID} {
				if _, err := w.Txns.RefundStakeTx(tx, playerID, current.StakeAmount, current.ID, "Match timeout"); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := w.Cache.Purge(ctx, match.ID); err != nil {
		log.Printf("[Reclaimer] Cache purge failed for match %s: %v", match.ID, err)
	}

	if w.Events != nil {
		w.Events.Publish(match.ID, services.EventMatchTimeout, map[string]any{
			"match_id": match.ID,
			"status":   models.MatchStatusTimeout,
		})
	}

	log.Printf("[Reclaimer] Match %s marked as timeout", match.ID)
	return nil
}
