// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartPoolScheduler runs the weekly-pool housekeeping: keep the current
// week's pool open and distribute any pool whose period has closed.
func (s *WeeklyPoolService) StartPoolScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every hour: ensure the current pool exists, then pay out closed ones
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			if _, err := s.EnsurePoolForWeek(time.Now().UTC()); err != nil {
				log.Printf("[Scheduler] Failed to ensure weekly pool: %v", err)
			}

			closed, err := s.ClosedUndistributed()
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}

			for _, pool := range closed {
				if _, err := s.Distribute(pool.ID); err != nil {
					log.Printf("[Scheduler] Failed to distribute pool %s: %v", pool.ID, err)
				} else {
					log.Printf("✅ Auto-distributed weekly pool: %s", pool.ID)
				}
			}
		}),
	)
}
