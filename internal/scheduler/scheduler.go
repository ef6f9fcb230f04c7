package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the nightly index verification pass. Conversation record
// files are the source of truth; this pass rebuilds any owner index that
// drifted from them (e.g. after a crash between the two commit renames).
type Scheduler struct {
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	verifyFunc func(ctx context.Context) error
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetVerifyFunction sets the function that checks and repairs owner indexes.
func (s *Scheduler) SetVerifyFunction(f func(ctx context.Context) error) {
	s.verifyFunc = f
}

// Start schedules the verification pass. spec is a standard cron expression
// evaluated in UTC.
func (s *Scheduler) Start(spec string) error {
	if s.verifyFunc == nil {
		log.Println("⚠️ Verify function not set, scheduler will not check indexes")
		return nil
	}

	_, err := s.cron.AddFunc(spec, func() {
		log.Printf("🕘 Triggered index verification (%s UTC)", spec)
		if err := s.verifyFunc(s.ctx); err != nil {
			log.Printf("❌ Index verification failed: %v", err)
		}
	})

	if err != nil {
		return err
	}

	s.cron.Start()
	log.Printf("📅 Scheduler started - index verification at %q UTC", spec)
	return nil
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	log.Println("📅 Scheduler stopped")
}

// IsRunning reports whether any job is scheduled.
func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
