package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/seynadio/chatbridge/pkg/logger"
)

// Job is one recurring maintenance task, such as sweeping expired
// conversations or vacuuming the document database.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context) error
}

// Scheduler fires cron-scheduled jobs. Jobs run sequentially on the
// scheduler goroutine; a failing job is logged and retried on its next
// due tick.
type Scheduler struct {
	gron     *gronx.Gronx
	interval time.Duration

	mu     sync.Mutex
	jobs   []Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		gron:     gronx.New(),
		interval: time.Minute,
	}
}

func (s *Scheduler) Add(job Job) error {
	if !s.gron.IsValid(job.Expr) {
		return fmt.Errorf("invalid cron expression %q for job %s", job.Expr, job.Name)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)
	logger.InfoCF("maintenance", "Scheduler started", map[string]interface{}{
		"jobs": len(s.jobs),
	})
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
	logger.InfoC("maintenance", "Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, job := range jobs {
		due, err := s.gron.IsDue(job.Expr, now)
		if err != nil {
			logger.WarnCF("maintenance", "Cron check failed", map[string]interface{}{
				"job":   job.Name,
				"error": err.Error(),
			})
			continue
		}
		if !due {
			continue
		}
		logger.DebugCF("maintenance", "Running job", map[string]interface{}{"job": job.Name})
		if err := job.Run(ctx); err != nil {
			logger.ErrorCF("maintenance", "Job failed", map[string]interface{}{
				"job":   job.Name,
				"error": err.Error(),
			})
		}
	}
}
