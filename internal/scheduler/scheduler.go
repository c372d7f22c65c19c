package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Reconciler produces contracts that were left behind after payment.
type Reconciler interface {
	ReconcileContracts(ctx context.Context) (int, error)
}

// Scheduler runs contract reconciliation periodically. Runs never overlap.
type Scheduler struct {
	reconciler Reconciler
	interval   time.Duration
	logger     *logrus.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	jobMutex   sync.Mutex // Ensures sequential job execution
	startOnce  sync.Once
	stopOnce   sync.Once
	cancel     context.CancelFunc
}

func NewScheduler(reconciler Reconciler, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Scheduler{
		reconciler: reconciler,
		interval:   interval,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start runs one reconciliation immediately, then one per interval. Only the
// first call starts the loop.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel

		s.wg.Add(1)
		go s.run(ctx)
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.logger.WithField("interval", s.interval.String()).Info("Contract reconciliation scheduler started")
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	start := time.Now()
	n, err := s.reconciler.ReconcileContracts(ctx)
	fields := logrus.Fields{
		"job_type":  "reconcile_contracts",
		"generated": n,
		"duration":  time.Since(start).String(),
	}
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("Scheduled job failed")
		return
	}
	if n > 0 {
		s.logger.WithFields(fields).Info("Scheduled job completed successfully")
	} else {
		s.logger.WithFields(fields).Debug("Scheduled job found nothing to do")
	}
}

// Stop gracefully stops the scheduler, interrupting a running pass.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
}
