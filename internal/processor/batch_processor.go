package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"immotech/server/config"
	"immotech/server/internal/models"
	"immotech/server/internal/queue"
)

// BatchWriter persists a batch of listings atomically.
type BatchWriter interface {
	UpsertProperties(ctx context.Context, props []*models.Property) error
}

// BatchProcessor drains a property queue with a fixed pool of workers.
type BatchProcessor struct {
	writer    BatchWriter
	logger    *logrus.Logger
	config    *config.Config
	queue     *queue.PropertyQueue
	waitGroup sync.WaitGroup

	mu       sync.Mutex
	written  int
	failures []error
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(writer BatchWriter, q *queue.PropertyQueue, cfg *config.Config, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	return &BatchProcessor{
		writer: writer,
		queue:  q,
		config: cfg,
		logger: logger,
	}
}

// Start launches the workers. They exit once the queue is closed and
// drained, or when ctx is cancelled.
func (p *BatchProcessor) Start(ctx context.Context) {
	workers := p.config.BatchProcessing.ProcessorCount
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.waitGroup.Add(1)
		go p.processLoop(ctx)
	}
}

// Wait blocks until every worker has exited and returns the number of
// listings written. Failed batches are joined into the error.
func (p *BatchProcessor) Wait() (int, error) {
	p.waitGroup.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written, errors.Join(p.failures...)
}

func (p *BatchProcessor) processLoop(ctx context.Context) {
	defer p.waitGroup.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-p.queue.Items():
			if !ok {
				return
			}
			err := p.processBatch(ctx, batch)

			p.mu.Lock()
			if err != nil {
				p.failures = append(p.failures, err)
			} else {
				p.written += len(batch)
			}
			p.mu.Unlock()
		}
	}
}

// processBatch writes a single batch, retrying on failure
func (p *BatchProcessor) processBatch(ctx context.Context, batch []*models.Property) error {
	maxRetries := p.config.BatchProcessing.MaxRetries
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch processing, attempt %d of %d", attempt, maxRetries)
			select {
			case <-ctx.Done():
				return fmt.Errorf("batch of %d properties abandoned: %w", len(batch), ctx.Err())
			case <-time.After(p.config.BatchProcessing.RetryDelay):
			}
		}

		err = p.writer.UpsertProperties(ctx, batch)
		if err == nil {
			p.logger.Infof("Successfully processed batch of %d properties", len(batch))
			return nil
		}

		p.logger.Errorf("Batch processing failed: %v", err)
	}

	return fmt.Errorf("failed to process batch after %d attempts: %w", maxRetries+1, err)
}
