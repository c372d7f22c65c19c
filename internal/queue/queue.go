package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"immotech/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// PropertyQueue is an in-memory queue of listing batches awaiting import.
type PropertyQueue struct {
	items     chan []*models.Property
	done      chan struct{}
	closeOnce sync.Once
	maxSize   int
	closed    bool
	mu        sync.RWMutex
	logger    *logrus.Logger
}

// NewPropertyQueue creates a new property queue with the specified buffer size
func NewPropertyQueue(bufferSize int, logger *logrus.Logger) *PropertyQueue {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PropertyQueue{
		items:   make(chan []*models.Property, bufferSize),
		done:    make(chan struct{}),
		maxSize: bufferSize,
		logger:  logger,
	}
}

// Push adds a batch without blocking.
func (q *PropertyQueue) Push(batch []*models.Property) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- batch:
		q.logger.WithField("batch_size", len(batch)).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// PushWait adds a batch, blocking until there is room, ctx is done or the
// queue is closed.
func (q *PropertyQueue) PushWait(ctx context.Context, batch []*models.Property) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- batch:
		q.logger.WithField("batch_size", len(batch)).Debug("Pushed batch to queue")
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Items is the consumer side. Ranging over it ends after Close once the
// buffered batches are consumed.
func (q *PropertyQueue) Items() <-chan []*models.Property {
	return q.items
}

// Close stops the queue and prevents new items from being added. Batches
// already queued stay readable from Items.
func (q *PropertyQueue) Close() error {
	// Release blocked PushWait callers before taking the write lock.
	q.closeOnce.Do(func() { close(q.done) })

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.items)
	return nil
}

// Len returns the current number of batches in the queue
func (q *PropertyQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *PropertyQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
