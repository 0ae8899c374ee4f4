package pipeline

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/VisoroGroup/Voice-to-text/internal/whatsapp"
)

// Item is one inbound message waiting for sequential processing. Items
// live only in memory and are lost on restart.
type Item struct {
	Message    whatsapp.Message
	Sender     string
	SenderName string
	EnqueuedAt int64 // epoch milliseconds
}

// Queue is an in-memory FIFO drained by a single worker. At most one
// item is in flight at any time; items are processed strictly in arrival
// order. A failing item is logged and never stops the drain loop.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	draining bool
	wg       sync.WaitGroup

	process func(ctx context.Context, item Item) error
	logger  *log.Logger
}

// NewQueue creates a queue that runs process for each item.
func NewQueue(process func(ctx context.Context, item Item) error, logger *log.Logger) *Queue {
	return &Queue{
		process: process,
		logger:  logger,
	}
}

// Enqueue appends the item and starts the drain worker unless one is
// already running. Never blocks.
func (q *Queue) Enqueue(item Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	if q.draining {
		// The running worker re-checks the queue before exiting, so it
		// will pick this item up.
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.wg.Add(1)
	q.mu.Unlock()

	go q.drain()
}

// Len returns the number of items waiting (the in-flight item excluded).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait blocks until the current drain finished. Used on shutdown so the
// in-flight item runs to completion.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// drain removes and processes head items until the queue is observed
// empty after a removal.
func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.run(item)
	}
}

// run executes one item with failure isolation: errors and panics are
// logged with sender context and swallowed.
func (q *Queue) run(item Item) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error(
				"Panic while processing message",
				"sender", item.Sender,
				"panic", r,
			)
		}
	}()

	if err := q.process(context.Background(), item); err != nil {
		q.logger.Error(
			"Failed to process message",
			"sender", item.Sender,
			"error", err,
		)
	}
}
