package memory

import (
	"sync"
	"time"

	"github.com/prochestra/prochestra/persistence"
)

type Queue struct {
	mu    sync.Mutex
	items []string
}

var _ persistence.EvaluationQueue = new(Queue)

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(executionId string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, executionId)
	return nil
}

func (q *Queue) Pop(batchSize int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if batchSize > len(q.items) {
		batchSize = len(q.items)
	}
	out := q.items[:batchSize]
	q.items = q.items[batchSize:]
	return out, nil
}

type delayedItem struct {
	visibleAt time.Time
	message   string
}

type DelayQueue struct {
	mu    sync.Mutex
	items []delayedItem
}

var _ persistence.DelayQueue = new(DelayQueue)

func NewDelayQueue() *DelayQueue {
	return &DelayQueue{}
}

func (q *DelayQueue) PushWithDelay(message []byte, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, delayedItem{
		visibleAt: time.Now().Add(delay),
		message:   string(message),
	})
	return nil
}

func (q *DelayQueue) Pop() ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	due := make([]string, 0)
	rest := q.items[:0]
	for _, item := range q.items {
		if !item.visibleAt.After(now) {
			due = append(due, item.message)
		} else {
			rest = append(rest, item)
		}
	}
	q.items = rest
	return due, nil
}
