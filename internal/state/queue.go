package state

import (
	"fmt"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
)

// RetryQueue is a bounded FIFO of failed resolutions.
//
// New items never evict queued ones: once full, Enqueue is rejected with [shared.ErrQueueFull].
type RetryQueue struct {
	ring        []models.QueueItem
	head        int
	size        int
	maxAttempts int
}

// NewRetryQueue creates a queue holding at most capacity items, each retried at most maxAttempts times.
func NewRetryQueue(capacity, maxAttempts int) *RetryQueue {
	if capacity < 1 {
		capacity = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryQueue{ring: make([]models.QueueItem, capacity), maxAttempts: maxAttempts}
}

// Enqueue appends item at the tail.
//
// It returns false without error when an item with the same source track id is already queued.
func (q *RetryQueue) Enqueue(item models.QueueItem) (bool, error) {
	if item.SourceTrackID != "" && q.has(item.SourceTrackID) {
		return false, nil
	}
	if err := q.push(item); err != nil {
		return false, err
	}
	return true, nil
}

// Dequeue removes the head item.
func (q *RetryQueue) Dequeue() (models.QueueItem, bool) {
	if q.size == 0 {
		return models.QueueItem{}, false
	}
	item := q.ring[q.head]
	q.ring[q.head] = models.QueueItem{}
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	return item, true
}

// Requeue puts a retried item back at the tail.
func (q *RetryQueue) Requeue(item models.QueueItem) error {
	if item.Attempts >= q.maxAttempts {
		return fmt.Errorf("%w: %s has used %d of %d attempts", shared.ErrInvalidArgument, item.Title, item.Attempts, q.maxAttempts)
	}
	return q.push(item)
}

// PushFront returns an item to the head, ahead of everything queued.
func (q *RetryQueue) PushFront(item models.QueueItem) error {
	if q.size == len(q.ring) {
		return fmt.Errorf("%w: capacity %d", shared.ErrQueueFull, len(q.ring))
	}
	q.head = (q.head - 1 + len(q.ring)) % len(q.ring)
	q.ring[q.head] = item
	q.size++
	return nil
}

// Exhausted reports whether item has no attempts left.
func (q *RetryQueue) Exhausted(item models.QueueItem) bool {
	return item.Attempts >= q.maxAttempts
}

// Items returns a copy of the queued items, head first.
func (q *RetryQueue) Items() []models.QueueItem {
	out := make([]models.QueueItem, 0, q.size)
	for i := 0; i < q.size; i++ {
		out = append(out, q.ring[(q.head+i)%len(q.ring)])
	}
	return out
}

func (q *RetryQueue) Len() int         { return q.size }
func (q *RetryQueue) Cap() int         { return len(q.ring) }
func (q *RetryQueue) MaxAttempts() int { return q.maxAttempts }

func (q *RetryQueue) push(item models.QueueItem) error {
	if q.size == len(q.ring) {
		return fmt.Errorf("%w: capacity %d", shared.ErrQueueFull, len(q.ring))
	}
	q.ring[(q.head+q.size)%len(q.ring)] = item
	q.size++
	return nil
}

func (q *RetryQueue) has(sourceID string) bool {
	for i := 0; i < q.size; i++ {
		if q.ring[(q.head+i)%len(q.ring)].SourceTrackID == sourceID {
			return true
		}
	}
	return false
}
