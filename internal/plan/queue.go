package plan

import "sync"

// ClaimQueue hands out disjoint item chunks to worker slots within one
// cycle. An item claimed by one worker is never handed to a sibling.
type ClaimQueue struct {
	mu      sync.Mutex
	pending []Item
	claimed map[string]int // item id -> worker index
}

func NewClaimQueue(items []Item) *ClaimQueue {
	pending := make([]Item, len(items))
	copy(pending, items)
	return &ClaimQueue{
		pending: pending,
		claimed: make(map[string]int, len(items)),
	}
}

// Claim pops up to n items for the given worker. It returns nil when the
// queue is drained.
func (q *ClaimQueue) Claim(worker int, n int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.pending) == 0 {
		return nil
	}
	if n > len(q.pending) {
		n = len(q.pending)
	}

	items := make([]Item, n)
	copy(items, q.pending[:n])
	q.pending = q.pending[n:]

	for _, it := range items {
		q.claimed[it.ID] = worker
	}
	return items
}

// ClaimedBy reports which worker holds an item, if any.
func (q *ClaimQueue) ClaimedBy(itemID string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.claimed[itemID]
	return w, ok
}

func (q *ClaimQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
