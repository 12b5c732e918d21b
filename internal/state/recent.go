package state

// RecentIDs is a fixed-capacity, insertion-ordered set of catalog ids.
//
// Backed by a ring buffer; pushing into a full set evicts the oldest id.
type RecentIDs struct {
	ring  []string
	head  int // index of the oldest entry
	size  int
	index map[string]struct{}
}

// NewRecentIDs creates an empty set holding at most capacity ids.
func NewRecentIDs(capacity int) *RecentIDs {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentIDs{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Push inserts id. It returns the evicted id, if any. Pushing an id already present is a no-op.
func (r *RecentIDs) Push(id string) (evicted string, ok bool) {
	if id == "" {
		return "", false
	}
	if _, exists := r.index[id]; exists {
		return "", false
	}

	if r.size == len(r.ring) {
		evicted = r.ring[r.head]
		delete(r.index, evicted)
		r.ring[r.head] = id
		r.head = (r.head + 1) % len(r.ring)
		r.index[id] = struct{}{}
		return evicted, true
	}

	r.ring[(r.head+r.size)%len(r.ring)] = id
	r.size++
	r.index[id] = struct{}{}
	return "", false
}

// Contains reports whether id is in the set.
func (r *RecentIDs) Contains(id string) bool {
	_, ok := r.index[id]
	return ok
}

// IDs returns the ids oldest first.
func (r *RecentIDs) IDs() []string {
	out := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.ring[(r.head+i)%len(r.ring)])
	}
	return out
}

func (r *RecentIDs) Len() int { return r.size }

func (r *RecentIDs) Cap() int { return len(r.ring) }
