package queue

// OrderedQueue buffers out-of-order arrivals for a single channel and
// releases only the contiguous prefix starting at lo — the stricter
// contract this transport uses in place of the looser scan-the-whole-
// window behavior (see the Open Questions note on ordering-window flush
// in the design notes: returning every in-scope entry instead of the
// contiguous prefix breaks in-order delivery, so it isn't carried over).
type OrderedQueue struct {
	lo    uint32 // next index to deliver
	hi    uint32 // one past the highest index seen
	items map[uint32][]byte
}

// NewOrderedQueue returns an empty OrderedQueue with scope [0, 0).
func NewOrderedQueue() *OrderedQueue {
	return &OrderedQueue{items: make(map[uint32][]byte)}
}

// Scope reports the queue's current acceptance window.
func (q *OrderedQueue) Scope() (lo, hi uint32) { return q.lo, q.hi }

// Insert buffers payload at index. Indices below lo are discarded as
// stale duplicates; indices at or beyond hi widen the window.
func (q *OrderedQueue) Insert(index uint32, payload []byte) {
	if index < q.lo {
		return
	}
	if index >= q.hi {
		q.hi = index + 1
	}
	q.items[index] = payload
}

// Flush returns the longest contiguous run of payloads starting at lo,
// in ascending order, and advances lo past what it returned.
func (q *OrderedQueue) Flush() [][]byte {
	var out [][]byte
	for {
		payload, ok := q.items[q.lo]
		if !ok {
			break
		}
		out = append(out, payload)
		delete(q.items, q.lo)
		q.lo++
	}
	return out
}
