package queue

import (
	"bytes"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// FragmentGCInterval is how long a compound may sit with no new
// fragment arriving before it is evicted as garbage. Not observed in
// any reference implementation; chosen per this transport's own design
// notes.
const FragmentGCInterval = 10 * time.Second

// compound accumulates the fragments of one split frame, keyed by
// compound id.
type compound struct {
	total    uint32
	received map[uint32][]byte
}

func (c *compound) complete() bool { return uint32(len(c.received)) == c.total }

func (c *compound) assemble() []byte {
	var buf bytes.Buffer
	for i := uint32(0); i < c.total; i++ {
		buf.Write(c.received[i])
	}
	return buf.Bytes()
}

// Reassembler tracks in-flight split frames for one session, evicting a
// compound that makes no progress for FragmentGCInterval.
type Reassembler struct {
	cache *ttlcache.Cache[uint16, *compound]
}

// NewReassembler builds a Reassembler with the package's GC interval.
func NewReassembler() *Reassembler {
	cache := ttlcache.New[uint16, *compound](
		ttlcache.WithTTL[uint16, *compound](FragmentGCInterval),
	)
	go cache.Start()
	return &Reassembler{cache: cache}
}

// Close stops the background GC goroutine.
func (r *Reassembler) Close() { r.cache.Stop() }

// Add records one fragment of compoundID (total fragments, this
// fragment's index, and its payload). It returns the reassembled
// payload and true once every index has arrived; otherwise nil, false.
// Each call that touches an existing compound resets its TTL, so only a
// compound with no new fragments for FragmentGCInterval is evicted.
func (r *Reassembler) Add(compoundID uint16, total, index uint32, payload []byte) ([]byte, bool) {
	item := r.cache.Get(compoundID)
	var c *compound
	if item != nil {
		c = item.Value()
	} else {
		c = &compound{total: total, received: make(map[uint32][]byte, total)}
	}
	c.received[index] = payload
	r.cache.Set(compoundID, c, FragmentGCInterval)

	if c.complete() {
		r.cache.Delete(compoundID)
		return c.assemble(), true
	}
	return nil, false
}

// Pending reports how many compounds are currently being reassembled,
// for tests and metrics.
func (r *Reassembler) Pending() int { return r.cache.Len() }
