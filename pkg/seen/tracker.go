package seen

import (
	"time"

	"github.com/nobletooth/seenstore/pkg/cache"
)

// Tracker records and queries seen-state over a read/write-through cache.
// Construct one Tracker per named store and pass it to whatever component needs seen-tracking; its lifecycle is
// the application session. Two trackers over the same store name would hold diverging memory.
type Tracker struct {
	cache *cache.Cache[Record]
	now   func() time.Time // Injected so tests can pin timestamps.
}

// New is the constructor for Tracker.
func New(store cache.DurableStore) *Tracker {
	return &Tracker{cache: cache.New[Record](store), now: time.Now}
}

// MarkSeen records that the post was viewed in the given feed context. The durable write is fire-and-forget:
// memory reflects the record before MarkSeen returns, persistence follows within one write-batch interval.
func (t *Tracker) MarkSeen(post Post, feed FeedContext) {
	t.cache.Set(Key(post), Record{Post: post, LastSeenAt: t.now(), LastSeenFeed: feed})
}

// IsPostSeen reports whether a seen record exists for the post. An unknown key reads as not seen until it is
// resolved; a later query reports the corrected state.
func (t *Tracker) IsPostSeen(post Post) bool {
	_, seenBefore := t.cache.Get(Key(post))
	return seenBefore
}

// IsSliceSeen reports whether every post in the slice has a seen record, resolved through one batch lookup.
// An empty slice reports false without querying; View is responsible for not letting an empty slice flip a
// previously reported state.
func (t *Tracker) IsSliceSeen(posts []Post) bool {
	if len(posts) == 0 {
		return false
	}

	keys := make([]string, len(posts))
	for i, post := range posts {
		keys[i] = Key(post)
	}
	records := t.cache.GetBatch(keys)
	for _, key := range keys {
		if _, seenBefore := records[key]; !seenBefore {
			return false
		}
	}
	return true
}

// CachedRecords returns the number of resolved records held in memory.
func (t *Tracker) CachedRecords() int {
	return t.cache.Len()
}
