package seen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// fakeDurableStore is an in-memory durable store stub tracking writes per key.
type fakeDurableStore struct {
	data map[string][]byte
	sets map[string]int
}

func newFakeDurableStore() *fakeDurableStore {
	return &fakeDurableStore{data: make(map[string][]byte), sets: make(map[string]int)}
}

func (f *fakeDurableStore) Get(key string) ([]byte, bool, error) {
	value, found := f.data[key]
	return value, found, nil
}

func (f *fakeDurableStore) GetBatch(keys []string) (map[string][]byte, error) {
	values := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, found := f.data[key]; found {
			values[key] = value
		}
	}
	return values, nil
}

func (f *fakeDurableStore) Set(key string, value []byte) {
	f.data[key] = value
	f.sets[key]++
}

// record decodes the stored record for a post.
func (f *fakeDurableStore) record(t *testing.T, post Post) Record {
	t.Helper()
	raw, found := f.data[Key(post)]
	require.True(t, found)
	var rec Record
	require.NoError(t, msgpack.Unmarshal(raw, &rec))
	return rec
}

func TestTracker_MarkSeenThenQuery(t *testing.T) {
	store := newFakeDurableStore()
	tracker := New(store)

	post := Post{URI: "at://did:plc:abc/app.bsky.feed.post/1", CID: "bafyone"}
	assert.False(t, tracker.IsPostSeen(post))

	tracker.MarkSeen(post, "Home")
	assert.True(t, tracker.IsPostSeen(post), "a marked post must read as seen immediately")
}

// TestTracker_MarkSeenIdempotent verifies repeated marks keep one logical record with last-write-wins fields.
func TestTracker_MarkSeenIdempotent(t *testing.T) {
	store := newFakeDurableStore()
	tracker := New(store)
	post := Post{URI: "at://did:plc:abc/app.bsky.feed.post/1", CID: "bafyone"}

	firstSeen := time.Unix(100, 0)
	tracker.now = func() time.Time { return firstSeen }
	tracker.MarkSeen(post, "Home")

	lastSeen := time.Unix(200, 0)
	tracker.now = func() time.Time { return lastSeen }
	tracker.MarkSeen(post, "Discover")

	assert.Equal(t, 2, store.sets[Key(post)], "both writes target the same key")
	rec := store.record(t, post)
	assert.Equal(t, post, rec.Post)
	assert.Equal(t, FeedContext("Discover"), rec.LastSeenFeed)
	assert.True(t, rec.LastSeenAt.Equal(lastSeen), "the record must reflect the most recent view")
}

// TestTracker_SliceSemantics verifies the slice query is the conjunction of the single-post queries.
func TestTracker_SliceSemantics(t *testing.T) {
	store := newFakeDurableStore()
	tracker := New(store)
	p1 := Post{URI: "at://x/1", CID: "c1"}
	p2 := Post{URI: "at://x/2", CID: "c2"}

	tracker.MarkSeen(p1, "Home")
	assert.False(t, tracker.IsSliceSeen([]Post{p1, p2}))

	tracker.MarkSeen(p2, "Home")
	assert.True(t, tracker.IsSliceSeen([]Post{p1, p2}))
	assert.Equal(t, tracker.IsPostSeen(p1) && tracker.IsPostSeen(p2), tracker.IsSliceSeen([]Post{p1, p2}))
}

func TestView_ReportsAndNotifiesOnChange(t *testing.T) {
	store := newFakeDurableStore()
	tracker := New(store)
	p1 := Post{URI: "at://x/1", CID: "c1"}
	p2 := Post{URI: "at://x/2", CID: "c2"}
	tracker.MarkSeen(p1, "Home")
	tracker.MarkSeen(p2, "Home")

	view := NewView(tracker, true /*toggle*/)
	var notifications []bool
	assert.False(t, view.Subscribe(func(seen bool) { notifications = append(notifications, seen) }))

	view.SetItems([]Post{p1, p2})
	assert.True(t, view.Value())
	assert.Equal(t, []bool{true}, notifications)

	// An all-seen slice again: no change, no notification.
	view.SetItems([]Post{p1})
	assert.Equal(t, []bool{true}, notifications)

	// A slice with an unseen post flips the view.
	view.SetItems([]Post{p1, {URI: "at://x/3", CID: "c3"}})
	assert.False(t, view.Value())
	assert.Equal(t, []bool{true, false}, notifications)
}

// TestView_EmptySlicePreservesState verifies an empty item list never queries and never flips the reported
// value.
func TestView_EmptySlicePreservesState(t *testing.T) {
	store := newFakeDurableStore()
	tracker := New(store)
	post := Post{URI: "at://x/1", CID: "c1"}
	tracker.MarkSeen(post, "Home")

	view := NewView(tracker, true /*toggle*/)
	view.SetItems([]Post{post})
	require.True(t, view.Value())

	view.SetItems(nil)
	assert.True(t, view.Value(), "an empty slice must preserve the prior reported state")
}

func TestView_ToggleGatesQueries(t *testing.T) {
	store := newFakeDurableStore()
	tracker := New(store)
	post := Post{URI: "at://x/1", CID: "c1"}
	tracker.MarkSeen(post, "Home")

	view := NewView(tracker, false /*toggle*/)
	view.SetItems([]Post{post})
	assert.False(t, view.Value(), "a disabled toggle reports false without querying")

	view.SetToggle(true)
	assert.True(t, view.Value())
}

// TestView_RefreshCorrectsFalseNegative verifies a later refresh picks up records resolved after the first
// recomputation.
func TestView_RefreshCorrectsFalseNegative(t *testing.T) {
	store := newFakeDurableStore()
	tracker := New(store)
	post := Post{URI: "at://x/1", CID: "c1"}

	view := NewView(tracker, true /*toggle*/)
	view.SetItems([]Post{post})
	require.False(t, view.Value())

	tracker.MarkSeen(post, "Home")
	view.Refresh()
	assert.True(t, view.Value())
}

func TestView_CloseDetaches(t *testing.T) {
	store := newFakeDurableStore()
	tracker := New(store)
	post := Post{URI: "at://x/1", CID: "c1"}
	tracker.MarkSeen(post, "Home")

	view := NewView(tracker, true /*toggle*/)
	notified := false
	view.Subscribe(func(bool) { notified = true })
	view.Close()

	view.SetItems([]Post{post})
	assert.False(t, view.Value(), "a closed view must ignore updates")
	assert.False(t, notified)
}
