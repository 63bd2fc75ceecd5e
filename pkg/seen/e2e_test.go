package seen

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nobletooth/seenstore/pkg/store"
)

// TestSeenStore_EndToEnd walks the whole stack: mark a post through the tracker, observe it immediately,
// commit the write group, then reopen a fresh tracker over the same store name (simulating a process restart)
// and observe the record again from durable state.
func TestSeenStore_EndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen-posts.db")
	post := Post{URI: "at://x", CID: "c1"}

	{ // First session: mark the post and read it back before the durable commit.
		backend, err := store.NewBoltBackend(path, "seen-posts")
		require.NoError(t, err)
		batched := store.NewBatched(backend)
		tracker := New(batched)

		tracker.MarkSeen(post, "Home")
		assert.True(t, tracker.IsPostSeen(post), "the mark must be visible before the batch interval elapses")

		// Close commits the open group, standing in for an elapsed write-batch interval.
		require.NoError(t, batched.Close())
	}

	{ // Second session: fresh memory, same durable store name.
		backend, err := store.NewBoltBackend(path, "seen-posts")
		require.NoError(t, err)
		batched := store.NewBatched(backend)
		t.Cleanup(func() { _ = batched.Close() })
		tracker := New(batched)

		assert.True(t, tracker.IsPostSeen(post), "the record must survive the restart")
		assert.True(t, tracker.IsSliceSeen([]Post{post}))
		assert.False(t, tracker.IsPostSeen(Post{URI: "at://x", CID: "c2"}))
	}
}
