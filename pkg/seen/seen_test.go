package seen

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nobletooth/seenstore/pkg/utils"
)

func TestKey_Deterministic(t *testing.T) {
	post := Post{URI: "at://did:plc:abc/app.bsky.feed.post/3k2a", CID: "bafyreib2rxk3rh6kzwq"}
	assert.Equal(t, Key(post), Key(post))
	assert.Equal(t, post.URI+":"+post.CID, Key(post))
}

func TestKey_DistinctPosts(t *testing.T) {
	keys := map[string]struct{}{}
	for _, post := range []Post{
		{URI: "at://did:plc:abc/app.bsky.feed.post/1", CID: "bafyone"},
		{URI: "at://did:plc:abc/app.bsky.feed.post/2", CID: "bafyone"},
		{URI: "at://did:plc:abc/app.bsky.feed.post/1", CID: "bafytwo"},
		{URI: "at://did:plc:xyz/app.bsky.feed.post/1", CID: "bafyone"},
	} {
		keys[Key(post)] = struct{}{}
	}
	assert.Len(t, keys, 4, "distinct posts must derive distinct keys")
}

// TestKey_ColonBoundary covers the colon ambiguity of the raw composition: ("a:b","c") and ("a","b:c")
// compose to the same string, so a CID containing a colon must be flagged instead of silently accepted.
func TestKey_ColonBoundary(t *testing.T) {
	colonsInURI := Key(Post{URI: "a:b", CID: "c"}) // URIs legitimately contain colons.
	assert.Equal(t, "a:b:c", colonsInURI)

	prevInvariants := utils.GetMetricValue("seen", "colon_in_cid")
	colonsInCID := Key(Post{URI: "a", CID: "b:c"})
	assert.Equal(t, colonsInURI, colonsInCID, "the raw composition collides; the invariant is the guard")
	assert.Equal(t, prevInvariants+1, utils.GetMetricValue("seen", "colon_in_cid"))
}
