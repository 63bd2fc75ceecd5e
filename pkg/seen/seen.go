// Seenstore tracks which feed items a user has already viewed. The tracker is the domain layer: it translates
// rendering events into cache operations and exposes the two query shapes the rendering layer needs (is this
// post seen, is this whole slice seen). Seen-state is best-effort UX, not correctness-critical, so storage
// failures degrade silently to "not seen" instead of surfacing to the renderer.

package seen

import (
	"strings"
	"time"

	"github.com/nobletooth/seenstore/pkg/utils"
)

// Post is the stable, content-addressed identifier pair of a feed item.
type Post struct {
	URI string `msgpack:"uri"`
	CID string `msgpack:"cid"`
}

// FeedContext describes the feed in which a post was viewed. It is opaque to seenstore and owned by the
// rendering layer.
type FeedContext string

// Record is the persisted fact that a post has been viewed. The cache keeps only the most recent record per
// post (last write wins, no history).
type Record struct {
	Post         Post        `msgpack:"post"`
	LastSeenAt   time.Time   `msgpack:"lastSeenAt"`
	LastSeenFeed FeedContext `msgpack:"lastSeenFeed"`
}

// Key derives the composite cache key of a post: `uri + ":" + cid`. The derivation is injective for real
// identifiers because at:// URIs contain colons but CIDs never do, so the last colon always splits the pair
// unambiguously. A CID carrying a colon would make two distinct posts collide and is flagged as a caller bug.
func Key(post Post) string {
	if strings.Contains(post.CID, ":") {
		utils.RaiseInvariant("seen", "colon_in_cid",
			"Got a CID containing a colon; key derivation would be ambiguous.", "uri", post.URI, "cid", post.CID)
	}
	return post.URI + ":" + post.CID
}
