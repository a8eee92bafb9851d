// Package ids generates the two identifiers the coordinator hands out:
// a per-process monotonic connection id, and a server-generated agent
// name used as the seed author of each newly created room's replica.
package ids

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ConnID identifies one websocket session for the lifetime of the
// process. It is never reused, even after the session disconnects.
type ConnID uint64

// Generator hands out ascending ConnIDs, grounded on Kolabpad's
// count atomic.Uint64 / NextUserID pattern.
type Generator struct {
	count atomic.Uint64
}

// Next returns the next available ConnID. The first id handed out is 1,
// so 0 stays free for protocol.SystemConnID.
func (g *Generator) Next() ConnID {
	return ConnID(g.count.Add(1))
}

var adjectives = []string{
	"quiet", "amber", "brisk", "lucid", "mellow", "nimble", "placid",
	"rustic", "stark", "vivid", "wry", "dusky",
}

var nouns = []string{
	"otter", "falcon", "maple", "comet", "harbor", "lantern", "meadow",
	"ridge", "thicket", "willow", "cinder", "glade",
}

// RandomAgentName returns a short, human-readable server-generated agent
// name; the coordinator uses it as the seed agent that authors a new
// room's initial content, grounded on original_source's random_name()
// call at room-creation time. A uuid suffix keeps two
// randomly-generated names from colliding, since the adjective+noun space
// is small relative to concurrent room traffic.
func RandomAgentName() string {
	a := adjectives[fastIndex(len(adjectives))]
	n := nouns[fastIndex(len(nouns))]
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%s-%s", a, n, suffix)
}

// fastIndex derives a small index from a fresh random uuid instead of
// math/rand, so RandomAgentName needs no seeded global generator.
func fastIndex(n int) int {
	u := uuid.New()
	return int(u[0]) % n
}
