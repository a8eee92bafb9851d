// Package replica wraps one room's CRDT document with the
// last-broadcast-version bookkeeping and locking described in spec
// §4.2/§9: create/join/insert/delete/content plus the atomic
// patch-extraction step the coordinator's broadcast path depends on.
package replica

import (
	"errors"
	"fmt"
	"sync"

	"github.com/inkwell-dev/roomsync/internal/crdt"
)

// Sentinel errors matching the taxonomy in spec §7.
var (
	ErrBadPosition     = errors.New("position out of range")
	ErrBadRange        = errors.New("range out of range")
	ErrPoisonedReplica = errors.New("replica poisoned by a prior panic")
)

// Replica owns one room's CRDT document plus the version it last handed
// out in a broadcast patch.
type Replica struct {
	mu            sync.Mutex
	doc           *crdt.Doc
	lastBroadcast int // index into doc's op log
	poisoned      bool
}

// New creates an empty replica with no content and no registered agents.
func New() *Replica {
	return &Replica{doc: crdt.NewDoc()}
}

// Create registers agent as an author, inserts initialText at position 0
// on its behalf, and returns the resulting frontier. Matches spec §4.2
// create(agent, initial_text) → Version.
func (r *Replica) Create(agent string, initialText string) (crdt.Frontier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poisoned {
		return nil, ErrPoisonedReplica
	}
	defer r.recoverPoison()

	id := r.doc.Join(agent)
	if initialText == "" {
		return r.doc.Frontier(), nil
	}
	return r.doc.Insert(id, 0, initialText)
}

// Join registers agent as an additional author and returns the
// CRDT-internal id assigned. Matches spec §4.2 join(agent) → AgentId.
func (r *Replica) Join(agent string) (crdt.AgentID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poisoned {
		return "", ErrPoisonedReplica
	}
	defer r.recoverPoison()

	return r.doc.Join(agent), nil
}

// Insert performs an authoritative insertion on behalf of agent at
// codepoint position pos. Matches spec §4.2 insert(agent, pos, text) →
// Version; on out-of-range pos, returns ErrBadPosition.
func (r *Replica) Insert(agent string, pos int, text string) (crdt.Frontier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poisoned {
		return nil, ErrPoisonedReplica
	}
	defer r.recoverPoison()

	id := r.doc.Join(agent)
	v, err := r.doc.Insert(id, pos, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPosition, err)
	}
	return v, nil
}

// Delete deletes the half-open range [lo, hi) on behalf of agent.
// Matches spec §4.2 delete(agent, range) → Version; on out-of-range
// bounds, returns ErrBadRange.
func (r *Replica) Delete(agent string, lo, hi int) (crdt.Frontier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poisoned {
		return nil, ErrPoisonedReplica
	}
	defer r.recoverPoison()

	id := r.doc.Join(agent)
	v, err := r.doc.Delete(id, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRange, err)
	}
	return v, nil
}

// Content returns the current materialized document text.
func (r *Replica) Content() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poisoned {
		return "", ErrPoisonedReplica
	}
	return r.doc.Text(), nil
}

// BaseVersion returns the serialized baseline frontier a newly joining
// replica needs to catch up by applying subsequent patches. Matches spec
// §4.2 base_version() → Bytes.
func (r *Replica) BaseVersion() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poisoned {
		return nil, ErrPoisonedReplica
	}
	return crdt.EncodeFrontier(r.doc.Frontier())
}

// RemoteVersion returns an opaque tag identifying the current frontier,
// for annotating a broadcast. Matches spec §4.2 remote_version() →
// RemoteVersion.
func (r *Replica) RemoteVersion() (crdt.Frontier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poisoned {
		return nil, ErrPoisonedReplica
	}
	return r.doc.Frontier(), nil
}

// PatchFromVersion serializes every op since the last call to
// PatchFromVersion (or since replica creation, the first time) and
// atomically advances the remembered baseline to the current frontier.
// Matches spec §4.2 patch_from_version() → Bytes: "Returning a patch and
// advancing the baseline MUST be a single critical-section action."
func (r *Replica) PatchFromVersion() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poisoned {
		return nil, ErrPoisonedReplica
	}
	defer r.recoverPoison()

	ops := r.doc.OpsSince(r.lastBroadcast)
	r.lastBroadcast = r.doc.OpCount()
	return crdt.EncodeOps(ops)
}

// recoverPoison marks the replica poisoned if the deferred call unwinds
// from a panic, matching spec §7's PoisonedReplica semantics ("replica
// lock acquisition failed because a prior operation panicked").
func (r *Replica) recoverPoison() {
	if p := recover(); p != nil {
		r.poisoned = true
		panic(p)
	}
}
