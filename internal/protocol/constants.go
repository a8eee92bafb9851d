// Package protocol defines the command bus between session handles and
// the coordinator, and the outbound message envelopes the coordinator
// pushes to each session's transport.
package protocol

import "github.com/inkwell-dev/roomsync/internal/ids"

// SystemConnID is the placeholder originator used when the coordinator
// fans out a system message that has no single human author (e.g. "Someone
// disconnected"). Spec §9 notes the reference design uses the same
// sentinel as its disconnect "skip" parameter even though, by the time
// the message is sent, the departing session has already been removed
// from the room — so the sentinel never actually matches a recipient.
const SystemConnID ids.ConnID = 0
