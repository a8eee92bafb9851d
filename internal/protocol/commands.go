package protocol

import "github.com/inkwell-dev/roomsync/internal/ids"

// Command is the closed set of tagged requests the coordinator consumes
// off its command queue, one at a time, in FIFO order. Each carries its
// request fields plus (except Disconnect) a one-shot reply channel.
type Command interface {
	isCommand()
}

// ConnectCmd asks the coordinator to mint a fresh ConnId. It does not
// touch any state map; a session only becomes "real" on Create or Join.
type ConnectCmd struct {
	Reply chan ids.ConnID
}

func (ConnectCmd) isCommand() {}

// DisconnectCmd removes conn from every room it belonged to and from
// sessions/agents. Has no reply; Done, if non-nil, is closed once the
// coordinator has applied the disconnect, for callers (tests) that need
// to observe completion without a value reply.
type DisconnectCmd struct {
	Conn ids.ConnID
	Done chan struct{}
}

func (DisconnectCmd) isCommand() {}

// CreateCmd registers conn as a new session bound to outboundTx, adds it
// to room_id's member set (creating the set if absent), and installs a
// fresh replica for room_id, replacing any existing one, seeded with
// content authored by a server-generated seed agent; agentName is
// recorded as conn's agent label and becomes a CRDT author on its first
// edit (fidelity with the reference design).
type CreateCmd struct {
	Conn       ids.ConnID
	RoomID     string
	Content    string
	AgentName  string
	OutboundTx chan *OutboundMsg
	Reply      chan CreateAck
}

func (CreateCmd) isCommand() {}

// CreateAck is the reply to CreateCmd.
type CreateAck struct {
	RoomID string
}

// JoinCmd adds conn to room_id's membership and registers agentName as
// its agent label, joining the room's replica as an additional author.
// OutboundTx registers conn's outbound channel, exactly as Create does —
// a joiner must receive broadcasts, so this extends the reference
// design's Join (which left sessions unset, a gap; see DESIGN.md).
type JoinCmd struct {
	Conn       ids.ConnID
	RoomID     string
	AgentName  string
	OutboundTx chan *OutboundMsg
	Reply      chan JoinAck
}

func (JoinCmd) isCommand() {}

// JoinAck is the reply to JoinCmd. Error is non-empty when room_id has no
// coordinator entry; in that case BaseVersion and AgentID are zero values
// and no room/coding/version entry is created.
type JoinAck struct {
	RoomID      string
	BaseVersion []byte
	AgentID     string
	AgentName   string
	Error       string
}

// InsertCmd is an authoritative local insertion at a codepoint position.
type InsertCmd struct {
	Conn    ids.ConnID
	RoomID  string
	Content string
	Pos     int
	Reply   chan InsertAck
}

func (InsertCmd) isCommand() {}

// InsertAck replies with the resulting document text ("post-state") on
// success, matching spec §9's decision to preserve the reference design's
// choice not to hand back a version tag from the ack itself.
type InsertAck struct {
	PostState string
	Ok        bool
	Error     string
}

// DeleteCmd deletes the half-open codepoint range [Lo, Hi).
type DeleteCmd struct {
	Conn   ids.ConnID
	RoomID string
	Lo, Hi int
	Reply  chan DeleteAck
}

func (DeleteCmd) isCommand() {}

// DeleteAck replies with the resulting document text on success.
type DeleteAck struct {
	PostState string
	Ok        bool
	Error     string
}

// ListCmd requests every known RoomId.
type ListCmd struct {
	Reply chan []string
}

func (ListCmd) isCommand() {}

// ListAgentsCmd requests every registered agent label, across all rooms
// (supplemented feature: not room-scoped, see SPEC_FULL.md §4).
type ListAgentsCmd struct {
	Reply chan []string
}

func (ListAgentsCmd) isCommand() {}

// ContentCmd requests the current materialized text of room_id.
type ContentCmd struct {
	RoomID string
	Reply  chan ContentAck
}

func (ContentCmd) isCommand() {}

// ContentAck is the reply to ContentCmd; Ok is false if room_id is unknown.
type ContentAck struct {
	Text string
	Ok   bool
}
