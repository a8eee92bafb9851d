// Package coordinator implements the single-writer actor that owns every
// room's membership, replica, and version state. One goroutine runs
// Coordinator.Run and is the only goroutine that ever touches the five
// state maps; every other goroutine talks to it exclusively by posting a
// protocol.Command onto its queue and awaiting a one-shot reply.
package coordinator

import (
	"github.com/inkwell-dev/roomsync/internal/crdt"
	"github.com/inkwell-dev/roomsync/internal/ids"
	"github.com/inkwell-dev/roomsync/internal/protocol"
	"github.com/inkwell-dev/roomsync/internal/replica"
	"github.com/inkwell-dev/roomsync/pkg/logger"
)

// Coordinator owns the five related mappings described in spec §3.
// All fields are touched only from inside Run's loop.
type Coordinator struct {
	queue chan protocol.Command
	gen   ids.Generator

	sessions map[ids.ConnID]chan *protocol.OutboundMsg
	rooms    map[string]map[ids.ConnID]struct{}
	codings  map[string]*replica.Replica
	versions map[string]crdt.Frontier
	agents   map[ids.ConnID]string
}

// New creates a Coordinator with a command queue of the given capacity.
// Go has no unbounded channel; a large buffered channel stands in for
// the reference design's unbounded queue (see DESIGN.md Open Question 4).
func New(queueSize int) *Coordinator {
	return &Coordinator{
		queue:    make(chan protocol.Command, queueSize),
		sessions: make(map[ids.ConnID]chan *protocol.OutboundMsg),
		rooms:    make(map[string]map[ids.ConnID]struct{}),
		codings:  make(map[string]*replica.Replica),
		versions: make(map[string]crdt.Frontier),
		agents:   make(map[ids.ConnID]string),
	}
}

// Post enqueues cmd. Posting to a coordinator whose Run loop has exited
// (queue closed) is a fatal programming error per spec §4.5/§7
// (BusDropped), so Post panics rather than silently dropping the command.
func (c *Coordinator) Post(cmd protocol.Command) {
	defer func() {
		if recover() != nil {
			panic("coordinator: command posted after queue closed (BusDropped)")
		}
	}()
	c.queue <- cmd
}

// Run consumes commands one at a time until stop is closed, then drains
// and closes the queue. It is meant to run in its own goroutine for the
// life of the process.
func (c *Coordinator) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			close(c.queue)
			for cmd := range c.queue {
				c.dispatch(cmd)
			}
			return
		case cmd := <-c.queue:
			c.dispatch(cmd)
		}
	}
}

func (c *Coordinator) dispatch(cmd protocol.Command) {
	defer c.recoverCommandPanic(cmd)
	switch cmd := cmd.(type) {
	case protocol.ConnectCmd:
		cmd.Reply <- c.gen.Next()

	case protocol.CreateCmd:
		c.handleCreate(cmd)

	case protocol.JoinCmd:
		c.handleJoin(cmd)

	case protocol.InsertCmd:
		c.handleInsert(cmd)

	case protocol.DeleteCmd:
		c.handleDelete(cmd)

	case protocol.ListCmd:
		cmd.Reply <- c.listRooms()

	case protocol.ListAgentsCmd:
		cmd.Reply <- c.listAgents()

	case protocol.ContentCmd:
		cmd.Reply <- c.handleContent(cmd.RoomID)

	case protocol.DisconnectCmd:
		c.handleDisconnect(cmd)

	default:
		logger.Error("coordinator: unknown command type %T", cmd)
	}
}

// recoverCommandPanic stops a single command's panic from taking down the
// whole Run loop. Spec §7 makes PoisonedReplica fatal for the room, not
// the server: the affected room (if any) is evicted and notified exactly
// as broadcastPatch does for a poisoned replica detected without a panic,
// and any caller still blocked on cmd's reply channel is unblocked with an
// error ack so it cannot hang forever waiting for a reply that will never
// come.
func (c *Coordinator) recoverCommandPanic(cmd protocol.Command) {
	p := recover()
	if p == nil {
		return
	}
	logger.Error("coordinator: recovered panic handling %T: %v", cmd, p)

	if roomID := commandRoomID(cmd); roomID != "" {
		c.notifyRoom(roomID, "the document for this room encountered an internal error")
		c.evictRoom(roomID)
	}
	replyCommandError(cmd, "internal error")
}

// commandRoomID extracts the room a command targets, if any, so a panic
// recovered from handling it can evict and notify the right room.
func commandRoomID(cmd protocol.Command) string {
	switch cmd := cmd.(type) {
	case protocol.CreateCmd:
		return cmd.RoomID
	case protocol.JoinCmd:
		return cmd.RoomID
	case protocol.InsertCmd:
		return cmd.RoomID
	case protocol.DeleteCmd:
		return cmd.RoomID
	case protocol.ContentCmd:
		return cmd.RoomID
	default:
		return ""
	}
}

// replyCommandError sends an error ack on cmd's reply channel, if it has
// one, so a caller blocked awaiting a reply is released even though the
// command that would have answered it panicked. Reply channels are
// buffered to capacity 1, so this never blocks.
func replyCommandError(cmd protocol.Command, errMsg string) {
	switch cmd := cmd.(type) {
	case protocol.CreateCmd:
		cmd.Reply <- protocol.CreateAck{RoomID: cmd.RoomID}
	case protocol.JoinCmd:
		cmd.Reply <- protocol.JoinAck{RoomID: cmd.RoomID, Error: errMsg}
	case protocol.InsertCmd:
		cmd.Reply <- protocol.InsertAck{Error: errMsg}
	case protocol.DeleteCmd:
		cmd.Reply <- protocol.DeleteAck{Error: errMsg}
	case protocol.ContentCmd:
		cmd.Reply <- protocol.ContentAck{Ok: false}
	case protocol.ListCmd:
		cmd.Reply <- nil
	case protocol.ListAgentsCmd:
		cmd.Reply <- nil
	case protocol.ConnectCmd:
		// No safe zero ConnID to hand back; Connect cannot fail on its
		// own (it only increments a counter), so it is never the
		// command whose handling panics in practice.
	case protocol.DisconnectCmd:
		// Nothing to do: handleDisconnect's own deferred close(cmd.Done)
		// already runs during the panic unwind, before this recovery
		// code executes. Closing it again here would panic on an
		// already-closed channel, escaping this recover entirely.
	}
}

func (c *Coordinator) handleCreate(cmd protocol.CreateCmd) {
	c.sessions[cmd.Conn] = cmd.OutboundTx
	c.agents[cmd.Conn] = cmd.AgentName
	c.addMember(cmd.RoomID, cmd.Conn)

	// The initial content is authored by a throwaway seed agent distinct
	// from the creator's own label, not by cmd.AgentName itself — the
	// creator's name only becomes a CRDT author on its first Insert.
	r := replica.New()
	seedAgent := ids.RandomAgentName()
	version, err := r.Create(seedAgent, cmd.Content)
	if err != nil {
		logger.Error("coordinator: create for room %q failed: %v", cmd.RoomID, err)
	}
	c.codings[cmd.RoomID] = r
	c.versions[cmd.RoomID] = version

	cmd.Reply <- protocol.CreateAck{RoomID: cmd.RoomID}
}

func (c *Coordinator) handleJoin(cmd protocol.JoinCmd) {
	r, ok := c.codings[cmd.RoomID]
	if !ok {
		cmd.Reply <- protocol.JoinAck{
			RoomID: cmd.RoomID,
			Error:  "room not found",
		}
		return
	}

	c.addMember(cmd.RoomID, cmd.Conn)
	c.agents[cmd.Conn] = cmd.AgentName
	c.sessions[cmd.Conn] = cmd.OutboundTx

	agentID, err := r.Join(cmd.AgentName)
	if err != nil {
		cmd.Reply <- protocol.JoinAck{RoomID: cmd.RoomID, Error: err.Error()}
		return
	}
	base, err := r.BaseVersion()
	if err != nil {
		cmd.Reply <- protocol.JoinAck{RoomID: cmd.RoomID, Error: err.Error()}
		return
	}

	cmd.Reply <- protocol.JoinAck{
		RoomID:      cmd.RoomID,
		BaseVersion: base,
		AgentID:     string(agentID),
		AgentName:   cmd.AgentName,
	}
}

func (c *Coordinator) handleInsert(cmd protocol.InsertCmd) {
	r, ok := c.codings[cmd.RoomID]
	if !ok {
		logger.Error("coordinator: insert into unknown room %q", cmd.RoomID)
		cmd.Reply <- protocol.InsertAck{Error: "room not found"}
		return
	}

	agent := c.agents[cmd.Conn]
	version, err := r.Insert(agent, cmd.Pos, cmd.Content)
	if err != nil {
		cmd.Reply <- protocol.InsertAck{Error: err.Error()}
		return
	}
	c.versions[cmd.RoomID] = version

	text, _ := r.Content()
	cmd.Reply <- protocol.InsertAck{PostState: text, Ok: true}
	c.broadcastPatch(cmd.RoomID, cmd.Conn)
}

func (c *Coordinator) handleDelete(cmd protocol.DeleteCmd) {
	r, ok := c.codings[cmd.RoomID]
	if !ok {
		logger.Error("coordinator: delete in unknown room %q", cmd.RoomID)
		cmd.Reply <- protocol.DeleteAck{Error: "room not found"}
		return
	}

	agent := c.agents[cmd.Conn]
	version, err := r.Delete(agent, cmd.Lo, cmd.Hi)
	if err != nil {
		cmd.Reply <- protocol.DeleteAck{Error: err.Error()}
		return
	}
	c.versions[cmd.RoomID] = version

	text, _ := r.Content()
	cmd.Reply <- protocol.DeleteAck{PostState: text, Ok: true}
	c.broadcastPatch(cmd.RoomID, cmd.Conn)
}

func (c *Coordinator) handleContent(roomID string) protocol.ContentAck {
	r, ok := c.codings[roomID]
	if !ok {
		return protocol.ContentAck{Ok: false}
	}
	text, err := r.Content()
	if err != nil {
		logger.Error("coordinator: content for room %q: %v", roomID, err)
		return protocol.ContentAck{Ok: false}
	}
	return protocol.ContentAck{Text: text, Ok: true}
}

// broadcastPatch implements spec §4.4's broadcast algorithm: take the
// replica's accumulated ops since the last broadcast, and push one
// Upstream envelope to every room member except originator.
func (c *Coordinator) broadcastPatch(roomID string, originator ids.ConnID) {
	members, ok := c.rooms[roomID]
	if !ok {
		return
	}
	r, ok := c.codings[roomID]
	if !ok {
		return
	}

	remoteVersion, err := r.RemoteVersion()
	if err != nil {
		logger.Error("coordinator: poisoned replica for room %q: %v", roomID, err)
		c.notifyRoom(roomID, "the document for this room encountered an internal error")
		c.evictRoom(roomID)
		return
	}
	patch, err := r.PatchFromVersion()
	if err != nil {
		logger.Error("coordinator: poisoned replica for room %q: %v", roomID, err)
		c.notifyRoom(roomID, "the document for this room encountered an internal error")
		c.evictRoom(roomID)
		return
	}

	msg := protocol.NewUpstreamMsg(remoteVersion, patch)
	for member := range members {
		if member == originator {
			continue
		}
		c.send(member, msg)
	}
}

// handleDisconnect implements spec §4.4's Disconnect: removes conn from
// every room it belonged to, drops its session/agent bookkeeping, and
// notifies the remaining members of each affected room. Spec §9
// recommends fixing the reference design's room leak; this coordinator
// evicts a room's coding/version state once its last member departs
// (DESIGN.md Open Question 1).
func (c *Coordinator) handleDisconnect(cmd protocol.DisconnectCmd) {
	defer func() {
		if cmd.Done != nil {
			close(cmd.Done)
		}
	}()

	if _, ok := c.sessions[cmd.Conn]; !ok {
		return
	}
	delete(c.sessions, cmd.Conn)
	delete(c.agents, cmd.Conn)

	var affected []string
	for roomID, members := range c.rooms {
		if _, in := members[cmd.Conn]; !in {
			continue
		}
		delete(members, cmd.Conn)
		affected = append(affected, roomID)
		if len(members) == 0 {
			c.evictRoom(roomID)
		}
	}

	for _, roomID := range affected {
		c.notifyRoom(roomID, "Someone disconnected")
	}
}

// notifyRoom fans a system message out to every remaining member of
// roomID, using protocol.SystemConnID as the "skip" id (spec §9 Open
// Question 3 — preserved verbatim: it never matches a real member since
// the departing connection has already been removed from the set).
func (c *Coordinator) notifyRoom(roomID, message string) {
	members, ok := c.rooms[roomID]
	if !ok {
		return
	}
	msg := protocol.NewSystemMsg(message)
	for member := range members {
		if member == protocol.SystemConnID {
			continue
		}
		c.send(member, msg)
	}
}

// evictRoom drops a room's coding/version/membership entries. Used both
// for the empty-room GC fix and for poisoned-replica eviction (spec §7).
func (c *Coordinator) evictRoom(roomID string) {
	delete(c.rooms, roomID)
	delete(c.codings, roomID)
	delete(c.versions, roomID)
}

func (c *Coordinator) addMember(roomID string, conn ids.ConnID) {
	members, ok := c.rooms[roomID]
	if !ok {
		members = make(map[ids.ConnID]struct{})
		c.rooms[roomID] = members
	}
	members[conn] = struct{}{}
}

// send pushes msg onto conn's outbound channel. A send failure (the
// channel full, or the session already torn down) is swallowed: cleanup
// is driven entirely by that session's eventual Disconnect (spec §7
// TransportGone).
func (c *Coordinator) send(conn ids.ConnID, msg *protocol.OutboundMsg) {
	ch, ok := c.sessions[conn]
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
		logger.Error("coordinator: outbound channel full for conn %d, dropping message", conn)
	}
}

func (c *Coordinator) listRooms() []string {
	out := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		out = append(out, roomID)
	}
	return out
}

func (c *Coordinator) listAgents() []string {
	out := make([]string, 0, len(c.agents))
	for _, name := range c.agents {
		out = append(out, name)
	}
	return out
}
