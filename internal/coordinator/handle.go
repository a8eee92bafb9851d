package coordinator

import (
	"github.com/inkwell-dev/roomsync/internal/ids"
	"github.com/inkwell-dev/roomsync/internal/protocol"
)

// SessionHandle is the lightweight, cheaply-copyable façade a transport
// handler uses to talk to the coordinator. Every method posts one
// protocol.Command and blocks on its one-shot reply; none of them touch
// coordinator state directly.
type SessionHandle struct {
	c *Coordinator
}

// NewSessionHandle wraps c for use by transport handlers.
func NewSessionHandle(c *Coordinator) SessionHandle {
	return SessionHandle{c: c}
}

// Connect requests a fresh ConnId.
func (h SessionHandle) Connect() ids.ConnID {
	reply := make(chan ids.ConnID, 1)
	h.c.Post(protocol.ConnectCmd{Reply: reply})
	return <-reply
}

// Create registers conn as a session bound to outboundTx and creates (or
// re-populates) roomID with content.
func (h SessionHandle) Create(conn ids.ConnID, roomID, agentName, content string, outboundTx chan *protocol.OutboundMsg) protocol.CreateAck {
	reply := make(chan protocol.CreateAck, 1)
	h.c.Post(protocol.CreateCmd{
		Conn:       conn,
		RoomID:     roomID,
		Content:    content,
		AgentName:  agentName,
		OutboundTx: outboundTx,
		Reply:      reply,
	})
	return <-reply
}

// Join adds conn to roomID's membership under agentName, registering
// outboundTx as conn's outbound channel so it can receive broadcasts.
func (h SessionHandle) Join(conn ids.ConnID, roomID, agentName string, outboundTx chan *protocol.OutboundMsg) protocol.JoinAck {
	reply := make(chan protocol.JoinAck, 1)
	h.c.Post(protocol.JoinCmd{
		Conn:       conn,
		RoomID:     roomID,
		AgentName:  agentName,
		OutboundTx: outboundTx,
		Reply:      reply,
	})
	return <-reply
}

// Insert submits a local insertion authored by conn's registered agent.
func (h SessionHandle) Insert(conn ids.ConnID, roomID string, pos int, content string) protocol.InsertAck {
	reply := make(chan protocol.InsertAck, 1)
	h.c.Post(protocol.InsertCmd{
		Conn:    conn,
		RoomID:  roomID,
		Content: content,
		Pos:     pos,
		Reply:   reply,
	})
	return <-reply
}

// Delete submits a local deletion of [lo, hi), authored by conn's
// registered agent.
func (h SessionHandle) Delete(conn ids.ConnID, roomID string, lo, hi int) protocol.DeleteAck {
	reply := make(chan protocol.DeleteAck, 1)
	h.c.Post(protocol.DeleteCmd{
		Conn:   conn,
		RoomID: roomID,
		Lo:     lo,
		Hi:     hi,
		Reply:  reply,
	})
	return <-reply
}

// List returns every known RoomId.
func (h SessionHandle) List() []string {
	reply := make(chan []string, 1)
	h.c.Post(protocol.ListCmd{Reply: reply})
	return <-reply
}

// ListAgents returns every registered agent label across all rooms.
func (h SessionHandle) ListAgents() []string {
	reply := make(chan []string, 1)
	h.c.Post(protocol.ListAgentsCmd{Reply: reply})
	return <-reply
}

// Content returns the current materialized text of roomID.
func (h SessionHandle) Content(roomID string) protocol.ContentAck {
	reply := make(chan protocol.ContentAck, 1)
	h.c.Post(protocol.ContentCmd{RoomID: roomID, Reply: reply})
	return <-reply
}

// Disconnect tears down conn's session across every room it belonged to.
// Blocks until the coordinator has applied the disconnect.
func (h SessionHandle) Disconnect(conn ids.ConnID) {
	done := make(chan struct{})
	h.c.Post(protocol.DisconnectCmd{Conn: conn, Done: done})
	<-done
}
