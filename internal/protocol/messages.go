// messages.go defines the wire envelopes carried between a session's
// transport loop and its remote peer: OutboundMsg for everything the
// coordinator (or a direct reply) sends toward the client, InboundMsg for
// everything the client sends toward the coordinator. Both use the same
// tagged-union-with-custom-(Un)MarshalJSON pattern as the teacher's
// ClientMsg/ServerMsg: exactly one field is ever populated.
package protocol

import (
	"encoding/json"

	"github.com/inkwell-dev/roomsync/internal/crdt"
)

// CreateMsg acknowledges a Create request with the room it created.
type CreateMsg struct {
	RoomID string `json:"room_id"`
}

// JoinMsg acknowledges a Join request. Error is non-empty if room_id had
// no coordinator entry, in which case BaseVersion/AgentID are absent.
type JoinMsg struct {
	RoomID      string `json:"room_id"`
	BaseVersion []byte `json:"base_version,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	AgentName   string `json:"agent_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

// InsertMsg acknowledges an Insert request with the resulting document
// text. Per spec §9, no version tag is carried on the originator's own
// acknowledgement.
type InsertMsg struct {
	Text string `json:"text,omitempty"`
}

// DeleteMsg acknowledges a Delete request with the resulting document
// text.
type DeleteMsg struct {
	Text string `json:"text,omitempty"`
}

// UpstreamMsg is the patch broadcast to every room member except the
// originator of the mutation that produced it.
type UpstreamMsg struct {
	RemoteVersion crdt.Frontier `json:"remote_version"`
	Patch         []byte        `json:"patch"`
}

// SystemMsg is a human-readable notice, currently used only for the
// disconnect notification.
type SystemMsg struct {
	Message string `json:"message"`
}

// OutboundMsg is everything a session's transport loop may write to its
// remote peer. Only one field is ever set.
type OutboundMsg struct {
	Create   *CreateMsg   `json:"Create,omitempty"`
	Join     *JoinMsg     `json:"Join,omitempty"`
	Insert   *InsertMsg   `json:"Insert,omitempty"`
	Delete   *DeleteMsg   `json:"Delete,omitempty"`
	Upstream *UpstreamMsg `json:"Upstream,omitempty"`
	System   *SystemMsg   `json:"System,omitempty"`
}

// MarshalJSON ensures only the active field of the tagged union appears
// in the encoded output.
func (m *OutboundMsg) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	switch {
	case m.Create != nil:
		result["Create"] = m.Create
	case m.Join != nil:
		result["Join"] = m.Join
	case m.Insert != nil:
		result["Insert"] = m.Insert
	case m.Delete != nil:
		result["Delete"] = m.Delete
	case m.Upstream != nil:
		result["Upstream"] = m.Upstream
	case m.System != nil:
		result["System"] = m.System
	}
	return json.Marshal(result)
}

// NewCreateMsg builds the reply envelope for a Create request.
func NewCreateMsg(roomID string) *OutboundMsg {
	return &OutboundMsg{Create: &CreateMsg{RoomID: roomID}}
}

// NewJoinMsg builds the reply envelope for a Join request.
func NewJoinMsg(ack JoinAck) *OutboundMsg {
	return &OutboundMsg{Join: &JoinMsg{
		RoomID:      ack.RoomID,
		BaseVersion: ack.BaseVersion,
		AgentID:     ack.AgentID,
		AgentName:   ack.AgentName,
		Error:       ack.Error,
	}}
}

// NewInsertMsg builds the reply envelope for an Insert request.
func NewInsertMsg(postState string) *OutboundMsg {
	return &OutboundMsg{Insert: &InsertMsg{Text: postState}}
}

// NewDeleteMsg builds the reply envelope for a Delete request.
func NewDeleteMsg(postState string) *OutboundMsg {
	return &OutboundMsg{Delete: &DeleteMsg{Text: postState}}
}

// NewUpstreamMsg builds a broadcast patch envelope.
func NewUpstreamMsg(remoteVersion crdt.Frontier, patch []byte) *OutboundMsg {
	return &OutboundMsg{Upstream: &UpstreamMsg{RemoteVersion: remoteVersion, Patch: patch}}
}

// NewSystemMsg builds a system notice envelope.
func NewSystemMsg(message string) *OutboundMsg {
	return &OutboundMsg{System: &SystemMsg{Message: message}}
}

// CreateReq is the inbound payload for a create request.
type CreateReq struct {
	RoomID    string `json:"room_id"`
	AgentName string `json:"agent_name"`
	Content   string `json:"content"`
}

// JoinReq is the inbound payload for a join request.
type JoinReq struct {
	RoomID    string `json:"room_id"`
	AgentName string `json:"agent_name"`
}

// InsertReq is the inbound payload for an insert request.
type InsertReq struct {
	RoomID  string `json:"room_id"`
	Pos     int    `json:"pos"`
	Content string `json:"content"`
}

// DeleteReq is the inbound payload for a delete request.
type DeleteReq struct {
	RoomID string `json:"room_id"`
	Lo     int    `json:"lo"`
	Hi     int    `json:"hi"`
}

// ContentReq is the inbound payload for a content request.
type ContentReq struct {
	RoomID string `json:"room_id"`
}

// InboundMsg is everything a session's transport loop may read from its
// remote peer. Only one field is ever set. Connect and Disconnect have no
// wire payload: Connect happens implicitly at socket accept, Disconnect at
// socket close.
type InboundMsg struct {
	Create     *CreateReq  `json:"Create,omitempty"`
	Join       *JoinReq    `json:"Join,omitempty"`
	Insert     *InsertReq  `json:"Insert,omitempty"`
	Delete     *DeleteReq  `json:"Delete,omitempty"`
	List       bool        `json:"-"`
	ListAgents bool        `json:"-"`
	Content    *ContentReq `json:"Content,omitempty"`
}

// UnmarshalJSON dispatches on the single present tag in the encoded union.
func (m *InboundMsg) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["Create"]; ok {
		var req CreateReq
		if err := json.Unmarshal(v, &req); err != nil {
			return err
		}
		m.Create = &req
	}
	if v, ok := raw["Join"]; ok {
		var req JoinReq
		if err := json.Unmarshal(v, &req); err != nil {
			return err
		}
		m.Join = &req
	}
	if v, ok := raw["Insert"]; ok {
		var req InsertReq
		if err := json.Unmarshal(v, &req); err != nil {
			return err
		}
		m.Insert = &req
	}
	if v, ok := raw["Delete"]; ok {
		var req DeleteReq
		if err := json.Unmarshal(v, &req); err != nil {
			return err
		}
		m.Delete = &req
	}
	if _, ok := raw["List"]; ok {
		m.List = true
	}
	if _, ok := raw["ListAgents"]; ok {
		m.ListAgents = true
	}
	if v, ok := raw["Content"]; ok {
		var req ContentReq
		if err := json.Unmarshal(v, &req); err != nil {
			return err
		}
		m.Content = &req
	}

	return nil
}
