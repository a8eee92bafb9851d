// Package transport is the websocket framing layer spec.md treats as an
// external collaborator: a per-session message pump that forwards
// inbound client messages to a coordinator.SessionHandle and writes
// outbound coordinator messages back to the client socket. It never
// touches room or replica state directly.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/inkwell-dev/roomsync/internal/coordinator"
	"github.com/inkwell-dev/roomsync/internal/ids"
	"github.com/inkwell-dev/roomsync/internal/protocol"
	"github.com/inkwell-dev/roomsync/pkg/logger"
)

// Connection pumps one websocket connection: read loop dispatches inbound
// messages to the session handle, write loop drains the coordinator's
// per-session outbound channel onto the socket.
type Connection struct {
	conn    *websocket.Conn
	handle  coordinator.SessionHandle
	connID  ids.ConnID
	out     chan *protocol.OutboundMsg
	ctx     context.Context
	cancel  context.CancelFunc
	sendMu  sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConnection registers a new session with handle and wraps conn.
func NewConnection(handle coordinator.SessionHandle, conn *websocket.Conn, outboundBufferSize int, readTimeout, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:         conn,
		handle:       handle,
		connID:       handle.Connect(),
		out:          make(chan *protocol.OutboundMsg, outboundBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Handle runs the connection's read loop until the socket closes or ctx
// is cancelled, then tears the session down via Disconnect.
func (c *Connection) Handle(ctx context.Context) error {
	defer c.cleanup()

	logger.Info("connection established, conn = %d", c.connID)

	writeDone := make(chan struct{})
	go c.writeLoop(writeDone)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		readCtx, readCancel := context.WithTimeout(ctx, c.readTimeout)
		var msg protocol.InboundMsg
		err := wsjson.Read(readCtx, c.conn, &msg)
		readCancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		if err := c.handleMessage(&msg); err != nil {
			logger.Error("error handling message from conn %d: %v", c.connID, err)
		}
	}
}

func (c *Connection) handleMessage(msg *protocol.InboundMsg) error {
	switch {
	case msg.Create != nil:
		ack := c.handle.Create(c.connID, msg.Create.RoomID, msg.Create.AgentName, msg.Create.Content, c.out)
		return c.send(protocol.NewCreateMsg(ack.RoomID))

	case msg.Join != nil:
		ack := c.handle.Join(c.connID, msg.Join.RoomID, msg.Join.AgentName, c.out)
		return c.send(protocol.NewJoinMsg(ack))

	case msg.Insert != nil:
		ack := c.handle.Insert(c.connID, msg.Insert.RoomID, msg.Insert.Pos, msg.Insert.Content)
		if !ack.Ok {
			return c.send(protocol.NewSystemMsg(fmt.Sprintf("insert failed: %s", ack.Error)))
		}
		return c.send(protocol.NewInsertMsg(ack.PostState))

	case msg.Delete != nil:
		ack := c.handle.Delete(c.connID, msg.Delete.RoomID, msg.Delete.Lo, msg.Delete.Hi)
		if !ack.Ok {
			return c.send(protocol.NewSystemMsg(fmt.Sprintf("delete failed: %s", ack.Error)))
		}
		return c.send(protocol.NewDeleteMsg(ack.PostState))

	case msg.List:
		rooms := c.handle.List()
		return c.send(&protocol.OutboundMsg{System: &protocol.SystemMsg{Message: fmt.Sprintf("%v", rooms)}})

	case msg.ListAgents:
		agents := c.handle.ListAgents()
		return c.send(&protocol.OutboundMsg{System: &protocol.SystemMsg{Message: fmt.Sprintf("%v", agents)}})

	case msg.Content != nil:
		ack := c.handle.Content(msg.Content.RoomID)
		if !ack.Ok {
			return c.send(protocol.NewSystemMsg("room not found"))
		}
		return c.send(&protocol.OutboundMsg{System: &protocol.SystemMsg{Message: ack.Text}})
	}
	return nil
}

// writeLoop drains the coordinator's outbound channel onto the socket
// until the connection's context is cancelled.
func (c *Connection) writeLoop(done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.out:
			if !ok {
				return
			}
			if err := c.send(msg); err != nil {
				logger.Error("error writing to conn %d: %v", c.connID, err)
				c.cancel()
				return
			}
		}
	}
}

// send writes msg to the socket, serialized against concurrent callers
// (the read loop's direct replies and the write loop's broadcast pushes).
func (c *Connection) send(msg *protocol.OutboundMsg) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	writeCtx, writeCancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer writeCancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *Connection) cleanup() {
	logger.Info("disconnection, conn = %d", c.connID)
	c.handle.Disconnect(c.connID)
	c.cancel()
}
