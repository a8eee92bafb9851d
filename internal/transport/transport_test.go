package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/inkwell-dev/roomsync/internal/coordinator"
	"github.com/inkwell-dev/roomsync/internal/protocol"
)

// testServer creates a test server backed by a freshly started coordinator.
func testServer(t *testing.T) *Server {
	t.Helper()

	c := coordinator.New(256)
	stop := make(chan struct{})
	go c.Run(stop)
	t.Cleanup(func() { close(stop) })

	return NewServer(coordinator.NewSessionHandle(c), Config{
		OutboundBufferSize: 16,
		ReadTimeout:        5 * time.Minute,
		WriteTimeout:       5 * time.Second,
	})
}

// connectWebSocket establishes a websocket connection to a test server.
func connectWebSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/socket"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("failed to connect websocket: %v", err)
	}

	t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "")
	})

	return conn
}

// readOutboundMsg reads a message from conn and returns the parsed
// OutboundMsg.
func readOutboundMsg(t *testing.T, conn *websocket.Conn) *protocol.OutboundMsg {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var msg protocol.OutboundMsg
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return &msg
}

// sendInboundMsg sends an InboundMsg to the server.
func sendInboundMsg(t *testing.T, conn *websocket.Conn, msg *protocol.InboundMsg) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
}

func TestCreateAck(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn := connectWebSocket(t, ts)
	sendInboundMsg(t, conn, &protocol.InboundMsg{
		Create: &protocol.CreateReq{RoomID: "r1", AgentName: "alice", Content: "Hello"},
	})

	msg := readOutboundMsg(t, conn)
	if msg.Create == nil || msg.Create.RoomID != "r1" {
		t.Fatalf("expected Create ack for r1, got %+v", msg)
	}
}

func TestInsertBroadcastToSecondClient(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn1 := connectWebSocket(t, ts)
	sendInboundMsg(t, conn1, &protocol.InboundMsg{
		Create: &protocol.CreateReq{RoomID: "r1", AgentName: "alice", Content: "ab"},
	})
	readOutboundMsg(t, conn1) // Create ack

	conn2 := connectWebSocket(t, ts)
	sendInboundMsg(t, conn2, &protocol.InboundMsg{
		Join: &protocol.JoinReq{RoomID: "r1", AgentName: "bob"},
	})
	readOutboundMsg(t, conn2) // Join ack

	sendInboundMsg(t, conn1, &protocol.InboundMsg{
		Insert: &protocol.InsertReq{RoomID: "r1", Pos: 1, Content: "X"},
	})
	readOutboundMsg(t, conn1) // Insert ack to the originator

	upstream := readOutboundMsg(t, conn2)
	if upstream.Upstream == nil {
		t.Fatalf("expected Upstream to second client, got %+v", upstream)
	}
}

func TestStatsEndpoint(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn := connectWebSocket(t, ts)
	sendInboundMsg(t, conn, &protocol.InboundMsg{
		Create: &protocol.CreateReq{RoomID: "r1", AgentName: "alice", Content: ""},
	})
	readOutboundMsg(t, conn)

	resp, err := ts.Client().Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("stats request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
