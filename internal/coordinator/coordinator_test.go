package coordinator

import (
	"testing"
	"time"

	"github.com/inkwell-dev/roomsync/internal/protocol"
)

// testCoordinator starts a Coordinator's Run loop for the duration of the
// test and stops it on cleanup.
func testCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := New(256)
	stop := make(chan struct{})
	go c.Run(stop)
	t.Cleanup(func() { close(stop) })
	return c
}

func recvOutbound(t *testing.T, ch chan *protocol.OutboundMsg) *protocol.OutboundMsg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func expectNoOutbound(t *testing.T, ch chan *protocol.OutboundMsg) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("expected no outbound message, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestSoloCreateInsert mirrors spec scenario 1: a lone creator's insert
// advances the room's content with no broadcast recipients.
func TestSoloCreateInsert(t *testing.T) {
	c := testCoordinator(t)
	h := NewSessionHandle(c)

	conn := h.Connect()
	out := make(chan *protocol.OutboundMsg, 8)
	h.Create(conn, "r1", "alice", "Hello", out)

	ack := h.Insert(conn, "r1", 5, " World")
	if !ack.Ok {
		t.Fatalf("insert failed: %s", ack.Error)
	}
	if ack.PostState != "Hello World" {
		t.Fatalf("post-state = %q, want %q", ack.PostState, "Hello World")
	}

	content := h.Content("r1")
	if !content.Ok || content.Text != "Hello World" {
		t.Fatalf("content = %+v", content)
	}
	expectNoOutbound(t, out)
}

// TestTwoClientConvergence mirrors spec scenario 2: each member's insert
// is broadcast as one Upstream envelope to the other member, and the
// room's content then holds both inserts.
func TestTwoClientConvergence(t *testing.T) {
	c := testCoordinator(t)
	h := NewSessionHandle(c)

	connA := h.Connect()
	outA := make(chan *protocol.OutboundMsg, 8)
	h.Create(connA, "r1", "alice", "ab", outA)

	connB := h.Connect()
	outB := make(chan *protocol.OutboundMsg, 8)
	joinAck := h.Join(connB, "r1", "bob", outB)
	if joinAck.Error != "" {
		t.Fatalf("join failed: %s", joinAck.Error)
	}

	insertAck := h.Insert(connA, "r1", 1, "X")
	if !insertAck.Ok {
		t.Fatalf("insert by A failed: %s", insertAck.Error)
	}
	upstreamToB := recvOutbound(t, outB)
	if upstreamToB.Upstream == nil {
		t.Fatalf("expected Upstream to B, got %+v", upstreamToB)
	}
	expectNoOutbound(t, outA)

	deleteAck := h.Insert(connB, "r1", 0, "Y")
	if !deleteAck.Ok {
		t.Fatalf("insert by B failed: %s", deleteAck.Error)
	}
	upstreamToA := recvOutbound(t, outA)
	if upstreamToA.Upstream == nil {
		t.Fatalf("expected Upstream to A, got %+v", upstreamToA)
	}

	contentA := h.Content("r1")
	if !contentA.Ok {
		t.Fatalf("content: %+v", contentA)
	}
	if len(contentA.Text) != 4 {
		t.Fatalf("expected 4-character content after two inserts, got %q", contentA.Text)
	}
}

// TestJoinBeforeCreate mirrors spec scenario 3: joining an unknown room
// returns an errored JoinAck and creates no coordinator state.
func TestJoinBeforeCreate(t *testing.T) {
	c := testCoordinator(t)
	h := NewSessionHandle(c)

	conn := h.Connect()
	out := make(chan *protocol.OutboundMsg, 8)
	ack := h.Join(conn, "ghost", "alice", out)
	if ack.Error == "" {
		t.Fatal("expected error joining nonexistent room")
	}

	rooms := h.List()
	for _, r := range rooms {
		if r == "ghost" {
			t.Fatal("room 'ghost' should not have been created")
		}
	}
}

// TestBroadcastExcludesOriginator mirrors spec scenario 4: in a 3-member
// room, an insert produces exactly 2 Upstream envelopes, never to the
// originator.
func TestBroadcastExcludesOriginator(t *testing.T) {
	c := testCoordinator(t)
	h := NewSessionHandle(c)

	conn1 := h.Connect()
	out1 := make(chan *protocol.OutboundMsg, 8)
	h.Create(conn1, "r1", "m1", "base", out1)

	conn2 := h.Connect()
	out2 := make(chan *protocol.OutboundMsg, 8)
	h.Join(conn2, "r1", "m2", out2)

	conn3 := h.Connect()
	out3 := make(chan *protocol.OutboundMsg, 8)
	h.Join(conn3, "r1", "m3", out3)

	ack := h.Insert(conn1, "r1", 0, "X")
	if !ack.Ok {
		t.Fatalf("insert failed: %s", ack.Error)
	}

	expectNoOutbound(t, out1)
	m2 := recvOutbound(t, out2)
	m3 := recvOutbound(t, out3)
	if m2.Upstream == nil || m3.Upstream == nil {
		t.Fatalf("expected Upstream envelopes, got %+v / %+v", m2, m3)
	}
	if string(m2.Upstream.Patch) != string(m3.Upstream.Patch) {
		t.Fatalf("expected identical patch payloads to m2 and m3")
	}
}

// TestDisconnectCleanup mirrors spec scenario 5: a member in two rooms
// disconnects; both rooms' remaining members get a system notice, and the
// departing conn's agent label no longer appears in ListAgents.
func TestDisconnectCleanup(t *testing.T) {
	c := testCoordinator(t)
	h := NewSessionHandle(c)

	connM := h.Connect()
	outM := make(chan *protocol.OutboundMsg, 8)
	h.Create(connM, "r1", "m", "x", outM)
	h.Create(connM, "r2", "m", "y", outM)

	connOther1 := h.Connect()
	outOther1 := make(chan *protocol.OutboundMsg, 8)
	h.Join(connOther1, "r1", "other1", outOther1)

	connOther2 := h.Connect()
	outOther2 := make(chan *protocol.OutboundMsg, 8)
	h.Join(connOther2, "r2", "other2", outOther2)

	h.Disconnect(connM)

	sys1 := recvOutbound(t, outOther1)
	if sys1.System == nil || sys1.System.Message != "Someone disconnected" {
		t.Fatalf("expected disconnect notice in r1, got %+v", sys1)
	}
	sys2 := recvOutbound(t, outOther2)
	if sys2.System == nil || sys2.System.Message != "Someone disconnected" {
		t.Fatalf("expected disconnect notice in r2, got %+v", sys2)
	}

	agents := h.ListAgents()
	for _, a := range agents {
		if a == "m" {
			t.Fatal("disconnected agent label 'm' should have been removed")
		}
	}
}

// TestListAndListAgents mirrors spec scenario 6.
func TestListAndListAgents(t *testing.T) {
	c := testCoordinator(t)
	h := NewSessionHandle(c)

	conn1 := h.Connect()
	out1 := make(chan *protocol.OutboundMsg, 8)
	h.Create(conn1, "r1", "alice", "", out1)

	conn2 := h.Connect()
	out2 := make(chan *protocol.OutboundMsg, 8)
	h.Create(conn2, "r2", "bob", "", out2)

	rooms := h.List()
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %v", rooms)
	}

	agents := h.ListAgents()
	if len(agents) != 2 {
		t.Fatalf("expected 2 agent labels, got %v", agents)
	}
}
