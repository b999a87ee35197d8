package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawboard-backend/internal/model"
	"drawboard-backend/internal/room"
)

// fakeSocket records everything the dispatcher sends it.
type fakeSocket struct {
	uid      string
	roomID   string
	username string
	sent     []*model.Envelope
}

func (s *fakeSocket) Send(env *model.Envelope) { s.sent = append(s.sent, env) }
func (s *fakeSocket) UID() string              { return s.uid }
func (s *fakeSocket) RoomID() string           { return s.roomID }
func (s *fakeSocket) Username() string         { return s.username }
func (s *fakeSocket) Bind(roomID, username string) {
	s.roomID = roomID
	s.username = username
}

func (s *fakeSocket) types() []string {
	out := make([]string, 0, len(s.sent))
	for _, env := range s.sent {
		out = append(out, env.Type)
	}
	return out
}

func payload[T any](t *testing.T, env *model.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func envelope(msgType, data string) *model.Envelope {
	return &model.Envelope{Type: msgType, Data: json.RawMessage(data)}
}

func newDispatcher(opts room.Options) *Dispatcher {
	return New(room.NewHub(opts), nil)
}

func logOptions() room.Options {
	return room.Options{HistoryMode: room.HistoryLog, CanvasWidth: 64, CanvasHeight: 64}
}

func join(t *testing.T, d *Dispatcher, uid, roomID, username string) *fakeSocket {
	t.Helper()
	sock := &fakeSocket{uid: uid}
	d.HandleMessage(sock, envelope(model.TypeJoin,
		`{"roomId":"`+roomID+`","username":"`+username+`"}`))
	require.Equal(t, roomID, sock.roomID)
	return sock
}

func TestJoinRepliesToJoinerOnly(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")

	require.Equal(t, []string{model.TypeJoin, model.TypeRoomState}, a.types())
	assert.Equal(t, []string{model.TypeJoin, model.TypeRoomState}, b.types(),
		"a join is not announced to the room")

	reply := payload[model.JoinReply](t, b.sent[0])
	assert.Equal(t, "b", reply.ID)
	assert.Empty(t, reply.Canvas)

	state := payload[model.RoomState](t, b.sent[1])
	require.NotNil(t, state.Host)
	assert.Equal(t, "a", *state.Host)
	require.Len(t, state.Users, 2)
	assert.Equal(t, "a", state.Users[0].UID)
}

func TestJoinWithoutRoomIDIsDropped(t *testing.T) {
	d := newDispatcher(logOptions())
	sock := &fakeSocket{uid: "a"}

	d.HandleMessage(sock, envelope(model.TypeJoin, `{"username":"ann"}`))
	d.HandleMessage(sock, envelope(model.TypeJoin, `not json`))

	assert.Empty(t, sock.sent)
	assert.Empty(t, d.Hub().List())
}

func TestUserStateBroadcastsProjection(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")

	d.HandleMessage(b, envelope(model.TypeUserState,
		`{"timestamp":1,"state":{"cursor":[10,20],"tool":{"kind":"brush","size":5,"opacity":1}}}`))

	require.Len(t, a.sent, 3)
	require.Len(t, b.sent, 3, "the sender hears the projection too")

	state := payload[model.RoomState](t, a.sent[2])
	require.Len(t, state.Users, 2)
	require.NotNil(t, state.Users[1].Cursor)
	assert.Equal(t, model.Point{10, 20}, *state.Users[1].Cursor)
	assert.Equal(t, 5.0, state.Users[1].Tool.Size)
}

func TestHostOnlyGateDropsNonHostInput(t *testing.T) {
	opts := logOptions()
	opts.HostOnly = true
	d := newDispatcher(opts)
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")
	aBefore, bBefore := len(a.sent), len(b.sent)

	d.HandleMessage(b, envelope(model.TypeUserState,
		`{"timestamp":1,"state":{"cursor":[10,20]}}`))

	assert.Len(t, a.sent, aBefore, "a gated message produces no broadcast")
	assert.Len(t, b.sent, bBefore)

	rm, _ := d.Hub().Get("r1")
	p, _ := rm.Get("b")
	assert.Nil(t, p.Cursor, "and no registry mutation")

	// the host passes the same gate
	d.HandleMessage(a, envelope(model.TypeUserState,
		`{"timestamp":2,"state":{"cursor":[1,2]}}`))
	assert.Len(t, a.sent, aBefore+1)
	assert.Len(t, b.sent, bBefore+1)
}

func TestStrokeRelayedToOthersOnly(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")
	aBefore, bBefore := len(a.sent), len(b.sent)

	d.HandleMessage(a, envelope(model.TypeStroke, `[[0,0],[5,5]]`))
	d.HandleMessage(b, envelope(model.TypeStroke, `[[9,9]]`))

	require.Len(t, a.sent, aBefore+1, "a hears only b's stroke")
	require.Len(t, b.sent, bBefore+1, "b hears only a's stroke")

	fromA := payload[model.Stroke](t, b.sent[bBefore])
	assert.Equal(t, []model.Point{{0, 0}, {5, 5}}, fromA.Points)

	rm, _ := d.Hub().Get("r1")
	history := rm.History()
	require.Len(t, history, 2)
	assert.Equal(t, []model.Point{{0, 0}, {5, 5}}, history[0].Points, "arrival order is history order")
	assert.Equal(t, []model.Point{{9, 9}}, history[1].Points)
}

func TestStrokeCarriesSenderTool(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")

	d.HandleMessage(a, envelope(model.TypeUserState,
		`{"timestamp":1,"state":{"tool":{"kind":"eraser","size":8,"opacity":1}}}`))
	d.HandleMessage(a, envelope(model.TypeStroke, `[[1,1],[2,2]]`))

	stroke := payload[model.Stroke](t, b.sent[len(b.sent)-1])
	assert.Equal(t, "eraser", stroke.Tool.Kind)
	assert.Equal(t, 8.0, stroke.Tool.Size)
}

func TestEmptyStrokeIsDropped(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	before := len(a.sent)

	d.HandleMessage(a, envelope(model.TypeStroke, `[]`))
	d.HandleMessage(a, envelope(model.TypeStroke, `not json`))

	assert.Len(t, a.sent, before)
	rm, _ := d.Hub().Get("r1")
	assert.Empty(t, rm.History())
}

func TestLeaveNotifiesRemainderAndReelects(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")
	bBefore := len(b.sent)

	d.HandleMessage(a, envelope(model.TypeLeave, ``))

	require.Len(t, b.sent, bBefore+1)
	notice := payload[model.NoticePayload](t, b.sent[bBefore])
	assert.Equal(t, "ann left", notice.Message)

	rm, ok := d.Hub().Get("r1")
	require.True(t, ok, "an occupied room survives a leave")
	assert.Equal(t, "b", rm.HostID())

	// the last leave destroys the room
	d.HandleLeave(b)
	_, ok = d.Hub().Get("r1")
	assert.False(t, ok)
	assert.Len(t, a.sent, 2, "the leaver is not notified about itself")
}

func TestRepeatedJoinSameRoomThenLeave(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")

	d.HandleMessage(a, envelope(model.TypeJoin, `{"roomId":"r1","username":"ann"}`))

	rm, _ := d.Hub().Get("r1")
	require.Equal(t, 2, rm.Size())

	d.HandleLeave(a)
	assert.Equal(t, "b", rm.HostID())
	require.Equal(t, 1, rm.Size())

	// the room keeps working after the re-join/leave churn
	bBefore := len(b.sent)
	d.HandleMessage(b, envelope(model.TypeUserState, `{"timestamp":1,"state":{"cursor":[1,2]}}`))
	require.Len(t, b.sent, bBefore+1)
	state := payload[model.RoomState](t, b.sent[bBefore])
	require.Len(t, state.Users, 1)
	assert.Equal(t, "b", state.Users[0].UID)

	d.HandleLeave(b)
	_, ok := d.Hub().Get("r1")
	assert.False(t, ok)
}

func TestJoinToAnotherRoomLeavesTheFirst(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")

	d.HandleMessage(a, envelope(model.TypeJoin, `{"roomId":"r2","username":"ann"}`))
	require.Equal(t, "r2", a.RoomID())

	rm1, ok := d.Hub().Get("r1")
	require.True(t, ok)
	assert.Equal(t, 1, rm1.Size(), "the first room drops the hopping socket")
	assert.Equal(t, "b", rm1.HostID())
	notice := payload[model.NoticePayload](t, b.sent[len(b.sent)-1])
	assert.Equal(t, "ann left", notice.Message)

	// the transport-level disconnect now tears down r2, not r1
	d.HandleLeave(a)
	_, ok = d.Hub().Get("r2")
	assert.False(t, ok)
	_, ok = d.Hub().Get("r1")
	assert.True(t, ok)
}

func TestRoomHopFromSoloRoomDestroysIt(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")

	d.HandleMessage(a, envelope(model.TypeJoin, `{"roomId":"r2","username":"ann"}`))

	_, ok := d.Hub().Get("r1")
	assert.False(t, ok, "an abandoned solo room is destroyed")
	rm2, ok := d.Hub().Get("r2")
	require.True(t, ok)
	assert.Equal(t, "a", rm2.HostID())
}

func TestLeaveWithoutJoinIsRoutine(t *testing.T) {
	d := newDispatcher(logOptions())
	sock := &fakeSocket{uid: "ghost"}

	d.HandleLeave(sock)
	d.HandleMessage(sock, envelope(model.TypeLeave, ``))

	assert.Empty(t, sock.sent)
}

func TestMessagesAfterLeaveAreDropped(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")
	d.HandleLeave(b)
	aBefore := len(a.sent)

	// b's socket is still bound to r1 but no longer registered there
	d.HandleMessage(b, envelope(model.TypeUserState, `{"timestamp":1,"state":{}}`))
	d.HandleMessage(b, envelope(model.TypeStroke, `[[1,1]]`))

	assert.Len(t, a.sent, aBefore)
	rm, _ := d.Hub().Get("r1")
	assert.Empty(t, rm.History())
}

func TestUnknownTypeIsDropped(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	before := len(a.sent)

	d.HandleMessage(a, envelope("no.such.type", `{}`))

	assert.Len(t, a.sent, before)
}

func TestPingIsANoOp(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	before := len(a.sent)

	d.HandleMessage(a, envelope(model.TypePing, ``))

	assert.Len(t, a.sent, before)
}

func TestCanvasRequestForwardedToFirstPeer(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")
	c := join(t, d, "c", "r1", "cat")
	aBefore, bBefore := len(a.sent), len(b.sent)

	d.HandleMessage(c, envelope(model.TypeCanvasRequest, ``))

	require.Len(t, a.sent, aBefore+1, "the earliest joiner sources the raster")
	assert.Equal(t, model.TypeCanvasRequest, a.sent[aBefore].Type)
	assert.Len(t, b.sent, bBefore)
}

func TestCanvasRequestAloneIsDropped(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	before := len(a.sent)

	d.HandleMessage(a, envelope(model.TypeCanvasRequest, ``))

	assert.Len(t, a.sent, before, "no peer, no source, no reply")
}

func TestCanvasInitialStoredAndBroadcast(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")
	aBefore, bBefore := len(a.sent), len(b.sent)

	d.HandleMessage(b, envelope(model.TypeCanvasInitial, `{"canvas":"data:image/png;base64,AAAA"}`))

	require.Len(t, a.sent, aBefore+1)
	require.Len(t, b.sent, bBefore+1, "the pusher hears its own canvas back")
	got := payload[model.CanvasPayload](t, a.sent[aBefore])
	assert.Equal(t, "data:image/png;base64,AAAA", got.Canvas)

	rm, _ := d.Hub().Get("r1")
	assert.Equal(t, "data:image/png;base64,AAAA", rm.Canvas())

	// a later joiner receives the stored blob before the state projection
	c := join(t, d, "c", "r1", "cat")
	assert.Equal(t, []string{model.TypeJoin, model.TypeCanvasInitial, model.TypeRoomState}, c.types())
}

func TestUserCanvasStoresWithoutRelay(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r1", "bob")
	aBefore, bBefore := len(a.sent), len(b.sent)

	d.HandleMessage(a, envelope(model.TypeUserCanvas, `{"canvas":"data:image/png;base64,BBBB"}`))

	assert.Len(t, a.sent, aBefore)
	assert.Len(t, b.sent, bBefore)
	rm, _ := d.Hub().Get("r1")
	assert.Equal(t, "data:image/png;base64,BBBB", rm.Canvas())
}

func TestEmptyCanvasPayloadIsDropped(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")

	d.HandleMessage(a, envelope(model.TypeCanvasInitial, `{"canvas":""}`))
	d.HandleMessage(a, envelope(model.TypeUserCanvas, `garbage`))

	rm, _ := d.Hub().Get("r1")
	assert.Empty(t, rm.Canvas())
}

func TestLogModeJoinReplaysHistory(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")

	d.HandleMessage(a, envelope(model.TypeStroke, `[[1,1],[2,2]]`))
	d.HandleMessage(a, envelope(model.TypeStroke, `[[3,3]]`))

	b := join(t, d, "b", "r1", "bob")
	reply := payload[model.JoinReply](t, b.sent[0])
	require.Len(t, reply.Canvas, 2)
	assert.Equal(t, []model.Point{{1, 1}, {2, 2}}, reply.Canvas[0].Points)
}

func TestSnapshotModeJoinHasNoHistory(t *testing.T) {
	opts := logOptions()
	opts.HistoryMode = room.HistorySnapshot
	d := newDispatcher(opts)
	a := join(t, d, "a", "r1", "ann")

	d.HandleMessage(a, envelope(model.TypeStroke, `[[1,1],[2,2]]`))

	b := join(t, d, "b", "r1", "bob")
	reply := payload[model.JoinReply](t, b.sent[0])
	assert.Empty(t, reply.Canvas, "snapshot rooms never replay strokes on join")
}

// lockedSocket is a fakeSocket safe for concurrent sends.
type lockedSocket struct {
	mu sync.Mutex
	fakeSocket
}

func (s *lockedSocket) Send(env *model.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fakeSocket.sent = append(s.fakeSocket.sent, env)
}

func TestConcurrentStrokesBroadcastInApplicationOrder(t *testing.T) {
	const senders, perSender = 4, 25

	d := newDispatcher(logOptions())
	obs := &lockedSocket{fakeSocket: fakeSocket{uid: "obs"}}
	d.HandleMessage(obs, envelope(model.TypeJoin, `{"roomId":"r1","username":"obs"}`))

	socks := make([]*lockedSocket, senders)
	for i := range socks {
		s := &lockedSocket{fakeSocket: fakeSocket{uid: fmt.Sprintf("s%d", i)}}
		d.HandleMessage(s, envelope(model.TypeJoin, `{"roomId":"r1","username":"u"}`))
		socks[i] = s
	}

	var wg sync.WaitGroup
	for i, s := range socks {
		wg.Add(1)
		go func(i int, s *lockedSocket) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				d.HandleMessage(s, envelope(model.TypeStroke, fmt.Sprintf(`[[%d,%d]]`, i, j)))
			}
		}(i, s)
	}
	wg.Wait()

	rm, _ := d.Hub().Get("r1")
	history := rm.History()
	require.Len(t, history, senders*perSender)

	want := make([]model.Point, 0, len(history))
	for _, s := range history {
		want = append(want, s.Points[0])
	}
	got := make([]model.Point, 0, len(history))
	for _, env := range obs.sent {
		if env.Type != model.TypeStroke {
			continue
		}
		got = append(got, payload[model.Stroke](t, env).Points[0])
	}
	assert.Equal(t, want, got, "an observer's queue receives strokes in the order they entered history")
}

func TestRoomsAreIsolated(t *testing.T) {
	d := newDispatcher(logOptions())
	a := join(t, d, "a", "r1", "ann")
	b := join(t, d, "b", "r2", "bob")
	aBefore, bBefore := len(a.sent), len(b.sent)

	d.HandleMessage(a, envelope(model.TypeStroke, `[[1,1]]`))

	assert.Len(t, a.sent, aBefore)
	assert.Len(t, b.sent, bBefore, "strokes never cross rooms")
}
