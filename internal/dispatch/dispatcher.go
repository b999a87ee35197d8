package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"drawboard-backend/internal/cache"
	"drawboard-backend/internal/model"
	"drawboard-backend/internal/room"
)

// Socket is the dispatcher's view of one connection: an opaque id assigned
// by the transport, plus the room binding established by the join message.
type Socket interface {
	room.Sender
	UID() string
	RoomID() string
	Username() string
	Bind(roomID, username string)
}

// Dispatcher applies inbound envelopes to room state and decides what to
// broadcast and to whom. The protocol has no negative acknowledgement
// channel: everything that cannot be applied is a silent no-op.
type Dispatcher struct {
	hub   *room.Hub
	store *cache.Client // optional mirror, nil when Redis is not configured
}

// New creates a dispatcher over the room hub.
func New(hub *room.Hub, store *cache.Client) *Dispatcher {
	return &Dispatcher{hub: hub, store: store}
}

// Hub exposes the room registry to the REST surface.
func (d *Dispatcher) Hub() *room.Hub {
	return d.hub
}

type messageHandler struct {
	gated bool // subject to the host-only permission predicate
	apply func(d *Dispatcher, rm *room.Room, p *room.Participant, data json.RawMessage)
}

// One gate predicate, evaluated once per message type, instead of
// per-handler permission checks.
var messageTable = map[string]messageHandler{
	model.TypePing:          {apply: (*Dispatcher).handlePing},
	model.TypeUserState:     {gated: true, apply: (*Dispatcher).handleUserState},
	model.TypeStroke:        {gated: true, apply: (*Dispatcher).handleStroke},
	model.TypeCanvasRequest: {gated: true, apply: (*Dispatcher).handleCanvasRequest},
	model.TypeCanvasInitial: {gated: true, apply: (*Dispatcher).handleCanvasInitial},
	model.TypeUserCanvas:    {gated: true, apply: (*Dispatcher).handleUserCanvas},
}

// HandleMessage routes one parsed envelope. Unknown types, messages for
// rooms that no longer exist, senders that already left and gate failures
// are all dropped without reply.
func (d *Dispatcher) HandleMessage(sock Socket, env *model.Envelope) {
	switch env.Type {
	case model.TypeJoin:
		var req model.JoinRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.RoomID == "" {
			return
		}
		// a socket hopping rooms leaves its old room first, so the old
		// room never keeps a registration for a connection it lost
		if prev := sock.RoomID(); prev != "" && prev != req.RoomID {
			d.HandleLeave(sock)
		}
		sock.Bind(req.RoomID, req.Username)
		d.HandleJoin(sock)
		return
	case model.TypeLeave:
		d.HandleLeave(sock)
		return
	}

	entry, ok := messageTable[env.Type]
	if !ok {
		return
	}
	rm, ok := d.hub.Get(sock.RoomID())
	if !ok {
		return
	}
	rm.Handle(func() {
		p, ok := rm.Get(sock.UID())
		if !ok {
			return
		}
		if entry.gated && !rm.Allowed(p.ID) {
			return
		}
		entry.apply(d, rm, p, env.Data)
	})
}

// HandleJoin registers the socket in its room, runs host election and
// replies with the participant id, the replayable history (log mode) and
// the current room state. Only the joining socket hears the reply.
func (d *Dispatcher) HandleJoin(sock Socket) {
	rm, created := d.hub.GetOrCreate(sock.RoomID())
	if created {
		d.warmRoom(rm)
	}

	rm.Handle(func() {
		p := room.NewParticipant(sock.UID(), sock.Username(), sock)
		rm.Connect(p)
		log.Printf("[Dispatch] %s joined room %s (%d users)", p.ID, rm.ID, rm.Size())

		reply := &model.JoinReply{ID: p.ID}
		if rm.Mode() == room.HistoryLog {
			reply.Canvas = rm.History()
		}
		p.Send(model.NewEnvelope(model.TypeJoin, reply))
		// the fold snapshot is the base raster; it must land before any replay
		if blob := rm.Canvas(); blob != "" {
			p.Send(model.NewEnvelope(model.TypeCanvasInitial, model.CanvasPayload{Canvas: blob}))
		}
		p.Send(model.NewEnvelope(model.TypeRoomState, rm.State()))
	})
}

// HandleLeave deregisters the socket, re-runs host election and notifies
// the remaining participants. A socket that never joined, or whose leave
// already raced ahead of in-flight messages, is a routine drop.
func (d *Dispatcher) HandleLeave(sock Socket) {
	roomID := sock.RoomID()
	if roomID == "" {
		return
	}
	rm, ok := d.hub.Get(roomID)
	if !ok {
		return
	}
	rm.Handle(func() {
		p, ok := rm.Disconnect(sock.UID())
		if !ok {
			return
		}
		log.Printf("[Dispatch] %s left room %s (%d users)", p.ID, rm.ID, rm.Size())

		d.broadcast(rm, model.NewEnvelope(model.TypeMessage, model.NoticePayload{
			Message: p.Username + " left",
		}), p.ID)
	})

	if rm.Empty() {
		d.hub.RemoveIfEmpty(roomID)
	}
}

func (d *Dispatcher) handlePing(_ *room.Room, _ *room.Participant, _ json.RawMessage) {
	// keepalive only: no state change, no reply
}

func (d *Dispatcher) handleUserState(rm *room.Room, p *room.Participant, data json.RawMessage) {
	var payload model.UserStatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	state, ok := rm.UpdateState(p.ID, payload.State)
	if !ok {
		return
	}
	d.broadcast(rm, model.NewEnvelope(model.TypeRoomState, state), "")
}

func (d *Dispatcher) handleStroke(rm *room.Room, p *room.Participant, data json.RawMessage) {
	var points []model.Point
	if err := json.Unmarshal(data, &points); err != nil || len(points) == 0 {
		return
	}
	stroke, folded, ok := rm.AppendStroke(p.ID, points)
	if !ok {
		return
	}
	d.broadcast(rm, model.NewEnvelope(model.TypeStroke, stroke), p.ID)

	if d.store != nil && rm.Mode() == room.HistoryLog {
		keep := int64(len(rm.History()))
		blob := rm.Canvas()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if folded {
				d.store.TruncateHistory(ctx, rm.ID, keep)
				if blob != "" {
					d.store.SetCanvas(ctx, rm.ID, blob)
				}
				return
			}
			d.store.AppendStroke(ctx, rm.ID, stroke)
		}()
	}
}

// handleCanvasRequest asks one connected peer, the earliest joiner other
// than the requester, to source a fresh raster. With no peer available the
// request is dropped; the joiner keeps a blank canvas until someone pushes.
func (d *Dispatcher) handleCanvasRequest(rm *room.Room, p *room.Participant, _ json.RawMessage) {
	target, ok := rm.FirstOther(p.ID)
	if !ok {
		return
	}
	target.Send(model.NewEnvelope(model.TypeCanvasRequest, nil))
}

func (d *Dispatcher) handleCanvasInitial(rm *room.Room, p *room.Participant, data json.RawMessage) {
	blob, ok := decodeCanvas(data)
	if !ok {
		return
	}
	rm.SetCanvas(blob)
	d.mirrorCanvas(rm.ID, blob)
	d.broadcast(rm, model.NewEnvelope(model.TypeCanvasInitial, model.CanvasPayload{Canvas: blob}), "")
}

// handleUserCanvas stores the blob for the next joiner without relaying.
func (d *Dispatcher) handleUserCanvas(rm *room.Room, _ *room.Participant, data json.RawMessage) {
	blob, ok := decodeCanvas(data)
	if !ok {
		return
	}
	rm.SetCanvas(blob)
	d.mirrorCanvas(rm.ID, blob)
}

// broadcast fans an envelope out to the room, optionally excluding one
// participant. Each send is independently fault-isolated.
func (d *Dispatcher) broadcast(rm *room.Room, env *model.Envelope, exclude string) {
	for _, p := range rm.Participants() {
		if p.ID == exclude {
			continue
		}
		p.Send(env)
	}
}

// warmRoom rebuilds a freshly created room from the cache mirror.
func (d *Dispatcher) warmRoom(rm *room.Room) {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if rm.Mode() == room.HistoryLog {
		if strokes, err := d.store.History(ctx, rm.ID); err == nil && len(strokes) > 0 {
			rm.SeedHistory(strokes)
			log.Printf("[Dispatch] warmed room %s with %d cached strokes", rm.ID, len(strokes))
		}
	}
	if blob, err := d.store.Canvas(ctx, rm.ID); err == nil && blob != "" {
		rm.SetCanvas(blob)
	}
}

func (d *Dispatcher) mirrorCanvas(roomID, blob string) {
	if d.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.store.SetCanvas(ctx, roomID, blob); err != nil {
			log.Printf("[Dispatch] failed to mirror canvas for room %s: %v", roomID, err)
		}
	}()
}

func decodeCanvas(data json.RawMessage) (string, bool) {
	var payload model.CanvasPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Canvas == "" {
		return "", false
	}
	return payload.Canvas, true
}
