package room

import (
	"log"
	"sync"

	"drawboard-backend/internal/canvas"
	"drawboard-backend/internal/model"
)

// Sender delivers an outbound envelope to one participant. Sends are
// fire-and-forget: a dead recipient must never abort the caller.
type Sender interface {
	Send(env *model.Envelope)
}

// Participant is one connected user's presence state, owned exclusively by
// its room and mutated only in response to that participant's own messages.
type Participant struct {
	ID       string
	Username string
	Cursor   *model.Point
	Tool     *model.ToolState
	Stroke   []model.Point
	sender   Sender
}

// NewParticipant creates a participant bound to its connection.
func NewParticipant(id, username string, sender Sender) *Participant {
	return &Participant{ID: id, Username: username, sender: sender}
}

// Send forwards an envelope to the participant's connection.
func (p *Participant) Send(env *model.Envelope) {
	if p.sender != nil {
		p.sender.Send(env)
	}
}

// HistoryMode selects how a joining participant obtains the current canvas.
type HistoryMode string

const (
	// HistoryLog retains the ordered stroke history and replays it on join.
	HistoryLog HistoryMode = "log"
	// HistorySnapshot holds only the latest encoded raster, sourced from a
	// connected peer via canvas.request/canvas.initial.
	HistorySnapshot HistoryMode = "snapshot"
)

// Options configures a room's history strategy and permissions.
type Options struct {
	HistoryMode    HistoryMode
	HostOnly       bool
	HistoryTrigger int // fold history into a snapshot past this many strokes
	HistoryKeep    int // strokes kept replayable after a fold
	CanvasWidth    int
	CanvasHeight   int
}

// Room aggregates the participant registry, host election and shared state
// for one collaboration session. All mutations of a room happen under its
// mutex: each inbound message maps to exactly one compound method here, so
// no two messages for the same room ever interleave their state changes.
type Room struct {
	ID string

	msgMu        sync.Mutex // orders whole-message handling, see Handle
	mu           sync.Mutex
	opts         Options
	hostID       string
	participants map[string]*Participant
	order        []string // join order; host succession follows it
	history      []model.Stroke
	canvas       string // latest encoded raster, opaque blob
	board        *canvas.Board
}

// New creates an empty room.
func New(id string, opts Options) *Room {
	return &Room{
		ID:           id,
		opts:         opts,
		participants: make(map[string]*Participant),
	}
}

// Handle runs one inbound message's complete handling, state change plus
// fan-out, as a unit. Without it two in-flight messages for the same room
// could enqueue their broadcasts in an order different from the order
// their state changes were applied.
func (r *Room) Handle(fn func()) {
	r.msgMu.Lock()
	defer r.msgMu.Unlock()
	fn()
}

// Connect registers a participant and re-runs host election before the
// caller broadcasts any state. A repeated join under the same id replaces
// the registration and keeps its original join-order slot.
func (r *Room) Connect(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.participants[p.ID] = p
	r.electLocked()
}

// Disconnect removes a participant and re-runs host election. A missing id
// is routine (a leave racing its own in-flight messages) and reports ok=false.
func (r *Room) Disconnect(id string) (p *Participant, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok = r.participants[id]
	if !ok {
		return nil, false
	}
	delete(r.participants, id)
	for i, uid := range r.order {
		if uid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.electLocked()
	return p, true
}

// electLocked keeps exactly one connected participant as host: the current
// one if still registered, otherwise the join-order successor. An empty
// room yields no host. Never fails.
func (r *Room) electLocked() {
	if _, ok := r.participants[r.hostID]; ok {
		return
	}
	if len(r.order) == 0 {
		r.hostID = ""
		return
	}
	next := r.order[0]
	log.Printf("[Room %s] host handover to %s", r.ID, next)
	r.hostID = next
}

// Get looks up a participant. Absence is routine; callers drop the message.
func (r *Room) Get(id string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	return p, ok
}

// Participants returns the registry in join order.
func (r *Room) Participants() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Participant, 0, len(r.order))
	for _, uid := range r.order {
		out = append(out, r.participants[uid])
	}
	return out
}

// FirstOther returns the earliest-joined participant other than id, the
// peer asked to source a fresh raster for snapshot joins.
func (r *Room) FirstOther(id string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, uid := range r.order {
		if uid != id {
			return r.participants[uid], true
		}
	}
	return nil, false
}

// HostID returns the current host, or "" for an empty room.
func (r *Room) HostID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// HostOnly reports whether only the host's updates are authoritative.
func (r *Room) HostOnly() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.HostOnly
}

// SetHostOnly switches the room between presentation and collaborative mode.
func (r *Room) SetHostOnly(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.HostOnly = v
}

// Allowed is the single permission predicate gating inbound messages.
func (r *Room) Allowed(senderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.opts.HostOnly || senderID == r.hostID
}

// Empty reports whether no participant remains.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants) == 0
}

// Size returns the participant count.
func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Mode returns the room's history strategy.
func (r *Room) Mode() HistoryMode {
	return r.opts.HistoryMode
}

// State recomputes the serialized room projection, participants in join
// order. Never cached or diffed.
func (r *Room) State() *model.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Room) stateLocked() *model.RoomState {
	state := &model.RoomState{
		HostOnly: r.opts.HostOnly,
		Users:    make([]model.RoomUser, 0, len(r.order)),
	}
	if r.hostID != "" {
		host := r.hostID
		state.Host = &host
	}
	for _, uid := range r.order {
		p := r.participants[uid]
		state.Users = append(state.Users, model.RoomUser{
			UID:    p.ID,
			Tool:   p.Tool,
			Cursor: p.Cursor,
			Stroke: p.Stroke,
		})
	}
	return state
}

// UpdateState applies one presence tick to a participant and returns the
// fresh projection to broadcast. When the tick continues an in-flight
// stroke, the previous buffer's trailing point is merged in so replayed
// segments have no gap between polling ticks.
func (r *Room) UpdateState(id string, st model.UserState) (*model.RoomState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return nil, false
	}

	p.Cursor = st.Cursor
	if st.Tool != nil {
		tool := *st.Tool
		p.Tool = &tool
	}
	if st.Drawing && len(p.Stroke) > 0 && len(st.Stroke) > 0 {
		merged := make([]model.Point, 0, len(st.Stroke)+1)
		merged = append(merged, p.Stroke[len(p.Stroke)-1])
		merged = append(merged, st.Stroke...)
		p.Stroke = merged
	} else {
		p.Stroke = st.Stroke
	}

	return r.stateLocked(), true
}

// AppendStroke records a finished stroke under the sender's current tool
// and returns the broadcast payload. Log-mode rooms retain it in history
// and fold overflow into a rendered snapshot; snapshot-mode rooms only
// relay it. folded reports whether a fold ran, so callers can sync any
// external mirror.
func (r *Room) AppendStroke(id string, points []model.Point) (stroke *model.Stroke, folded, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return nil, false, false
	}

	tool := model.DefaultTool()
	if p.Tool != nil {
		tool = *p.Tool
	}
	s := model.Stroke{Points: points, Tool: tool}

	if r.opts.HistoryMode == HistoryLog {
		r.history = append(r.history, s)
		if r.opts.HistoryTrigger > 0 && len(r.history) >= r.opts.HistoryTrigger {
			before := len(r.history)
			r.foldLocked()
			folded = len(r.history) < before
		}
	}
	return &s, folded, true
}

// foldLocked renders the oldest strokes into the room's fold canvas and
// truncates history to the keep window, so join replay cost stays bounded
// without losing fidelity.
func (r *Room) foldLocked() {
	keep := r.opts.HistoryKeep
	if keep < 0 {
		keep = 0
	}
	cut := len(r.history) - keep
	if cut <= 0 {
		return
	}

	if r.board == nil {
		r.board = canvas.NewBoard(r.opts.CanvasWidth, r.opts.CanvasHeight)
		if r.canvas != "" {
			if img, err := canvas.DecodeDataURL(r.canvas); err == nil {
				r.board.Restore(img)
			}
		}
	}
	for _, s := range r.history[:cut] {
		r.board.DrawStroke(s.Points, s.Tool)
	}

	blob, err := r.board.EncodeDataURL()
	if err != nil {
		log.Printf("[Room %s] snapshot fold failed: %v", r.ID, err)
		return
	}
	r.canvas = blob
	r.history = append([]model.Stroke(nil), r.history[cut:]...)
	log.Printf("[Room %s] folded %d strokes into snapshot, %d kept", r.ID, cut, len(r.history))
}

// History returns a copy of the replayable stroke log.
func (r *Room) History() []model.Stroke {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Stroke(nil), r.history...)
}

// SeedHistory pre-populates an empty history, used to warm a freshly
// created room from the cache mirror.
func (r *Room) SeedHistory(strokes []model.Stroke) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		r.history = append([]model.Stroke(nil), strokes...)
	}
}

// Canvas returns the stored raster blob, "" if none.
func (r *Room) Canvas() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canvas
}

// SetCanvas stores the latest raster blob pushed by a participant.
func (r *Room) SetCanvas(blob string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canvas = blob
}
