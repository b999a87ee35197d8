package model

import "encoding/json"

// Wire message types. Every frame on the socket is one Envelope.
const (
	TypeJoin          = "join"
	TypeLeave         = "leave"
	TypePing          = "ping"
	TypeUserState     = "user.state"
	TypeStroke        = "stroke"
	TypeCanvasRequest = "canvas.request"
	TypeCanvasInitial = "canvas.initial"
	TypeUserCanvas    = "user.canvas"
	TypeRoomState     = "room.state"
	TypeMessage       = "message"
)

// Envelope is the transport-agnostic frame: {type, data}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds an outbound envelope from a payload value.
func NewEnvelope(msgType string, data any) *Envelope {
	if data == nil {
		return &Envelope{Type: msgType}
	}
	raw, _ := json.Marshal(data)
	return &Envelope{Type: msgType, Data: raw}
}

// JoinRequest is the client->server join payload.
type JoinRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// JoinReply is sent back on the joining socket only. Canvas carries the
// stroke history for log-replay rooms and is omitted otherwise.
type JoinReply struct {
	ID     string   `json:"id"`
	Canvas []Stroke `json:"canvas,omitempty"`
}

// UserStatePayload is the fixed-rate presence tick from a client.
type UserStatePayload struct {
	Timestamp int64     `json:"timestamp"`
	State     UserState `json:"state"`
}

// UserState carries one tick's cursor, tool and in-flight stroke buffer.
// Drawing marks a buffer that continues the previous tick's stroke.
type UserState struct {
	Cursor  *Point     `json:"cursor,omitempty"`
	Tool    *ToolState `json:"tool,omitempty"`
	Stroke  []Point    `json:"stroke,omitempty"`
	Drawing bool       `json:"drawing,omitempty"`
}

// CanvasPayload relays an encoded raster as an opaque data URL.
type CanvasPayload struct {
	Canvas string `json:"canvas"`
}

// NoticePayload is a human-readable room notice (join/leave).
type NoticePayload struct {
	Message string `json:"message"`
}

// RoomUser is one participant in the RoomState projection.
type RoomUser struct {
	UID    string     `json:"uid"`
	Tool   *ToolState `json:"tool"`
	Cursor *Point     `json:"cursor"`
	Stroke []Point    `json:"stroke"`
}

// RoomState is the serialized projection of a room and its participants,
// recomputed fresh on every broadcast. Host is null for an empty room.
type RoomState struct {
	Host     *string    `json:"host"`
	HostOnly bool       `json:"hostonly"`
	Users    []RoomUser `json:"users"`
}
