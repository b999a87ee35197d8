package model

// Point is a canvas coordinate, serialized as a [x, y] array.
type Point [2]float64

// X returns the horizontal coordinate.
func (p Point) X() float64 { return p[0] }

// Y returns the vertical coordinate.
func (p Point) Y() float64 { return p[1] }

// Tool kinds.
const (
	ToolBrush  = "brush"
	ToolEraser = "eraser"
)

// Composite modes. The eraser is a brush with inverted compositing,
// not a separate code path.
const (
	CompositeNormal = "normal"
	CompositeErase  = "erase"
)

// ToolState is the brush configuration a participant draws with. It is a
// value type: copied into the participant on each update, never shared by
// reference across participants.
type ToolState struct {
	Kind          string     `json:"kind"`
	Size          float64    `json:"size"`
	Opacity       float64    `json:"opacity"`
	Color         [3]float64 `json:"color"`
	Spacing       float64    `json:"spacing,omitempty"`
	CompositeMode string     `json:"compositeMode,omitempty"`
}

// Erases reports whether the tool paints alpha-subtractively.
func (t ToolState) Erases() bool {
	return t.CompositeMode == CompositeErase || t.Kind == ToolEraser
}

// DefaultTool is the brush a participant draws with before their first
// user.state tick arrives.
func DefaultTool() ToolState {
	return ToolState{
		Kind:          ToolBrush,
		Size:          20,
		Opacity:       0.5,
		Color:         [3]float64{0, 0, 0},
		CompositeMode: CompositeNormal,
	}
}

// Stroke is one pointer-down-to-pointer-up point sequence painted with one
// fixed tool configuration. Immutable once appended to a room's history.
type Stroke struct {
	Points []Point   `json:"stroke"`
	Tool   ToolState `json:"tool"`
}
