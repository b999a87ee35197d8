package brush

import (
	"encoding/binary"
	"hash/fnv"
	"image"
	"math"
	"math/rand"

	"drawboard-backend/internal/model"
)

// Default stamp shaping. Hardness drives the radial falloff exponent,
// flow scales the per-pixel jitter that emulates texture.
const (
	DefaultHardness = 0.33
	DefaultFlow     = 1.0
)

// Engine replays point sequences into a raster surface. The same stroke
// must yield the same pixels on every peer, so all randomness is seeded
// from the stroke content itself.
type Engine struct {
	Hardness float64
	Flow     float64
}

// NewEngine returns an engine with the default stamp shaping.
func NewEngine() *Engine {
	return &Engine{Hardness: DefaultHardness, Flow: DefaultFlow}
}

// DrawStroke paints an ordered point sequence onto dst with the given tool.
// A single-sample stroke paints exactly one stamp at that point.
func (e *Engine) DrawStroke(dst *image.NRGBA, points []model.Point, tool model.ToolState) {
	if len(points) == 0 || tool.Size <= 0 {
		return
	}

	rng := rand.New(rand.NewSource(strokeSeed(points)))

	if len(points) == 1 {
		e.stamp(dst, points[0].X(), points[0].Y(), tool, rng)
		return
	}

	prev, ctrl := points[0], points[0]
	for _, curr := range points[1:] {
		ctrl = e.segment(dst, prev, ctrl, curr, tool, rng)
		prev = curr
	}
}

// segment paints the quadratic Bézier span prev -> control -> curr and
// returns the control point curr carries into the next span. The control
// point is the midpoint-reflection of prev extended away from its own
// control, which keeps the curve smooth across spans.
func (e *Engine) segment(dst *image.NRGBA, prev, prevCtrl, curr model.Point, tool model.ToolState, rng *rand.Rand) model.Point {
	ctrl := model.Point{
		prev.X() + (prev.X()-prevCtrl.X())/2,
		prev.Y() + (prev.Y()-prevCtrl.Y())/2,
	}

	step := tool.Size
	if tool.Spacing > 0 {
		step = tool.Size * tool.Spacing
	}

	span := math.Hypot(prevCtrl.X()-curr.X(), prevCtrl.Y()-curr.Y()) / step
	steps := int(math.Floor(span))
	// near-zero displacement: no stamps rather than a division blowup
	for i := 0; i < steps; i++ {
		t := float64(i) / span
		x, y := bezier(t, prev, ctrl, curr)
		e.stamp(dst, x, y, tool, rng)
	}

	return ctrl
}

// stamp paints one soft circular brush footprint centered at (cx, cy).
// Points exactly on the radius boundary are excluded (strict <).
func (e *Engine) stamp(dst *image.NRGBA, cx, cy float64, tool model.ToolState, rng *rand.Rand) {
	r := tool.Size
	for dx := -r; dx < r; dx++ {
		for dy := -r; dy < r; dy++ {
			d := math.Hypot(dx, dy)
			if d >= r {
				continue
			}

			alpha := 1 - math.Pow(d/r, r*e.Hardness)
			alpha -= math.Max(rng.Float64()+0.85, 1) * (1 - e.Flow)
			if alpha <= 0 {
				continue
			}
			if alpha > 1 {
				alpha = 1
			}

			px := int(math.Floor(cx + dx))
			py := int(math.Floor(cy + dy))
			blendPixel(dst, px, py, tool, alpha*tool.Opacity)
		}
	}
}

// blendPixel composites one straight-alpha pixel. Normal mode is
// source-over; erase subtracts coverage from the destination alpha and
// reveals whatever lies below the layer.
func blendPixel(dst *image.NRGBA, x, y int, tool model.ToolState, a float64) {
	if !(image.Point{X: x, Y: y}.In(dst.Rect)) {
		return
	}
	i := dst.PixOffset(x, y)
	p := dst.Pix[i : i+4 : i+4]

	if tool.Erases() {
		da := float64(p[3]) / 255 * (1 - a)
		p[3] = uint8(math.Round(da * 255))
		return
	}

	sr := tool.Color[0] / 255
	sg := tool.Color[1] / 255
	sb := tool.Color[2] / 255

	dr := float64(p[0]) / 255
	dg := float64(p[1]) / 255
	db := float64(p[2]) / 255
	da := float64(p[3]) / 255

	outA := a + da*(1-a)
	if outA <= 0 {
		p[0], p[1], p[2], p[3] = 0, 0, 0, 0
		return
	}
	if outA > 1 {
		outA = 1
	}

	p[0] = uint8(math.Round((sr*a + dr*da*(1-a)) / outA * 255))
	p[1] = uint8(math.Round((sg*a + dg*da*(1-a)) / outA * 255))
	p[2] = uint8(math.Round((sb*a + db*da*(1-a)) / outA * 255))
	p[3] = uint8(math.Round(outA * 255))
}

// bezier evaluates the quadratic Bézier through p1 -> p2 -> p3 at t.
func bezier(t float64, p1, p2, p3 model.Point) (float64, float64) {
	u := 1 - t
	x := u*u*p1.X() + 2*u*t*p2.X() + t*t*p3.X()
	y := u*u*p1.Y() + 2*u*t*p2.Y() + t*t*p3.Y()
	return x, y
}

// strokeSeed derives the jitter seed from the stroke content so every peer
// replays identical pixels.
func strokeSeed(points []model.Point) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, p := range points {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.X()))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.Y()))
		h.Write(buf[:])
	}
	return int64(h.Sum64())
}
