package canvas

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	xdraw "golang.org/x/image/draw"

	"drawboard-backend/internal/brush"
	"drawboard-backend/internal/model"
)

const dataURLPrefix = "data:image/png;base64,"

// ErrLastLayer is returned when removing the only remaining layer.
var ErrLastLayer = errors.New("canvas: at least one layer must exist")

// ErrNoSuchLayer is returned for lookups of unknown layer ids.
var ErrNoSuchLayer = errors.New("canvas: no such layer")

// Layer is one raster surface of the board.
type Layer struct {
	ID      int
	Hidden  bool
	Surface *image.NRGBA
}

// Board owns an ordered stack of layers composable into a single visible
// image. Strokes are painted onto the active layer through the brush engine.
type Board struct {
	width  int
	height int
	layers []*Layer
	active int
	nextID int
	engine *brush.Engine
}

// NewBoard creates a board with the implicit first layer.
func NewBoard(width, height int) *Board {
	b := &Board{
		width:  width,
		height: height,
		engine: brush.NewEngine(),
	}
	b.AddLayer()
	return b
}

// Width returns the board width in pixels.
func (b *Board) Width() int { return b.width }

// Height returns the board height in pixels.
func (b *Board) Height() int { return b.height }

// Layers returns the layer stack, bottom first.
func (b *Board) Layers() []*Layer { return b.layers }

// AddLayer appends a new transparent layer and makes it active.
func (b *Board) AddLayer() *Layer {
	b.nextID++
	layer := &Layer{
		ID:      b.nextID,
		Surface: image.NewNRGBA(image.Rect(0, 0, b.width, b.height)),
	}
	b.layers = append(b.layers, layer)
	b.active = len(b.layers) - 1
	return layer
}

// RemoveLayer deletes a layer. The last remaining layer cannot be removed.
func (b *Board) RemoveLayer(id int) error {
	if len(b.layers) == 1 {
		return ErrLastLayer
	}
	for i, layer := range b.layers {
		if layer.ID == id {
			b.layers = append(b.layers[:i], b.layers[i+1:]...)
			if b.active >= len(b.layers) {
				b.active = len(b.layers) - 1
			}
			return nil
		}
	}
	return ErrNoSuchLayer
}

// SelectLayer makes the given layer the stroke target.
func (b *Board) SelectLayer(id int) error {
	for i, layer := range b.layers {
		if layer.ID == id {
			b.active = i
			return nil
		}
	}
	return ErrNoSuchLayer
}

// SetHidden toggles a layer's visibility in the composite.
func (b *Board) SetHidden(id int, hidden bool) error {
	for _, layer := range b.layers {
		if layer.ID == id {
			layer.Hidden = hidden
			return nil
		}
	}
	return ErrNoSuchLayer
}

// ActiveLayer returns the current stroke target.
func (b *Board) ActiveLayer() *Layer {
	return b.layers[b.active]
}

// DrawStroke replays one stroke onto the active layer.
func (b *Board) DrawStroke(points []model.Point, tool model.ToolState) {
	b.engine.DrawStroke(b.ActiveLayer().Surface, points, tool)
}

// Snapshot copies the active layer's pixels for later restore (undo).
func (b *Board) Snapshot() *image.NRGBA {
	src := b.ActiveLayer().Surface
	buf := image.NewNRGBA(src.Rect)
	xdraw.Copy(buf, image.Point{}, src, src.Rect, xdraw.Src, nil)
	return buf
}

// Restore writes a snapshot back onto the active layer.
func (b *Board) Restore(buf *image.NRGBA) {
	dst := b.ActiveLayer().Surface
	xdraw.Copy(dst, image.Point{}, buf, buf.Rect, xdraw.Src, nil)
}

// SetSize resizes every layer, preserving existing content at the origin.
func (b *Board) SetSize(width, height int) {
	for _, layer := range b.layers {
		resized := image.NewNRGBA(image.Rect(0, 0, width, height))
		xdraw.Copy(resized, image.Point{}, layer.Surface, layer.Surface.Rect, xdraw.Src, nil)
		layer.Surface = resized
	}
	b.width = width
	b.height = height
}

// Compose flattens the visible layers, bottom first, into one image.
func (b *Board) Compose() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, b.width, b.height))
	for _, layer := range b.layers {
		if layer.Hidden {
			continue
		}
		xdraw.Draw(out, out.Rect, layer.Surface, image.Point{}, xdraw.Over)
	}
	return out
}

// EncodeDataURL flattens the board into a PNG data URL, the opaque blob
// shape the wire protocol relays.
func (b *Board) EncodeDataURL() (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, b.Compose()); err != nil {
		return "", fmt.Errorf("encode canvas: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURL parses a PNG data URL back into a raster.
func DecodeDataURL(blob string) (*image.NRGBA, error) {
	raw, ok := strings.CutPrefix(blob, dataURLPrefix)
	if !ok {
		return nil, errors.New("canvas: not a png data url")
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode canvas: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode canvas: %w", err)
	}
	out := image.NewNRGBA(img.Bounds())
	xdraw.Copy(out, out.Rect.Min, img, img.Bounds(), xdraw.Src, nil)
	return out, nil
}
