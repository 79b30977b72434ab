package domain

import (
	"hash/fnv"
	"math"
	"strconv"
	"time"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// MaxIdle is how long a cursor survives without a pointer move.
const MaxIdle = 10 * time.Second

// Cursor is one peer's pointer in flow coordinates. Timestamp is Unix milliseconds.
type Cursor struct {
	ID        string  `json:"id"`
	Color     string  `json:"color"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

func (c Cursor) Key() string { return c.ID }

func (c Cursor) Stale(now time.Time, maxIdle time.Duration) bool {
	return now.UnixMilli()-c.Timestamp > maxIdle.Milliseconds()
}

// CursorID renders a document client id the way cursor records are keyed.
func CursorID(client uint64) string {
	return strconv.FormatUint(client, 10)
}

// ColorFor derives a stable display color from a peer id.
func ColorFor(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	hue := math.Mod(float64(h.Sum32()), 360)
	return colorful.Hsv(hue, 0.65, 0.9).Hex()
}

// Viewport is the pan and zoom of a canvas. Zoom 0 is treated as 1.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

func (v Viewport) zoom() float64 {
	if v.Zoom == 0 {
		return 1
	}
	return v.Zoom
}

func (v Viewport) ScreenToFlow(p XYPosition) XYPosition {
	z := v.zoom()
	return XYPosition{X: (p.X - v.X) / z, Y: (p.Y - v.Y) / z}
}

func (v Viewport) FlowToScreen(p XYPosition) XYPosition {
	z := v.zoom()
	return XYPosition{X: p.X*z + v.X, Y: p.Y*z + v.Y}
}

// Peer is the user state a client publishes through awareness.
type Peer struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}
