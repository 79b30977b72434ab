package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Shared map names inside a room document.
const (
	MapNodes   = "nodes"
	MapEdges   = "edges"
	MapCursors = "cursors"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrEdgeNotFound = errors.New("edge not found")
	ErrInvalidNode  = errors.New("invalid node")
	ErrInvalidEdge  = errors.New("invalid edge")
)

type XYPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p XYPosition) Add(o XYPosition) XYPosition { return XYPosition{X: p.X + o.X, Y: p.Y + o.Y} }
func (p XYPosition) Sub(o XYPosition) XYPosition { return XYPosition{X: p.X - o.X, Y: p.Y - o.Y} }

type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Data is a schema-free payload attached to nodes and edges.
type Data map[string]json.RawMessage

func (d Data) String(key string) string {
	raw, ok := d[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (d Data) Float(key string) (float64, bool) {
	raw, ok := d[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// Set stores value under key, allocating the map if needed.
func (d *Data) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode data %q: %w", key, err)
	}
	if *d == nil {
		*d = Data{}
	}
	(*d)[key] = raw
	return nil
}

func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func (d Data) Label() string { return d.String("label") }

type Node struct {
	ID       string     `json:"id"`
	Type     string     `json:"type,omitempty"`
	Position XYPosition `json:"position"`
	Data     Data       `json:"data,omitempty"`
	ParentID string     `json:"parentId,omitempty"`
	Width    float64    `json:"width,omitempty"`
	Height   float64    `json:"height,omitempty"`
	Selected bool       `json:"selected,omitempty"`
	Dragging bool       `json:"dragging,omitempty"`
	Hidden   bool       `json:"hidden,omitempty"`
}

func (n Node) Key() string { return n.ID }

func (n Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidNode)
	}
	return nil
}

type Edge struct {
	ID           string `json:"id"`
	Type         string `json:"type,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Label        string `json:"label,omitempty"`
	Animated     bool   `json:"animated,omitempty"`
	Selected     bool   `json:"selected,omitempty"`
	Data         Data   `json:"data,omitempty"`
}

func (e Edge) Key() string { return e.ID }

func (e Edge) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEdge)
	}
	if e.Source == "" || e.Target == "" {
		return fmt.Errorf("%w: %s needs a source and a target", ErrInvalidEdge, e.ID)
	}
	return nil
}

// Touches reports whether the edge starts or ends at node id.
func (e Edge) Touches(id string) bool {
	return e.Source == id || e.Target == id
}

// Connection is a user gesture linking two handles before it becomes an Edge.
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}
