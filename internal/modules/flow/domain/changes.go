package domain

type ChangeType string

const (
	ChangeAdd        ChangeType = "add"
	ChangeRemove     ChangeType = "remove"
	ChangeReplace    ChangeType = "replace"
	ChangePosition   ChangeType = "position"
	ChangeSelect     ChangeType = "select"
	ChangeDimensions ChangeType = "dimensions"
)

// NodeChange is one discrete edit emitted by the canvas. Which fields are read depends
// on Type: Item for add and replace, Position/Dragging for position, Selected for
// select, Dimensions for dimensions.
type NodeChange struct {
	Type       ChangeType  `json:"type"`
	ID         string      `json:"id,omitempty"`
	Item       *Node       `json:"item,omitempty"`
	Position   *XYPosition `json:"position,omitempty"`
	Dragging   *bool       `json:"dragging,omitempty"`
	Selected   bool        `json:"selected,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
}

type EdgeChange struct {
	Type     ChangeType `json:"type"`
	ID       string     `json:"id,omitempty"`
	Item     *Edge      `json:"item,omitempty"`
	Selected bool       `json:"selected,omitempty"`
}

func AddNode(n Node) NodeChange       { return NodeChange{Type: ChangeAdd, ID: n.ID, Item: &n} }
func RemoveNode(id string) NodeChange { return NodeChange{Type: ChangeRemove, ID: id} }
func MoveNode(id string, to XYPosition) NodeChange {
	return NodeChange{Type: ChangePosition, ID: id, Position: &to}
}
func AddEdgeChange(e Edge) EdgeChange { return EdgeChange{Type: ChangeAdd, ID: e.ID, Item: &e} }
func RemoveEdge(id string) EdgeChange { return EdgeChange{Type: ChangeRemove, ID: id} }

// ApplyNodeChanges replays changes over nodes and returns the resulting list. Changes
// naming an unknown id are skipped; an add of an existing id replaces it in place.
func ApplyNodeChanges(changes []NodeChange, nodes []Node) []Node {
	out := make([]Node, 0, len(nodes)+len(changes))
	out = append(out, nodes...)
	for _, ch := range changes {
		switch ch.Type {
		case ChangeAdd:
			if ch.Item == nil {
				continue
			}
			if i := indexNode(out, ch.Item.ID); i >= 0 {
				out[i] = *ch.Item
				continue
			}
			out = append(out, *ch.Item)
		case ChangeRemove:
			if i := indexNode(out, ch.ID); i >= 0 {
				out = append(out[:i], out[i+1:]...)
			}
		default:
			i := indexNode(out, ch.ID)
			if i < 0 {
				continue
			}
			out[i] = applyNodeChange(ch, out[i])
		}
	}
	return out
}

func applyNodeChange(ch NodeChange, n Node) Node {
	switch ch.Type {
	case ChangeReplace:
		if ch.Item != nil {
			return *ch.Item
		}
	case ChangePosition:
		if ch.Position != nil {
			n.Position = *ch.Position
		}
		if ch.Dragging != nil {
			n.Dragging = *ch.Dragging
		}
	case ChangeSelect:
		n.Selected = ch.Selected
	case ChangeDimensions:
		if ch.Dimensions != nil {
			n.Width = ch.Dimensions.Width
			n.Height = ch.Dimensions.Height
		}
	}
	return n
}

func ApplyEdgeChanges(changes []EdgeChange, edges []Edge) []Edge {
	out := make([]Edge, 0, len(edges)+len(changes))
	out = append(out, edges...)
	for _, ch := range changes {
		switch ch.Type {
		case ChangeAdd:
			if ch.Item == nil {
				continue
			}
			if i := indexEdge(out, ch.Item.ID); i >= 0 {
				out[i] = *ch.Item
				continue
			}
			out = append(out, *ch.Item)
		case ChangeRemove:
			if i := indexEdge(out, ch.ID); i >= 0 {
				out = append(out[:i], out[i+1:]...)
			}
		case ChangeReplace:
			if i := indexEdge(out, ch.ID); i >= 0 && ch.Item != nil {
				out[i] = *ch.Item
			}
		case ChangeSelect:
			if i := indexEdge(out, ch.ID); i >= 0 {
				out[i].Selected = ch.Selected
			}
		}
	}
	return out
}

func indexNode(nodes []Node, id string) int {
	for i := range nodes {
		if nodes[i].ID == id {
			return i
		}
	}
	return -1
}

func indexEdge(edges []Edge, id string) int {
	for i := range edges {
		if edges[i].ID == id {
			return i
		}
	}
	return -1
}

// FindNode returns the node with id.
func FindNode(nodes []Node, id string) (Node, bool) {
	if i := indexNode(nodes, id); i >= 0 {
		return nodes[i], true
	}
	return Node{}, false
}

func FindEdge(edges []Edge, id string) (Edge, bool) {
	if i := indexEdge(edges, id); i >= 0 {
		return edges[i], true
	}
	return Edge{}, false
}
