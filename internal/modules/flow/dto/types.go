package dto

type NodeOutput struct {
	ID       string  `json:"id"`
	Type     string  `json:"type,omitempty"`
	Label    string  `json:"label,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	ParentID string  `json:"parent_id,omitempty"`
}

type EdgeOutput struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

type CursorOutput struct {
	ID    string  `json:"id"`
	Color string  `json:"color"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	AgeMS int64   `json:"age_ms"`
}

type PeerOutput struct {
	Client string `json:"client"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

type GraphOutput struct {
	Room      string         `json:"room"`
	Connected bool           `json:"connected"`
	Nodes     []NodeOutput   `json:"nodes"`
	Edges     []EdgeOutput   `json:"edges"`
	Cursors   []CursorOutput `json:"cursors,omitempty"`
	Peers     []PeerOutput   `json:"peers,omitempty"`
}

type RemoveNodeOutput struct {
	NodeID       string   `json:"node_id"`
	EdgesRemoved []string `json:"edges_removed"`
}

type HistoryOutput struct {
	Applied bool `json:"applied"`
	CanUndo bool `json:"can_undo"`
	CanRedo bool `json:"can_redo"`
}

// ClipboardOutput names the node and edge ids a clipboard operation touched.
type ClipboardOutput struct {
	Nodes []string `json:"nodes"`
	Edges []string `json:"edges"`
}

type BridgeOutput struct {
	Removed []string     `json:"removed"`
	Bridges []EdgeOutput `json:"bridges"`
}
