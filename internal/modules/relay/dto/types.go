package dto

import "time"

type RoomOutput struct {
	Name    string `json:"name"`
	Clients int    `json:"clients"`
	Peers   int    `json:"peers"`
}

type NodeOutput struct {
	ID    string  `json:"id"`
	Type  string  `json:"type,omitempty"`
	Label string  `json:"label,omitempty"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type EdgeOutput struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type RoomStateOutput struct {
	Room  string       `json:"room"`
	Live  bool         `json:"live"`
	Bytes int          `json:"bytes"`
	Nodes []NodeOutput `json:"nodes"`
	Edges []EdgeOutput `json:"edges"`
}

type TokenOutput struct {
	Token     string    `json:"token"`
	Room      string    `json:"room"`
	ExpiresAt time.Time `json:"expires_at"`
}

type HealthOutput struct {
	Status   string `json:"status"`
	Instance string `json:"instance"`
	Rooms    int    `json:"rooms"`
	Clients  int    `json:"clients"`
}

type EndpointOutput struct {
	Instance string `json:"instance"`
	URL      string `json:"url"`
}
