package service

import (
	"flowsync/internal/modules/flow/domain"
	"flowsync/internal/platform/logging"
)

type Edges struct {
	*Collection[domain.Edge]
}

func NewEdges(logger logging.Logger) *Edges {
	return &Edges{Collection: NewCollection[domain.Edge](domain.MapEdges, logger)}
}

func (e *Edges) ApplyChanges(changes []domain.EdgeChange) error {
	if len(changes) == 0 {
		return nil
	}
	return e.UpdateSynced(func(current []domain.Edge) []domain.Edge {
		return domain.ApplyEdgeChanges(changes, current)
	})
}

// Connect adds the edge for c unless the same handles are already joined. It reports
// whether an edge was added. Endpoints are not checked against the node map.
func (e *Edges) Connect(c domain.Connection) (bool, error) {
	added := false
	err := e.UpdateSynced(func(current []domain.Edge) []domain.Edge {
		var next []domain.Edge
		next, added = domain.AddEdge(domain.EdgeFromConnection(c), current)
		return next
	})
	return added, err
}
