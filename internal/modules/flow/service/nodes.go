package service

import (
	"encoding/json"

	docdomain "flowsync/internal/modules/document/domain"
	"flowsync/internal/modules/flow/domain"
	"flowsync/internal/platform/logging"
)

// Nodes is the node collection. Removing a node also removes every edge that starts
// or ends at it, in the same transaction.
type Nodes struct {
	*Collection[domain.Node]
}

func NewNodes(logger logging.Logger) *Nodes {
	return &Nodes{Collection: NewCollection[domain.Node](domain.MapNodes, logger)}
}

// ApplyChanges replays changes over the shared node map and commits the result.
func (n *Nodes) ApplyChanges(changes []domain.NodeChange) error {
	if len(changes) == 0 {
		return nil
	}
	doc := n.Doc()
	if doc == nil {
		return nil
	}
	var err error
	doc.Transact(n.Collection, func(tx *docdomain.Transaction) {
		m := tx.Map(domain.MapNodes)
		current := n.decode(m.Entries())
		next := domain.ApplyNodeChanges(changes, current)
		if err = writeAll(m, current, next); err != nil {
			return
		}
		cascadeEdges(tx, removedIDs(current, next))
	})
	return err
}

// RemoveBridged deletes ids and reconnects each removed node's incomers to its
// outgoers, so a chain stays a chain.
func (n *Nodes) RemoveBridged(ids ...string) error {
	doc := n.Doc()
	if doc == nil || len(ids) == 0 {
		return nil
	}
	var err error
	doc.Transact(n.Collection, func(tx *docdomain.Transaction) {
		nm := tx.Map(domain.MapNodes)
		em := tx.Map(domain.MapEdges)
		nodes := n.decode(nm.Entries())
		edges := decodeEdges(em.Entries())

		drop := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			drop[id] = struct{}{}
		}
		deleted := []domain.Node{}
		kept := []domain.Node{}
		for _, node := range nodes {
			if _, ok := drop[node.ID]; ok {
				deleted = append(deleted, node)
				continue
			}
			kept = append(kept, node)
		}
		if len(deleted) == 0 {
			return
		}
		if err = writeAll(em, edges, domain.BridgeRemoved(deleted, nodes, edges)); err != nil {
			return
		}
		err = writeAll(nm, nodes, kept)
	})
	return err
}

func removedIDs(before, after []domain.Node) map[string]struct{} {
	still := make(map[string]struct{}, len(after))
	for _, node := range after {
		still[node.ID] = struct{}{}
	}
	removed := map[string]struct{}{}
	for _, node := range before {
		if _, ok := still[node.ID]; !ok {
			removed[node.ID] = struct{}{}
		}
	}
	return removed
}

// cascadeEdges deletes every edge touching a removed node id.
func cascadeEdges(tx *docdomain.Transaction, removed map[string]struct{}) {
	if len(removed) == 0 {
		return
	}
	em := tx.Map(domain.MapEdges)
	for _, entry := range em.Entries() {
		var edge domain.Edge
		if err := json.Unmarshal(entry.Value, &edge); err != nil {
			continue
		}
		_, src := removed[edge.Source]
		_, dst := removed[edge.Target]
		if src || dst {
			em.Delete(entry.Key)
		}
	}
}

func decodeEdges(entries []docdomain.Entry) []domain.Edge {
	out := make([]domain.Edge, 0, len(entries))
	for _, entry := range entries {
		var edge domain.Edge
		if err := json.Unmarshal(entry.Value, &edge); err != nil {
			continue
		}
		out = append(out, edge)
	}
	return out
}
