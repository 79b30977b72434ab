package domain

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// An update is a run of saved automerge changes. Empty input is an empty update.
func decodeChanges(update []byte) ([]*automerge.Change, error) {
	if len(update) == 0 {
		return nil, nil
	}
	changes, err := automerge.LoadChanges(update)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return changes, nil
}

func encodeChanges(changes []*automerge.Change) []byte {
	if len(changes) == 0 {
		return nil
	}
	return automerge.SaveChanges(changes)
}

// MergeUpdates folds several updates into one, dropping changes that appear twice.
// Applying the result equals applying the inputs in any order.
func MergeUpdates(updates ...[]byte) ([]byte, error) {
	seen := map[automerge.ChangeHash]bool{}
	var out []*automerge.Change
	for i, update := range updates {
		changes, err := decodeChanges(update)
		if err != nil {
			return nil, fmt.Errorf("update %d: %w", i, err)
		}
		for _, ch := range changes {
			if seen[ch.Hash()] {
				continue
			}
			seen[ch.Hash()] = true
			out = append(out, ch)
		}
	}
	return encodeChanges(out), nil
}

// UpdateHashes lists the hashes of the changes carried by update.
func UpdateHashes(update []byte) ([]automerge.ChangeHash, error) {
	changes, err := decodeChanges(update)
	if err != nil {
		return nil, err
	}
	out := make([]automerge.ChangeHash, 0, len(changes))
	for _, ch := range changes {
		out = append(out, ch.Hash())
	}
	return out, nil
}
