package out

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	transportout "flowsync/internal/modules/transport/port/out"
	"flowsync/internal/platform/slug"
)

// FileSnapshotStore keeps one file per room under dir.
type FileSnapshotStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileSnapshotStore(dir string) transportout.SnapshotStore {
	return &FileSnapshotStore{dir: dir}
}

func (s *FileSnapshotStore) path(room string) string {
	return filepath.Join(s.dir, slug.Key(room)+".update")
}

func (s *FileSnapshotStore) Load(_ context.Context, room string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path(room))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return raw, nil
}

func (s *FileSnapshotStore) Save(_ context.Context, room string, update []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	target := s.path(room)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, update, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
