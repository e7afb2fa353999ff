package allocator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// MountPointSpace generates fresh directories under Base. Each reservation
// gets a new name, so the in-use check only guards against collisions with
// leftovers from an earlier crashed run.
type MountPointSpace struct {
	Base   string
	Prefix string
	// Tries is how many names Candidates offers; zero means 3.
	Tries int
}

func (s MountPointSpace) Candidates() ([]string, error) {
	if s.Base == "" {
		return nil, errors.New("mount base directory not set")
	}
	prefix := s.Prefix
	if prefix == "" {
		prefix = "smbdoctor-"
	}
	tries := s.Tries
	if tries <= 0 {
		tries = 3
	}
	out := make([]string, tries)
	for i := range out {
		out[i] = filepath.Join(s.Base, prefix+uuid.NewString()[:8])
	}
	return out, nil
}

// Prepare creates the mount point. An existing directory is refused so we
// never mount over something we did not create.
func (s MountPointSpace) Prepare(_ context.Context, id string) error {
	if err := os.MkdirAll(filepath.Dir(id), 0o755); err != nil {
		return err
	}
	if err := os.Mkdir(id, 0o700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("mount point %s already exists", id)
		}
		return err
	}
	return nil
}

// Free removes the mount point. It only succeeds on an empty directory, which
// keeps a failed unmount from deleting remote data.
func (s MountPointSpace) Free(_ context.Context, id string) error {
	err := os.Remove(id)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
