// Package checkpoint persists backfill progress so an interrupted job can
// resume where it stopped.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/model"
)

var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileStore keeps one JSON document per job in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. The directory is created on
// the first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file backing job.
func (s *FileStore) Path(job string) string {
	return filepath.Join(s.dir, job+".json")
}

// Load reads the checkpoint of job. Returns apperrors.ErrCheckpointNotFound
// when none exists.
func (s *FileStore) Load(job string) (model.BackfillCheckpoint, error) {
	if err := validateJob(job); err != nil {
		return model.BackfillCheckpoint{}, err
	}

	data, err := os.ReadFile(s.Path(job))
	if errors.Is(err, os.ErrNotExist) {
		return model.BackfillCheckpoint{}, fmt.Errorf("%w: %s", apperrors.ErrCheckpointNotFound, job)
	}
	if err != nil {
		return model.BackfillCheckpoint{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp model.BackfillCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.BackfillCheckpoint{}, fmt.Errorf("failed to decode checkpoint %s: %w", job, err)
	}
	return cp, nil
}

// Save writes cp atomically: the document goes to a temporary file in the
// same directory which is then renamed over the previous checkpoint, so a
// crash leaves either the old or the new state on disk.
func (s *FileStore) Save(cp model.BackfillCheckpoint) error {
	if err := validateJob(cp.Job); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, cp.Job+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(cp.Job)); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint of job. Deleting a missing checkpoint is not
// an error.
func (s *FileStore) Delete(job string) error {
	if err := validateJob(job); err != nil {
		return err
	}
	if err := os.Remove(s.Path(job)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func validateJob(job string) error {
	if !jobNamePattern.MatchString(job) {
		return fmt.Errorf("invalid job name %q", job)
	}
	return nil
}
