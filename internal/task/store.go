package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	fileutil "snipeqc/internal/file"
)

// SampleStore persists task snapshots across restarts. The default is
// file-based under dataDir/tasks/<id>/status.json.
type SampleStore interface {
	Save(ctx context.Context, s *Sample) error
	LoadAll(ctx context.Context) ([]*Sample, error)
	SampleDir(taskID string) string
}

type fileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) SampleStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) SampleDir(taskID string) string {
	return filepath.Join(s.dataDir, "tasks", taskID)
}

func (s *fileStore) statusPath(taskID string) string {
	return filepath.Join(s.SampleDir(taskID), "status.json")
}

func (s *fileStore) Save(_ context.Context, sample *Sample) error {
	if err := fileutil.EnsureDir(s.SampleDir(sample.ID)); err != nil {
		return fmt.Errorf("ensure task dir: %w", err)
	}
	return fileutil.WriteJSONAtomic(s.statusPath(sample.ID), sample) //nolint:wrapcheck
}

func (s *fileStore) LoadAll(_ context.Context) ([]*Sample, error) {
	root := filepath.Join(s.dataDir, "tasks")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	samples := make([]*Sample, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(s.statusPath(e.Name())) //nolint:gosec // path is controlled by application
		if err != nil {
			continue
		}
		var sample Sample
		if err := json.Unmarshal(data, &sample); err != nil {
			continue
		}
		loaded := sample
		samples = append(samples, &loaded)
	}
	return samples, nil
}
