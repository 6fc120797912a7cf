package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// scratch owns one invocation's temporary on-disk audio artifacts. Cleanup
// always runs, on success and on every error path, and is strictly
// best-effort: deletion failures are logged and never propagated.
type scratch struct {
	dir    string
	logger *slog.Logger
}

func newScratch(parent string, log *slog.Logger) (*scratch, error) {
	dir := filepath.Join(parent, "lessonsynth-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &scratch{dir: dir, logger: log}, nil
}

func (s *scratch) write(name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write scratch file %s: %w", name, err)
	}
	return path, nil
}

func (s *scratch) cleanup() {
	if err := os.RemoveAll(s.dir); err != nil {
		s.logger.Debug("scratch cleanup failed", slog.String("dir", s.dir), slog.String("error", err.Error()))
	}
}
