// Package artifact owns fetched files on disk from the moment a fetch
// returns until delivery has been attempted.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/media"
)

// DeliverFunc hands an artifact to the delivery collaborator.
type DeliverFunc func(ctx context.Context, a media.Artifact) error

// Manager guarantees that every artifact it is handed is removed.
type Manager struct {
	dir    string
	remove func(string) error
	logger *zap.Logger
}

// NewManager prepares dir (creating it if needed) and checks it is writable.
// A relative dir is resolved against the working directory.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("download directory is required")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve download directory: %w", err)
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create download directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat download directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("download directory path is not a directory")
	}

	testFile := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("download directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{dir: dir, remove: os.Remove, logger: logger}, nil
}

// Dir returns the managed download directory as an absolute path.
func (m *Manager) Dir() string {
	return m.dir
}

// Deliver invokes fn with a and then removes a's file, whatever fn did. A
// missing file is reported as a DeliveryError wrapping ErrArtifactMissing
// without calling fn. Removal failures are logged, never returned.
func (m *Manager) Deliver(ctx context.Context, a media.Artifact, fn DeliverFunc) (err error) {
	defer m.release(a)

	defer func() {
		if r := recover(); r != nil {
			err = &media.DeliveryError{Path: a.Path, Err: fmt.Errorf("delivery panicked: %v", r)}
		}
	}()

	if _, statErr := os.Stat(a.Path); statErr != nil {
		return &media.DeliveryError{Path: a.Path, Err: fmt.Errorf("%w: %w", media.ErrArtifactMissing, statErr)}
	}
	if err := fn(ctx, a); err != nil {
		return &media.DeliveryError{Path: a.Path, Err: err}
	}
	return nil
}

func (m *Manager) release(a media.Artifact) {
	if a.Path == "" {
		return
	}
	if !m.owns(a.Path) {
		m.logger.Warn("refusing to remove artifact outside download directory",
			zap.String("job_id", a.OwningJob),
			zap.String("path", a.Path),
		)
		return
	}
	if err := m.remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("artifact removal failed",
			zap.String("job_id", a.OwningJob),
			zap.String("path", a.Path),
			zap.Error(err),
		)
		return
	}
	m.logger.Debug("artifact removed", zap.String("job_id", a.OwningJob), zap.String("path", a.Path))
}

// Discard removes anything a failed fetch for jobID left behind.
func (m *Manager) Discard(jobID string) {
	if strings.TrimSpace(jobID) == "" || strings.ContainsAny(jobID, `/\*?[`) {
		return
	}
	matches, err := filepath.Glob(filepath.Join(m.dir, jobID+".*"))
	if err != nil {
		m.logger.Warn("partial artifact sweep failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	for _, path := range matches {
		m.release(media.Artifact{Path: path, OwningJob: jobID})
	}
}

func (m *Manager) owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, m.dir+string(filepath.Separator))
}
