package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/coachpo/stockwatch/errs"
)

// FileStore keeps the snapshot in a single JSON file.
type FileStore struct {
	path   string
	logger *log.Logger
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.Default()
	}
	return &FileStore{path: filepath.Clean(path), logger: logger}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the snapshot. A missing file yields an empty snapshot.
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := s.ReadRaw(ctx)
	if err != nil {
		return nil, err
	}
	return decodeLogged(data, s.logger)
}

// Save overwrites the file with snap.
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	return s.WriteRaw(ctx, data)
}

// ReadRaw returns the file contents, or nil when the file does not exist.
func (s *FileStore) ReadRaw(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path) // #nosec G304 -- path is operator controlled.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errs.New("state/file", errs.CodeUnavailable, errs.WithMessage("read "+s.path), errs.WithCause(err))
	}
	return data, nil
}

// WriteRaw replaces the file atomically through a temp file in the same directory.
func (s *FileStore) WriteRaw(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New("state/file", errs.CodeUnavailable, errs.WithMessage("ensure state directory"), errs.WithCause(err))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return errs.New("state/file", errs.CodeUnavailable, errs.WithMessage("create temp file"), errs.WithCause(err))
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return writeErr("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return writeErr("fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return writeErr("close temp file", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return writeErr(fmt.Sprintf("rename to %s", s.path), err)
	}
	return nil
}

func writeErr(msg string, err error) error {
	return errs.New("state/file", errs.CodeUnavailable, errs.WithMessage(msg), errs.WithCause(err))
}
