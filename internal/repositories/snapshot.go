package repositories

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
	"github.com/desertthunder/onair/internal/state"
)

// Snapshot file names inside the storage directory.
const (
	RecentIDsFile   = "recent_ids.json"
	RetryQueueFile  = "retry_queue.json"
	DailyAddedFile  = "daily_added.json"
	DailyFailedFile = "daily_failed.json"
	EngineStateFile = "engine_state.json"
)

// SnapshotStore keeps the engine's working state as JSON files, one per structure.
//
// Every file is replaced atomically, so a crash leaves either the old or the new version.
type SnapshotStore struct {
	dir    string
	logger *log.Logger
}

// NewSnapshotStore creates a store rooted at dir. The directory is created on first save.
func NewSnapshotStore(dir string, logger *log.Logger) *SnapshotStore {
	if logger == nil {
		logger = log.Default()
	}
	return &SnapshotStore{dir: dir, logger: shared.WithLogger(logger, "component", "store")}
}

// Dir returns the storage directory.
func (s *SnapshotStore) Dir() string { return s.dir }

// Save writes all five files. It keeps going after a failure and returns every error.
func (s *SnapshotStore) Save(p state.Persisted) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	files := []struct {
		name string
		v    any
	}{
		{RecentIDsFile, nonNil(p.RecentIDs)},
		{RetryQueueFile, nonNil(p.Queue)},
		{DailyAddedFile, nonNil(p.Added)},
		{DailyFailedFile, nonNil(p.Failed)},
		{EngineStateFile, p.Engine},
	}

	var errs []error
	for _, f := range files {
		if err := s.write(f.name, f.v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func (s *SnapshotStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// Load reads whatever files exist. Missing files are empty; unreadable ones are logged,
// start empty, and are reported in the returned error.
func (s *SnapshotStore) Load() (state.Persisted, error) {
	var (
		p    state.Persisted
		errs []error
	)

	targets := []struct {
		name string
		v    any
	}{
		{RecentIDsFile, &p.RecentIDs},
		{RetryQueueFile, &p.Queue},
		{DailyAddedFile, &p.Added},
		{DailyFailedFile, &p.Failed},
		{EngineStateFile, &p.Engine},
	}

	for _, t := range targets {
		found, err := s.read(t.name, t.v)
		switch {
		case err != nil:
			s.logger.Warn("could not load snapshot file, starting empty", "file", t.name, "error", err)
			errs = append(errs, err)
		case found:
			s.logger.Debug("loaded snapshot file", "file", t.name)
		}
	}

	// a corrupt file may have partially filled its target
	if errs != nil {
		p = s.clearFailed(p, errs)
	}
	return p, errors.Join(errs...)
}

func (s *SnapshotStore) read(name string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &FileError{File: name, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &FileError{File: name, Err: err}
	}
	return true, nil
}

func (s *SnapshotStore) clearFailed(p state.Persisted, errs []error) state.Persisted {
	for _, err := range errs {
		var fe *FileError
		if !errors.As(err, &fe) {
			continue
		}
		switch fe.File {
		case RecentIDsFile:
			p.RecentIDs = nil
		case RetryQueueFile:
			p.Queue = nil
		case DailyAddedFile:
			p.Added = nil
		case DailyFailedFile:
			p.Failed = nil
		case EngineStateFile:
			p.Engine = models.EngineState{}
		}
	}
	return p
}

// FileError is a snapshot file that could not be read or decoded.
type FileError struct {
	File string
	Err  error
}

func (e *FileError) Error() string { return e.File + ": " + e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }
