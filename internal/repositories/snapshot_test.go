package repositories

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
	"github.com/desertthunder/onair/internal/state"
	tu "github.com/desertthunder/onair/internal/testing"
)

func quietLogger() *log.Logger {
	return shared.NewLogger(io.Discard)
}

func samplePersisted() state.Persisted {
	ts := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	later := time.Date(2025, time.March, 1, 11, 30, 15, 250_000_000, time.FixedZone("BST", 3600))
	return state.Persisted{
		RecentIDs: []string{"a", "b", "c"},
		Queue: []models.QueueItem{
			{Title: "Song", Artist: "Band", SourceTrackID: "s1", Attempts: 2, FirstSeenAt: ts},
			{Title: "Other Song (Live)", Artist: "Band feat. Guest", SourceTrackID: "s2", FirstSeenAt: later},
		},
		Added: []models.AddedRecord{
			{Timestamp: ts, RadioTitle: "Hit", RadioArtist: "Star", CatalogID: "a", CatalogTitle: "Hit - Remastered", CatalogArtist: "Star", ReleaseDate: "1999-01-01", ArtworkURL: "https://img/a.jpg", Source: models.SourceFeed},
			{Timestamp: later, RadioTitle: "Again", RadioArtist: "Star", CatalogID: "b", CatalogTitle: "Again", CatalogArtist: "Star, Friend", Source: models.SourceRetry},
		},
		Failed: []models.FailureRecord{
			{Timestamp: ts, RadioTitle: "Miss", RadioArtist: "Nobody", Reason: "not found"},
			{Timestamp: later, RadioTitle: "Lost", RadioArtist: "Someone", Reason: "exhausted retries: not found"},
		},
		Engine: models.EngineState{
			Service:           models.ServiceState{State: models.StateRunning, Reason: "scheduled", ChangedAt: ts},
			Flags:             models.DailyFlags{DateOfLastRollover: "2025-03-01"},
			LastSourceTrackID: "s1",
			LastTransitionSeq: 3,
		},
	}
}

func sameQueueItem(a, b models.QueueItem) bool {
	return a.Title == b.Title && a.Artist == b.Artist && a.SourceTrackID == b.SourceTrackID &&
		a.Attempts == b.Attempts && a.FirstSeenAt.Equal(b.FirstSeenAt)
}

func sameAdded(a, b models.AddedRecord) bool {
	ts := b.Timestamp
	b.Timestamp = a.Timestamp
	return a.Timestamp.Equal(ts) && a == b
}

func sameFailure(a, b models.FailureRecord) bool {
	return a.Timestamp.Equal(b.Timestamp) && a.RadioTitle == b.RadioTitle &&
		a.RadioArtist == b.RadioArtist && a.Reason == b.Reason
}

func TestSnapshotStore(t *testing.T) {
	t.Run("Save then Load", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "state")
		store := NewSnapshotStore(dir, quietLogger())

		if err := store.Save(samplePersisted()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		for _, name := range []string{RecentIDsFile, RetryQueueFile, DailyAddedFile, DailyFailedFile, EngineStateFile} {
			tu.AssertFileExists(t, filepath.Join(dir, name))
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		want := samplePersisted()
		if !slices.Equal(got.RecentIDs, want.RecentIDs) {
			t.Errorf("recent ids: want %v, got %v", want.RecentIDs, got.RecentIDs)
		}
		if !slices.EqualFunc(got.Queue, want.Queue, sameQueueItem) {
			t.Errorf("queue: want %+v, got %+v", want.Queue, got.Queue)
		}
		if !slices.EqualFunc(got.Added, want.Added, sameAdded) {
			t.Errorf("added: want %+v, got %+v", want.Added, got.Added)
		}
		if !slices.EqualFunc(got.Failed, want.Failed, sameFailure) {
			t.Errorf("failed: want %+v, got %+v", want.Failed, got.Failed)
		}
		if got.Engine.Service.State != models.StateRunning || got.Engine.LastTransitionSeq != 3 {
			t.Errorf("unexpected engine state %+v", got.Engine)
		}
	})

	t.Run("empty lists are written as arrays", func(t *testing.T) {
		dir := t.TempDir()
		store := NewSnapshotStore(dir, quietLogger())

		if err := store.Save(state.Persisted{}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if data := tu.MustReadFile(t, filepath.Join(dir, RetryQueueFile)); strings.TrimSpace(data) != "[]" {
			t.Errorf("expected [], got %q", data)
		}
	})

	t.Run("Load from empty directory", func(t *testing.T) {
		got, err := NewSnapshotStore(t.TempDir(), quietLogger()).Load()
		if err != nil {
			t.Fatalf("missing files should not be an error, got %v", err)
		}
		if len(got.RecentIDs) != 0 || len(got.Queue) != 0 || got.Engine.Service.State != "" {
			t.Errorf("expected empty state, got %+v", got)
		}
	})

	t.Run("corrupt file starts empty", func(t *testing.T) {
		dir := t.TempDir()
		store := NewSnapshotStore(dir, quietLogger())
		store.Save(samplePersisted())

		if err := os.WriteFile(filepath.Join(dir, RetryQueueFile), []byte(`[{"title": "Song", "attempts": `), 0644); err != nil {
			t.Fatal(err)
		}

		got, err := store.Load()
		var fe *FileError
		if !errors.As(err, &fe) || fe.File != RetryQueueFile {
			t.Fatalf("expected a FileError for the queue, got %v", err)
		}
		if len(got.Queue) != 0 {
			t.Errorf("corrupt queue should start empty, got %+v", got.Queue)
		}
		if len(got.RecentIDs) != 3 || got.Engine.LastSourceTrackID != "s1" {
			t.Errorf("other files should still load, got %+v", got)
		}
	})

	t.Run("leaves no temp files", func(t *testing.T) {
		dir := t.TempDir()
		store := NewSnapshotStore(dir, quietLogger())
		store.Save(samplePersisted())
		store.Save(samplePersisted())

		entries, _ := os.ReadDir(dir)
		if len(entries) != 5 {
			names := []string{}
			for _, e := range entries {
				names = append(names, e.Name())
			}
			t.Errorf("expected exactly 5 files, got %v", names)
		}
	})

	t.Run("unwritable directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		os.WriteFile(file, []byte("x"), 0644)

		if err := NewSnapshotStore(filepath.Join(file, "state"), quietLogger()).Save(samplePersisted()); err == nil {
			t.Error("expected error when the directory cannot be created")
		}
	})
}
