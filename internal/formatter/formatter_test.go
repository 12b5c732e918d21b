package formatter

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
	th "github.com/desertthunder/onair/internal/testing"
)

func sampleExport() DailyExport {
	ts := time.Date(2025, time.March, 1, 9, 30, 0, 0, time.UTC)
	return DailyExport{
		Date: "2025-03-01",
		Added: []models.AddedRecord{
			{
				Timestamp:     ts,
				RadioTitle:    "Wonderwall",
				RadioArtist:   "Oasis",
				CatalogID:     "w1",
				CatalogTitle:  "Wonderwall - Remastered",
				CatalogArtist: "Oasis",
				ReleaseDate:   "1995-10-02",
				Source:        models.SourceFeed,
			},
			{
				Timestamp:     ts.Add(time.Hour),
				RadioTitle:    "Song, With Comma",
				RadioArtist:   "Band",
				CatalogID:     "s1",
				CatalogTitle:  "Song, With Comma",
				CatalogArtist: "Band",
				Source:        models.SourceRetry,
			},
		},
		Failed: []models.FailureRecord{
			{Timestamp: ts, RadioTitle: "Obscure", RadioArtist: "Nobody", Reason: "exhausted retries: not found"},
		},
	}
}

func TestExporters(t *testing.T) {
	export := sampleExport()

	t.Run("AddedToCSV", func(t *testing.T) {
		data, err := AddedToCSV(export.Added)
		if err != nil {
			t.Fatalf("AddedToCSV failed: %v", err)
		}
		output := string(data)

		if !strings.HasPrefix(output, "Timestamp,Radio Title,Radio Artist,Catalog ID,Catalog Title,Catalog Artist,Release Date,Source\n") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "2025-03-01T09:30:00Z,Wonderwall,Oasis,w1,Wonderwall - Remastered,Oasis,1995-10-02,feed") {
			t.Errorf("CSV missing first record, got: %s", output)
		}
		if !strings.Contains(output, `"Song, With Comma"`) {
			t.Errorf("CSV should quote fields containing commas, got: %s", output)
		}
		if lines := strings.Count(output, "\n"); lines != 3 {
			t.Errorf("expected 3 lines, got %d", lines)
		}
	})

	t.Run("FailedToCSV", func(t *testing.T) {
		data, err := FailedToCSV(export.Failed)
		if err != nil {
			t.Fatalf("FailedToCSV failed: %v", err)
		}
		if !strings.Contains(string(data), "Obscure,Nobody,exhausted retries: not found") {
			t.Errorf("CSV missing failure, got: %s", data)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, _ := ExportToMarkdown(export)
		output := string(data)

		for _, want := range []string{
			"# Daily summary for 2025-03-01",
			"**Added**: 2",
			"**Failed**: 1",
			"1. Oasis - Wonderwall → Oasis - Wonderwall - Remastered (1995-10-02)",
			"2. Band - Song, With Comma\n",
			"1. Nobody - Obscure: exhausted retries: not found",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToMarkdown empty day", func(t *testing.T) {
		data, _ := ExportToMarkdown(DailyExport{Date: "2025-03-02"})
		if !strings.Contains(string(data), "_Nothing added._") || !strings.Contains(string(data), "_No failures._") {
			t.Errorf("unexpected output:\n%s", data)
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, _ := ExportToText(export)
		output := string(data)
		if !strings.Contains(output, "Added: 2") || !strings.Contains(output, "1. Oasis - Wonderwall [w1]") {
			t.Errorf("unexpected output:\n%s", output)
		}
		if !strings.Contains(output, "1. Nobody - Obscure (exhausted retries: not found)") {
			t.Errorf("text missing failure:\n%s", output)
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(export)
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}
		if !strings.Contains(string(data), `"catalog_id": "w1"`) || !strings.Contains(string(data), `"date": "2025-03-01"`) {
			t.Errorf("unexpected JSON:\n%s", data)
		}
	})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"csv", FormatCSV},
		{"MD", FormatMarkdown},
		{"markdown", FormatMarkdown},
		{"txt", FormatText},
		{" json ", FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if err != nil || got != tt.want {
				t.Errorf("expected %s, got %s (%v)", tt.want, got, err)
			}
		})
	}

	if _, err := ParseFormat("xml"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWriteDailyExport(t *testing.T) {
	t.Run("every format", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "exports")

		paths, err := WriteDailyExport(sampleExport(), dir, []string{"csv", "md", "txt", "json"})
		if err != nil {
			t.Fatalf("WriteDailyExport failed: %v", err)
		}
		want := []string{"2025-03-01_added.csv", "2025-03-01_failed.csv", "2025-03-01.md", "2025-03-01.txt", "2025-03-01.json"}
		if len(paths) != len(want) {
			t.Fatalf("expected %d files, got %v", len(want), paths)
		}
		for i, name := range want {
			if paths[i] != filepath.Join(dir, name) {
				t.Errorf("expected %s, got %s", name, paths[i])
			}
			th.AssertFileExists(t, paths[i])
		}

		md := th.MustReadFile(t, filepath.Join(dir, "2025-03-01.md"))
		if !strings.Contains(md, "Wonderwall") {
			t.Errorf("markdown missing content")
		}
	})

	t.Run("defaults to csv and markdown", func(t *testing.T) {
		dir := t.TempDir()
		paths, err := WriteDailyExport(sampleExport(), dir, nil)
		if err != nil {
			t.Fatalf("WriteDailyExport failed: %v", err)
		}
		if len(paths) != 3 {
			t.Errorf("expected 3 files, got %v", paths)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := WriteDailyExport(sampleExport(), t.TempDir(), []string{"xml"})
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("missing date", func(t *testing.T) {
		_, err := WriteDailyExport(DailyExport{}, t.TempDir(), nil)
		if !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("unwritable directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := WriteDailyExport(sampleExport(), filepath.Join(file, "sub"), nil); err == nil {
			t.Error("expected error for a path below a file")
		}
	})

	t.Run("Writer binds dir and formats", func(t *testing.T) {
		dir := t.TempDir()
		paths, err := Writer(dir, []string{"txt"})(sampleExport())
		if err != nil || len(paths) != 1 {
			t.Errorf("unexpected result %v (%v)", paths, err)
		}
	})
}
