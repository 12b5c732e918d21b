// package formatter renders a day of engine results as CSV, Markdown, plain text or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
)

// Format names an export format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatJSON     Format = "json"
)

// ParseFormat maps config names, including the "md" and "txt" aliases, onto a [Format].
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
	}
}

// DailyExport is one day of added and failed records.
type DailyExport struct {
	Date   string                 `json:"date"`
	Added  []models.AddedRecord   `json:"added"`
	Failed []models.FailureRecord `json:"failed"`
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// AddedToCSV converts added records to CSV with columns: Timestamp, Radio Title, Radio Artist, Catalog ID, Catalog Title, Catalog Artist, Release Date, Source
func AddedToCSV(records []models.AddedRecord) ([]byte, error) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			stamp(r.Timestamp),
			r.RadioTitle,
			r.RadioArtist,
			r.CatalogID,
			r.CatalogTitle,
			r.CatalogArtist,
			r.ReleaseDate,
			string(r.Source),
		})
	}
	return writeCSV([]string{"Timestamp", "Radio Title", "Radio Artist", "Catalog ID", "Catalog Title", "Catalog Artist", "Release Date", "Source"}, rows)
}

// FailedToCSV converts failure records to CSV with columns: Timestamp, Radio Title, Radio Artist, Reason
func FailedToCSV(records []models.FailureRecord) ([]byte, error) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{stamp(r.Timestamp), r.RadioTitle, r.RadioArtist, r.Reason})
	}
	return writeCSV([]string{"Timestamp", "Radio Title", "Radio Artist", "Reason"}, rows)
}

// ExportToMarkdown renders the day as a Markdown report
func ExportToMarkdown(export DailyExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Daily summary for %s\n\n", export.Date)
	fmt.Fprintf(&buf, "**Added**: %d\n", len(export.Added))
	fmt.Fprintf(&buf, "**Failed**: %d\n\n", len(export.Failed))

	buf.WriteString("## Added\n\n")
	if len(export.Added) == 0 {
		buf.WriteString("_Nothing added._\n")
	}
	for i, r := range export.Added {
		line := fmt.Sprintf("%d. %s - %s", i+1, r.RadioArtist, r.RadioTitle)
		if r.CatalogTitle != "" && (r.CatalogTitle != r.RadioTitle || r.CatalogArtist != r.RadioArtist) {
			line += fmt.Sprintf(" → %s - %s", r.CatalogArtist, r.CatalogTitle)
		}
		if r.ReleaseDate != "" {
			line += fmt.Sprintf(" (%s)", r.ReleaseDate)
		}
		buf.WriteString(line + "\n")
	}

	buf.WriteString("\n## Failed\n\n")
	if len(export.Failed) == 0 {
		buf.WriteString("_No failures._\n")
	}
	for i, r := range export.Failed {
		fmt.Fprintf(&buf, "%d. %s - %s: %s\n", i+1, r.RadioArtist, r.RadioTitle, r.Reason)
	}

	return buf.Bytes(), nil
}

// ExportToText renders the day as plain text
func ExportToText(export DailyExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Date: %s\n", export.Date)
	fmt.Fprintf(&buf, "Added: %d\n", len(export.Added))
	for i, r := range export.Added {
		fmt.Fprintf(&buf, "  %d. %s - %s [%s]\n", i+1, r.RadioArtist, r.RadioTitle, r.CatalogID)
	}
	fmt.Fprintf(&buf, "Failed: %d\n", len(export.Failed))
	for i, r := range export.Failed {
		fmt.Fprintf(&buf, "  %d. %s - %s (%s)\n", i+1, r.RadioArtist, r.RadioTitle, r.Reason)
	}

	return buf.Bytes(), nil
}

// ExportToJSON renders the day as indented JSON
func ExportToJSON(export DailyExport) ([]byte, error) {
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return data, nil
}

// WriteDailyExport writes the requested formats into dir and returns the created paths.
//
// Creates {date}_added.csv and {date}_failed.csv for csv, {date}.md, {date}.txt and {date}.json.
// Formats default to csv and markdown.
func WriteDailyExport(export DailyExport, dir string, formats []string) ([]string, error) {
	if export.Date == "" {
		return nil, fmt.Errorf("%w: export date", shared.ErrMissingArgument)
	}
	if len(formats) == 0 {
		formats = []string{string(FormatCSV), string(FormatMarkdown)}
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	var paths []string
	write := func(name string, data []byte) error {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		paths = append(paths, path)
		return nil
	}

	for _, name := range formats {
		format, err := ParseFormat(name)
		if err != nil {
			return paths, err
		}

		switch format {
		case FormatCSV:
			added, err := AddedToCSV(export.Added)
			if err != nil {
				return paths, err
			}
			failed, err := FailedToCSV(export.Failed)
			if err != nil {
				return paths, err
			}
			if err := write(export.Date+"_added.csv", added); err != nil {
				return paths, err
			}
			if err := write(export.Date+"_failed.csv", failed); err != nil {
				return paths, err
			}
		case FormatMarkdown:
			data, _ := ExportToMarkdown(export)
			if err := write(export.Date+".md", data); err != nil {
				return paths, err
			}
		case FormatText:
			data, _ := ExportToText(export)
			if err := write(export.Date+".txt", data); err != nil {
				return paths, err
			}
		case FormatJSON:
			data, err := ExportToJSON(export)
			if err != nil {
				return paths, err
			}
			if err := write(export.Date+".json", data); err != nil {
				return paths, err
			}
		}
	}

	return paths, nil
}

// Writer returns a closure bound to dir and formats, in the shape the scheduler expects.
func Writer(dir string, formats []string) func(DailyExport) ([]string, error) {
	return func(e DailyExport) ([]string, error) {
		return WriteDailyExport(e, dir, formats)
	}
}
