// Package export writes the whole-project ticket/comment export file.
// It is produced once per job, independent of attachment segmentation.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yokitheyo/jira-export/internal/model"
)

// Filename returns the export file name for a project, e.g.
// "PRJ_tickets_20260823-151004.json".
func Filename(projectKey string, format model.FileFormat, now time.Time) string {
	return fmt.Sprintf("%s_tickets_%s.%s", projectKey, now.Format("20060102-150405"), format)
}

// WriteTickets writes tickets to dir in the requested format and returns
// the file path.
func WriteTickets(tickets []model.TicketRecord, dir, projectKey string, format model.FileFormat) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, Filename(projectKey, format, time.Now()))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	switch format {
	case model.FormatJSON:
		err = writeJSON(f, tickets)
	case model.FormatCSV:
		err = writeCSV(f, tickets)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func writeJSON(f *os.File, tickets []model.TicketRecord) error {
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tickets); err != nil {
		return fmt.Errorf("encode tickets: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"key", "summary", "description", "created", "updated",
	"status", "priority", "assignee", "reporter", "comments",
}

func writeCSV(f *os.File, tickets []model.TicketRecord) error {
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, t := range tickets {
		row := []string{
			t.Key, t.Summary, t.Description, t.Created, t.Updated,
			t.Status, t.Priority, t.Assignee, t.Reporter, flattenComments(t.Comments),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", t.Key, err)
		}
	}
	w.Flush()
	return w.Error()
}

// flattenComments folds a ticket's comments into a single CSV cell.
func flattenComments(comments []model.CommentRecord) string {
	lines := make([]string, 0, len(comments))
	for _, c := range comments {
		lines = append(lines, fmt.Sprintf("%s (%s): %s", c.Author, c.Created, c.Body))
	}
	return strings.Join(lines, "\n")
}
