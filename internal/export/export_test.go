package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokitheyo/jira-export/internal/model"
)

func sampleTickets() []model.TicketRecord {
	return []model.TicketRecord{
		{
			Key:      "PRJ-1",
			Summary:  "First ticket",
			Status:   "Done",
			Priority: "High",
			Assignee: "Alice",
			Reporter: "Bob",
			Created:  "2026-01-02T10:00:00.000+0000",
			Comments: []model.CommentRecord{
				{Author: "Bob", Created: "2026-01-03T09:00:00.000+0000", Body: "looks good"},
				{Author: "Alice", Created: "2026-01-03T10:00:00.000+0000", Body: "merged"},
			},
		},
		{
			Key:     "PRJ-2",
			Summary: "Second, with \"quotes\" and, commas",
		},
	}
}

func TestFilename(t *testing.T) {
	ts := time.Date(2026, 8, 23, 15, 10, 4, 0, time.UTC)
	assert.Equal(t, "PRJ_tickets_20260823-151004.json", Filename("PRJ", model.FormatJSON, ts))
	assert.Equal(t, "PRJ_tickets_20260823-151004.csv", Filename("PRJ", model.FormatCSV, ts))
}

func TestWriteTicketsJSON(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteTickets(sampleTickets(), dir, "PRJ", model.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded []model.TicketRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "PRJ-1", decoded[0].Key)
	assert.Len(t, decoded[0].Comments, 2)
	assert.Equal(t, "merged", decoded[0].Comments[1].Body)
}

func TestWriteTicketsCSV(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteTickets(sampleTickets(), dir, "PRJ", model.FormatCSV)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "PRJ-1", rows[1][0])
	assert.True(t, strings.Contains(rows[1][9], "Bob (2026-01-03T09:00:00.000+0000): looks good"))
	assert.Equal(t, "Second, with \"quotes\" and, commas", rows[2][1])
}

func TestWriteTicketsEmptyList(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteTickets(nil, dir, "PRJ", model.FormatCSV)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1) // header only
}

func TestWriteTicketsBadFormat(t *testing.T) {
	_, err := WriteTickets(nil, t.TempDir(), "PRJ", model.FileFormat("xml"))
	assert.Error(t, err)
}
