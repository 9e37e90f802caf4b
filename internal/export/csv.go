package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// exportCSV flattens the board into one row per issue.
func exportCSV(board Board) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"key", "title", "status", "type", "priority", "assignee", "labels", "due_date"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, column := range board.Columns {
		for _, issue := range column.Issues {
			dueDate := ""
			if issue.DueDate != nil {
				dueDate = issue.DueDate.Format("2006-01-02")
			}
			row := []string{
				fmt.Sprintf("%s-%d", board.ProjectKey, issue.Number),
				issue.Title,
				column.Name,
				issue.Type,
				issue.Priority,
				issue.Assignee,
				strings.Join(issue.Labels, "; "),
				dueDate,
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(board.ProjectName) + ".csv",
		MimeType: "text/csv",
	}, nil
}
