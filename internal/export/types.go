// Package export renders a project's kanban board to PDF and CSV.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF Format = "pdf"
	FormatCSV Format = "csv"
)

// Board is the snapshot of a project board assembled for export.
type Board struct {
	ProjectName string
	ProjectKey  string
	TeamName    string
	GeneratedAt time.Time
	Columns     []Column
}

// Column is one status column with its issues.
type Column struct {
	Name     string
	WIPLimit int // 0 = unlimited
	Issues   []BoardIssue
}

// BoardIssue is a single issue row on the exported board.
type BoardIssue struct {
	Number   int
	Title    string
	Type     string
	Priority string
	Assignee string
	Labels   []string
	DueDate  *time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
