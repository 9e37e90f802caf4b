package export

import (
	"fmt"
)

// Service renders assembled board snapshots. The caller loads the project,
// its columns and issues; the service only knows how to format them.
type Service struct{}

// NewService creates a new export service
func NewService() *Service {
	return &Service{}
}

// Export generates an export in the requested format
func (s *Service) Export(board Board, format Format) (*Result, error) {
	switch format {
	case FormatPDF:
		html, err := RenderBoardHTML(board)
		if err != nil {
			return nil, fmt.Errorf("render board template: %w", err)
		}
		return exportPDF(html, board.ProjectName)
	case FormatCSV:
		return exportCSV(board)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
