package app

import (
	"errors"
	"net/http"
	"strconv"

	"backlog/api/internal/export"
	"backlog/api/internal/store"
)

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	projectID := parts[2]

	// /api/projects/:id
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			project, err := s.service.GetProjectView(r.Context(), projectID, session.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, project)
			return
		case http.MethodPut:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			project, err := s.service.UpdateProject(r.Context(), projectID, session.UserID, body.Name, body.Description)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, project)
			return
		case http.MethodDelete:
			if err := s.service.DeleteProject(r.Context(), projectID, session.UserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 4 {
		switch parts[3] {
		case "archive":
			if r.Method == http.MethodPost {
				if err := s.service.SetArchived(r.Context(), projectID, session.UserID, true); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			}
		case "unarchive":
			if r.Method == http.MethodPost {
				if err := s.service.SetArchived(r.Context(), projectID, session.UserID, false); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			}
		case "favorite":
			if r.Method == http.MethodPost || r.Method == http.MethodDelete {
				if err := s.service.SetFavorite(r.Context(), projectID, session.UserID, r.Method == http.MethodPost); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			}
		case "statuses":
			if r.Method == http.MethodGet {
				statuses, err := s.service.ListStatusViews(r.Context(), projectID, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
				return
			}
			if r.Method == http.MethodPost {
				var body struct {
					Name     string `json:"name"`
					Color    string `json:"color"`
					WIPLimit *int   `json:"wipLimit"`
					IsClosed bool   `json:"isClosed"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				created, err := s.service.CreateStatus(r.Context(), projectID, session.UserID, body.Name, body.Color, body.WIPLimit, body.IsClosed)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, created)
				return
			}
		case "labels":
			if r.Method == http.MethodGet {
				labels, err := s.service.ListLabelViews(r.Context(), projectID, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"labels": labels})
				return
			}
			if r.Method == http.MethodPost {
				var body struct {
					Name  string `json:"name"`
					Color string `json:"color"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				label, err := s.service.CreateLabel(r.Context(), projectID, session.UserID, body.Name, body.Color)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, label)
				return
			}
		case "issues":
			if r.Method == http.MethodGet {
				query := r.URL.Query()
				limit, _ := strconv.Atoi(query.Get("limit"))
				issues, err := s.service.ListProjectIssues(r.Context(), projectID, session.UserID, store.IssueFilter{
					StatusID:   query.Get("statusId"),
					AssigneeID: query.Get("assigneeId"),
					Type:       query.Get("type"),
					Priority:   query.Get("priority"),
					LabelID:    query.Get("labelId"),
					Search:     query.Get("search"),
					Limit:      limit,
				})
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
				return
			}
			if r.Method == http.MethodPost {
				var body CreateIssueInput
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				issue, err := s.service.CreateIssue(r.Context(), projectID, session.UserID, body)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, issue)
				return
			}
		case "export":
			if r.Method == http.MethodGet {
				format := export.Format(r.URL.Query().Get("format"))
				if format != export.FormatPDF && format != export.FormatCSV {
					writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'pdf' or 'csv'", nil)
					return
				}
				result, err := s.service.ExportBoard(r.Context(), projectID, session.UserID, format)
				if err != nil {
					if errors.Is(err, export.ErrPDFDependencyMissing) {
						writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil)
						return
					}
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
				w.Header().Set("Content-Type", result.MimeType)
				w.Write(result.Data)
				return
			}
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// /api/projects/:id/statuses/reorder
	if len(parts) == 5 && parts[3] == "statuses" && parts[4] == "reorder" && r.Method == http.MethodPost {
		var body struct {
			Order []string `json:"order"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ReorderStatusColumns(r.Context(), projectID, session.UserID, body.Order); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// /api/projects/:id/statuses/:statusId
	if len(parts) == 5 && parts[3] == "statuses" {
		statusID := parts[4]
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Name     string `json:"name"`
				Color    string `json:"color"`
				WIPLimit *int   `json:"wipLimit"`
				IsClosed bool   `json:"isClosed"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			updated, err := s.service.UpdateStatusColumn(r.Context(), projectID, statusID, session.UserID, body.Name, body.Color, body.WIPLimit, body.IsClosed)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, updated)
			return
		case http.MethodDelete:
			if err := s.service.DeleteStatusColumn(r.Context(), projectID, statusID, session.UserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	// /api/projects/:id/labels/:labelId
	if len(parts) == 5 && parts[3] == "labels" {
		labelID := parts[4]
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Name  string `json:"name"`
				Color string `json:"color"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			label, err := s.service.UpdateLabel(r.Context(), projectID, labelID, session.UserID, body.Name, body.Color)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, label)
			return
		case http.MethodDelete:
			if err := s.service.DeleteLabel(r.Context(), projectID, labelID, session.UserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
