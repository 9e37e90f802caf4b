package app

import (
	"net/http"
)

func (s *HTTPServer) handleIssues(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	issueID := parts[2]

	// /api/issues/:id
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			issue, err := s.service.GetIssueView(r.Context(), issueID, session.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, issue)
			return
		case http.MethodPut, http.MethodPatch:
			var body UpdateIssueInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			issue, err := s.service.UpdateIssue(r.Context(), issueID, session.UserID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, issue)
			return
		case http.MethodDelete:
			if err := s.service.DeleteIssue(r.Context(), issueID, session.UserID); err != nil {
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
		case "move":
			if r.Method == http.MethodPost {
				var body struct {
					StatusID string `json:"statusId"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				issue, err := s.service.MoveIssue(r.Context(), issueID, session.UserID, body.StatusID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, issue)
				return
			}
		case "activity":
			if r.Method == http.MethodGet {
				entries, err := s.service.ListIssueActivityViews(r.Context(), issueID, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
				return
			}
		case "comments":
			if r.Method == http.MethodGet {
				comments, err := s.service.ListCommentViews(r.Context(), issueID, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
				return
			}
			if r.Method == http.MethodPost {
				var body struct {
					Content string `json:"content"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				comment, err := s.service.AddComment(r.Context(), issueID, session.UserID, body.Content)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, comment)
				return
			}
		case "subtasks":
			if r.Method == http.MethodGet {
				subtasks, err := s.service.ListSubtaskViews(r.Context(), issueID, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"subtasks": subtasks})
				return
			}
			if r.Method == http.MethodPost {
				var body struct {
					Title string `json:"title"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				subtask, err := s.service.AddSubtask(r.Context(), issueID, session.UserID, body.Title)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, subtask)
				return
			}
		case "attachments":
			if r.Method == http.MethodGet {
				attachments, err := s.service.ListAttachmentViews(r.Context(), issueID, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})
				return
			}
			if r.Method == http.MethodPost {
				fileName := r.URL.Query().Get("filename")
				attachment, err := s.service.UploadAttachment(r.Context(), issueID, session.UserID, fileName, r.Header.Get("Content-Type"), r.Body, r.ContentLength)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, attachment)
				return
			}
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// /api/issues/:id/subtasks/reorder
	if len(parts) == 5 && parts[3] == "subtasks" && parts[4] == "reorder" && r.Method == http.MethodPost {
		var body struct {
			Order []string `json:"order"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ReorderSubtaskItems(r.Context(), issueID, session.UserID, body.Order); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// /api/issues/:id/comments/:commentId
	if len(parts) == 5 && parts[3] == "comments" {
		commentID := parts[4]
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.EditComment(r.Context(), issueID, commentID, session.UserID, body.Content)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, comment)
			return
		case http.MethodDelete:
			if err := s.service.RemoveComment(r.Context(), issueID, commentID, session.UserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	// /api/issues/:id/subtasks/:subtaskId
	if len(parts) == 5 && parts[3] == "subtasks" {
		subtaskID := parts[4]
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Title     string `json:"title"`
				Completed bool   `json:"completed"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			subtask, err := s.service.UpdateSubtaskItem(r.Context(), issueID, subtaskID, session.UserID, body.Title, body.Completed)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, subtask)
			return
		case http.MethodDelete:
			if err := s.service.RemoveSubtask(r.Context(), issueID, subtaskID, session.UserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	// /api/issues/:id/labels/:labelId
	if len(parts) == 5 && parts[3] == "labels" {
		labelID := parts[4]
		switch r.Method {
		case http.MethodPost:
			if err := s.service.AttachIssueLabel(r.Context(), issueID, labelID, session.UserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case http.MethodDelete:
			if err := s.service.DetachIssueLabel(r.Context(), issueID, labelID, session.UserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	// /api/issues/:id/attachments/:attachmentId[/download]
	if len(parts) >= 5 && parts[3] == "attachments" {
		attachmentID := parts[4]
		if len(parts) == 6 && parts[5] == "download" && r.Method == http.MethodGet {
			url, err := s.service.AttachmentDownloadURL(r.Context(), issueID, attachmentID, session.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"url": url})
			return
		}
		if len(parts) == 5 && r.Method == http.MethodDelete {
			if err := s.service.RemoveAttachment(r.Context(), issueID, attachmentID, session.UserID); err != nil {
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
