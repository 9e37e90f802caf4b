package app

import (
	"net/http"
	"strconv"
)

func (s *HTTPServer) handleTeams(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	// /api/teams
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			teams, err := s.service.ListMyTeams(r.Context(), session.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
			return
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			team, err := s.service.CreateTeam(r.Context(), session.UserID, body.Name, body.Description)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, team)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Invite tokens live under a reserved segment so they never collide
	// with a team slug: /api/teams/invites/:token/accept|decline
	if len(parts) == 5 && parts[2] == "invites" {
		token := parts[3]
		if r.Method == http.MethodPost && parts[4] == "accept" {
			team, err := s.service.AcceptInvite(r.Context(), session.UserID, token)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, team)
			return
		}
		if r.Method == http.MethodPost && parts[4] == "decline" {
			if err := s.service.DeclineInvite(r.Context(), session.UserID, token); err != nil {
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

	slug := parts[2]

	// /api/teams/:slug
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			team, err := s.service.GetTeam(r.Context(), slug, session.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, team)
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
			team, err := s.service.UpdateTeam(r.Context(), slug, session.UserID, body.Name, body.Description)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, team)
			return
		case http.MethodDelete:
			if err := s.service.DeleteTeam(r.Context(), slug, session.UserID); err != nil {
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
		case "members":
			if r.Method == http.MethodGet {
				members, err := s.service.ListMembers(r.Context(), slug, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"members": members})
				return
			}
		case "invites":
			if r.Method == http.MethodGet {
				invites, err := s.service.ListInvites(r.Context(), slug, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"invites": invites})
				return
			}
			if r.Method == http.MethodPost {
				var body struct {
					Email string `json:"email"`
					Role  string `json:"role"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				if body.Role == "" {
					body.Role = "MEMBER"
				}
				invite, err := s.service.InviteMember(r.Context(), slug, session.UserID, body.Email, body.Role)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, invite)
				return
			}
		case "transfer":
			if r.Method == http.MethodPost {
				var body struct {
					UserID string `json:"userId"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				if err := s.service.TransferOwnership(r.Context(), slug, session.UserID, body.UserID); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			}
		case "leave":
			if r.Method == http.MethodPost {
				if err := s.service.LeaveTeam(r.Context(), slug, session.UserID); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			}
		case "activity":
			if r.Method == http.MethodGet {
				limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
				entries, err := s.service.TeamActivityLog(r.Context(), slug, session.UserID, limit)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
				return
			}
		case "statistics":
			if r.Method == http.MethodGet {
				stats, err := s.service.TeamStatistics(r.Context(), slug, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, stats)
				return
			}
		case "projects":
			if r.Method == http.MethodGet {
				projects, err := s.service.ListProjects(r.Context(), slug, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
				return
			}
			if r.Method == http.MethodPost {
				var body struct {
					Name        string `json:"name"`
					Key         string `json:"key"`
					Description string `json:"description"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				project, err := s.service.CreateProject(r.Context(), slug, session.UserID, body.Name, body.Key, body.Description)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, project)
				return
			}
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// /api/teams/:slug/members/:userId
	if len(parts) == 5 && parts[3] == "members" {
		targetUserID := parts[4]
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Role string `json:"role"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.UpdateMemberRole(r.Context(), slug, session.UserID, targetUserID, body.Role); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case http.MethodDelete:
			if err := s.service.RemoveMember(r.Context(), slug, session.UserID, targetUserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	// /api/teams/:slug/invites/:inviteId
	if len(parts) == 5 && parts[3] == "invites" && r.Method == http.MethodDelete {
		if err := s.service.RevokeInvite(r.Context(), slug, session.UserID, parts[4]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
