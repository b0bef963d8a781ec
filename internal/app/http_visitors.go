package app

import (
	"encoding/json"
	"net/http"
	"sort"

	"agora/api/internal/store"
	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) visitorRoutes(r chi.Router) {
	r.Post("/", s.handleCreateVisitor)
	r.With(s.limitVisitors).Get("/me", s.handleVisitorMe)
	r.With(s.limitVisitors).Patch("/{visitorID}", s.handleUpdateVisitor)
	r.With(s.limitVisitors).Post("/{visitorID}", s.handleUpdateVisitor)
	r.Delete("/{visitorID}", s.handleRevokeVisitor)
}

// invitationToken reads the token from the body value, the query string or the
// X-Invitation-Token header, in that order.
func invitationToken(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if token := r.URL.Query().Get("invitation_token"); token != "" {
		return token
	}
	return r.Header.Get("X-Invitation-Token")
}

func writeVisitor(w http.ResponseWriter, visitor store.Visitor) {
	writeJSON(w, http.StatusOK, map[string]any{"visitors": []map[string]any{visitorJSON(visitor)}})
}

func (s *HTTPServer) handleCreateVisitor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PollID  string             `json:"poll_id"`
		Visitor CreateVisitorInput `json:"visitor"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	visitor, err := s.service.CreateVisitor(r.Context(), sessionFrom(r), body.PollID, body.Visitor)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeVisitor(w, visitor)
}

func (s *HTTPServer) handleRevokeVisitor(w http.ResponseWriter, r *http.Request) {
	visitor, err := s.service.RevokeVisitor(r.Context(), sessionFrom(r), chi.URLParam(r, "visitorID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeVisitor(w, visitor)
}

func (s *HTTPServer) handleUpdateVisitor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visitor         map[string]json.RawMessage `json:"visitor"`
		InvitationToken string                     `json:"invitation_token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	update, err := parseVisitorUpdate(body.Visitor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	visitor, err := s.service.UpdateVisitor(r.Context(), sessionFrom(r), chi.URLParam(r, "visitorID"), invitationToken(r, body.InvitationToken), update)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeVisitor(w, visitor)
}

func parseVisitorUpdate(fields map[string]json.RawMessage) (VisitorUpdate, error) {
	var update VisitorUpdate
	for key, raw := range fields {
		switch key {
		case "name":
			if err := json.Unmarshal(raw, &update.Name); err != nil {
				return VisitorUpdate{}, err
			}
		case "email":
			if err := json.Unmarshal(raw, &update.Email); err != nil {
				return VisitorUpdate{}, err
			}
		default:
			update.Unpermitted = append(update.Unpermitted, key)
		}
	}
	sort.Strings(update.Unpermitted)
	return update, nil
}

func (s *HTTPServer) handleVisitorMe(w http.ResponseWriter, r *http.Request) {
	visitor, poll, err := s.service.VisitorMe(r.Context(), invitationToken(r, ""))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"visitors": []map[string]any{visitorJSON(visitor)},
		"polls":    []map[string]any{pollJSON(poll)},
	})
}

func (s *HTTPServer) handleListVisitors(w http.ResponseWriter, r *http.Request) {
	visitors, err := s.service.ListVisitors(r.Context(), sessionFrom(r), chi.URLParam(r, "pollID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(visitors))
	for _, visitor := range visitors {
		items = append(items, visitorJSON(visitor))
	}
	writeJSON(w, http.StatusOK, map[string]any{"visitors": items})
}

func (s *HTTPServer) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	var body CreatePollInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	poll, err := s.service.CreatePoll(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"polls": []map[string]any{pollJSON(poll)}})
}

func (s *HTTPServer) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	poll, err := s.service.GetPoll(r.Context(), sessionFrom(r), chi.URLParam(r, "pollID"), invitationToken(r, ""))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"polls": []map[string]any{pollJSON(poll)}})
}

func (s *HTTPServer) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var body CreateGroupInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	group, err := s.service.CreateGroup(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"groups": []map[string]any{groupJSON(group)}})
}

func (s *HTTPServer) handleAddMembership(w http.ResponseWriter, r *http.Request) {
	var body MembershipInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	membership, err := s.service.AddMembership(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"), body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"memberships": []map[string]any{{
		"group_id": membership.GroupID,
		"user_id":  membership.UserID,
		"role":     membership.Role,
		"volume":   membership.Volume,
	}}})
}
