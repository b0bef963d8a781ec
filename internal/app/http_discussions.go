package app

import (
	"context"
	"net/http"
	"strconv"

	"agora/api/internal/store"
	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) discussionRoutes(r chi.Router) {
	r.Get("/", s.handleListDiscussions)
	r.Post("/", s.handleCreateDiscussion)
	r.Get("/dashboard", s.handleDashboard)
	r.Get("/inbox", s.handleInbox)
	r.Get("/search", s.handleSearchDiscussions)

	r.Route("/{discussionID}", func(r chi.Router) {
		r.Get("/", s.handleShowDiscussion)
		r.Patch("/", s.handleUpdateDiscussion)
		r.Get("/history", s.handleDiscussionHistory)
		r.Get("/export", s.handleExportDiscussion)
		r.Post("/comments", s.handleAddComment)
		r.Patch("/move", s.handleMoveDiscussion)
		r.Patch("/mark_as_read", s.handleMarkAsRead)
		r.Patch("/dismiss", s.handleDismiss)
		r.Patch("/pin", s.handlePinDiscussion)
		for _, kind := range []string{ReaderStar, ReaderUnstar, ReaderPin, ReaderUnpin, ReaderSetVolume} {
			r.Patch("/"+kind, s.readerUpdateHandler(kind))
		}
	})
}

func (s *HTTPServer) writeCollection(w http.ResponseWriter, r *http.Request, collection DiscussionCollection, err error) {
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"discussions": discussionsJSON(collection.Items, sessionFrom(r).SignedIn()),
		"meta":        map[string]any{"total": collection.Total},
	})
}

func (s *HTTPServer) writeDiscussion(w http.ResponseWriter, r *http.Request, view store.DiscussionView, err error) {
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"discussions": []map[string]any{discussionJSON(view, sessionFrom(r).SignedIn())},
	})
}

func (s *HTTPServer) handleListDiscussions(w http.ResponseWriter, r *http.Request) {
	collection, err := s.service.ListDiscussions(r.Context(), sessionFrom(r), r.URL.Query().Get("group_id"), pageFrom(r))
	s.writeCollection(w, r, collection, err)
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	collection, err := s.service.Dashboard(r.Context(), sessionFrom(r), r.URL.Query().Get("filter"), pageFrom(r))
	s.writeCollection(w, r, collection, err)
}

func (s *HTTPServer) handleInbox(w http.ResponseWriter, r *http.Request) {
	collection, err := s.service.Inbox(r.Context(), sessionFrom(r), pageFrom(r))
	s.writeCollection(w, r, collection, err)
}

func (s *HTTPServer) handleSearchDiscussions(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.SearchDiscussions(r.Context(), sessionFrom(r), r.URL.Query().Get("q"), pageFrom(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleShowDiscussion(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	view, err := s.service.ShowDiscussion(r.Context(), session, chi.URLParam(r, "discussionID"))
	s.writeDiscussion(w, r, view, err)
	if err != nil {
		return
	}

	visitToken := r.Header.Get("X-Visit-Token")
	if visitToken == "" {
		visitToken = requestID(r)
	}
	s.service.TrackVisit(context.WithoutCancel(r.Context()), session, view.GroupID, visitToken)
}

func (s *HTTPServer) handleCreateDiscussion(w http.ResponseWriter, r *http.Request) {
	var body CreateDiscussionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.CreateDiscussion(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"discussions": []map[string]any{discussionJSON(view, true)},
	})
}

func (s *HTTPServer) handleUpdateDiscussion(w http.ResponseWriter, r *http.Request) {
	var body UpdateDiscussionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.UpdateDiscussion(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), body)
	s.writeDiscussion(w, r, view, err)
}

func (s *HTTPServer) handleMoveDiscussion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.MoveDiscussion(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), body.GroupID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"discussions": []map[string]any{discussionJSON(result.Discussion, true)},
		"events":      []map[string]any{eventJSON(result.Event)},
	})
}

func (s *HTTPServer) handleMarkAsRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ranges string `json:"ranges"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Ranges == "" {
		body.Ranges = r.URL.Query().Get("ranges")
	}
	view, err := s.service.MarkAsRead(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), body.Ranges)
	s.writeDiscussion(w, r, view, err)
}

func (s *HTTPServer) handleDismiss(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Dismiss(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"))
	s.writeDiscussion(w, r, view, err)
}

func (s *HTTPServer) handlePinDiscussion(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.PinDiscussion(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"))
	s.writeDiscussion(w, r, view, err)
}

func (s *HTTPServer) readerUpdateHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Volume string `json:"volume"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Volume == "" {
			body.Volume = r.URL.Query().Get("volume")
		}
		view, err := s.service.UpdateReader(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), kind, body.Volume)
		s.writeDiscussion(w, r, view, err)
	}
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.AddComment(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), body.Body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"comments": []map[string]any{commentJSON(result.Comment)},
		"events":   []map[string]any{eventJSON(result.Event)},
	})
}

func (s *HTTPServer) handleDiscussionHistory(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.DiscussionHistory(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), r.URL.Query().Get("hash"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	response := map[string]any{"revisions": result.Revisions}
	if result.Revision != nil {
		response["revision"] = result.Revision
		response["content"] = result.Content
		response["changes"] = result.Changes
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleExportDiscussion(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	archive, _ := strconv.ParseBool(query.Get("archive"))
	result, err := s.service.ExportDiscussion(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), query.Get("format"), archive)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	if result.Archived != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"filename":   result.File.Filename,
			"key":        result.Archived.Key,
			"size":       result.Archived.Size,
			"url":        result.Archived.URL,
			"expires_at": result.Archived.ExpiresAt,
		})
		return
	}
	w.Header().Set("Content-Type", result.File.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.File.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.File.Data)
}
