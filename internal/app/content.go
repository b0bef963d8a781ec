package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"agora/api/internal/export"
	"agora/api/internal/gitrepo"
	"agora/api/internal/objectstore"
	"agora/api/internal/search"
	"agora/api/internal/store"
)

const searchCandidateLimit = 200

// SearchDiscussions runs a full-text query and keeps the hits the caller may read.
func (s *Service) SearchDiscussions(ctx context.Context, actor Session, text string, page Page) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("q is required", map[string]any{"fields": map[string]string{"q": "required"}})
	}
	page = page.normalized()
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text, Engine: "none"}, nil
	}

	resp := s.search.Search(ctx, search.Query{Text: text, Limit: searchCandidateLimit})
	ids := make([]string, 0, len(resp.Results))
	for _, hit := range resp.Results {
		ids = append(ids, hit.ID)
	}
	visibleIDs, err := s.store.FilterVisibleDiscussionIDs(ctx, actor.UserID, ids)
	if err != nil {
		return search.Response{}, err
	}
	visible := make(map[string]bool, len(visibleIDs))
	for _, id := range visibleIDs {
		visible[id] = true
	}

	hits := make([]search.Result, 0, len(visibleIDs))
	for _, hit := range resp.Results {
		if visible[hit.ID] {
			hits = append(hits, hit)
		}
	}
	resp.Total = len(hits)
	if page.From >= len(hits) {
		resp.Results = []search.Result{}
		return resp, nil
	}
	end := min(page.From+page.Per, len(hits))
	resp.Results = hits[page.From:end]
	return resp, nil
}

type HistoryResult struct {
	Revisions []gitrepo.Revision
	Revision  *gitrepo.Revision
	Content   *gitrepo.Content
	Changes   []map[string]string
}

// DiscussionHistory lists revisions, or with hash returns that revision's content
// and what it changed from the one before.
func (s *Service) DiscussionHistory(ctx context.Context, actor Session, discussionID, hash string) (HistoryResult, error) {
	discussion, _, err := s.loadReadableDiscussion(ctx, actor, discussionID)
	if err != nil {
		return HistoryResult{}, err
	}
	if s.revisions == nil {
		return HistoryResult{Revisions: []gitrepo.Revision{}}, nil
	}

	revisions, err := s.revisions.History(discussion.ID, 0)
	if errors.Is(err, gitrepo.ErrNoHistory) {
		revisions = []gitrepo.Revision{}
	} else if err != nil {
		return HistoryResult{}, err
	}
	result := HistoryResult{Revisions: revisions}
	if hash == "" {
		return result, nil
	}

	content, revision, err := s.revisions.Get(discussion.ID, hash)
	if err != nil {
		return HistoryResult{}, notFound("Revision")
	}
	result.Revision = &revision
	result.Content = &content

	var previous gitrepo.Content
	for i, item := range revisions {
		if item.Hash == revision.Hash && i+1 < len(revisions) {
			previous, _, err = s.revisions.Get(discussion.ID, revisions[i+1].Hash)
			if err != nil {
				return HistoryResult{}, err
			}
			break
		}
	}
	result.Changes = gitrepo.DiffFields(previous, content)
	return result, nil
}

type ExportResult struct {
	File     *export.Result
	Archived *objectstore.Object
}

// ExportDiscussion renders a transcript. With archive set the file is uploaded and
// a download link returned instead.
func (s *Service) ExportDiscussion(ctx context.Context, actor Session, discussionID, format string, archive bool) (ExportResult, error) {
	parsed, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return ExportResult{}, validationError("format must be one of html, pdf, docx", map[string]any{"fields": map[string]string{"format": "oneof"}})
	}
	discussion, access, err := s.loadReadableDiscussion(ctx, actor, discussionID)
	if err != nil {
		return ExportResult{}, err
	}
	if archive && s.archive == nil {
		return ExportResult{}, domainError(http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "Export archive is not configured", nil)
	}

	transcript, err := s.buildTranscript(ctx, discussion, access.group)
	if err != nil {
		return ExportResult{}, err
	}
	file, err := s.exporter.Export(ctx, transcript, parsed)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return ExportResult{}, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
		}
		return ExportResult{}, err
	}
	if !archive {
		return ExportResult{File: file}, nil
	}

	object, err := s.archive.Put(ctx, "discussions/"+discussion.ID, file.Filename, file.MimeType, file.Data)
	if err != nil {
		return ExportResult{}, err
	}
	return ExportResult{File: file, Archived: &object}, nil
}

func (s *Service) buildTranscript(ctx context.Context, discussion store.Discussion, group store.Group) (export.Transcript, error) {
	names := map[string]string{}
	nameOf := func(userID string) (string, error) {
		if name, ok := names[userID]; ok {
			return name, nil
		}
		user, err := s.store.GetUserByID(ctx, userID)
		if isNotFound(err) {
			names[userID] = "Unknown"
			return names[userID], nil
		}
		if err != nil {
			return "", err
		}
		names[userID] = user.Name
		return user.Name, nil
	}

	authorName, err := nameOf(discussion.AuthorID)
	if err != nil {
		return export.Transcript{}, err
	}
	comments, err := s.store.ListComments(ctx, discussion.ID)
	if err != nil {
		return export.Transcript{}, err
	}
	transcript := export.Transcript{
		DiscussionID: discussion.ID,
		Title:        discussion.Title,
		Description:  discussion.Description,
		GroupName:    group.Name,
		AuthorName:   authorName,
		CreatedAt:    discussion.CreatedAt,
		ExportedAt:   s.now(),
		Comments:     make([]export.Comment, 0, len(comments)),
	}
	for _, comment := range comments {
		author, err := nameOf(comment.AuthorID)
		if err != nil {
			return export.Transcript{}, err
		}
		transcript.Comments = append(transcript.Comments, export.Comment{
			Author:    author,
			Body:      comment.Body,
			CreatedAt: comment.CreatedAt,
		})
	}
	return transcript, nil
}
