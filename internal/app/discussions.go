package app

import (
	"context"
	"strings"

	"agora/api/internal/gitrepo"
	"agora/api/internal/ranges"
	"agora/api/internal/rbac"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
)

// Page is the from/per window of a collection.
type Page struct {
	From int
	Per  int
}

func (p Page) normalized() Page {
	if p.From < 0 {
		p.From = 0
	}
	if p.Per <= 0 {
		p.Per = defaultPerPage
	}
	if p.Per > maxPerPage {
		p.Per = maxPerPage
	}
	return p
}

type DiscussionCollection struct {
	Items []store.DiscussionView
	Total int
}

// Dashboard filters.
const (
	FilterShowParticipating = "show_participating"
	FilterShowMuted         = "show_muted"
)

type CreateDiscussionInput struct {
	GroupID     string `json:"group_id" validate:"required"`
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description"`
	Private     *bool  `json:"private"`
}

type UpdateDiscussionInput struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description"`
	Private     *bool   `json:"private"`
}

func (s *Service) listDiscussions(ctx context.Context, opts store.CollectionOptions, page Page) (DiscussionCollection, error) {
	page = page.normalized()
	opts.Limit, opts.Offset = page.Per, page.From
	items, total, err := s.store.ListVisibleDiscussions(ctx, opts)
	if err != nil {
		return DiscussionCollection{}, err
	}
	return DiscussionCollection{Items: items, Total: total}, nil
}

// ListDiscussions returns visible discussions by importance, optionally limited to
// a group and its subgroups.
func (s *Service) ListDiscussions(ctx context.Context, actor Session, groupID string, page Page) (DiscussionCollection, error) {
	opts := store.CollectionOptions{UserID: actor.UserID, Sort: store.SortImportance}
	if groupID != "" {
		access, err := s.loadGroupAccess(ctx, actor.UserID, groupID)
		if err != nil {
			return DiscussionCollection{}, err
		}
		if !access.can(rbac.ActionRead) {
			return DiscussionCollection{}, forbidden()
		}
		subgroups, err := s.store.SubgroupIDs(ctx, groupID)
		if err != nil {
			return DiscussionCollection{}, err
		}
		opts.GroupIDs = append([]string{groupID}, subgroups...)
	}
	return s.listDiscussions(ctx, opts, page)
}

func (s *Service) Dashboard(ctx context.Context, actor Session, filter string, page Page) (DiscussionCollection, error) {
	if !actor.SignedIn() {
		return DiscussionCollection{}, forbidden()
	}
	muted := false
	opts := store.CollectionOptions{UserID: actor.UserID, Muted: &muted, Sort: store.SortImportance}
	switch filter {
	case FilterShowParticipating:
		opts.Participating = true
	case FilterShowMuted:
		muted = true
		opts.Sort = store.SortLatestActivity
	}
	return s.listDiscussions(ctx, opts, page)
}

func (s *Service) Inbox(ctx context.Context, actor Session, page Page) (DiscussionCollection, error) {
	if !actor.SignedIn() {
		return DiscussionCollection{}, forbidden()
	}
	muted := false
	return s.listDiscussions(ctx, store.CollectionOptions{
		UserID: actor.UserID,
		Muted:  &muted,
		Unread: true,
		Sort:   store.SortLatestActivity,
	}, page)
}

func (s *Service) ShowDiscussion(ctx context.Context, actor Session, discussionID string) (store.DiscussionView, error) {
	if _, _, err := s.loadReadableDiscussion(ctx, actor, discussionID); err != nil {
		return store.DiscussionView{}, err
	}
	return s.store.GetDiscussionView(ctx, actor.UserID, discussionID)
}

// TrackVisit counts a visit to the discussion's group. Failures are logged only.
func (s *Service) TrackVisit(ctx context.Context, actor Session, groupID, visitToken string) {
	if err := s.visits.Record(ctx, groupID, visitToken, actor.UserID); err != nil {
		s.logger.Warn().Err(err).Str("group_id", groupID).Msg("record visit")
	}
}

func (s *Service) CreateDiscussion(ctx context.Context, actor Session, input CreateDiscussionInput) (store.DiscussionView, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := s.check(input); err != nil {
		return store.DiscussionView{}, err
	}
	if !actor.SignedIn() {
		return store.DiscussionView{}, forbidden()
	}
	access, err := s.loadGroupAccess(ctx, actor.UserID, input.GroupID)
	if err != nil {
		return store.DiscussionView{}, err
	}
	if !access.can(rbac.ActionParticipate) {
		return store.DiscussionView{}, forbidden()
	}

	private := !access.group.IsVisibleToPublic
	if input.Private != nil && access.group.IsVisibleToPublic {
		private = *input.Private
	}
	discussion := store.Discussion{
		ID:          util.NewID("dsc"),
		GroupID:     access.group.ID,
		AuthorID:    actor.UserID,
		Title:       input.Title,
		Description: input.Description,
		Private:     private,
	}
	if err := s.store.CreateDiscussion(ctx, discussion); err != nil {
		return store.DiscussionView{}, err
	}
	event, err := s.store.InsertEvent(ctx, store.Event{
		ID:           util.NewID("evt"),
		Kind:         store.EventNewDiscussion,
		DiscussionID: discussion.ID,
		ActorID:      actor.UserID,
	}, true)
	if err != nil {
		return store.DiscussionView{}, err
	}

	now := s.now()
	_, err = s.store.ModifyReader(ctx, discussion.ID, actor.UserID, func(r *store.DiscussionReader) error {
		r.Participating = true
		r.LastReadAt = &now
		if event.SequenceID != nil {
			s.markRead(r, ranges.Upto(*event.SequenceID), *event.SequenceID)
		}
		return nil
	})
	if err != nil {
		return store.DiscussionView{}, err
	}

	s.commitRevision(discussion, actor, "Start discussion")
	s.reindex(ctx, discussion.ID)
	return s.store.GetDiscussionView(ctx, actor.UserID, discussion.ID)
}

func (s *Service) UpdateDiscussion(ctx context.Context, actor Session, discussionID string, input UpdateDiscussionInput) (store.DiscussionView, error) {
	if err := s.check(input); err != nil {
		return store.DiscussionView{}, err
	}
	discussion, access, err := s.loadReadableDiscussion(ctx, actor, discussionID)
	if err != nil {
		return store.DiscussionView{}, err
	}
	if !actor.SignedIn() || (discussion.AuthorID != actor.UserID && !access.can(rbac.ActionManage)) {
		return store.DiscussionView{}, forbidden()
	}

	changed := make([]string, 0, 3)
	contentChanged := false
	if input.Title != nil && strings.TrimSpace(*input.Title) != discussion.Title {
		discussion.Title = strings.TrimSpace(*input.Title)
		changed = append(changed, "title")
		contentChanged = true
	}
	if input.Description != nil && *input.Description != discussion.Description {
		discussion.Description = *input.Description
		changed = append(changed, "description")
		contentChanged = true
	}
	if input.Private != nil && *input.Private != discussion.Private {
		if !*input.Private && !access.group.IsVisibleToPublic {
			return store.DiscussionView{}, validationError("Discussions in this group must be private", nil)
		}
		discussion.Private = *input.Private
		changed = append(changed, "private")
	}

	if len(changed) > 0 {
		if err := s.store.UpdateDiscussion(ctx, discussion); err != nil {
			return store.DiscussionView{}, err
		}
		if _, err := s.store.InsertEvent(ctx, store.Event{
			ID:           util.NewID("evt"),
			Kind:         store.EventDiscussionEdited,
			DiscussionID: discussion.ID,
			ActorID:      actor.UserID,
			Payload:      map[string]any{"changed": changed},
		}, false); err != nil {
			return store.DiscussionView{}, err
		}
		if contentChanged {
			s.commitRevision(discussion, actor, "Edit "+strings.Join(changed, ", "))
		}
		s.reindex(ctx, discussion.ID)
	}
	return s.store.GetDiscussionView(ctx, actor.UserID, discussion.ID)
}

type MoveResult struct {
	Discussion store.DiscussionView
	Event      store.Event
}

// MoveDiscussion: the author or a source-group admin, who is also a member of the
// destination, may move a discussion to a different group.
func (s *Service) MoveDiscussion(ctx context.Context, actor Session, discussionID, groupID string) (MoveResult, error) {
	if strings.TrimSpace(groupID) == "" {
		return MoveResult{}, validationError("group_id is required", nil)
	}
	discussion, source, err := s.loadReadableDiscussion(ctx, actor, discussionID)
	if err != nil {
		return MoveResult{}, err
	}
	if !actor.SignedIn() || (discussion.AuthorID != actor.UserID && !source.can(rbac.ActionManage)) {
		return MoveResult{}, forbidden()
	}
	if groupID == discussion.GroupID {
		return MoveResult{}, validationError("Discussion already belongs to this group", nil)
	}
	destination, err := s.loadGroupAccess(ctx, actor.UserID, groupID)
	if err != nil {
		return MoveResult{}, err
	}
	if !destination.member() || destination.group.ArchivedAt != nil {
		return MoveResult{}, forbidden()
	}

	private := discussion.Private || !destination.group.IsVisibleToPublic
	if err := s.store.MoveDiscussion(ctx, discussion.ID, groupID, private); err != nil {
		return MoveResult{}, err
	}
	event, err := s.store.InsertEvent(ctx, store.Event{
		ID:           util.NewID("evt"),
		Kind:         store.EventDiscussionMoved,
		DiscussionID: discussion.ID,
		ActorID:      actor.UserID,
		Payload:      map[string]any{"from_group_id": discussion.GroupID, "to_group_id": groupID},
	}, false)
	if err != nil {
		return MoveResult{}, err
	}
	s.reindex(ctx, discussion.ID)

	view, err := s.store.GetDiscussionView(ctx, actor.UserID, discussion.ID)
	if err != nil {
		return MoveResult{}, err
	}
	return MoveResult{Discussion: view, Event: event}, nil
}

// PinDiscussion toggles the group-wide pin. Group admins only.
func (s *Service) PinDiscussion(ctx context.Context, actor Session, discussionID string) (store.DiscussionView, error) {
	_, access, err := s.loadReadableDiscussion(ctx, actor, discussionID)
	if err != nil {
		return store.DiscussionView{}, err
	}
	if !access.can(rbac.ActionManage) {
		return store.DiscussionView{}, forbidden()
	}
	if _, err := s.store.ToggleDiscussionPin(ctx, discussionID); err != nil {
		return store.DiscussionView{}, err
	}
	return s.store.GetDiscussionView(ctx, actor.UserID, discussionID)
}

type CommentResult struct {
	Comment store.Comment
	Event   store.Event
}

func (s *Service) AddComment(ctx context.Context, actor Session, discussionID, body string) (CommentResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return CommentResult{}, validationError("body is required", map[string]any{"fields": map[string]string{"body": "required"}})
	}
	discussion, access, err := s.loadReadableDiscussion(ctx, actor, discussionID)
	if err != nil {
		return CommentResult{}, err
	}
	if !actor.SignedIn() || !access.can(rbac.ActionParticipate) {
		return CommentResult{}, forbidden()
	}
	if discussion.ClosedAt != nil {
		return CommentResult{}, validationError("Discussion is closed", nil)
	}

	comment, event, err := s.store.CreateComment(ctx, store.Comment{
		ID:           util.NewID("cmt"),
		DiscussionID: discussion.ID,
		AuthorID:     actor.UserID,
		Body:         body,
	}, util.NewID("evt"))
	if err != nil {
		return CommentResult{}, err
	}

	now := s.now()
	_, err = s.store.ModifyReader(ctx, discussion.ID, actor.UserID, func(r *store.DiscussionReader) error {
		r.Participating = true
		r.LastReadAt = &now
		s.markRead(r, ranges.Ranges{{First: comment.SequenceID, Last: comment.SequenceID}}, comment.SequenceID)
		return nil
	})
	if err != nil {
		return CommentResult{}, err
	}

	s.reindex(ctx, discussion.ID)
	return CommentResult{Comment: comment, Event: event}, nil
}

func (s *Service) commitRevision(discussion store.Discussion, actor Session, message string) {
	if s.revisions == nil {
		return
	}
	author := actor.UserName
	if author == "" {
		author = actor.UserID
	}
	content := gitrepo.Content{Title: discussion.Title, Description: discussion.Description}
	if _, err := s.revisions.Commit(discussion.ID, content, author, message); err != nil {
		s.logger.Error().Err(err).Str("discussion_id", discussion.ID).Msg("commit discussion revision")
	}
}

func (s *Service) reindex(ctx context.Context, discussionID string) {
	if s.search == nil {
		return
	}
	doc, err := s.store.GetSearchDocument(ctx, discussionID)
	if err != nil {
		s.logger.Warn().Err(err).Str("discussion_id", discussionID).Msg("load search document")
		return
	}
	s.search.IndexDiscussion(doc)
}
