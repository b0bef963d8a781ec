package app

import (
	"context"
	"strings"
	"time"

	"agora/api/internal/rbac"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

type CreateGroupInput struct {
	Name                           string  `json:"name" validate:"required,max=255"`
	ParentID                       *string `json:"parent_id"`
	IsVisibleToPublic              bool    `json:"is_visible_to_public"`
	ParentMembersCanSeeDiscussions bool    `json:"parent_members_can_see_discussions"`
}

type MembershipInput struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"omitempty,oneof=member admin"`
}

type CreatePollInput struct {
	GroupID      string     `json:"group_id" validate:"required"`
	DiscussionID *string    `json:"discussion_id"`
	Title        string     `json:"title" validate:"required,max=255"`
	Details      string     `json:"details"`
	ClosingAt    *time.Time `json:"closing_at"`
}

// CreateGroup makes the caller admin of a new group. Subgroups need an admin of
// the parent.
func (s *Service) CreateGroup(ctx context.Context, actor Session, input CreateGroupInput) (store.Group, error) {
	if !actor.SignedIn() {
		return store.Group{}, forbidden()
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := s.check(input); err != nil {
		return store.Group{}, err
	}
	if input.ParentID != nil && *input.ParentID != "" {
		parent, err := s.loadGroupAccess(ctx, actor.UserID, *input.ParentID)
		if err != nil {
			return store.Group{}, err
		}
		if !parent.can(rbac.ActionManage) {
			return store.Group{}, forbidden()
		}
	} else {
		input.ParentID = nil
	}

	group := store.Group{
		ID:                             util.NewID("grp"),
		ParentID:                       input.ParentID,
		Name:                           input.Name,
		IsVisibleToPublic:              input.IsVisibleToPublic,
		ParentMembersCanSeeDiscussions: input.ParentMembersCanSeeDiscussions,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return store.Group{}, err
	}
	if err := s.store.UpsertMembership(ctx, store.Membership{
		GroupID: group.ID,
		UserID:  actor.UserID,
		Role:    string(rbac.RoleAdmin),
		Volume:  store.VolumeNormal,
	}); err != nil {
		return store.Group{}, err
	}
	return s.store.GetGroup(ctx, group.ID)
}

func (s *Service) AddMembership(ctx context.Context, actor Session, groupID string, input MembershipInput) (store.Membership, error) {
	access, err := s.loadGroupAccess(ctx, actor.UserID, groupID)
	if err != nil {
		return store.Membership{}, err
	}
	if !access.can(rbac.ActionManage) {
		return store.Membership{}, forbidden()
	}
	if err := s.check(input); err != nil {
		return store.Membership{}, err
	}
	if _, err := s.store.GetUserByID(ctx, input.UserID); err != nil {
		if isNotFound(err) {
			return store.Membership{}, notFound("User")
		}
		return store.Membership{}, err
	}
	membership := store.Membership{
		GroupID: groupID,
		UserID:  input.UserID,
		Role:    input.Role,
		Volume:  store.VolumeNormal,
	}
	if membership.Role == "" {
		membership.Role = string(rbac.RoleMember)
	}
	if err := s.store.UpsertMembership(ctx, membership); err != nil {
		return store.Membership{}, err
	}
	return membership, nil
}

func (s *Service) CreatePoll(ctx context.Context, actor Session, input CreatePollInput) (store.Poll, error) {
	if !actor.SignedIn() {
		return store.Poll{}, forbidden()
	}
	input.Title = strings.TrimSpace(input.Title)
	if err := s.check(input); err != nil {
		return store.Poll{}, err
	}
	access, err := s.loadGroupAccess(ctx, actor.UserID, input.GroupID)
	if err != nil {
		return store.Poll{}, err
	}
	if !access.can(rbac.ActionParticipate) {
		return store.Poll{}, forbidden()
	}
	if input.DiscussionID != nil && *input.DiscussionID != "" {
		discussion, _, err := s.loadReadableDiscussion(ctx, actor, *input.DiscussionID)
		if err != nil {
			return store.Poll{}, err
		}
		if discussion.GroupID != input.GroupID {
			return store.Poll{}, validationError("Discussion belongs to another group", nil)
		}
	} else {
		input.DiscussionID = nil
	}
	if input.ClosingAt != nil && !input.ClosingAt.After(s.now()) {
		return store.Poll{}, validationError("closing_at must be in the future", map[string]any{"fields": map[string]string{"closing_at": "gt"}})
	}

	poll := store.Poll{
		ID:           util.NewID("pol"),
		GroupID:      input.GroupID,
		DiscussionID: input.DiscussionID,
		AuthorID:     actor.UserID,
		Title:        input.Title,
		Details:      input.Details,
		ClosingAt:    input.ClosingAt,
	}
	if err := s.store.CreatePoll(ctx, poll); err != nil {
		return store.Poll{}, err
	}
	return s.store.GetPoll(ctx, poll.ID)
}

// GetPoll is open to readers of the poll's group and to the poll's own visitors.
func (s *Service) GetPoll(ctx context.Context, actor Session, pollID, invitationToken string) (store.Poll, error) {
	poll, err := s.loadPoll(ctx, pollID)
	if err != nil {
		return store.Poll{}, err
	}
	if invitationToken != "" && !actor.SignedIn() {
		visitor, err := s.visitorForToken(ctx, invitationToken)
		if err != nil {
			return store.Poll{}, err
		}
		if visitor.PollID != poll.ID {
			return store.Poll{}, forbidden()
		}
		return poll, nil
	}
	access, err := s.loadGroupAccess(ctx, actor.UserID, poll.GroupID)
	if err != nil {
		return store.Poll{}, err
	}
	if !access.can(rbac.ActionRead) {
		return store.Poll{}, forbidden()
	}
	return poll, nil
}
