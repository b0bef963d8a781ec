package app

import (
	"context"

	"agora/api/internal/rbac"
	"agora/api/internal/store"
)

// groupAccess is what one caller may do in one group.
type groupAccess struct {
	group        store.Group
	role         rbac.Role
	parentMember bool
}

// member reports a real membership, as opposed to read access through the
// parent group or a public group.
func (a groupAccess) member() bool {
	return a.role == rbac.RoleMember || a.role == rbac.RoleAdmin
}

func (a groupAccess) can(action rbac.Action) bool {
	if a.group.ArchivedAt != nil {
		return false
	}
	role := a.role
	if a.group.IsVisibleToPublic || (a.parentMember && a.group.ParentMembersCanSeeDiscussions) {
		role = rbac.Stronger(role, rbac.RoleViewer)
	}
	return rbac.Can(role, action)
}

// canReadDiscussion mirrors the visibility query in the store.
func (a groupAccess) canReadDiscussion(d store.Discussion) bool {
	if d.DiscardedAt != nil || a.group.ArchivedAt != nil {
		return false
	}
	if !d.Private || a.member() {
		return true
	}
	return a.parentMember && a.group.ParentMembersCanSeeDiscussions
}

func (s *Service) loadGroupAccess(ctx context.Context, userID, groupID string) (groupAccess, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		if isNotFound(err) {
			return groupAccess{}, notFound("Group")
		}
		return groupAccess{}, err
	}
	return s.accessFor(ctx, userID, group)
}

func (s *Service) accessFor(ctx context.Context, userID string, group store.Group) (groupAccess, error) {
	access := groupAccess{group: group, role: rbac.RoleNone}
	if userID == "" {
		return access, nil
	}
	role, err := s.store.MembershipRole(ctx, group.ID, userID)
	if err != nil {
		return groupAccess{}, err
	}
	access.role = rbac.Normalize(role)
	if group.ParentID != nil {
		parentRole, err := s.store.MembershipRole(ctx, *group.ParentID, userID)
		if err != nil {
			return groupAccess{}, err
		}
		access.parentMember = parentRole != ""
	}
	return access, nil
}

// loadReadableDiscussion returns the discussion and the caller's access to its
// group, or FORBIDDEN when the caller may not read it.
func (s *Service) loadReadableDiscussion(ctx context.Context, actor Session, discussionID string) (store.Discussion, groupAccess, error) {
	discussion, err := s.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		if isNotFound(err) {
			return store.Discussion{}, groupAccess{}, notFound("Discussion")
		}
		return store.Discussion{}, groupAccess{}, err
	}
	if discussion.DiscardedAt != nil {
		return store.Discussion{}, groupAccess{}, notFound("Discussion")
	}
	access, err := s.loadGroupAccess(ctx, actor.UserID, discussion.GroupID)
	if err != nil {
		return store.Discussion{}, groupAccess{}, err
	}
	if !access.canReadDiscussion(discussion) {
		return store.Discussion{}, groupAccess{}, forbidden()
	}
	return discussion, access, nil
}

// canAdministerPoll: the poll author or an admin of the poll's group.
func (s *Service) canAdministerPoll(ctx context.Context, actor Session, poll store.Poll) (bool, error) {
	if !actor.SignedIn() {
		return false, nil
	}
	if poll.AuthorID == actor.UserID {
		return true, nil
	}
	access, err := s.loadGroupAccess(ctx, actor.UserID, poll.GroupID)
	if err != nil {
		return false, err
	}
	return access.can(rbac.ActionManage), nil
}
