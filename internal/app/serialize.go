package app

import (
	"time"

	"agora/api/internal/store"
)

func discussionJSON(view store.DiscussionView, signedIn bool) map[string]any {
	activePolls := view.ActivePollIDs
	if activePolls == nil {
		activePolls = []string{}
	}
	out := map[string]any{
		"id":               view.ID,
		"group_id":         view.GroupID,
		"author_id":        view.AuthorID,
		"title":            view.Title,
		"description":      view.Description,
		"private":          view.Private,
		"pinned":           view.Pinned,
		"items_count":      view.ItemsCount,
		"last_sequence_id": view.LastSequenceID,
		"last_activity_at": view.LastActivityAt,
		"closed_at":        timeOrNil(view.ClosedAt),
		"created_at":       view.CreatedAt,
		"importance":       view.Importance,
		"active_poll_ids":  activePolls,
	}
	if !signedIn {
		return out
	}

	reader := view.Reader
	if reader == nil {
		reader = &store.DiscussionReader{}
	}
	out["starred"] = reader.Starred
	out["volume"] = view.EffectiveVolume
	out["reader_unpinned"] = reader.ReaderUnpinned
	out["dismissed_at"] = timeOrNil(reader.DismissedAt)
	out["last_read_at"] = timeOrNil(reader.LastReadAt)
	out["read_ranges"] = reader.ReadRanges
	out["read_items_count"] = reader.ReadItemsCount
	out["unread_count"] = max(view.ItemsCount-reader.ReadItemsCount, 0)
	out["participating"] = reader.Participating
	return out
}

func discussionsJSON(views []store.DiscussionView, signedIn bool) []map[string]any {
	out := make([]map[string]any, 0, len(views))
	for _, view := range views {
		out = append(out, discussionJSON(view, signedIn))
	}
	return out
}

func eventJSON(event store.Event) map[string]any {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"id":            event.ID,
		"kind":          event.Kind,
		"discussion_id": event.DiscussionID,
		"actor_id":      event.ActorID,
		"sequence_id":   event.SequenceID,
		"payload":       payload,
		"created_at":    event.CreatedAt,
	}
}

func commentJSON(comment store.Comment) map[string]any {
	return map[string]any{
		"id":            comment.ID,
		"discussion_id": comment.DiscussionID,
		"author_id":     comment.AuthorID,
		"body":          comment.Body,
		"sequence_id":   comment.SequenceID,
		"created_at":    comment.CreatedAt,
	}
}

// visitorJSON never includes the invitation token.
func visitorJSON(visitor store.Visitor) map[string]any {
	return map[string]any{
		"id":         visitor.ID,
		"poll_id":    visitor.PollID,
		"name":       visitor.Name,
		"email":      visitor.Email,
		"revoked":    visitor.Revoked,
		"created_at": visitor.CreatedAt,
		"updated_at": visitor.UpdatedAt,
	}
}

func pollJSON(poll store.Poll) map[string]any {
	return map[string]any{
		"id":            poll.ID,
		"group_id":      poll.GroupID,
		"discussion_id": poll.DiscussionID,
		"author_id":     poll.AuthorID,
		"title":         poll.Title,
		"details":       poll.Details,
		"closing_at":    timeOrNil(poll.ClosingAt),
		"closed_at":     timeOrNil(poll.ClosedAt),
		"active":        poll.Active(),
		"created_at":    poll.CreatedAt,
	}
}

func groupJSON(group store.Group) map[string]any {
	return map[string]any{
		"id":                                 group.ID,
		"parent_id":                          group.ParentID,
		"name":                               group.Name,
		"is_visible_to_public":               group.IsVisibleToPublic,
		"parent_members_can_see_discussions": group.ParentMembersCanSeeDiscussions,
		"archived_at":                        timeOrNil(group.ArchivedAt),
		"created_at":                         group.CreatedAt,
	}
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
