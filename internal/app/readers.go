package app

import (
	"context"
	"errors"
	"strings"

	"agora/api/internal/ranges"
	"agora/api/internal/store"
)

// Reader update kinds, also used as the metrics label.
const (
	ReaderStar       = "star"
	ReaderUnstar     = "unstar"
	ReaderPin        = "pin_reader"
	ReaderUnpin      = "unpin_reader"
	ReaderSetVolume  = "set_volume"
	ReaderMarkAsRead = "mark_as_read"
	ReaderDismiss    = "dismiss"
)

// markRead merges read into the reader's ranges, keeping only ids in [1, last].
// Stored ranges that no longer parse are replaced.
func (s *Service) markRead(reader *store.DiscussionReader, read ranges.Ranges, last int) {
	current, err := ranges.Parse(reader.ReadRanges)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("discussion_id", reader.DiscussionID).
			Str("user_id", reader.UserID).
			Str("read_ranges", reader.ReadRanges).
			Msg("discarding unreadable read ranges")
		current = ranges.Ranges{}
	}
	merged := ranges.Clamp(ranges.Merge(current, read), 1, last)
	reader.ReadRanges = merged.String()
	reader.ReadItemsCount = merged.Count()
}

// updateReader applies fn to the caller's reader row of a readable discussion.
func (s *Service) updateReader(ctx context.Context, actor Session, discussionID, kind string, fn func(store.Discussion, *store.DiscussionReader) error) (store.DiscussionView, error) {
	if !actor.SignedIn() {
		return store.DiscussionView{}, forbidden()
	}
	discussion, _, err := s.loadReadableDiscussion(ctx, actor, discussionID)
	if err != nil {
		return store.DiscussionView{}, err
	}
	_, err = s.store.ModifyReader(ctx, discussion.ID, actor.UserID, func(r *store.DiscussionReader) error {
		return fn(discussion, r)
	})
	if err != nil {
		return store.DiscussionView{}, err
	}
	s.metrics.ReaderUpdated(kind)
	return s.store.GetDiscussionView(ctx, actor.UserID, discussion.ID)
}

// MarkAsRead records the given ranges as read. An empty value marks everything up
// to the latest item.
func (s *Service) MarkAsRead(ctx context.Context, actor Session, discussionID, value string) (store.DiscussionView, error) {
	return s.updateReader(ctx, actor, discussionID, ReaderMarkAsRead, func(d store.Discussion, r *store.DiscussionReader) error {
		read := ranges.Upto(d.LastSequenceID)
		if strings.TrimSpace(value) != "" {
			parsed, err := ranges.Parse(value)
			if err != nil {
				if errors.Is(err, ranges.ErrMalformed) {
					return validationError("ranges is malformed", map[string]any{"fields": map[string]string{"ranges": "format"}})
				}
				return err
			}
			read = parsed
		}
		s.markRead(r, read, d.LastSequenceID)
		now := s.now()
		r.LastReadAt = &now
		return nil
	})
}

func (s *Service) Dismiss(ctx context.Context, actor Session, discussionID string) (store.DiscussionView, error) {
	return s.updateReader(ctx, actor, discussionID, ReaderDismiss, func(_ store.Discussion, r *store.DiscussionReader) error {
		now := s.now()
		r.DismissedAt = &now
		return nil
	})
}

// UpdateReader applies one of the flag updates: star, unstar, pin_reader,
// unpin_reader or set_volume.
func (s *Service) UpdateReader(ctx context.Context, actor Session, discussionID, kind, volume string) (store.DiscussionView, error) {
	var apply func(*store.DiscussionReader)
	switch kind {
	case ReaderStar:
		apply = func(r *store.DiscussionReader) { r.Starred = true }
	case ReaderUnstar:
		apply = func(r *store.DiscussionReader) { r.Starred = false }
	case ReaderPin:
		apply = func(r *store.DiscussionReader) { r.ReaderUnpinned = false }
	case ReaderUnpin:
		apply = func(r *store.DiscussionReader) { r.ReaderUnpinned = true }
	case ReaderSetVolume:
		if !store.ValidVolume(volume) {
			return store.DiscussionView{}, validationError("volume must be one of mute, quiet, normal, loud",
				map[string]any{"fields": map[string]string{"volume": "oneof"}})
		}
		apply = func(r *store.DiscussionReader) { r.Volume = &volume }
	default:
		return store.DiscussionView{}, notFound("Action")
	}
	return s.updateReader(ctx, actor, discussionID, kind, func(_ store.Discussion, r *store.DiscussionReader) error {
		apply(r)
		return nil
	})
}
