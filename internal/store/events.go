package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertEvent records a discussion event. Sequenced events take the next sequence id
// of the discussion and count as activity.
func (s *PostgresStore) InsertEvent(ctx context.Context, event Event, sequenced bool) (Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("begin event tx: %w", err)
	}
	created, err := insertEventTx(ctx, tx, event, sequenced)
	if err != nil {
		_ = tx.Rollback()
		return Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("commit event: %w", err)
	}
	return created, nil
}

func insertEventTx(ctx context.Context, tx *sql.Tx, event Event, sequenced bool) (Event, error) {
	if sequenced {
		var sequenceID int
		err := tx.QueryRowContext(ctx, `
			UPDATE discussions
			SET last_sequence_id = last_sequence_id + 1,
				items_count = items_count + 1,
				last_activity_at = NOW()
			WHERE id=$1
			RETURNING last_sequence_id
		`, event.DiscussionID).Scan(&sequenceID)
		if err != nil {
			return Event{}, fmt.Errorf("allocate sequence id: %w", err)
		}
		event.SequenceID = &sequenceID
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode event payload: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO events (id, kind, discussion_id, actor_id, sequence_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, event.ID, event.Kind, event.DiscussionID, event.ActorID, event.SequenceID, raw).Scan(&event.CreatedAt); err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	event.Payload = payload
	return event, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, discussionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, discussion_id, actor_id, sequence_id, payload, created_at
		FROM events
		WHERE discussion_id=$1
		ORDER BY created_at, id
	`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	items := make([]Event, 0)
	for rows.Next() {
		var item Event
		var sequenceID sql.NullInt64
		var raw []byte
		if err := rows.Scan(&item.ID, &item.Kind, &item.DiscussionID, &item.ActorID, &sequenceID, &raw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if sequenceID.Valid {
			value := int(sequenceID.Int64)
			item.SequenceID = &value
		}
		_ = json.Unmarshal(raw, &item.Payload)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

// CreateComment stores the comment together with its new_comment event.
func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment, eventID string) (Comment, Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Comment{}, Event{}, fmt.Errorf("begin comment tx: %w", err)
	}
	event, err := insertEventTx(ctx, tx, Event{
		ID:           eventID,
		Kind:         EventNewComment,
		DiscussionID: comment.DiscussionID,
		ActorID:      comment.AuthorID,
		Payload:      map[string]any{"comment_id": comment.ID},
	}, true)
	if err != nil {
		_ = tx.Rollback()
		return Comment{}, Event{}, err
	}
	comment.SequenceID = *event.SequenceID
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO comments (id, discussion_id, author_id, body, sequence_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, comment.ID, comment.DiscussionID, comment.AuthorID, comment.Body, comment.SequenceID).Scan(&comment.CreatedAt); err != nil {
		_ = tx.Rollback()
		return Comment{}, Event{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Comment{}, Event{}, fmt.Errorf("commit comment: %w", err)
	}
	return comment, event, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, discussionID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, discussion_id, author_id, body, sequence_id, created_at
		FROM comments
		WHERE discussion_id=$1
		ORDER BY sequence_id, created_at
	`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.DiscussionID, &item.AuthorID, &item.Body, &item.SequenceID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}
