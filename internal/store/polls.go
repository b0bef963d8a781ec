package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (s *PostgresStore) CreatePoll(ctx context.Context, poll Poll) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO polls (id, group_id, discussion_id, author_id, title, details, closing_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, poll.ID, poll.GroupID, poll.DiscussionID, poll.AuthorID, poll.Title, poll.Details, poll.ClosingAt)
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPoll(ctx context.Context, pollID string) (Poll, error) {
	var poll Poll
	var discussionID sql.NullString
	var closingAt, closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, discussion_id, author_id, title, details, closing_at, closed_at, created_at
		FROM polls
		WHERE id=$1
	`, pollID).Scan(
		&poll.ID,
		&poll.GroupID,
		&discussionID,
		&poll.AuthorID,
		&poll.Title,
		&poll.Details,
		&closingAt,
		&closedAt,
		&poll.CreatedAt,
	)
	if err != nil {
		return Poll{}, err
	}
	poll.DiscussionID = nullString(discussionID)
	poll.ClosingAt = nullTime(closingAt)
	poll.ClosedAt = nullTime(closedAt)
	return poll, nil
}

// CloseLapsedPolls closes every active poll whose closing time has passed.
func (s *PostgresStore) CloseLapsedPolls(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE polls SET closed_at=$1
		WHERE closed_at IS NULL AND closing_at IS NOT NULL AND closing_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("close lapsed polls: %w", err)
	}
	closed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count closed polls: %w", err)
	}
	return closed, nil
}
