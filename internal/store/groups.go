package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *PostgresStore) CreateGroup(ctx context.Context, group Group) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, parent_id, name, is_visible_to_public, parent_members_can_see_discussions)
		VALUES ($1, $2, $3, $4, $5)
	`, group.ID, group.ParentID, group.Name, group.IsVisibleToPublic, group.ParentMembersCanSeeDiscussions)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var group Group
	var parentID sql.NullString
	var archivedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, parent_id, name, is_visible_to_public, parent_members_can_see_discussions, archived_at, created_at
		FROM groups
		WHERE id=$1
	`, groupID).Scan(
		&group.ID,
		&parentID,
		&group.Name,
		&group.IsVisibleToPublic,
		&group.ParentMembersCanSeeDiscussions,
		&archivedAt,
		&group.CreatedAt,
	)
	if err != nil {
		return Group{}, err
	}
	group.ParentID = nullString(parentID)
	group.ArchivedAt = nullTime(archivedAt)
	return group, nil
}

func (s *PostgresStore) UpsertMembership(ctx context.Context, membership Membership) error {
	volume := membership.Volume
	if volume == "" {
		volume = VolumeNormal
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (group_id, user_id, role, volume)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, membership.GroupID, membership.UserID, membership.Role, volume)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// GetMembership returns sql.ErrNoRows when the user is not a member.
func (s *PostgresStore) GetMembership(ctx context.Context, groupID, userID string) (Membership, error) {
	var membership Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT group_id, user_id, role, volume
		FROM memberships
		WHERE group_id=$1 AND user_id=$2
	`, groupID, userID).Scan(&membership.GroupID, &membership.UserID, &membership.Role, &membership.Volume)
	if err != nil {
		return Membership{}, err
	}
	return membership, nil
}

// MembershipRole returns "" when the user does not belong to the group.
func (s *PostgresStore) MembershipRole(ctx context.Context, groupID, userID string) (string, error) {
	membership, err := s.GetMembership(ctx, groupID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read membership role: %w", err)
	}
	return membership.Role, nil
}

// SubgroupIDs returns every descendant of the group, not including the group itself.
func (s *PostgresStore) SubgroupIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id FROM groups WHERE parent_id = $1
			UNION ALL
			SELECT g.id FROM groups g JOIN tree t ON g.parent_id = t.id
		)
		SELECT id FROM tree ORDER BY id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list subgroups: %w", err)
	}
	return scanStrings(rows, "subgroup")
}

func (s *PostgresStore) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM memberships WHERE group_id=$1 ORDER BY created_at`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return scanStrings(rows, "member")
}

func (s *PostgresStore) AddGroupVisits(ctx context.Context, visits []GroupVisit) error {
	if len(visits) == 0 {
		return nil
	}
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, visit := range visits {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO group_visits (group_id, day, visits, unique_visitors)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (group_id, day) DO UPDATE
				SET visits=GREATEST(group_visits.visits, EXCLUDED.visits),
					unique_visitors=GREATEST(group_visits.unique_visitors, EXCLUDED.unique_visitors)
			`, visit.GroupID, visit.Day, visit.Visits, visit.UniqueVisitors); err != nil {
				return fmt.Errorf("upsert group visit: %w", err)
			}
		}
		return nil
	})
}

func nullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}
