package store

import (
	"context"
	"fmt"
)

const visitorColumns = `id, poll_id, name, email, invitation_token, revoked, created_at, updated_at`

func scanVisitor(row rowScanner) (Visitor, error) {
	var visitor Visitor
	err := row.Scan(
		&visitor.ID,
		&visitor.PollID,
		&visitor.Name,
		&visitor.Email,
		&visitor.InvitationToken,
		&visitor.Revoked,
		&visitor.CreatedAt,
		&visitor.UpdatedAt,
	)
	if err != nil {
		return Visitor{}, err
	}
	return visitor, nil
}

// FindVisitorByEmail matches the email case-insensitively within one poll.
func (s *PostgresStore) FindVisitorByEmail(ctx context.Context, pollID, email string) (Visitor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+visitorColumns+` FROM visitors WHERE poll_id=$1 AND LOWER(email)=LOWER($2)`, pollID, email)
	return scanVisitor(row)
}

func (s *PostgresStore) GetVisitor(ctx context.Context, visitorID string) (Visitor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+visitorColumns+` FROM visitors WHERE id=$1`, visitorID)
	return scanVisitor(row)
}

func (s *PostgresStore) GetVisitorByToken(ctx context.Context, token string) (Visitor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+visitorColumns+` FROM visitors WHERE invitation_token=$1`, token)
	return scanVisitor(row)
}

func (s *PostgresStore) CreateVisitor(ctx context.Context, visitor Visitor) (Visitor, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO visitors (id, poll_id, name, email, invitation_token)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+visitorColumns,
		visitor.ID, visitor.PollID, visitor.Name, visitor.Email, visitor.InvitationToken)
	created, err := scanVisitor(row)
	if err != nil {
		return Visitor{}, wrapWrite("insert visitor", err)
	}
	return created, nil
}

// UpdateVisitor writes name, email and revoked.
func (s *PostgresStore) UpdateVisitor(ctx context.Context, visitor Visitor) (Visitor, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE visitors SET name=$2, email=$3, revoked=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING `+visitorColumns,
		visitor.ID, visitor.Name, visitor.Email, visitor.Revoked)
	updated, err := scanVisitor(row)
	if err != nil {
		return Visitor{}, wrapWrite("update visitor", err)
	}
	return updated, nil
}

func (s *PostgresStore) ListVisitors(ctx context.Context, pollID string) ([]Visitor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+visitorColumns+` FROM visitors WHERE poll_id=$1 ORDER BY created_at, id`, pollID)
	if err != nil {
		return nil, fmt.Errorf("list visitors: %w", err)
	}
	defer rows.Close()

	items := make([]Visitor, 0)
	for rows.Next() {
		visitor, err := scanVisitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visitor: %w", err)
		}
		items = append(items, visitor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visitors: %w", err)
	}
	return items, nil
}
