package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const discussionColumns = `d.id, d.group_id, d.author_id, d.title, d.description, d.private, d.pinned,
	d.items_count, d.last_sequence_id, d.last_activity_at, d.closed_at, d.discarded_at, d.created_at, d.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscussion(row rowScanner, extra ...any) (Discussion, error) {
	var item Discussion
	var closedAt, discardedAt sql.NullTime
	dest := []any{
		&item.ID,
		&item.GroupID,
		&item.AuthorID,
		&item.Title,
		&item.Description,
		&item.Private,
		&item.Pinned,
		&item.ItemsCount,
		&item.LastSequenceID,
		&item.LastActivityAt,
		&closedAt,
		&discardedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Discussion{}, err
	}
	item.ClosedAt = nullTime(closedAt)
	item.DiscardedAt = nullTime(discardedAt)
	return item, nil
}

func (s *PostgresStore) CreateDiscussion(ctx context.Context, item Discussion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discussions (id, group_id, author_id, title, description, private)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.GroupID, item.AuthorID, item.Title, item.Description, item.Private)
	if err != nil {
		return fmt.Errorf("insert discussion: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDiscussion(ctx context.Context, discussionID string) (Discussion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+discussionColumns+` FROM discussions d WHERE d.id=$1`, discussionID)
	return scanDiscussion(row)
}

func (s *PostgresStore) UpdateDiscussion(ctx context.Context, item Discussion) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE discussions
		SET title=$2, description=$3, private=$4, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.Private)
	if err != nil {
		return fmt.Errorf("update discussion: %w", err)
	}
	return nil
}

// MoveDiscussion reassigns the discussion and its polls to another group.
func (s *PostgresStore) MoveDiscussion(ctx context.Context, discussionID, groupID string, private bool) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE discussions SET group_id=$2, private=$3, updated_at=NOW() WHERE id=$1
		`, discussionID, groupID, private); err != nil {
			return fmt.Errorf("move discussion: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE polls SET group_id=$2 WHERE discussion_id=$1`, discussionID, groupID); err != nil {
			return fmt.Errorf("move discussion polls: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ToggleDiscussionPin(ctx context.Context, discussionID string) (bool, error) {
	var pinned bool
	err := s.db.QueryRowContext(ctx, `
		UPDATE discussions SET pinned = NOT pinned, updated_at=NOW() WHERE id=$1 RETURNING pinned
	`, discussionID).Scan(&pinned)
	if err != nil {
		return false, fmt.Errorf("toggle discussion pin: %w", err)
	}
	return pinned, nil
}

// discussionViewQuery holds the FROM and WHERE clauses shared by the listing and its count.
type discussionViewQuery struct {
	args  queryArgs
	from  string
	where []string
}

// newDiscussionViewQuery joins reader and membership rows for userID. An empty userID
// matches no reader or membership, which leaves only public discussions visible.
func newDiscussionViewQuery(userID string) *discussionViewQuery {
	q := &discussionViewQuery{}
	user := q.args.add(userID)
	q.from = `
		FROM discussions d
		JOIN groups g ON g.id = d.group_id
		LEFT JOIN discussion_readers dr ON dr.discussion_id = d.id AND dr.user_id = ` + user + `
		LEFT JOIN memberships m ON m.group_id = d.group_id AND m.user_id = ` + user
	q.where = []string{"d.discarded_at IS NULL"}
	return q
}

func (q *discussionViewQuery) visibleOnly(userID string) {
	q.where = append(q.where, "g.archived_at IS NULL")
	if userID == "" {
		q.where = append(q.where, "d.private = FALSE")
		return
	}
	q.where = append(q.where, `(
		d.private = FALSE
		OR m.user_id IS NOT NULL
		OR (g.parent_members_can_see_discussions AND EXISTS (
			SELECT 1 FROM memberships pm WHERE pm.group_id = g.parent_id AND pm.user_id = $1
		))
	)`)
}

func (q *discussionViewQuery) apply(opts CollectionOptions) {
	if len(opts.GroupIDs) > 0 {
		q.where = append(q.where, "d.group_id IN ("+q.args.list(opts.GroupIDs)+")")
	}
	if opts.Muted != nil {
		if *opts.Muted {
			q.where = append(q.where, "COALESCE(dr.volume, m.volume, 'normal') = 'mute'")
		} else {
			q.where = append(q.where, "COALESCE(dr.volume, m.volume, 'normal') <> 'mute'")
		}
	}
	if opts.Participating {
		q.where = append(q.where, "COALESCE(dr.participating, FALSE)")
	}
	if opts.Unread {
		q.where = append(q.where, "COALESCE(dr.read_items_count, 0) < d.items_count")
		q.where = append(q.where, "(dr.dismissed_at IS NULL OR dr.dismissed_at < d.last_activity_at)")
	}
}

func (q *discussionViewQuery) whereSQL() string {
	return " WHERE " + strings.Join(q.where, " AND ")
}

const discussionViewColumns = discussionColumns + `,
	dr.user_id, dr.read_ranges, dr.read_items_count, dr.last_read_at, dr.dismissed_at,
	dr.volume, dr.starred, dr.reader_unpinned, dr.participating,
	COALESCE(dr.volume, m.volume, 'normal') AS effective_volume,
	(CASE WHEN d.pinned AND NOT COALESCE(dr.reader_unpinned, FALSE) THEN 2 ELSE 0 END)
		+ (CASE WHEN EXISTS (SELECT 1 FROM polls ap WHERE ap.discussion_id = d.id AND ap.closed_at IS NULL) THEN 1 ELSE 0 END) AS importance,
	COALESCE((SELECT string_agg(p.id, ',' ORDER BY p.created_at) FROM polls p WHERE p.discussion_id = d.id AND p.closed_at IS NULL), '') AS active_poll_ids`

func scanDiscussionView(row rowScanner) (DiscussionView, error) {
	var view DiscussionView
	var readerUserID, readRanges, readerVolume sql.NullString
	var readItems sql.NullInt64
	var lastReadAt, dismissedAt sql.NullTime
	var starred, unpinned, participating sql.NullBool
	var pollIDs string

	discussion, err := scanDiscussion(row,
		&readerUserID,
		&readRanges,
		&readItems,
		&lastReadAt,
		&dismissedAt,
		&readerVolume,
		&starred,
		&unpinned,
		&participating,
		&view.EffectiveVolume,
		&view.Importance,
		&pollIDs,
	)
	if err != nil {
		return DiscussionView{}, err
	}
	view.Discussion = discussion
	if readerUserID.Valid {
		view.Reader = &DiscussionReader{
			DiscussionID:   discussion.ID,
			UserID:         readerUserID.String,
			ReadRanges:     readRanges.String,
			ReadItemsCount: int(readItems.Int64),
			LastReadAt:     nullTime(lastReadAt),
			DismissedAt:    nullTime(dismissedAt),
			Volume:         nullString(readerVolume),
			Starred:        starred.Bool,
			ReaderUnpinned: unpinned.Bool,
			Participating:  participating.Bool,
		}
	}
	view.ActivePollIDs = []string{}
	if pollIDs != "" {
		view.ActivePollIDs = strings.Split(pollIDs, ",")
	}
	return view, nil
}

// ListVisibleDiscussions returns one page of the discussions opts.UserID may read plus
// the total size of the filtered collection.
func (s *PostgresStore) ListVisibleDiscussions(ctx context.Context, opts CollectionOptions) ([]DiscussionView, int, error) {
	q := newDiscussionViewQuery(opts.UserID)
	q.visibleOnly(opts.UserID)
	q.apply(opts)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+q.from+q.whereSQL(), q.args.values...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visible discussions: %w", err)
	}

	order := " ORDER BY importance DESC, COALESCE(dr.starred, FALSE) DESC, d.last_activity_at DESC, d.id"
	if opts.Sort == SortLatestActivity {
		order = " ORDER BY d.last_activity_at DESC, d.id"
	}
	query := `SELECT ` + discussionViewColumns + q.from + q.whereSQL() + order
	if opts.Limit > 0 {
		query += " LIMIT " + q.args.add(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + q.args.add(opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, q.args.values...)
	if err != nil {
		return nil, 0, fmt.Errorf("list visible discussions: %w", err)
	}
	defer rows.Close()

	items := make([]DiscussionView, 0)
	for rows.Next() {
		view, err := scanDiscussionView(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan discussion view: %w", err)
		}
		items = append(items, view)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate discussion views: %w", err)
	}
	return items, total, nil
}

// GetDiscussionView loads one discussion with userID's reader state. It does not
// check visibility.
func (s *PostgresStore) GetDiscussionView(ctx context.Context, userID, discussionID string) (DiscussionView, error) {
	q := newDiscussionViewQuery(userID)
	q.where = append(q.where, "d.id = "+q.args.add(discussionID))
	row := s.db.QueryRowContext(ctx, `SELECT `+discussionViewColumns+q.from+q.whereSQL(), q.args.values...)
	return scanDiscussionView(row)
}

// FilterVisibleDiscussionIDs keeps the ids userID may read, in their original order.
func (s *PostgresStore) FilterVisibleDiscussionIDs(ctx context.Context, userID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	q := newDiscussionViewQuery(userID)
	q.visibleOnly(userID)
	q.where = append(q.where, "d.id IN ("+q.args.list(ids)+")")

	rows, err := s.db.QueryContext(ctx, `SELECT d.id`+q.from+q.whereSQL(), q.args.values...)
	if err != nil {
		return nil, fmt.Errorf("filter visible discussions: %w", err)
	}
	visible, err := scanStrings(rows, "visible discussion")
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(visible))
	for _, id := range visible {
		allowed[id] = true
	}
	kept := make([]string, 0, len(visible))
	for _, id := range ids {
		if allowed[id] {
			kept = append(kept, id)
			delete(allowed, id)
		}
	}
	return kept, nil
}

func (s *PostgresStore) GetSearchDocument(ctx context.Context, discussionID string) (SearchDocument, error) {
	var doc SearchDocument
	err := s.db.QueryRowContext(ctx, searchDocumentQuery+` WHERE d.id=$1`, discussionID).Scan(
		&doc.ID, &doc.GroupID, &doc.Title, &doc.Description, &doc.Comments, &doc.UpdatedAt,
	)
	if err != nil {
		return SearchDocument{}, err
	}
	return doc, nil
}

func (s *PostgresStore) ListSearchDocuments(ctx context.Context) ([]SearchDocument, error) {
	rows, err := s.db.QueryContext(ctx, searchDocumentQuery+` WHERE d.discarded_at IS NULL ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("list search documents: %w", err)
	}
	defer rows.Close()

	items := make([]SearchDocument, 0)
	for rows.Next() {
		var doc SearchDocument
		if err := rows.Scan(&doc.ID, &doc.GroupID, &doc.Title, &doc.Description, &doc.Comments, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan search document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search documents: %w", err)
	}
	return items, nil
}

const searchDocumentQuery = `
	SELECT d.id, d.group_id, d.title, d.description,
		COALESCE((SELECT string_agg(c.body, E'\n' ORDER BY c.created_at) FROM comments c WHERE c.discussion_id = d.id), ''),
		d.updated_at
	FROM discussions d`
