package store

import (
	"context"
	"database/sql"
	"fmt"
)

const readerColumns = `discussion_id, user_id, read_ranges, read_items_count, last_read_at, dismissed_at,
		volume, starred, reader_unpinned, participating`

func scanReader(row rowScanner) (DiscussionReader, error) {
	var reader DiscussionReader
	var lastReadAt, dismissedAt sql.NullTime
	var volume sql.NullString
	err := row.Scan(
		&reader.DiscussionID,
		&reader.UserID,
		&reader.ReadRanges,
		&reader.ReadItemsCount,
		&lastReadAt,
		&dismissedAt,
		&volume,
		&reader.Starred,
		&reader.ReaderUnpinned,
		&reader.Participating,
	)
	if err != nil {
		return DiscussionReader{}, err
	}
	reader.LastReadAt = nullTime(lastReadAt)
	reader.DismissedAt = nullTime(dismissedAt)
	reader.Volume = nullString(volume)
	return reader, nil
}

// ModifyReader applies fn to the reader row while holding its row lock, creating
// the row first when the user has none. Updates of one reader never interleave.
func (s *PostgresStore) ModifyReader(ctx context.Context, discussionID, userID string, fn func(*DiscussionReader) error) (DiscussionReader, error) {
	var saved DiscussionReader
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO discussion_readers (discussion_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (discussion_id, user_id) DO NOTHING
		`, discussionID, userID); err != nil {
			return fmt.Errorf("ensure discussion reader: %w", err)
		}

		reader, err := scanReader(tx.QueryRowContext(ctx, `
			SELECT `+readerColumns+`
			FROM discussion_readers
			WHERE discussion_id=$1 AND user_id=$2
			FOR UPDATE
		`, discussionID, userID))
		if err != nil {
			return fmt.Errorf("lock discussion reader: %w", err)
		}
		if err := fn(&reader); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE discussion_readers SET
				read_ranges=$3,
				read_items_count=$4,
				last_read_at=$5,
				dismissed_at=$6,
				volume=$7,
				starred=$8,
				reader_unpinned=$9,
				participating=$10
			WHERE discussion_id=$1 AND user_id=$2
		`,
			discussionID,
			userID,
			reader.ReadRanges,
			reader.ReadItemsCount,
			reader.LastReadAt,
			reader.DismissedAt,
			reader.Volume,
			reader.Starred,
			reader.ReaderUnpinned,
			reader.Participating,
		); err != nil {
			return fmt.Errorf("update discussion reader: %w", err)
		}
		reader.DiscussionID, reader.UserID = discussionID, userID
		saved = reader
		return nil
	})
	if err != nil {
		return DiscussionReader{}, err
	}
	return saved, nil
}
