package search

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgFTSSearchFiltersGroups(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM discussions d WHERE d.search_vector @@ plainto_tsquery('simple', $1) AND d.discarded_at IS NULL AND d.group_id IN ($2, $3)`)).
		WithArgs("budget", "grp_1", "grp_2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`LIMIT 5 OFFSET 10`).
		WithArgs("budget", "grp_1", "grp_2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "group_id", "title", "snippet"}).
			AddRow("dsc_1", "grp_1", "Budget 2025", "the <b>budget</b> for"))

	results, total, err := NewPgFTS(db).Search(context.Background(), Query{
		Text: "budget", GroupIDs: []string{"grp_1", "grp_2"}, Limit: 5, Offset: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []Result{{ID: "dsc_1", GroupID: "grp_1", Title: "Budget 2025", Snippet: "the <b>budget</b> for"}}, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFTSBlankQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	results, total, err := NewPgFTS(db).Search(context.Background(), Query{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupFilter(t *testing.T) {
	assert.Equal(t, "", groupFilter(nil))
	assert.Equal(t, `groupId IN ["grp_1", "grp \"2\""]`, groupFilter([]string{"grp_1", `grp "2"`}))
}

func TestHitToResultPrefersFormatted(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}
	hit := meili.Hit{
		"id":          raw("dsc_1"),
		"groupId":     raw("grp_1"),
		"title":       raw("Budget"),
		"description": raw("plain"),
		"_formatted":  raw(map[string]string{"title": "<mark>Budget</mark>", "description": " "}),
	}
	got := hitToResult(hit)
	assert.Equal(t, Result{ID: "dsc_1", GroupID: "grp_1", Title: "<mark>Budget</mark>", Snippet: "plain"}, got)
}
