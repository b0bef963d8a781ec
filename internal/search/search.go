package search

import (
	"context"
	"time"

	"agora/api/internal/store"
)

// Result is a single discussion hit.
type Result struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. GroupIDs narrows the hits to those groups when set.
type Query struct {
	Text     string
	GroupIDs []string
	Limit    int
	Offset   int
}

// Response is what the search facade hands back.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Engine is a searcher that also owns an index it can write to.
type Engine interface {
	Searcher
	IndexDiscussions(records []DiscussionRecord) error
	DeleteDiscussion(id string) error
}

// DiscussionRecord is the indexed shape of a discussion.
type DiscussionRecord struct {
	ID          string `json:"id"`
	GroupID     string `json:"groupId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Comments    string `json:"comments"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func RecordFromDocument(doc store.SearchDocument) DiscussionRecord {
	return DiscussionRecord{
		ID:          doc.ID,
		GroupID:     doc.GroupID,
		Title:       doc.Title,
		Description: doc.Description,
		Comments:    doc.Comments,
		UpdatedAt:   doc.UpdatedAt.UTC().Truncate(time.Second).Unix(),
	}
}

const defaultLimit = 20

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
