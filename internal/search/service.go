package search

import (
	"context"
	"fmt"

	"agora/api/internal/store"
	"github.com/rs/zerolog"
)

// DocumentSource loads everything that belongs in the index.
type DocumentSource interface {
	ListSearchDocuments(ctx context.Context) ([]store.SearchDocument, error)
}

// Service tries the engine first and falls back to Postgres FTS.
type Service struct {
	engine   Engine
	fallback Searcher
	logger   zerolog.Logger
	async    bool
}

// NewService builds the facade. engine may be nil when Meilisearch is not configured.
func NewService(engine Engine, fallback Searcher, logger zerolog.Logger) *Service {
	return &Service{engine: engine, fallback: fallback, logger: logger, async: true}
}

func (s *Service) engineReady() bool {
	return s.engine != nil && s.engine.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engineReady() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.logger.Warn().Err(err).Msg("search engine failed, falling back to postgres")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).Msg("postgres search failed")
		return Response{Results: []Result{}, Query: q.Text, Engine: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "postgres"}
}

// IndexDiscussion pushes one discussion to the engine without blocking the caller.
func (s *Service) IndexDiscussion(doc store.SearchDocument) {
	if !s.engineReady() {
		return
	}
	s.run(func() {
		if err := s.engine.IndexDiscussions([]DiscussionRecord{RecordFromDocument(doc)}); err != nil {
			s.logger.Warn().Err(err).Str("discussion_id", doc.ID).Msg("index discussion")
		}
	})
}

// DeleteDiscussion removes a discussion from the engine without blocking the caller.
func (s *Service) DeleteDiscussion(id string) {
	if !s.engineReady() {
		return
	}
	s.run(func() {
		if err := s.engine.DeleteDiscussion(id); err != nil {
			s.logger.Warn().Err(err).Str("discussion_id", id).Msg("delete discussion from index")
		}
	})
}

// Reindex rebuilds the engine index from the database and reports how many
// discussions were pushed.
func (s *Service) Reindex(ctx context.Context, source DocumentSource) (int, error) {
	if !s.engineReady() {
		return 0, errUnhealthy
	}
	docs, err := source.ListSearchDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("load search documents: %w", err)
	}
	records := make([]DiscussionRecord, len(docs))
	for i, doc := range docs {
		records[i] = RecordFromDocument(doc)
	}
	if err := s.engine.IndexDiscussions(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Service) run(fn func()) {
	if s.async {
		go fn()
		return
	}
	fn()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
