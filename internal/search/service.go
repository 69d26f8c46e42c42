package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexNote indexes a note's current state (fire-and-forget).
func (s *Service) IndexNote(rec NoteRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexNote(rec); err != nil {
			s.log.Warn().Err(err).Str("note_id", rec.ID).Msg("index note")
		}
	}()
}

// IndexVersion indexes a snapshot annotation (fire-and-forget).
func (s *Service) IndexVersion(rec VersionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexVersion(rec); err != nil {
			s.log.Warn().Err(err).Str("version_id", rec.ID).Msg("index version")
		}
	}()
}

// DeleteNote removes a note from the search index (fire-and-forget).
func (s *Service) DeleteNote(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteNote(id); err != nil {
			s.log.Warn().Err(err).Str("note_id", id).Msg("delete note from index")
		}
	}()
}

// DeleteVersions removes pruned snapshot annotations (fire-and-forget).
func (s *Service) DeleteVersions(ids []string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteVersions(ids); err != nil {
			s.log.Warn().Err(err).Int("count", len(ids)).Msg("delete versions from index")
		}
	}()
}

// ReindexAllFromPG pushes every searchable row from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	notes, versions, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexNotes(notes); err != nil {
		s.log.Warn().Err(err).Msg("reindex notes")
	}
	if err := s.meili.IndexVersions(versions); err != nil {
		s.log.Warn().Err(err).Msg("reindex versions")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
