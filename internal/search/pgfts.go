package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL query over notes and version comments using
// plainto_tsquery with ts_rank ordering and ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultNote {
		noteWhere := fmt.Sprintf("to_tsvector('english', n.title || ' ' || n.content) @@ %s", tsQuery)
		if q.FilterCollectionID != "" {
			noteWhere += fmt.Sprintf(" AND n.collection_id = $%d", argN)
			args = append(args, q.FilterCollectionID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, n.title,
				ts_headline('english', n.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				n.id AS note_id, n.collection_id, 0 AS version,
				ts_rank(to_tsvector('english', n.title || ' ' || n.content), %s) AS rank
			FROM notes n
			WHERE %s`, tsQuery, tsQuery, noteWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultVersion {
		verWhere := fmt.Sprintf("to_tsvector('english', v.comment) @@ %s", tsQuery)
		if q.FilterCollectionID != "" {
			verWhere += fmt.Sprintf(" AND n.collection_id = $%d", argN)
			args = append(args, q.FilterCollectionID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'version'::text AS type, v.id, v.title,
				ts_headline('english', v.comment, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				v.note_id, n.collection_id, v.version,
				ts_rank(to_tsvector('english', v.comment), %s) AS rank
			FROM note_versions v
			JOIN notes n ON n.id = v.note_id
			WHERE %s`, tsQuery, tsQuery, verWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, note_id, collection_id, version
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.NoteID, &r.CollectionID, &r.Version); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]NoteRecord, []VersionRecord, error) {
	noteRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, collection_id
		FROM notes
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load notes: %w", err)
	}
	defer noteRows.Close()

	notes := make([]NoteRecord, 0)
	for noteRows.Next() {
		var n NoteRecord
		if err := noteRows.Scan(&n.ID, &n.Title, &n.Content, &n.CollectionID); err != nil {
			return nil, nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := noteRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate notes: %w", err)
	}

	versionRows, err := p.db.QueryContext(ctx, `
		SELECT v.id, v.note_id, n.collection_id, v.version, v.title, v.comment, v.change_type
		FROM note_versions v
		JOIN notes n ON n.id = v.note_id
		WHERE v.comment <> ''
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load versions: %w", err)
	}
	defer versionRows.Close()

	versions := make([]VersionRecord, 0)
	for versionRows.Next() {
		var v VersionRecord
		if err := versionRows.Scan(&v.ID, &v.NoteID, &v.CollectionID, &v.Version, &v.Title, &v.Comment, &v.ChangeType); err != nil {
			return nil, nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := versionRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate versions: %w", err)
	}

	return notes, versions, nil
}
