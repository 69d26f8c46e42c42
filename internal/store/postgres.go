package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Postgres is the persistent store for users, collections, notes, version
// snapshots and retention policies.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Users

func (p *Postgres) CreateUser(ctx context.Context, u User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.DisplayName, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := p.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users WHERE email = $1
	`, strings.ToLower(email)).Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := p.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// Collections

func (p *Postgres) CreateCollection(ctx context.Context, c Collection) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO collections (id, name, slug, created_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.Name, c.Slug, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

func (p *Postgres) GetCollection(ctx context.Context, id string) (Collection, error) {
	var c Collection
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at FROM collections WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt)
	if err != nil {
		return Collection{}, err
	}
	return c, nil
}

func (p *Postgres) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, slug, created_at FROM collections ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Notes

const noteColumns = `id, collection_id, title, content, versioning_enabled,
	version, last_version_at, last_version_by, created_at, updated_at`

func scanNote(row *sql.Row) (Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.CollectionID, &n.Title, &n.Content, &n.VersioningEnabled,
		&n.Version, &n.LastVersionAt, &n.LastVersionBy, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return Note{}, err
	}
	return n, nil
}

func (p *Postgres) CreateNote(ctx context.Context, n Note) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notes (id, collection_id, title, content, versioning_enabled,
			version, last_version_at, last_version_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, n.ID, n.CollectionID, n.Title, n.Content, n.VersioningEnabled,
		n.Version, n.LastVersionAt, n.LastVersionBy, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (p *Postgres) GetNote(ctx context.Context, id string) (Note, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = $1`, id)
	return scanNote(row)
}

func (p *Postgres) ListNotesByCollection(ctx context.Context, collectionID string) ([]Note, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM notes WHERE collection_id = $1 ORDER BY updated_at DESC
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

// ListVersionedNotesByCollection returns the notes a collection-wide
// retention sweep has to visit.
func (p *Postgres) ListVersionedNotesByCollection(ctx context.Context, collectionID string) ([]Note, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE collection_id = $1 AND versioning_enabled ORDER BY id
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list versioned notes: %w", err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

func collectNotes(rows *sql.Rows) ([]Note, error) {
	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.CollectionID, &n.Title, &n.Content, &n.VersioningEnabled,
			&n.Version, &n.LastVersionAt, &n.LastVersionBy, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateNoteContent(ctx context.Context, id, title, content string, now time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE notes SET title = $2, content = $3, updated_at = $4 WHERE id = $1
	`, id, title, content, now)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *Postgres) SetNoteVersioning(ctx context.Context, id string, enabled bool, now time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE notes SET versioning_enabled = $2, updated_at = $3 WHERE id = $1
	`, id, enabled, now)
	if err != nil {
		return fmt.Errorf("update note versioning: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *Postgres) DeleteNote(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Versions

// InsertVersionAndAdvance writes the snapshot row and moves the note's
// version counter forward in one transaction. The UNIQUE (note_id, version)
// constraint rejects concurrent writers that read the same counter; callers
// re-read the note and retry on that conflict.
func (p *Postgres) InsertVersionAndAdvance(ctx context.Context, v NoteVersion) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin version tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO note_versions (id, note_id, version, title, content,
			author_id, comment, change_type, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, v.ID, v.NoteID, v.Version, v.Title, v.Content,
		v.AuthorID, v.Comment, v.ChangeType, v.ContentHash, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE notes
		SET version = $2, last_version_at = $3, last_version_by = $4, updated_at = $3
		WHERE id = $1
	`, v.NoteID, v.Version, v.CreatedAt, v.AuthorID)
	if err != nil {
		return fmt.Errorf("advance note version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit version tx: %w", err)
	}
	return nil
}

const versionColumns = `id, note_id, version, title, content, author_id,
	comment, change_type, content_hash, created_at`

func (p *Postgres) GetVersion(ctx context.Context, noteID string, version int) (NoteVersion, error) {
	var v NoteVersion
	err := p.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+` FROM note_versions WHERE note_id = $1 AND version = $2
	`, noteID, version).Scan(&v.ID, &v.NoteID, &v.Version, &v.Title, &v.Content,
		&v.AuthorID, &v.Comment, &v.ChangeType, &v.ContentHash, &v.CreatedAt)
	if err != nil {
		return NoteVersion{}, err
	}
	return v, nil
}

// ListVersions returns one page of a note's history, newest first, together
// with the total row count for the note.
func (p *Postgres) ListVersions(ctx context.Context, noteID string, limit, offset int) ([]NoteVersion, int, error) {
	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM note_versions WHERE note_id = $1
	`, noteID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count versions: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM note_versions
		WHERE note_id = $1 ORDER BY version DESC LIMIT $2 OFFSET $3
	`, noteID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions, err := collectVersions(rows)
	if err != nil {
		return nil, 0, err
	}
	return versions, total, nil
}

// ListAllVersions returns a note's full history newest first, for retention
// planning.
func (p *Postgres) ListAllVersions(ctx context.Context, noteID string) ([]NoteVersion, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM note_versions WHERE note_id = $1 ORDER BY version DESC
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list all versions: %w", err)
	}
	defer rows.Close()
	return collectVersions(rows)
}

func collectVersions(rows *sql.Rows) ([]NoteVersion, error) {
	var out []NoteVersion
	for rows.Next() {
		var v NoteVersion
		if err := rows.Scan(&v.ID, &v.NoteID, &v.Version, &v.Title, &v.Content,
			&v.AuthorID, &v.Comment, &v.ChangeType, &v.ContentHash, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteVersions removes snapshot rows in a single statement. Used by
// retention sweeps only.
func (p *Postgres) DeleteVersions(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, len(ids))
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	res, err := p.db.ExecContext(ctx,
		`DELETE FROM note_versions WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete versions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) VersionStats(ctx context.Context, noteID string) (VersionStats, error) {
	stats := VersionStats{NoteID: noteID, ByChangeType: map[string]int{}}

	err := p.db.QueryRowContext(ctx, `SELECT version FROM notes WHERE id = $1`, noteID).
		Scan(&stats.CurrentVersion)
	if err != nil {
		return VersionStats{}, err
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at), MAX(created_at)
		FROM note_versions WHERE note_id = $1
	`, noteID).Scan(&stats.TotalVersions, &stats.OldestAt, &stats.NewestAt)
	if err != nil {
		return VersionStats{}, fmt.Errorf("version stats: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT change_type, COUNT(*) FROM note_versions
		WHERE note_id = $1 GROUP BY change_type
	`, noteID)
	if err != nil {
		return VersionStats{}, fmt.Errorf("version stats by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var changeType string
		var count int
		if err := rows.Scan(&changeType, &count); err != nil {
			return VersionStats{}, fmt.Errorf("scan stats row: %w", err)
		}
		stats.ByChangeType[changeType] = count
	}
	return stats, rows.Err()
}

func (p *Postgres) EstimateStorage(ctx context.Context, noteID string) (StorageEstimate, error) {
	est := StorageEstimate{NoteID: noteID}
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(octet_length(title) + octet_length(content) + octet_length(comment)), 0)
		FROM note_versions WHERE note_id = $1
	`, noteID).Scan(&est.TotalVersions, &est.TotalBytes)
	if err != nil {
		return StorageEstimate{}, fmt.Errorf("estimate storage: %w", err)
	}
	if est.TotalVersions > 0 {
		est.AvgBytesPerRecord = est.TotalBytes / int64(est.TotalVersions)
	}
	return est, nil
}

// Retention policies

type RetentionPolicyRow struct {
	ScopeType        string
	ScopeID          string
	MaxVersions      int
	MaxAgeDays       int
	KeepMilestones   bool
	KeepFirstVersion bool
	UpdatedAt        time.Time
}

func (p *Postgres) UpsertRetentionPolicy(ctx context.Context, row RetentionPolicyRow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO retention_policies
			(scope_type, scope_id, max_versions, max_age_days, keep_milestones, keep_first_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (scope_type, scope_id) DO UPDATE SET
			max_versions = EXCLUDED.max_versions,
			max_age_days = EXCLUDED.max_age_days,
			keep_milestones = EXCLUDED.keep_milestones,
			keep_first_version = EXCLUDED.keep_first_version,
			updated_at = EXCLUDED.updated_at
	`, row.ScopeType, row.ScopeID, row.MaxVersions, row.MaxAgeDays,
		row.KeepMilestones, row.KeepFirstVersion, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert retention policy: %w", err)
	}
	return nil
}

func (p *Postgres) GetRetentionPolicy(ctx context.Context, scopeType, scopeID string) (RetentionPolicyRow, error) {
	var row RetentionPolicyRow
	err := p.db.QueryRowContext(ctx, `
		SELECT scope_type, scope_id, max_versions, max_age_days,
			keep_milestones, keep_first_version, updated_at
		FROM retention_policies WHERE scope_type = $1 AND scope_id = $2
	`, scopeType, scopeID).Scan(&row.ScopeType, &row.ScopeID, &row.MaxVersions,
		&row.MaxAgeDays, &row.KeepMilestones, &row.KeepFirstVersion, &row.UpdatedAt)
	if err != nil {
		return RetentionPolicyRow{}, err
	}
	return row, nil
}

// SearchNotes is the Postgres full-text fallback used when Meilisearch is
// not configured or unhealthy.
func (p *Postgres) SearchNotes(ctx context.Context, query string, limit int) ([]Note, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE to_tsvector('simple', title || ' ' || content) @@ plainto_tsquery('simple', $1)
		ORDER BY ts_rank(to_tsvector('simple', title || ' ' || content), plainto_tsquery('simple', $1)) DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	defer rows.Close()
	return collectNotes(rows)
}
