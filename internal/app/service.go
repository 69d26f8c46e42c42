// Package app hosts the HTTP API and ties the engines together.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"noteledger/internal/auth"
	"noteledger/internal/authpw"
	"noteledger/internal/config"
	"noteledger/internal/export"
	"noteledger/internal/metrics"
	"noteledger/internal/mirror"
	"noteledger/internal/retention"
	"noteledger/internal/search"
	"noteledger/internal/session"
	"noteledger/internal/store"
	"noteledger/internal/util"
	"noteledger/internal/version"
)

// A concurrent writer can take a version number first; the save re-reads and
// tries again this many times before giving up.
const maxVersionRetries = 3

// Session is an authenticated caller.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// DataStore is the persistence surface the app layer drives directly. The
// version and retention engines carry their own narrower views of the same
// store.
type DataStore interface {
	Ping(ctx context.Context) error

	CreateCollection(ctx context.Context, c store.Collection) error
	GetCollection(ctx context.Context, id string) (store.Collection, error)
	ListCollections(ctx context.Context) ([]store.Collection, error)

	CreateNote(ctx context.Context, n store.Note) error
	GetNote(ctx context.Context, id string) (store.Note, error)
	ListNotesByCollection(ctx context.Context, collectionID string) ([]store.Note, error)
	UpdateNoteContent(ctx context.Context, id, title, content string, now time.Time) error
	SetNoteVersioning(ctx context.Context, id string, enabled bool, now time.Time) error
	DeleteNote(ctx context.Context, id string) error

	GetVersion(ctx context.Context, noteID string, version int) (store.NoteVersion, error)
	ListAllVersions(ctx context.Context, noteID string) ([]store.NoteVersion, error)

	UpsertRetentionPolicy(ctx context.Context, row store.RetentionPolicyRow) error
	GetRetentionPolicy(ctx context.Context, scopeType, scopeID string) (store.RetentionPolicyRow, error)
}

// Deps carries everything a Service needs. Sessions, Search, Mirror and
// Metrics may be nil; the matching features degrade rather than fail.
type Deps struct {
	Cfg       config.Config
	Store     DataStore
	Versioner *version.Versioner
	Sweeper   *retention.Engine
	Accounts  *authpw.Service
	Sessions  *session.RedisStore
	Search    *search.Service
	Mirror    *mirror.Service
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

type Service struct {
	cfg       config.Config
	store     DataStore
	versioner *version.Versioner
	sweeper   *retention.Engine
	accounts  *authpw.Service
	sessions  *session.RedisStore
	search    *search.Service
	mirror    *mirror.Service
	exporter  *export.Service
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func New(d Deps) *Service {
	return &Service{
		cfg:       d.Cfg,
		store:     d.Store,
		versioner: d.Versioner,
		sweeper:   d.Sweeper,
		accounts:  d.Accounts,
		sessions:  d.Sessions,
		search:    d.Search,
		mirror:    d.Mirror,
		exporter:  export.NewService(exportSource{store: d.Store}),
		metrics:   d.Metrics,
		log:       d.Log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- auth and sessions ---

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a fresh
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if s.sessions == nil || refreshToken == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := ""
	if s.sessions != nil {
		refresh = util.NewID("rft") + util.NewID("")
		refreshExpires := time.Now().Add(s.cfg.RefreshTTL)
		if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, user.DisplayName, refreshExpires); err != nil {
			return Session{}, err
		}
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken verifies an access token. Access tokens are short-lived
// and verified offline; only refresh tokens hit Redis.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if s.sessions == nil || refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// --- collections ---

func (s *Service) CreateCollection(ctx context.Context, name string) (store.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Collection{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	collection := store.Collection{
		ID:        util.NewID("col"),
		Name:      name,
		Slug:      slugify(name),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateCollection(ctx, collection); err != nil {
		return store.Collection{}, fmt.Errorf("create collection: %w", err)
	}
	return collection, nil
}

func (s *Service) ListCollections(ctx context.Context) ([]store.Collection, error) {
	return s.store.ListCollections(ctx)
}

func (s *Service) GetCollection(ctx context.Context, id string) (store.Collection, error) {
	return s.store.GetCollection(ctx, id)
}

func (s *Service) ListNotes(ctx context.Context, collectionID string) ([]store.Note, error) {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	return s.store.ListNotesByCollection(ctx, collectionID)
}

// --- notes ---

// CreateNote inserts the note and records its version 1 CREATED snapshot.
// Snapshot bookkeeping failures are logged, not surfaced; the note itself is
// already durable.
func (s *Service) CreateNote(ctx context.Context, collectionID, title, content string, actor Session) (store.Note, error) {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return store.Note{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}

	now := time.Now().UTC()
	note := store.Note{
		ID:                util.NewID("note"),
		CollectionID:      collectionID,
		Title:             title,
		Content:           content,
		VersioningEnabled: true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateNote(ctx, note); err != nil {
		return store.Note{}, fmt.Errorf("create note: %w", err)
	}

	if err := s.versioner.CreateInitialVersion(ctx, note.ID, title, content, actor.UserID); err != nil {
		s.log.Warn().Err(err).Str("note_id", note.ID).Msg("initial version not recorded")
	} else if s.metrics != nil {
		s.metrics.VersionsCreatedTotal.WithLabelValues(string(version.ChangeCreated)).Inc()
	}

	created, err := s.store.GetNote(ctx, note.ID)
	if err != nil {
		return store.Note{}, fmt.Errorf("reload note: %w", err)
	}

	if s.mirror != nil {
		go func(n store.Note) {
			if err := s.mirror.EnsureNoteRepo(n.ID, mirror.Snapshot{
				Title:      n.Title,
				Content:    n.Content,
				Version:    1,
				ChangeType: string(version.ChangeCreated),
				Author:     actor.UserName,
				Comment:    "Initial version",
			}); err != nil {
				s.log.Warn().Err(err).Str("note_id", n.ID).Msg("mirror init")
			}
		}(created)
	}
	s.indexNote(created)
	return created, nil
}

func (s *Service) GetNote(ctx context.Context, id string) (store.Note, error) {
	return s.store.GetNote(ctx, id)
}

// SaveNote records a version for the proposed state and then moves the note
// row to it. Insignificant saves leave both untouched. On a version number
// collision with a concurrent writer the save re-reads and retries.
func (s *Service) SaveNote(ctx context.Context, noteID, title, content, comment string, actor Session) (store.Note, version.CreateResult, error) {
	var result version.CreateResult
	var err error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		result, err = s.versioner.CreateVersion(ctx, noteID, title, content, actor.UserID, comment, version.ChangeEdit)
		if err == nil || !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return store.Note{}, version.CreateResult{}, err
	}

	if result.ID == "" {
		if s.metrics != nil {
			s.metrics.NoopSavesTotal.Inc()
		}
		note, err := s.store.GetNote(ctx, noteID)
		if err != nil {
			return store.Note{}, version.CreateResult{}, fmt.Errorf("reload note: %w", err)
		}
		return note, result, nil
	}

	if err := s.store.UpdateNoteContent(ctx, noteID, title, content, time.Now().UTC()); err != nil {
		return store.Note{}, version.CreateResult{}, fmt.Errorf("update note: %w", err)
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return store.Note{}, version.CreateResult{}, fmt.Errorf("reload note: %w", err)
	}

	s.afterVersionRecorded(ctx, note, result, actor)
	return note, result, nil
}

// RestoreVersion records the target's state as a new RESTORE snapshot and
// moves the note row to it.
func (s *Service) RestoreVersion(ctx context.Context, noteID string, target int, comment string, actor Session) (store.Note, version.CreateResult, error) {
	result, err := s.versioner.RestoreVersion(ctx, noteID, target, actor.UserID, comment)
	if err != nil {
		return store.Note{}, version.CreateResult{}, err
	}

	row, err := s.store.GetVersion(ctx, noteID, result.Version)
	if err != nil {
		return store.Note{}, version.CreateResult{}, fmt.Errorf("reload version: %w", err)
	}
	if err := s.store.UpdateNoteContent(ctx, noteID, row.Title, row.Content, time.Now().UTC()); err != nil {
		return store.Note{}, version.CreateResult{}, fmt.Errorf("update note: %w", err)
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return store.Note{}, version.CreateResult{}, fmt.Errorf("reload note: %w", err)
	}

	s.afterVersionRecorded(ctx, note, result, actor)
	return note, result, nil
}

// afterVersionRecorded fans a freshly recorded snapshot out to the mirror and
// the search index. Both are best effort.
func (s *Service) afterVersionRecorded(ctx context.Context, note store.Note, result version.CreateResult, actor Session) {
	row, err := s.store.GetVersion(ctx, note.ID, result.Version)
	if err != nil {
		s.log.Warn().Err(err).Str("note_id", note.ID).Int("version", result.Version).Msg("reload snapshot for fanout")
		return
	}
	if s.metrics != nil {
		s.metrics.VersionsCreatedTotal.WithLabelValues(row.ChangeType).Inc()
	}
	if s.mirror != nil {
		go func() {
			if _, err := s.mirror.CommitVersion(note.ID, mirror.Snapshot{
				Title:      row.Title,
				Content:    row.Content,
				Version:    row.Version,
				ChangeType: row.ChangeType,
				Author:     actor.UserName,
				Comment:    row.Comment,
			}); err != nil {
				s.log.Warn().Err(err).Str("note_id", note.ID).Msg("mirror commit")
			}
		}()
	}
	s.indexNote(note)
	if s.search != nil {
		s.search.IndexVersion(search.VersionRecord{
			ID:           row.ID,
			NoteID:       note.ID,
			CollectionID: note.CollectionID,
			Version:      row.Version,
			Title:        row.Title,
			Comment:      row.Comment,
			ChangeType:   row.ChangeType,
		})
	}
}

func (s *Service) indexNote(note store.Note) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:           note.ID,
		Title:        note.Title,
		Content:      note.Content,
		CollectionID: note.CollectionID,
	})
}

func (s *Service) SetNoteVersioning(ctx context.Context, noteID string, enabled bool) (store.Note, error) {
	if err := s.store.SetNoteVersioning(ctx, noteID, enabled, time.Now().UTC()); err != nil {
		return store.Note{}, err
	}
	return s.store.GetNote(ctx, noteID)
}

// DeleteNote drops the note and its history, then clears the mirror and the
// search index.
func (s *Service) DeleteNote(ctx context.Context, noteID string) error {
	versions, err := s.store.ListAllVersions(ctx, noteID)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}

	if s.search != nil {
		s.search.DeleteNote(noteID)
		ids := make([]string, 0, len(versions))
		for _, v := range versions {
			ids = append(ids, v.ID)
		}
		s.search.DeleteVersions(ids)
	}
	if s.mirror != nil {
		go func() {
			if err := s.mirror.Remove(noteID); err != nil {
				s.log.Warn().Err(err).Str("note_id", noteID).Msg("mirror remove")
			}
		}()
	}
	return nil
}

// --- version history ---

func (s *Service) VersionHistory(ctx context.Context, noteID string, limit, offset int) (version.History, error) {
	return s.versioner.GetVersionHistory(ctx, noteID, limit, offset)
}

func (s *Service) GetVersion(ctx context.Context, noteID string, number int) (store.NoteVersion, error) {
	return s.versioner.GetVersion(ctx, noteID, number)
}

func (s *Service) CompareVersions(ctx context.Context, noteID string, from, to int) (version.Diff, error) {
	started := time.Now()
	diff, err := s.versioner.CompareVersions(ctx, noteID, from, to)
	if err != nil {
		return version.Diff{}, err
	}
	if s.metrics != nil {
		s.metrics.DiffRequestsTotal.Inc()
		s.metrics.DiffDuration.Observe(time.Since(started).Seconds())
		if diff.Coarse {
			s.metrics.DiffFallbacksTotal.Inc()
		}
	}
	return diff, nil
}

func (s *Service) CompareVersionsUnified(ctx context.Context, noteID string, from, to int) (string, error) {
	if s.metrics != nil {
		s.metrics.DiffRequestsTotal.Inc()
	}
	return s.versioner.CompareVersionsUnified(ctx, noteID, from, to)
}

func (s *Service) VersionStats(ctx context.Context, noteID string) (store.VersionStats, error) {
	return s.sweeper.Stats(ctx, noteID)
}

func (s *Service) EstimateStorage(ctx context.Context, noteID string) (store.StorageEstimate, error) {
	return s.sweeper.EstimateStorage(ctx, noteID)
}

func (s *Service) MirrorHistory(noteID string, limit int) ([]mirror.CommitInfo, error) {
	if s.mirror == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_DISABLED", "Git mirroring is not configured", nil)
	}
	return s.mirror.History(noteID, limit)
}

// --- retention ---

func (s *Service) defaultPolicy() retention.Policy {
	return retention.Policy{
		MaxVersions:      s.cfg.RetentionMaxVersions,
		MaxAgeDays:       s.cfg.RetentionMaxAgeDays,
		KeepMilestones:   true,
		KeepFirstVersion: true,
	}
}

func (s *Service) SetRetentionPolicy(ctx context.Context, scopeType, scopeID string, p retention.Policy) error {
	if err := p.Validate(); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid retention policy", err.Error())
	}
	switch scopeType {
	case "note":
		if _, err := s.store.GetNote(ctx, scopeID); err != nil {
			return err
		}
	case "collection":
		if _, err := s.store.GetCollection(ctx, scopeID); err != nil {
			return err
		}
	default:
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scope must be 'note' or 'collection'", nil)
	}
	return s.store.UpsertRetentionPolicy(ctx, store.RetentionPolicyRow{
		ScopeType:        scopeType,
		ScopeID:          scopeID,
		MaxVersions:      p.MaxVersions,
		MaxAgeDays:       p.MaxAgeDays,
		KeepMilestones:   p.KeepMilestones,
		KeepFirstVersion: p.KeepFirstVersion,
		UpdatedAt:        time.Now().UTC(),
	})
}

// RetentionPolicy returns the stored policy for a scope, falling back to the
// configured defaults.
func (s *Service) RetentionPolicy(ctx context.Context, scopeType, scopeID string) (retention.Policy, error) {
	row, err := s.store.GetRetentionPolicy(ctx, scopeType, scopeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.defaultPolicy(), nil
		}
		return retention.Policy{}, err
	}
	return retention.Policy{
		MaxVersions:      row.MaxVersions,
		MaxAgeDays:       row.MaxAgeDays,
		KeepMilestones:   row.KeepMilestones,
		KeepFirstVersion: row.KeepFirstVersion,
	}, nil
}

// SweepNote prunes one note's history. A nil policy uses the note's stored
// policy, falling back to the configured defaults.
func (s *Service) SweepNote(ctx context.Context, noteID string, p *retention.Policy) (retention.SweepResult, error) {
	policy, err := s.resolvePolicy(ctx, "note", noteID, p)
	if err != nil {
		return retention.SweepResult{}, err
	}
	result, err := s.sweeper.ApplyPolicy(ctx, noteID, policy)
	if err != nil {
		return retention.SweepResult{}, err
	}
	s.afterSweep(result.Deleted, result.DeletedIDs)
	return result, nil
}

func (s *Service) SweepCollection(ctx context.Context, collectionID string, p *retention.Policy) (retention.CollectionSweepResult, error) {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return retention.CollectionSweepResult{}, err
	}
	policy, err := s.resolvePolicy(ctx, "collection", collectionID, p)
	if err != nil {
		return retention.CollectionSweepResult{}, err
	}
	result, err := s.sweeper.ApplyCollectionPolicy(ctx, collectionID, policy)
	if err != nil {
		return retention.CollectionSweepResult{}, err
	}
	s.afterSweep(result.VersionsDeleted, result.DeletedIDs)
	return result, nil
}

func (s *Service) resolvePolicy(ctx context.Context, scopeType, scopeID string, p *retention.Policy) (retention.Policy, error) {
	if p != nil {
		if err := p.Validate(); err != nil {
			return retention.Policy{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid retention policy", err.Error())
		}
		return *p, nil
	}
	return s.RetentionPolicy(ctx, scopeType, scopeID)
}

func (s *Service) afterSweep(deleted int, deletedIDs []string) {
	if s.metrics != nil {
		s.metrics.RetentionSweepsTotal.Inc()
		s.metrics.VersionsPrunedTotal.Add(float64(deleted))
	}
	if s.search != nil {
		s.search.DeleteVersions(deletedIDs)
	}
}

// --- search and export ---

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

// exportSource adapts the store to the exporter's view.
type exportSource struct {
	store DataStore
}

func (e exportSource) GetNoteInfo(ctx context.Context, id string) (export.NoteInfo, error) {
	note, err := e.store.GetNote(ctx, id)
	if err != nil {
		return export.NoteInfo{}, err
	}
	return export.NoteInfo{
		ID:        note.ID,
		Title:     note.Title,
		Content:   note.Content,
		Version:   note.Version,
		UpdatedBy: note.LastVersionBy,
		UpdatedAt: note.UpdatedAt,
	}, nil
}

func (e exportSource) GetSnapshot(ctx context.Context, noteID string, versionNum int) (export.SnapshotInfo, error) {
	row, err := e.store.GetVersion(ctx, noteID, versionNum)
	if err != nil {
		return export.SnapshotInfo{}, err
	}
	return export.SnapshotInfo{
		Title:      row.Title,
		Content:    row.Content,
		Version:    row.Version,
		Author:     row.AuthorID,
		Comment:    row.Comment,
		ChangeType: row.ChangeType,
		CreatedAt:  row.CreatedAt,
	}, nil
}

// --- helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func slugify(name string) string {
	slug := make([]rune, 0, len(name))
	lastDash := false
	for _, ch := range strings.ToLower(strings.TrimSpace(name)) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			slug = append(slug, ch)
			lastDash = false
			continue
		}
		if !lastDash {
			slug = append(slug, '-')
			lastDash = true
		}
	}
	trimmed := strings.Trim(string(slug), "-")
	if trimmed == "" {
		return "collection"
	}
	return trimmed
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
