package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"noteledger/internal/auth"
	"noteledger/internal/export"
	"noteledger/internal/retention"
	"noteledger/internal/search"
	"noteledger/internal/session"
	"noteledger/internal/store"
	"noteledger/internal/version"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", s.withMiddleware(http.HandlerFunc(s.handle)))
	return mux
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		sess, err := s.service.SessionFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.UserID,
			"userName":      sess.UserName,
			"expiresAt":     sess.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(sess))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.URL.Path == "/api/collections" {
		switch r.Method {
		case http.MethodGet:
			collections, err := s.service.ListCollections(r.Context())
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			items := make([]map[string]any, 0, len(collections))
			for _, c := range collections {
				items = append(items, collectionPayload(c))
			}
			writeJSON(w, http.StatusOK, map[string]any{"collections": items})
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			collection, err := s.service.CreateCollection(r.Context(), body.Name)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, collectionPayload(collection))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/notes" {
		var body struct {
			CollectionID string `json:"collectionId"`
			Title        string `json:"title"`
			Content      string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.CollectionID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "collectionId is required", nil)
			return
		}
		note, err := s.service.CreateNote(r.Context(), body.CollectionID, body.Title, body.Content, sess)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"note": notePayload(note)})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "collections" {
		s.routeCollection(w, r, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "notes" {
		s.routeNote(w, r, sess, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// routeCollection handles /api/collections/{id}/...
func (s *HTTPServer) routeCollection(w http.ResponseWriter, r *http.Request, collectionID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		collection, err := s.service.GetCollection(r.Context(), collectionID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, collectionPayload(collection))
		return
	}

	if len(rest) == 1 && rest[0] == "notes" && r.Method == http.MethodGet {
		notes, err := s.service.ListNotes(r.Context(), collectionID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		items := make([]map[string]any, 0, len(notes))
		for _, n := range notes {
			items = append(items, notePayload(n))
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": items})
		return
	}

	if len(rest) == 1 && rest[0] == "retention" {
		s.handleRetentionScope(w, r, "collection", collectionID)
		return
	}

	if len(rest) == 2 && rest[0] == "retention" && rest[1] == "sweep" && r.Method == http.MethodPost {
		policy, err := decodePolicyBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SweepCollection(r.Context(), collectionID, policy)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"collectionId":    collectionID,
			"notesProcessed":  result.NotesProcessed,
			"versionsDeleted": result.VersionsDeleted,
		})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// routeNote handles /api/notes/{id}/...
func (s *HTTPServer) routeNote(w http.ResponseWriter, r *http.Request, sess Session, noteID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			note, err := s.service.GetNote(r.Context(), noteID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"note": notePayload(note)})
		case http.MethodPut:
			var body struct {
				Title   string `json:"title"`
				Content string `json:"content"`
				Comment string `json:"comment"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			note, result, err := s.service.SaveNote(r.Context(), noteID, body.Title, body.Content, body.Comment, sess)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"note":            notePayload(note),
				"versionRecorded": result.ID != "",
				"version":         result.Version,
			})
		case http.MethodDelete:
			if err := s.service.DeleteNote(r.Context(), noteID); err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if rest[0] == "versioning" && len(rest) == 1 && r.Method == http.MethodPost {
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := s.service.SetNoteVersioning(r.Context(), noteID, body.Enabled)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"note": notePayload(note)})
		return
	}

	if rest[0] == "restore" && len(rest) == 1 && r.Method == http.MethodPost {
		var body struct {
			Version int    `json:"version"`
			Comment string `json:"comment"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Version < 1 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be a positive integer", nil)
			return
		}
		note, result, err := s.service.RestoreVersion(r.Context(), noteID, body.Version, body.Comment, sess)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"note":    notePayload(note),
			"version": result.Version,
		})
		return
	}

	if rest[0] == "diff" && len(rest) == 1 && r.Method == http.MethodGet {
		s.handleDiff(w, r, noteID)
		return
	}

	if rest[0] == "history" && len(rest) == 1 && r.Method == http.MethodGet {
		commits, err := s.service.MirrorHistory(noteID, 50)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		items := make([]map[string]any, 0, len(commits))
		for _, c := range commits {
			items = append(items, map[string]any{
				"hash":      c.Hash,
				"message":   c.Message,
				"author":    c.Author,
				"createdAt": c.CreatedAt.Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"noteId": noteID, "commits": items})
		return
	}

	if rest[0] == "export" && len(rest) == 1 && r.Method == http.MethodGet {
		s.handleExport(w, r, noteID, 0)
		return
	}

	if rest[0] == "retention" {
		if len(rest) == 1 {
			s.handleRetentionScope(w, r, "note", noteID)
			return
		}
		if len(rest) == 2 && rest[1] == "sweep" && r.Method == http.MethodPost {
			policy, err := decodePolicyBody(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			result, err := s.service.SweepNote(r.Context(), noteID, policy)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"noteId": noteID, "deleted": result.Deleted})
			return
		}
	}

	if rest[0] == "versions" {
		s.routeVersions(w, r, sess, noteID, rest[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// routeVersions handles /api/notes/{id}/versions/...
func (s *HTTPServer) routeVersions(w http.ResponseWriter, r *http.Request, sess Session, noteID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		history, err := s.service.VersionHistory(r.Context(), noteID, limit, offset)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		items := make([]map[string]any, 0, len(history.Versions))
		for _, v := range history.Versions {
			items = append(items, versionPayload(v))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"noteId":   noteID,
			"versions": items,
			"total":    history.Total,
			"hasMore":  history.HasMore,
		})
		return
	}

	if rest[0] == "stats" && len(rest) == 1 && r.Method == http.MethodGet {
		stats, err := s.service.VersionStats(r.Context(), noteID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"noteId":         stats.NoteID,
			"currentVersion": stats.CurrentVersion,
			"totalVersions":  stats.TotalVersions,
			"oldestAt":       timeOrNil(stats.OldestAt),
			"newestAt":       timeOrNil(stats.NewestAt),
			"byChangeType":   stats.ByChangeType,
		})
		return
	}

	if rest[0] == "storage" && len(rest) == 1 && r.Method == http.MethodGet {
		est, err := s.service.EstimateStorage(r.Context(), noteID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"noteId":            est.NoteID,
			"totalVersions":     est.TotalVersions,
			"totalBytes":        est.TotalBytes,
			"avgBytesPerRecord": est.AvgBytesPerRecord,
		})
		return
	}

	number, err := strconv.Atoi(rest[0])
	if err != nil || number < 1 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be a positive integer", nil)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodGet {
		row, err := s.service.GetVersion(r.Context(), noteID, number)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": versionPayload(row)})
		return
	}

	if len(rest) == 2 && rest[1] == "restore" && r.Method == http.MethodPost {
		var body struct {
			Comment string `json:"comment"`
		}
		_ = decodeBody(r, &body)
		note, result, err := s.service.RestoreVersion(r.Context(), noteID, number, body.Comment, sess)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"note":    notePayload(note),
			"version": result.Version,
		})
		return
	}

	if len(rest) == 2 && rest[1] == "export" && r.Method == http.MethodGet {
		s.handleExport(w, r, noteID, number)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDiff(w http.ResponseWriter, r *http.Request, noteID string) {
	from, err := queryInt(r, "from", 0)
	if err != nil || from < 1 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "from must be a positive integer", nil)
		return
	}
	to, err := queryInt(r, "to", 0)
	if err != nil || to < 1 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "to must be a positive integer", nil)
		return
	}

	format := strings.TrimSpace(r.URL.Query().Get("format"))
	if format == "unified" {
		text, err := s.service.CompareVersionsUnified(r.Context(), noteID, from, to)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"noteId": noteID,
			"from":   from,
			"to":     to,
			"diff":   text,
		})
		return
	}

	diff, err := s.service.CompareVersions(r.Context(), noteID, from, to)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"noteId": noteID,
		"from":   from,
		"to":     to,
		"diff":   diff,
	})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, noteID string, number int) {
	format := export.Format(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = export.FormatHTML
	}
	if format != export.FormatPDF && format != export.FormatHTML {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'pdf' or 'html'", nil)
		return
	}

	result, err := s.service.Export(r.Context(), export.Request{
		NoteID:  noteID,
		Version: number,
		Format:  format,
	})
	if err != nil {
		s.writeMapped(w, err)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
		return
	}
	response := s.service.Search(search.Query{
		Text:               q,
		FilterType:         search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
		FilterCollectionID: strings.TrimSpace(r.URL.Query().Get("collectionId")),
		Limit:              limit,
		Offset:             offset,
	})
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleRetentionScope(w http.ResponseWriter, r *http.Request, scopeType, scopeID string) {
	switch r.Method {
	case http.MethodGet:
		policy, err := s.service.RetentionPolicy(r.Context(), scopeType, scopeID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scopeType": scopeType, "scopeId": scopeID, "policy": policy})
	case http.MethodPut:
		var policy retention.Policy
		if err := decodeBody(r, &policy); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetRetentionPolicy(r.Context(), scopeType, scopeID, policy); err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scopeType": scopeType, "scopeId": scopeID, "policy": policy})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "SIGNUP_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(sess))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		duration := time.Since(started)
		s.service.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", duration).
			Msg("http request")
		if s.service.metrics != nil {
			s.service.metrics.RecordHTTPRequest(r.Method, strconv.Itoa(writer.status), duration)
		}
	})
}

func (s *HTTPServer) writeMapped(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, version.ErrNoteNotFound):
		return http.StatusNotFound, "NOTE_NOT_FOUND", "Note not found", nil
	case errors.Is(err, version.ErrVersionNotFound):
		return http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil
	case errors.Is(err, version.ErrVersioningDisabled):
		return http.StatusConflict, "VERSIONING_DISABLED", "Versioning is disabled for this note", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "NOT_FOUND", "Export content unavailable", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// --- payloads ---

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"token":        sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"userName":     sess.UserName,
		"expiresAt":    sess.ExpiresAt.Unix(),
	}
}

func collectionPayload(c store.Collection) map[string]any {
	return map[string]any{
		"id":        c.ID,
		"name":      c.Name,
		"slug":      c.Slug,
		"createdAt": c.CreatedAt.Format(time.RFC3339),
	}
}

func notePayload(n store.Note) map[string]any {
	var lastVersionAt any
	if n.LastVersionAt != nil {
		lastVersionAt = n.LastVersionAt.Format(time.RFC3339)
	}
	return map[string]any{
		"id":                n.ID,
		"collectionId":      n.CollectionID,
		"title":             n.Title,
		"content":           n.Content,
		"versioningEnabled": n.VersioningEnabled,
		"version":           n.Version,
		"lastVersionAt":     lastVersionAt,
		"lastVersionBy":     nilIfEmpty(n.LastVersionBy),
		"createdAt":         n.CreatedAt.Format(time.RFC3339),
		"updatedAt":         n.UpdatedAt.Format(time.RFC3339),
	}
}

func versionPayload(v store.NoteVersion) map[string]any {
	return map[string]any{
		"id":          v.ID,
		"noteId":      v.NoteID,
		"version":     v.Version,
		"title":       v.Title,
		"content":     v.Content,
		"authorId":    v.AuthorID,
		"comment":     v.Comment,
		"changeType":  v.ChangeType,
		"contentHash": v.ContentHash,
		"createdAt":   v.CreatedAt.Format(time.RFC3339),
	}
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

// --- plumbing ---

func decodePolicyBody(r *http.Request) (*retention.Policy, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, nil
	}
	var policy retention.Policy
	if err := decodeBody(r, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
