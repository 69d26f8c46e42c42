package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, st *fakeStore) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewHTTPServer(newTestService(st), "*").Handler())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func signUpToken(t *testing.T, baseURL string) string {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, baseURL+"/api/auth/signup", "", map[string]any{
		"email":       "avery@example.com",
		"password":    "hunter2hunter2",
		"displayName": "Avery",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("signup returned no token")
	}
	return token
}

func TestHealthAndReady(t *testing.T) {
	server := newTestServer(t, newFakeStore())

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Errorf("health = %d %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/ready", "", nil)
	if resp.StatusCode != http.StatusOK || payload["status"] != "ready" {
		t.Errorf("ready = %d %v", resp.StatusCode, payload)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	server := newTestServer(t, newFakeStore())

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/collections", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %v", payload["code"])
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/collections", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", resp.StatusCode)
	}
}

func TestNoteLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t, newFakeStore())
	token := signUpToken(t, server.URL)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/collections", token, map[string]any{"name": "Design Docs"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create collection status = %d %v", resp.StatusCode, payload)
	}
	collectionID, _ := payload["id"].(string)
	if payload["slug"] != "design-docs" {
		t.Errorf("slug = %v", payload["slug"])
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/notes", token, map[string]any{
		"collectionId": collectionID,
		"title":        "Spec",
		"content":      "line1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create note status = %d %v", resp.StatusCode, payload)
	}
	note, _ := payload["note"].(map[string]any)
	noteID, _ := note["id"].(string)
	if note["version"] != float64(1) {
		t.Errorf("version after create = %v, want 1", note["version"])
	}

	resp, payload = doJSON(t, http.MethodPut, server.URL+"/api/notes/"+noteID, token, map[string]any{
		"title":   "Spec",
		"content": "line1\nline2",
		"comment": "Add detail",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d %v", resp.StatusCode, payload)
	}
	if payload["versionRecorded"] != true || payload["version"] != float64(2) {
		t.Errorf("save payload = %v", payload)
	}

	resp, payload = doJSON(t, http.MethodPut, server.URL+"/api/notes/"+noteID, token, map[string]any{
		"title":   "Spec",
		"content": "line1\nline2",
	})
	if resp.StatusCode != http.StatusOK || payload["versionRecorded"] != false {
		t.Errorf("noop save = %d %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/notes/"+noteID+"/versions", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	if payload["total"] != float64(2) {
		t.Errorf("total = %v, want 2", payload["total"])
	}
	versions, _ := payload["versions"].([]any)
	if len(versions) != 2 {
		t.Fatalf("len(versions) = %d", len(versions))
	}
	newest, _ := versions[0].(map[string]any)
	if newest["version"] != float64(2) || newest["comment"] != "Add detail" {
		t.Errorf("newest = %v", newest)
	}

	resp, payload = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/notes/%s/diff?from=1&to=2", server.URL, noteID), token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("diff status = %d %v", resp.StatusCode, payload)
	}
	diff, _ := payload["diff"].(map[string]any)
	if diff["additions"] != float64(1) || diff["deletions"] != float64(0) {
		t.Errorf("diff = %v", diff)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/notes/"+noteID+"/versions/1/restore", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restore status = %d %v", resp.StatusCode, payload)
	}
	if payload["version"] != float64(3) {
		t.Errorf("restore version = %v, want 3", payload["version"])
	}
	restored, _ := payload["note"].(map[string]any)
	if restored["content"] != "line1" {
		t.Errorf("restored content = %v", restored["content"])
	}

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/notes/"+noteID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/notes/"+noteID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestDiffValidation(t *testing.T) {
	server := newTestServer(t, newFakeStore())
	token := signUpToken(t, server.URL)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/notes/note-x/diff?to=2", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("missing from: status = %d", resp.StatusCode)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", payload["code"])
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/notes/note-x/diff?from=abc&to=2", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("non-numeric from: status = %d", resp.StatusCode)
	}
}

func TestVersionNotFound(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(t, st)
	token := signUpToken(t, server.URL)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/notes/missing/versions", token, nil)
	if resp.StatusCode != http.StatusNotFound || payload["code"] != "NOTE_NOT_FOUND" {
		t.Errorf("missing note history = %d %v", resp.StatusCode, payload)
	}

	seedCollection(st, "col_1")
	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/notes", token, map[string]any{
		"collectionId": "col_1",
		"title":        "Spec",
		"content":      "line1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create note status = %d", resp.StatusCode)
	}
	note, _ := payload["note"].(map[string]any)
	noteID, _ := note["id"].(string)

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/notes/"+noteID+"/versions/9", token, nil)
	if resp.StatusCode != http.StatusNotFound || payload["code"] != "VERSION_NOT_FOUND" {
		t.Errorf("missing version = %d %v", resp.StatusCode, payload)
	}
}

func TestRetentionEndpoints(t *testing.T) {
	st := newFakeStore()
	seedCollection(st, "col_1")
	server := newTestServer(t, st)
	token := signUpToken(t, server.URL)

	resp, payload := doJSON(t, http.MethodPut, server.URL+"/api/collections/col_1/retention", token, map[string]any{
		"maxVersions":      10,
		"keepMilestones":   true,
		"keepFirstVersion": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put retention = %d %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/collections/col_1/retention", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get retention = %d", resp.StatusCode)
	}
	policy, _ := payload["policy"].(map[string]any)
	if policy["maxVersions"] != float64(10) {
		t.Errorf("policy = %v", policy)
	}

	resp, payload = doJSON(t, http.MethodPut, server.URL+"/api/collections/col_1/retention", token, map[string]any{
		"maxVersions": -1,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid policy = %d %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/collections/col_1/retention/sweep", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sweep = %d %v", resp.StatusCode, payload)
	}
	if payload["notesProcessed"] != float64(0) {
		t.Errorf("notesProcessed = %v", payload["notesProcessed"])
	}
}

func TestExportHTMLOverHTTP(t *testing.T) {
	st := newFakeStore()
	seedCollection(st, "col_1")
	server := newTestServer(t, st)
	token := signUpToken(t, server.URL)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/notes", token, map[string]any{
		"collectionId": "col_1",
		"title":        "Spec",
		"content":      "line1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create note status = %d", resp.StatusCode)
	}
	note, _ := payload["note"].(map[string]any)
	noteID, _ := note["id"].(string)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/notes/"+noteID+"/versions/1/export?format=html", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rawResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export request: %v", err)
	}
	defer rawResp.Body.Close()
	if rawResp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", rawResp.StatusCode)
	}
	if ct := rawResp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	var body bytes.Buffer
	if _, err := body.ReadFrom(rawResp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(body.String(), "Spec") {
		t.Error("export body missing note title")
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/notes/"+noteID+"/versions/1/export?format=docx", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("bad format status = %d", resp.StatusCode)
	}
}
