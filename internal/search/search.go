// Package search provides full-text search over notes and version comments,
// backed by Meilisearch with a PostgreSQL fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultNote    ResultType = "note"
	ResultVersion ResultType = "version"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type         ResultType `json:"type"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Snippet      string     `json:"snippet"`
	NoteID       string     `json:"noteId"`
	CollectionID string     `json:"collectionId,omitempty"`
	Version      int        `json:"version,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text               string
	FilterType         ResultType // empty = all types
	FilterCollectionID string
	Limit              int
	Offset             int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// NoteRecord is the data indexed for a note's current state.
type NoteRecord struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	CollectionID string `json:"collectionId"`
}

// VersionRecord is the data indexed for a snapshot's annotation, so history
// can be searched by comment ("Restored from version 4", review notes).
type VersionRecord struct {
	ID           string `json:"id"`
	NoteID       string `json:"noteId"`
	CollectionID string `json:"collectionId"`
	Version      int    `json:"version"`
	Title        string `json:"title"`
	Comment      string `json:"comment"`
	ChangeType   string `json:"changeType"`
}
