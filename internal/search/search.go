// Package search provides full-text search over spaces and messages, backed
// by Meilisearch with a PostgreSQL FTS fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSpace   ResultType = "space"
	ResultMessage ResultType = "message"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	SpaceID  string     `json:"spaceId"`
	FolderID string     `json:"folderId"`
}

// Query describes a search request. OwnerID is mandatory; every hit is
// scoped to folders the owner holds.
type Query struct {
	Text           string
	OwnerID        string
	FilterType     ResultType // empty = all types
	FilterFolderID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

const defaultPageSize = 20

// pageSize clamps a caller-supplied limit to the default when it is missing
// or negative. Both engines use it so paging behaves the same either way.
func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return limit
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexSpace(sp SpaceRecord) error
	IndexMessage(m MessageRecord) error
	DeleteSpace(id string) error
}

// SpaceRecord is the data we index for a space.
type SpaceRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	FolderID string `json:"folderId"`
	OwnerID  string `json:"ownerId"`
}

// MessageRecord is the data we index for a message.
type MessageRecord struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Role     string `json:"role"`
	SpaceID  string `json:"spaceId"`
	FolderID string `json:"folderId"`
	OwnerID  string `json:"ownerId"`
}
