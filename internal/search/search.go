package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	ProjectID string `json:"projectId"`
	StatusID  string `json:"statusId"`
	Priority  string `json:"priority,omitempty"`
}

// Query describes a search request. OrgID is mandatory: results never
// cross organization boundaries.
type Query struct {
	Text      string
	OrgID     string
	ProjectID string // empty = all projects
	StatusID  string // empty = all statuses
	Limit     int
	Offset    int
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

// Indexer can push tasks into a search index.
type Indexer interface {
	IndexTask(t TaskRecord) error
	IndexTasks(tasks []TaskRecord) error
	DeleteTask(id string) error
	DeleteTasks(ids []string) error
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	OrgID       string `json:"orgId"`
	ProjectID   string `json:"projectId"`
	StatusID    string `json:"statusId"`
	Priority    string `json:"priority"`
}
