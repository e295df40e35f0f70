package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxTasks = "tasklane_tasks"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the task index.
// The caller should proceed without search if the initial connection fails;
// the background health loop will pick the instance up once it recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTasks,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxTasks, err)
	}

	index := m.client.Index(idxTasks)
	filterable := []interface{}{"orgId", "projectId", "statusId", "priority"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxTasks, err)
	}
	searchable := []string{"title", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxTasks, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the task index scoped to the query's organization.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	if q.OrgID == "" {
		return nil, 0, fmt.Errorf("search requires an organization")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	filters := []string{fmt.Sprintf("orgId = %q", q.OrgID)}
	if q.ProjectID != "" {
		filters = append(filters, fmt.Sprintf("projectId = %q", q.ProjectID))
	}
	if q.StatusID != "" {
		filters = append(filters, fmt.Sprintf("statusId = %q", q.StatusID))
	}

	resp, err := m.client.Index(idxTasks).Search(q.Text, &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		Filter:                filters,
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:        decodeString(hit, "id"),
		Title:     firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:   firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
		ProjectID: decodeString(hit, "projectId"),
		StatusID:  decodeString(hit, "statusId"),
		Priority:  decodeString(hit, "priority"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexTask adds or updates a task in the search index.
func (m *Meili) IndexTask(t TaskRecord) error {
	_, err := m.client.Index(idxTasks).AddDocuments([]TaskRecord{t}, nil)
	return err
}

// IndexTasks bulk-indexes tasks.
func (m *Meili) IndexTasks(tasks []TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTasks).AddDocuments(tasks, nil)
	return err
}

// DeleteTask removes a task from the search index.
func (m *Meili) DeleteTask(id string) error {
	_, err := m.client.Index(idxTasks).DeleteDocument(id, nil)
	return err
}

// DeleteTasks removes a batch of tasks from the search index.
func (m *Meili) DeleteTasks(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTasks).DeleteDocuments(ids, nil)
	return err
}
