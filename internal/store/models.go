package store

import "time"

type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type User struct {
	ID           string
	OrgID        string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Project struct {
	ID          string
	OrgID       string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskStatus is one Kanban column of a project. SortOrder places the column
// on the board; it is unrelated to task positions inside the column.
type TaskStatus struct {
	ID        string
	OrgID     string
	ProjectID string
	Name      string
	SortOrder int
	CreatedAt time.Time
}

type Category struct {
	ID    string
	OrgID string
	Name  string
}

// Task priorities, lowest to highest.
const (
	PriorityNone   = "none"
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var priorities = map[string]struct{}{
	PriorityNone:   {},
	PriorityLow:    {},
	PriorityMedium: {},
	PriorityHigh:   {},
	PriorityUrgent: {},
}

func ValidPriority(p string) bool {
	_, ok := priorities[p]
	return ok
}

// Task carries a dense, 1-based Position within (OrgID, ProjectID, StatusID).
// StartDate and DueDate hold ISO dates (YYYY-MM-DD) when set.
type Task struct {
	ID          string
	OrgID       string
	ProjectID   string
	StatusID    string
	Position    int
	Title       string
	Description string
	AssigneeID  *string
	CategoryID  *string
	Priority    string
	StartDate   *string
	DueDate     *string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FieldDiff is one field's before/after pair, with foreign keys already
// resolved to display values.
type FieldDiff struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ChangeSet maps field names to their diffs.
type ChangeSet map[string]FieldDiff

// ChangeRecord is one append-only history row. Exactly one is written per
// mutating operation that changed observable fields on a task; records are
// never updated or deleted.
type ChangeRecord struct {
	ID        int64
	TaskID    string
	OrgID     string
	ActorID   string
	Changes   ChangeSet
	CreatedAt time.Time
}
