package position

import "fmt"

// Named contexts for the standalone ordering table. These orderings are
// tracked independently of the board ordering, so the same task can hold a
// board slot and, say, a per-project slot at the same time.
const (
	ContextProject = "project"
	ContextGlobal  = "global"
)

var knownContexts = map[string]struct{}{
	ContextProject: {},
	ContextGlobal:  {},
}

// Partition identifies one exclusive ordering scope within an organization.
// A board partition is keyed by project+status; a context partition by a
// named context and its context id. Exactly one of the two shapes is set.
type Partition struct {
	OrgID     string
	ProjectID string
	StatusID  string
	Context   string
	ContextID string
}

// BoardPartition resolves the Kanban column scope for a task.
func BoardPartition(orgID, projectID, statusID string) (Partition, error) {
	if orgID == "" || projectID == "" || statusID == "" {
		return Partition{}, fmt.Errorf("%w: board partition requires org, project and status", ErrInvalidPartition)
	}
	return Partition{OrgID: orgID, ProjectID: projectID, StatusID: statusID}, nil
}

// ContextPartition resolves a named-context ordering scope. The global
// context has no context id; every other context requires one.
func ContextPartition(orgID, context, contextID string) (Partition, error) {
	if orgID == "" {
		return Partition{}, fmt.Errorf("%w: context partition requires org", ErrInvalidPartition)
	}
	if _, ok := knownContexts[context]; !ok {
		return Partition{}, fmt.Errorf("%w: unknown context %q", ErrInvalidPartition, context)
	}
	if context == ContextGlobal {
		contextID = ""
	} else if contextID == "" {
		return Partition{}, fmt.Errorf("%w: context %q requires a context id", ErrInvalidPartition, context)
	}
	return Partition{OrgID: orgID, Context: context, ContextID: contextID}, nil
}

// IsBoard reports whether p addresses the board ordering rather than a
// named-context ordering.
func (p Partition) IsBoard() bool {
	return p.StatusID != ""
}

func (p Partition) String() string {
	if p.IsBoard() {
		return fmt.Sprintf("board(%s/%s)", p.ProjectID, p.StatusID)
	}
	return fmt.Sprintf("context(%s/%s)", p.Context, p.ContextID)
}
