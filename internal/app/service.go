package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasklane/api/internal/auth"
	"tasklane/api/internal/authpw"
	"tasklane/api/internal/bulk"
	"tasklane/api/internal/config"
	"tasklane/api/internal/position"
	"tasklane/api/internal/search"
	"tasklane/api/internal/session"
	"tasklane/api/internal/store"
	"tasklane/api/internal/util"
)

// Session is an authenticated caller. Every operation below runs inside the
// session's organization; ids from other organizations resolve as not found.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	OrgID        string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateProjectInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Statuses    []string `json:"statuses"`
}

type CreateTaskInput struct {
	ProjectID   string  `json:"projectId"`
	StatusID    string  `json:"statusId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	AssigneeID  *string `json:"assigneeId"`
	CategoryID  *string `json:"categoryId"`
	Priority    string  `json:"priority"`
	StartDate   *string `json:"startDate"`
	DueDate     *string `json:"dueDate"`
}

// UpdateTaskInput is a partial edit: nil fields are untouched, non-nil
// fields are set. Empty strings clear nullable fields.
type UpdateTaskInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	AssigneeID  *string `json:"assigneeId"`
	CategoryID  *string `json:"categoryId"`
	Priority    *string `json:"priority"`
	StartDate   *string `json:"startDate"`
	DueDate     *string `json:"dueDate"`
}

type MoveTaskInput struct {
	StatusID string `json:"statusId"`
	Position int    `json:"position"`
}

type ContextPositionInput struct {
	Context   string `json:"context"`
	ContextID string `json:"contextId"`
	Position  int    `json:"position"`
}

type BulkUpdateInput struct {
	TaskIDs []string `json:"taskIds"`
	Field   string   `json:"field"`
	Value   string   `json:"value"`
}

// defaultStatuses seeds a new project's board when the caller names none.
var defaultStatuses = []string{"To Do", "In Progress", "Done"}

type dataStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateProject(ctx context.Context, p store.Project) error
	ListProjects(ctx context.Context, orgID string) ([]store.Project, error)
	GetProject(ctx context.Context, id, orgID string) (store.Project, error)
	CreateStatus(ctx context.Context, st store.TaskStatus) error
	ListStatuses(ctx context.Context, projectID, orgID string) ([]store.TaskStatus, error)
	GetStatus(ctx context.Context, id, orgID string) (store.TaskStatus, error)
	CreateCategory(ctx context.Context, c store.Category) error
	GetTask(ctx context.Context, id, orgID string) (store.Task, error)
	ListTasksByStatus(ctx context.Context, projectID, statusID, orgID string) ([]store.Task, error)
	ListTasksByIDs(ctx context.Context, ids []string, orgID string) ([]store.Task, error)
	ListChangeRecords(ctx context.Context, taskID, orgID string) ([]store.ChangeRecord, error)
	InTaskTx(ctx context.Context, fn func(tx store.TaskTx) error) error
	Ping(ctx context.Context) error
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.TokenData, error)
	Revoke(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	accounts *authpw.Service
	sessions sessionStore
	board    *position.Engine
	contexts *position.Engine
	bulk     *bulk.Coordinator
	search   *search.Service
}

// New wires the service over one relational store. sessions may be nil,
// which disables refresh tokens; searchSvc may be nil, which disables the
// search endpoint.
func New(cfg config.Config, st *store.Store, sessions *session.RedisStore, searchSvc *search.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    st,
		accounts: authpw.NewService(st),
		board:    position.NewEngine(st.BoardPositions()),
		contexts: position.NewEngine(st.ContextPositions()),
		bulk:     bulk.New(st),
		search:   searchSvc,
	}
	if sessions != nil {
		svc.sessions = sessions
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---------------------------------------------------------------------------
// Sessions

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if s.sessions == nil {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.Lookup(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.Revoke(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil || user.OrgID != data.OrgID {
		return Session{}, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Org:  user.OrgID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := ""
	if s.sessions != nil {
		refresh = util.NewID("rft") + util.NewID("")
		data := session.TokenData{
			UserID:      user.ID,
			OrgID:       user.OrgID,
			DisplayName: user.DisplayName,
			Role:        user.Role,
		}
		if err := s.sessions.Save(ctx, auth.HashToken(refresh), data, now.Add(s.cfg.RefreshTTL)); err != nil {
			return Session{}, err
		}
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		OrgID:        user.OrgID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken rebuilds a session from a bearer token. Claims are
// self-contained; the short access TTL bounds staleness.
func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		OrgID:     claims.Org,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if s.sessions == nil || refreshToken == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
}

// ---------------------------------------------------------------------------
// Projects and board

func (s *Service) CreateProject(ctx context.Context, sess Session, input CreateProjectInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "project name is required", nil)
	}
	statusNames := input.Statuses
	if len(statusNames) == 0 {
		statusNames = defaultStatuses
	}

	now := time.Now().UTC()
	project := store.Project{
		ID:          util.NewID("prj"),
		OrgID:       sess.OrgID,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}

	statuses := make([]store.TaskStatus, 0, len(statusNames))
	for i, statusName := range statusNames {
		statusName = strings.TrimSpace(statusName)
		if statusName == "" {
			return nil, domainError(422, "VALIDATION_ERROR", "status names must not be blank", nil)
		}
		st := store.TaskStatus{
			ID:        util.NewID("sts"),
			OrgID:     sess.OrgID,
			ProjectID: project.ID,
			Name:      statusName,
			SortOrder: i,
			CreatedAt: now,
		}
		if err := s.store.CreateStatus(ctx, st); err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}

	return map[string]any{
		"project":  projectPayload(project),
		"statuses": statusesPayload(statuses),
	}, nil
}

func (s *Service) ListProjects(ctx context.Context, sess Session) ([]map[string]any, error) {
	projects, err := s.store.ListProjects(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		items = append(items, projectPayload(p))
	}
	return items, nil
}

// GetBoard returns a project's columns with their tasks in board order.
func (s *Service) GetBoard(ctx context.Context, sess Session, projectID string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	statuses, err := s.store.ListStatuses(ctx, project.ID, sess.OrgID)
	if err != nil {
		return nil, err
	}

	columns := make([]map[string]any, 0, len(statuses))
	for _, st := range statuses {
		tasks, err := s.store.ListTasksByStatus(ctx, project.ID, st.ID, sess.OrgID)
		if err != nil {
			return nil, err
		}
		columns = append(columns, map[string]any{
			"status": statusPayload(st),
			"tasks":  tasksPayload(tasks),
		})
	}
	return map[string]any{
		"project": projectPayload(project),
		"columns": columns,
	}, nil
}

// ListColumn returns one column of the board.
func (s *Service) ListColumn(ctx context.Context, sess Session, projectID, statusID string) ([]map[string]any, error) {
	st, err := s.store.GetStatus(ctx, statusID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	if st.ProjectID != projectID {
		return nil, domainError(404, "NOT_FOUND", "Not found", nil)
	}
	tasks, err := s.store.ListTasksByStatus(ctx, projectID, statusID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	return tasksPayload(tasks), nil
}

// ListStatuses returns a project's columns in board order.
func (s *Service) ListStatuses(ctx context.Context, sess Session, projectID string) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID, sess.OrgID); err != nil {
		return nil, err
	}
	statuses, err := s.store.ListStatuses(ctx, projectID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	return statusesPayload(statuses), nil
}

// CreateStatus appends a new column to the end of a project's board.
func (s *Service) CreateStatus(ctx context.Context, sess Session, projectID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "status name is required", nil)
	}
	if _, err := s.store.GetProject(ctx, projectID, sess.OrgID); err != nil {
		return nil, err
	}
	existing, err := s.store.ListStatuses(ctx, projectID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	st := store.TaskStatus{
		ID:        util.NewID("sts"),
		OrgID:     sess.OrgID,
		ProjectID: projectID,
		Name:      name,
		SortOrder: len(existing),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateStatus(ctx, st); err != nil {
		return nil, err
	}
	return statusPayload(st), nil
}

func (s *Service) CreateCategory(ctx context.Context, sess Session, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "category name is required", nil)
	}
	c := store.Category{ID: util.NewID("cat"), OrgID: sess.OrgID, Name: name}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	return map[string]any{"id": c.ID, "name": c.Name}, nil
}

// ---------------------------------------------------------------------------
// Tasks

// CreateTask inserts a task at the back of its column. The append slot and
// the row insert share one transaction, so two concurrent creates cannot
// claim the same position.
func (s *Service) CreateTask(ctx context.Context, sess Session, input CreateTaskInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "task title is required", nil)
	}
	if input.ProjectID == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "projectId is required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = store.PriorityNone
	}
	if !store.ValidPriority(priority) {
		return nil, domainError(422, "VALIDATION_ERROR", fmt.Sprintf("unknown priority %q", priority), nil)
	}
	for _, d := range []*string{input.StartDate, input.DueDate} {
		if d != nil {
			if _, err := time.Parse("2006-01-02", *d); err != nil {
				return nil, domainError(422, "VALIDATION_ERROR", fmt.Sprintf("date %q is not YYYY-MM-DD", *d), nil)
			}
		}
	}

	now := time.Now().UTC()
	task := store.Task{
		ID:          util.NewID("tsk"),
		OrgID:       sess.OrgID,
		ProjectID:   input.ProjectID,
		Title:       title,
		Description: input.Description,
		AssigneeID:  input.AssigneeID,
		CategoryID:  input.CategoryID,
		Priority:    priority,
		StartDate:   input.StartDate,
		DueDate:     input.DueDate,
		CreatedBy:   sess.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.InTaskTx(ctx, func(tx store.TaskTx) error {
		var st store.TaskStatus
		var err error
		if input.StatusID != "" {
			st, err = tx.GetStatus(ctx, input.StatusID, sess.OrgID)
		} else {
			st, err = tx.FirstStatus(ctx, input.ProjectID, sess.OrgID)
		}
		if err != nil {
			return err
		}
		if st.ProjectID != input.ProjectID {
			return domainError(422, "VALIDATION_ERROR", "status belongs to another project", nil)
		}
		task.StatusID = st.ID

		if task.AssigneeID != nil {
			if _, err := tx.GetUser(ctx, *task.AssigneeID, sess.OrgID); err != nil {
				return err
			}
		}
		if task.CategoryID != nil {
			if _, err := tx.GetCategory(ctx, *task.CategoryID, sess.OrgID); err != nil {
				return err
			}
		}

		part, err := position.BoardPartition(sess.OrgID, task.ProjectID, task.StatusID)
		if err != nil {
			return err
		}
		task.Position, err = position.NextTx(ctx, tx.Board(), part)
		if err != nil {
			return err
		}
		return tx.InsertTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	s.indexTask(task)
	return taskPayload(task), nil
}

func (s *Service) GetTask(ctx context.Context, sess Session, id string) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, id, sess.OrgID)
	if err != nil {
		return nil, err
	}
	return taskPayload(task), nil
}

// UpdateTask edits a task's non-positional fields. All changed fields fold
// into one history record with foreign keys resolved to display names.
// Status and project live on the board; they change through MoveTask and
// the bulk endpoint, not here.
func (s *Service) UpdateTask(ctx context.Context, sess Session, taskID string, input UpdateTaskInput) (map[string]any, error) {
	var updated store.Task
	err := s.store.InTaskTx(ctx, func(tx store.TaskTx) error {
		task, err := tx.GetTask(ctx, taskID, sess.OrgID)
		if err != nil {
			return err
		}
		changes := store.ChangeSet{}

		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			if title == "" {
				return domainError(422, "VALIDATION_ERROR", "task title is required", nil)
			}
			if title != task.Title {
				changes["title"] = store.FieldDiff{From: task.Title, To: title}
				task.Title = title
			}
		}
		if input.Description != nil && *input.Description != task.Description {
			changes["description"] = store.FieldDiff{From: task.Description, To: *input.Description}
			task.Description = *input.Description
		}
		if input.Priority != nil {
			if !store.ValidPriority(*input.Priority) {
				return domainError(422, "VALIDATION_ERROR", fmt.Sprintf("priority %q is not valid", *input.Priority), nil)
			}
			if *input.Priority != task.Priority {
				changes["priority"] = store.FieldDiff{From: task.Priority, To: *input.Priority}
				task.Priority = *input.Priority
			}
		}
		if input.AssigneeID != nil {
			if err := patchAssignee(ctx, tx, &task, *input.AssigneeID, changes); err != nil {
				return err
			}
		}
		if input.CategoryID != nil {
			if err := patchCategory(ctx, tx, &task, *input.CategoryID, changes); err != nil {
				return err
			}
		}
		if input.StartDate != nil {
			if err := patchDate("start_date", &task.StartDate, *input.StartDate, changes); err != nil {
				return err
			}
		}
		if input.DueDate != nil {
			if err := patchDate("due_date", &task.DueDate, *input.DueDate, changes); err != nil {
				return err
			}
		}

		if len(changes) == 0 {
			updated = task
			return nil
		}
		if err := tx.UpdateTaskMeta(ctx, task); err != nil {
			return err
		}
		if err := tx.InsertChangeRecord(ctx, store.ChangeRecord{
			TaskID:  task.ID,
			OrgID:   sess.OrgID,
			ActorID: sess.UserID,
			Changes: changes,
		}); err != nil {
			return err
		}
		updated, err = tx.GetTask(ctx, taskID, sess.OrgID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.indexTask(updated)
	return taskPayload(updated), nil
}

func patchAssignee(ctx context.Context, tx store.TaskTx, task *store.Task, value string, changes store.ChangeSet) error {
	current := ""
	if task.AssigneeID != nil {
		current = *task.AssigneeID
	}
	if current == value {
		return nil
	}
	fromName := ""
	if current != "" {
		u, err := tx.GetUser(ctx, current, task.OrgID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		fromName = u.DisplayName
	}
	toName := ""
	if value == "" {
		task.AssigneeID = nil
	} else {
		u, err := tx.GetUser(ctx, value, task.OrgID)
		if err != nil {
			return err
		}
		toName = u.DisplayName
		task.AssigneeID = &u.ID
	}
	changes["assignee"] = store.FieldDiff{From: fromName, To: toName}
	return nil
}

func patchCategory(ctx context.Context, tx store.TaskTx, task *store.Task, value string, changes store.ChangeSet) error {
	current := ""
	if task.CategoryID != nil {
		current = *task.CategoryID
	}
	if current == value {
		return nil
	}
	fromName := ""
	if current != "" {
		c, err := tx.GetCategory(ctx, current, task.OrgID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		fromName = c.Name
	}
	toName := ""
	if value == "" {
		task.CategoryID = nil
	} else {
		c, err := tx.GetCategory(ctx, value, task.OrgID)
		if err != nil {
			return err
		}
		toName = c.Name
		task.CategoryID = &c.ID
	}
	changes["category"] = store.FieldDiff{From: fromName, To: toName}
	return nil
}

func patchDate(name string, slot **string, value string, changes store.ChangeSet) error {
	if value != "" {
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return domainError(422, "VALIDATION_ERROR", fmt.Sprintf("%s %q is not YYYY-MM-DD", name, value), nil)
		}
	}
	current := ""
	if *slot != nil {
		current = **slot
	}
	if current == value {
		return nil
	}
	changes[name] = store.FieldDiff{From: current, To: value}
	if value == "" {
		*slot = nil
	} else {
		v := value
		*slot = &v
	}
	return nil
}

// MoveTask relocates a task on the board. Within a column this is a pure
// reorder; across columns it is a status change and writes one history
// record with the column names resolved.
func (s *Service) MoveTask(ctx context.Context, sess Session, taskID string, input MoveTaskInput) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID, sess.OrgID)
	if err != nil {
		return nil, err
	}

	destStatusID := input.StatusID
	if destStatusID == "" {
		destStatusID = task.StatusID
	}
	from, err := s.store.GetStatus(ctx, task.StatusID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	dest := from
	if destStatusID != task.StatusID {
		dest, err = s.store.GetStatus(ctx, destStatusID, sess.OrgID)
		if err != nil {
			return nil, err
		}
		if dest.ProjectID != task.ProjectID {
			return nil, domainError(422, "VALIDATION_ERROR", "status belongs to another project", nil)
		}
	}

	to, err := position.BoardPartition(sess.OrgID, task.ProjectID, dest.ID)
	if err != nil {
		return nil, err
	}
	res, err := s.board.Move(ctx, position.MoveRequest{
		ItemID:    task.ID,
		OrgID:     sess.OrgID,
		To:        to,
		Position:  input.Position,
		ActorID:   sess.UserID,
		Field:     "status",
		FromLabel: from.Name,
		ToLabel:   dest.Name,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.store.GetTask(ctx, taskID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	s.indexTask(updated)

	payload := map[string]any{
		"moved":  res.Moved,
		"task":   taskPayload(updated),
		"column": placementsPayload(res.Destination),
	}
	if res.Source != nil {
		payload["sourceColumn"] = placementsPayload(res.Source)
	}
	return payload, nil
}

// PlaceTaskInContext positions a task inside a named-context ordering,
// independent of its board slot. A task enters the ordering on first
// placement.
func (s *Service) PlaceTaskInContext(ctx context.Context, sess Session, taskID string, input ContextPositionInput) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	contextID := input.ContextID
	if input.Context == position.ContextProject && contextID == "" {
		contextID = task.ProjectID
	}
	part, err := position.ContextPartition(sess.OrgID, input.Context, contextID)
	if err != nil {
		return nil, err
	}
	res, err := s.contexts.Place(ctx, position.MoveRequest{
		ItemID:   task.ID,
		OrgID:    sess.OrgID,
		To:       part,
		Position: input.Position,
		ActorID:  sess.UserID,
	})
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"moved":    res.Moved,
		"ordering": placementsPayload(res.Destination),
	}
	if res.Source != nil {
		payload["sourceOrdering"] = placementsPayload(res.Source)
	}
	return payload, nil
}

// ContextOrder returns a named-context ordering joined back to its tasks.
func (s *Service) ContextOrder(ctx context.Context, sess Session, contextName, contextID string) ([]map[string]any, error) {
	part, err := position.ContextPartition(sess.OrgID, contextName, contextID)
	if err != nil {
		return nil, err
	}
	placements, err := s.contexts.List(ctx, part)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(placements))
	for _, pl := range placements {
		ids = append(ids, pl.ItemID)
	}
	tasks, err := s.store.ListTasksByIDs(ctx, ids, sess.OrgID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	items := make([]map[string]any, 0, len(placements))
	for _, pl := range placements {
		t, ok := byID[pl.ItemID]
		if !ok {
			continue
		}
		item := taskPayload(t)
		item["contextPosition"] = pl.Position
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) DeleteTask(ctx context.Context, sess Session, id string) error {
	return s.BulkDeleteTasks(ctx, sess, []string{id})
}

// BulkDeleteTasks removes tasks from every ordering they occupy and deletes
// the rows, all in one transaction. Unknown ids fail the whole batch.
func (s *Service) BulkDeleteTasks(ctx context.Context, sess Session, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.store.InTaskTx(ctx, func(tx store.TaskTx) error {
		tasks, err := tx.ListTasksByIDs(ctx, ids, sess.OrgID)
		if err != nil {
			return err
		}
		if len(tasks) != len(ids) {
			return store.ErrNotFound
		}
		// Context placements go first; the board pass deletes the rows.
		if err := position.RemoveBatchTx(ctx, tx.Context(), ids, sess.OrgID); err != nil {
			return err
		}
		return position.RemoveBatchTx(ctx, tx.Board(), ids, sess.OrgID)
	})
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTasks(ids)
	}
	return nil
}

// BulkUpdate sets one field across many tasks atomically.
func (s *Service) BulkUpdate(ctx context.Context, sess Session, input BulkUpdateInput) ([]map[string]any, error) {
	field, err := bulk.ParseField(input.Field)
	if err != nil {
		return nil, err
	}
	tasks, err := s.bulk.ApplyBulk(ctx, bulk.Request{
		ItemIDs: input.TaskIDs,
		Field:   field,
		Value:   input.Value,
		ActorID: sess.UserID,
		OrgID:   sess.OrgID,
	})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		s.indexTask(t)
		items = append(items, taskPayload(t))
	}
	return items, nil
}

// TaskHistory returns a task's append-only change records, oldest first.
func (s *Service) TaskHistory(ctx context.Context, sess Session, taskID string) ([]map[string]any, error) {
	if _, err := s.store.GetTask(ctx, taskID, sess.OrgID); err != nil {
		return nil, err
	}
	records, err := s.store.ListChangeRecords(ctx, taskID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		items = append(items, map[string]any{
			"id":        rec.ID,
			"taskId":    rec.TaskID,
			"actorId":   rec.ActorID,
			"changes":   rec.Changes,
			"createdAt": rec.CreatedAt,
		})
	}
	return items, nil
}

// Search queries tasks within the session's organization.
func (s *Service) Search(_ context.Context, sess Session, text, projectID, statusID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:      text,
		OrgID:     sess.OrgID,
		ProjectID: projectID,
		StatusID:  statusID,
		Limit:     limit,
		Offset:    offset,
	}), nil
}

func (s *Service) indexTask(t store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		OrgID:       t.OrgID,
		ProjectID:   t.ProjectID,
		StatusID:    t.StatusID,
		Priority:    t.Priority,
	})
}

// ---------------------------------------------------------------------------
// Payload shaping

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"createdAt":   p.CreatedAt,
		"updatedAt":   p.UpdatedAt,
	}
}

func statusPayload(st store.TaskStatus) map[string]any {
	return map[string]any{
		"id":        st.ID,
		"projectId": st.ProjectID,
		"name":      st.Name,
		"sortOrder": st.SortOrder,
	}
}

func statusesPayload(statuses []store.TaskStatus) []map[string]any {
	items := make([]map[string]any, 0, len(statuses))
	for _, st := range statuses {
		items = append(items, statusPayload(st))
	}
	return items
}

func taskPayload(t store.Task) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"projectId":   t.ProjectID,
		"statusId":    t.StatusID,
		"position":    t.Position,
		"title":       t.Title,
		"description": t.Description,
		"assigneeId":  t.AssigneeID,
		"categoryId":  t.CategoryID,
		"priority":    t.Priority,
		"startDate":   t.StartDate,
		"dueDate":     t.DueDate,
		"createdBy":   t.CreatedBy,
		"createdAt":   t.CreatedAt,
		"updatedAt":   t.UpdatedAt,
	}
}

func tasksPayload(tasks []store.Task) []map[string]any {
	items := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, taskPayload(t))
	}
	return items
}

func placementsPayload(placements []position.Placement) []map[string]any {
	items := make([]map[string]any, 0, len(placements))
	for _, pl := range placements {
		items = append(items, map[string]any{
			"id":       pl.ItemID,
			"position": pl.Position,
		})
	}
	return items
}
