package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tasklane/api/internal/authpw"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
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

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
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
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/session":
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"orgId":         session.OrgID,
			"role":          session.Role,
		})
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/projects":
		items, err := s.service.ListProjects(r.Context(), session)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": items})
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/projects":
		var body CreateProjectInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateProject(r.Context(), session, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/categories":
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateCategory(r.Context(), session, body.Name)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/search":
		q := r.URL.Query()
		limit, err := queryInt(q.Get("limit"), 20)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		offset, err := queryInt(q.Get("offset"), 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		payload, err := s.service.Search(r.Context(), session,
			strings.TrimSpace(q.Get("q")), q.Get("projectId"), q.Get("statusId"), limit, offset)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/tasks":
		var body CreateTaskInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateTask(r.Context(), session, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/tasks/bulk":
		var body BulkUpdateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		items, err := s.service.BulkUpdate(r.Context(), session, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/tasks/bulk-delete":
		var body struct {
			TaskIDs []string `json:"taskIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.BulkDeleteTasks(r.Context(), session, body.TaskIDs); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": len(body.TaskIDs)})
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/contexts":
		name := strings.TrimSpace(r.URL.Query().Get("context"))
		contextID := strings.TrimSpace(r.URL.Query().Get("contextId"))
		items, err := s.service.ContextOrder(r.Context(), session, name, contextID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/projects/{id}/board and /api/projects/{id}/statuses/{statusId}/tasks
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "projects" {
		projectID := parts[2]
		switch {
		case r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "board":
			payload, err := s.service.GetBoard(r.Context(), session, projectID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "statuses":
			items, err := s.service.ListStatuses(r.Context(), session, projectID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"statuses": items})
			return
		case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "statuses":
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateStatus(r.Context(), session, projectID, body.Name)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		case r.Method == http.MethodGet && len(parts) == 6 && parts[3] == "statuses" && parts[5] == "tasks":
			items, err := s.service.ListColumn(r.Context(), session, projectID, parts[4])
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
			return
		}
	}

	// /api/tasks/{id} and sub-resources
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "tasks" {
		taskID := parts[2]
		switch {
		case r.Method == http.MethodGet && len(parts) == 3:
			payload, err := s.service.GetTask(r.Context(), session, taskID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return

		case r.Method == http.MethodPatch && len(parts) == 3:
			var body UpdateTaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateTask(r.Context(), session, taskID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return

		case r.Method == http.MethodDelete && len(parts) == 3:
			if err := s.service.DeleteTask(r.Context(), session, taskID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return

		case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "move":
			var body MoveTaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.MoveTask(r.Context(), session, taskID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return

		case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "context-position":
			var body ContextPositionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.PlaceTaskInContext(r.Context(), session, taskID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return

		case r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "history":
			items, err := s.service.TaskHistory(r.Context(), session, taskID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"history": items})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email            string `json:"email"`
		Password         string `json:"password"`
		DisplayName      string `json:"displayName"`
		OrganizationName string `json:"organizationName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:            body.Email,
		Password:         body.Password,
		DisplayName:      body.DisplayName,
		OrganizationName: body.OrganizationName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
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
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"accessToken":  sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"userName":     sess.UserName,
		"orgId":        sess.OrgID,
		"role":         sess.Role,
		"expiresAt":    sess.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

// fail maps a service error onto the HTTP error taxonomy.
func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	de := domainErrorFrom(err)
	writeError(w, de.Status, de.Code, de.Message, de.Details)
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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

func queryInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
