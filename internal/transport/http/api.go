package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
)

// Practice is the attempt lifecycle the transport exposes.
type Practice interface {
	Assign(ctx context.Context, req domain.AssignRequest) (domain.Assignment, error)
	Finalize(ctx context.Context, req domain.SubmitRequest) (domain.ScoreResult, error)
	ListProgress(ctx context.Context, userID uuid.UUID) ([]domain.Attempt, error)
	GetTask(ctx context.Context, id uuid.UUID) (domain.TaskView, error)
	ListTasks(ctx context.Context, filter domain.TaskFilter) (domain.TaskPage, error)
}

// Users registers and reads users.
type Users interface {
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (domain.User, error)
}

// Presence reports whether a user has a live progress connection.
type Presence interface {
	Online(ctx context.Context, userID uuid.UUID) (bool, error)
}

// API serves the JSON endpoints.
type API struct {
	practice Practice
	users    Users
	presence Presence
}

func NewAPI(practice Practice, users Users, presence Presence) *API {
	return &API{practice: practice, users: users, presence: presence}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks/generate", a.generateTask)
	mux.HandleFunc("GET /api/v1/tasks", a.listTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", a.getTask)
	mux.HandleFunc("POST /api/v1/progress/submit", a.submitProgress)
	mux.HandleFunc("GET /api/v1/progress/all", a.listProgress)
	mux.HandleFunc("GET /api/v1/progress/online", a.progressOnline)
	mux.HandleFunc("POST /api/v1/users", a.createUser)
	mux.HandleFunc("GET /api/v1/users/{id}", a.getUser)
}

func (a *API) generateTask(w http.ResponseWriter, r *http.Request) {
	var req domain.AssignRequest
	if !decode(w, r, &req) {
		return
	}
	assignment, err := a.practice.Assign(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if assignment.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, assignment)
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := a.practice.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, domain.ErrInvalidRequest)
		return
	}
	task, err := a.practice.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// parseTaskFilter reads level, isActive, createdById, page and size.
func parseTaskFilter(q url.Values) (domain.TaskFilter, error) {
	var f domain.TaskFilter
	if raw := q.Get("level"); raw != "" {
		level, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("%w: level %q", domain.ErrInvalidRequest, raw)
		}
		f.Level = &level
	}
	if raw := q.Get("isActive"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("%w: isActive %q", domain.ErrInvalidRequest, raw)
		}
		f.Active = &active
	}
	if raw := q.Get("createdById"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, fmt.Errorf("%w: createdById %q", domain.ErrInvalidRequest, raw)
		}
		f.CreatedByID = &id
	}
	for name, dst := range map[string]*int{"page": &f.Page, "size": &f.Size} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("%w: %s %q", domain.ErrInvalidRequest, name, raw)
		}
		*dst = n
	}
	return f, nil
}

func (a *API) submitProgress(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := a.practice.Finalize(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) listProgress(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, domain.ErrInvalidRequest)
		return
	}
	attempts, err := a.practice.ListProgress(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

type onlineResponse struct {
	UserID uuid.UUID `json:"userId"`
	Online bool      `json:"online"`
}

func (a *API) progressOnline(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, domain.ErrInvalidRequest)
		return
	}
	online, err := a.presence.Online(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, onlineResponse{UserID: userID, Online: online})
}

type createUserRequest struct {
	Name string `json:"userName"`
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, domain.ErrInvalidRequest)
		return
	}
	user, err := a.users.CreateUser(r.Context(), domain.NewUser(strings.TrimSpace(req.Name)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, domain.ErrInvalidRequest)
		return
	}
	user, err := a.users.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type errorPayload struct {
	Message string `json:"message"`
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
		writeJSON(w, status, errorPayload{Message: "internal error"})
		return
	}
	writeJSON(w, status, errorPayload{Message: err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidSelection),
		errors.Is(err, domain.ErrBadReference):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrLevelNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyFinalized):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRetriesExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrContentGeneration):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
