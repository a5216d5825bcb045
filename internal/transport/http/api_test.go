package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/app"
	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/dragon-marcel/mat-gwiazda/internal/infra/memory"
	"github.com/google/uuid"
)

func TestAPIAttemptLifecycle(t *testing.T) {
	server, _ := newTestServer(t, staticContent{})
	defer server.Close()

	var user domain.User
	do(t, server, http.MethodPost, "/api/v1/users", map[string]any{"userName": "Ola"}, http.StatusCreated, &user)

	var first, second domain.Assignment
	do(t, server, http.MethodPost, "/api/v1/tasks/generate", map[string]any{"userId": user.ID, "level": 1}, http.StatusCreated, &first)
	do(t, server, http.MethodPost, "/api/v1/tasks/generate", map[string]any{"userId": user.ID, "level": 1}, http.StatusOK, &second)
	if first.AttemptID != second.AttemptID {
		t.Fatalf("expected reused attempt, got %s and %s", first.AttemptID, second.AttemptID)
	}

	var score domain.ScoreResult
	submit := map[string]any{"userId": user.ID, "attemptId": first.AttemptID, "selectedOptionIndex": 1, "timeTakenMs": 1200}
	do(t, server, http.MethodPost, "/api/v1/progress/submit", submit, http.StatusOK, &score)
	if !score.IsCorrect || score.UserTotalPoints != 1 || score.Explanation == "" {
		t.Fatalf("unexpected score %+v", score)
	}
	do(t, server, http.MethodPost, "/api/v1/progress/submit", submit, http.StatusConflict, nil)

	var attempts []domain.Attempt
	do(t, server, http.MethodGet, "/api/v1/progress/all?userId="+user.ID.String(), nil, http.StatusOK, &attempts)
	if len(attempts) != 1 || !attempts[0].Finalized {
		t.Fatalf("unexpected attempts %+v", attempts)
	}

	var stored domain.User
	do(t, server, http.MethodGet, "/api/v1/users/"+user.ID.String(), nil, http.StatusOK, &stored)
	if stored.Points != 1 || stored.ActiveAttemptID != nil {
		t.Fatalf("unexpected user %+v", stored)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	server, store := newTestServer(t, staticContent{})
	defer server.Close()

	owner, _ := store.CreateUser(context.Background(), domain.NewUser("owner"))
	other, _ := store.CreateUser(context.Background(), domain.NewUser("other"))
	var assigned domain.Assignment
	do(t, server, http.MethodPost, "/api/v1/tasks/generate", map[string]any{"userId": owner.ID, "level": 1}, http.StatusCreated, &assigned)

	missing := uuid.New()
	do(t, server, http.MethodPost, "/api/v1/tasks/generate", map[string]any{"userId": missing, "level": 1}, http.StatusNotFound, nil)
	do(t, server, http.MethodPost, "/api/v1/tasks/generate", map[string]any{"level": 9}, http.StatusNotFound, nil)
	do(t, server, http.MethodPost, "/api/v1/tasks/generate", map[string]any{"level": 1, "createdById": missing}, http.StatusBadRequest, nil)
	do(t, server, http.MethodPost, "/api/v1/tasks/generate", map[string]any{"level": "one"}, http.StatusBadRequest, nil)
	do(t, server, http.MethodPost, "/api/v1/progress/submit", map[string]any{"userId": other.ID, "attemptId": assigned.AttemptID}, http.StatusForbidden, nil)
	do(t, server, http.MethodPost, "/api/v1/progress/submit", map[string]any{"userId": owner.ID, "attemptId": assigned.AttemptID, "selectedOptionIndex": 7}, http.StatusBadRequest, nil)
	do(t, server, http.MethodPost, "/api/v1/progress/submit", map[string]any{"userId": owner.ID, "attemptId": assigned.AttemptID, "timeTakenMs": int64(1) << 31}, http.StatusBadRequest, nil)
	do(t, server, http.MethodGet, "/api/v1/progress/all?userId=nope", nil, http.StatusBadRequest, nil)
}

func TestAPITaskReads(t *testing.T) {
	server, store := newTestServer(t, staticContent{})
	defer server.Close()

	user, _ := store.CreateUser(context.Background(), domain.NewUser("Ola"))
	var assigned domain.Assignment
	do(t, server, http.MethodPost, "/api/v1/tasks/generate", map[string]any{"userId": user.ID, "level": 1}, http.StatusCreated, &assigned)

	var raw map[string]any
	do(t, server, http.MethodGet, "/api/v1/tasks/"+assigned.Task.ID.String(), nil, http.StatusOK, &raw)
	if raw["id"] != assigned.Task.ID.String() || raw["prompt"] != "Ile to 2 + 2?" {
		t.Fatalf("unexpected task %+v", raw)
	}
	for key := range raw {
		if key == "correctOptionIndex" || key == "correctIndex" {
			t.Fatalf("task view must not expose the answer: %+v", raw)
		}
	}

	var page domain.TaskPage
	do(t, server, http.MethodGet, "/api/v1/tasks?level=1&isActive=true", nil, http.StatusOK, &page)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != assigned.Task.ID || page.Size != domain.DefaultTaskPageSize {
		t.Fatalf("unexpected page %+v", page)
	}

	submit := map[string]any{"userId": user.ID, "attemptId": assigned.AttemptID, "selectedOptionIndex": 0}
	do(t, server, http.MethodPost, "/api/v1/progress/submit", submit, http.StatusOK, nil)

	do(t, server, http.MethodGet, "/api/v1/tasks?isActive=true", nil, http.StatusOK, &page)
	if page.Total != 0 || len(page.Items) != 0 {
		t.Fatalf("expected no active tasks after submit, got %+v", page)
	}
	do(t, server, http.MethodGet, "/api/v1/tasks?isActive=false&createdById="+uuid.NewString(), nil, http.StatusOK, &page)
	if page.Total != 0 {
		t.Fatalf("expected creator filter to exclude the task, got %+v", page)
	}
	do(t, server, http.MethodGet, "/api/v1/tasks?isActive=false&page=0&size=5", nil, http.StatusOK, &page)
	if page.Total != 1 || page.Size != 5 {
		t.Fatalf("unexpected inactive page %+v", page)
	}

	do(t, server, http.MethodGet, "/api/v1/tasks/"+uuid.NewString(), nil, http.StatusNotFound, nil)
	do(t, server, http.MethodGet, "/api/v1/tasks/nope", nil, http.StatusBadRequest, nil)
	do(t, server, http.MethodGet, "/api/v1/tasks?level=one", nil, http.StatusBadRequest, nil)
	do(t, server, http.MethodGet, "/api/v1/tasks?isActive=maybe", nil, http.StatusBadRequest, nil)
	do(t, server, http.MethodGet, "/api/v1/tasks?size=500", nil, http.StatusBadRequest, nil)
	do(t, server, http.MethodGet, "/api/v1/tasks?page=-1", nil, http.StatusBadRequest, nil)
}

func TestAPIContentFailureIsBadGateway(t *testing.T) {
	server, store := newTestServer(t, staticContent{err: errors.New("upstream down")})
	defer server.Close()

	do(t, server, http.MethodPost, "/api/v1/tasks/generate", map[string]any{"level": 1}, http.StatusBadGateway, nil)
	if store.TaskCount() != 0 {
		t.Fatalf("expected no task after content failure")
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrInvalidSelection: http.StatusBadRequest,
		domain.ErrAttemptNotFound:  http.StatusNotFound,
		domain.ErrNotOwner:         http.StatusForbidden,
		domain.ErrAlreadyFinalized: http.StatusConflict,
		fmt.Errorf("%w: %w", domain.ErrRetriesExhausted, domain.ErrWriteConflict): http.StatusServiceUnavailable,
		domain.ErrContentGeneration: http.StatusBadGateway,
		errors.New("boom"):          http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("%v: expected %d, got %d", err, want, got)
		}
	}
}

func newTestServer(t *testing.T, content app.ContentSource) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	hub := memory.NewHub()
	levels := memory.NewLevelRepository(memory.NewStaticLevelLoader(map[int]domain.LearningLevel{
		1: {Level: 1, Title: "Dodawanie", Description: "Dodawanie liczb do 10"},
	}), time.Minute)
	service := app.NewPracticeService(store, levels, content,
		app.WithRetrier(app.Retrier{MaxAttempts: 3, Backoff: time.Millisecond}),
		app.WithEventPublishers(hub),
	)

	mux := http.NewServeMux()
	NewAPI(service, store, hub).Register(mux)
	mux.HandleFunc("/ws", NewWSHandler(service, hub).ServeWS)
	return httptest.NewServer(mux), store
}

func do(t *testing.T, server *httptest.Server, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		var e errorPayload
		_ = json.NewDecoder(resp.Body).Decode(&e)
		t.Fatalf("%s %s: expected %d, got %d (%s)", method, path, wantStatus, resp.StatusCode, e.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

type staticContent struct {
	err error
}

func (s staticContent) Generate(context.Context, domain.ContentRequest) (domain.GeneratedTask, error) {
	if s.err != nil {
		return domain.GeneratedTask{}, s.err
	}
	return domain.GeneratedTask{
		Prompt:       "Ile to 2 + 2?",
		Options:      []string{"3", "4", "5"},
		CorrectIndex: 1,
		Explanation:  "2 + 2 = 4",
	}, nil
}
