package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/ticketnotes/internal/auth"
	"github.com/kuitang/ticketnotes/internal/db"
	"github.com/kuitang/ticketnotes/internal/notes"
	"github.com/kuitang/ticketnotes/internal/ratelimit"
	"github.com/kuitang/ticketnotes/internal/testdb"
	"github.com/kuitang/ticketnotes/internal/users"
)

type testServer struct {
	handler http.Handler
	store   *db.Store
}

func newTestServer(t *testing.T, pinger Pinger, limit func(http.Handler) http.Handler) *testServer {
	t.Helper()
	store, err := testdb.NewStoreInMemory("api")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if pinger == nil {
		pinger = store
	}
	h := NewHandler(
		notes.NewService(store, store, store),
		users.NewService(store, auth.FakeInsecureHasher{}),
		pinger,
		time.Second,
	)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, limit)
	return &testServer{handler: SecurityHeaders(mux), store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func messageOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[MessageResponse](t, rec).Message
}

func TestScenario_AliceBuyMilkOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodPost, "/users/addUser", map[string]any{
		"username": "alice", "password": "hunter22", "roles": []string{"user"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[UserResponse](t, rec)
	assert.Equal(t, "New user alice created", created.Message)
	aliceID := created.User.ID

	rec = srv.do(t, http.MethodPost, "/notes/addNote", map[string]any{
		"user": aliceID, "title": "Buy milk", "text": "2%",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	note := decode[NoteResponse](t, rec)
	assert.Equal(t, "New note Buy milk created", note.Message)
	assert.Equal(t, int64(500), note.Note.Ticket)
	assert.False(t, note.Note.Completed)

	rec = srv.do(t, http.MethodPost, "/notes/addNote", map[string]any{
		"user": aliceID, "title": "Buy milk", "text": "whole",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Duplicate note title", messageOf(t, rec))

	rec = srv.do(t, http.MethodDelete, "/users/deleteUser", map[string]any{"id": aliceID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User has assigned notes. Cannot delete", messageOf(t, rec))

	rec = srv.do(t, http.MethodGet, "/notes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]notes.NoteWithOwner](t, rec)
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].Username)
	assert.Equal(t, "alice", *listed[0].Username)

	rec = srv.do(t, http.MethodDelete, "/notes/deleteNote", map[string]any{"id": note.Note.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fmt.Sprintf("Note: Buy milk with ID %s deleted", note.Note.ID), decode[notes.DeleteNoteResult](t, rec).Message)

	rec = srv.do(t, http.MethodDelete, "/users/deleteUser", map[string]any{"id": aliceID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, fmt.Sprintf("Username: alice with ID: %s deleted", aliceID), decode[notes.DeleteUserResult](t, rec).Message)
}

func TestListNotes_EmptyIs400NoNotesFound(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodGet, "/notes", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No notes found", messageOf(t, rec))

	rec = srv.do(t, http.MethodGet, "/users", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No users found", messageOf(t, rec))
}

func TestUpdateNote_StatusMapping(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodPost, "/users/addUser", map[string]any{"username": "bob", "password": "pw", "roles": []string{"user"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	bobID := decode[UserResponse](t, rec).User.ID

	rec = srv.do(t, http.MethodPost, "/notes/addNote", map[string]any{"user": bobID, "title": "a", "text": "x"})
	require.Equal(t, http.StatusCreated, rec.Code)
	noteID := decode[NoteResponse](t, rec).Note.ID

	// completed omitted
	rec = srv.do(t, http.MethodPatch, "/notes/updateNote", map[string]any{"id": noteID, "user": bobID, "title": "a", "text": "y"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "All fields are necessary", messageOf(t, rec))

	rec = srv.do(t, http.MethodPatch, "/notes/updateNote", map[string]any{"id": noteID, "user": bobID, "title": "a", "text": "y", "completed": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[NoteResponse](t, rec)
	assert.Equal(t, "Note a updated", updated.Message)
	assert.True(t, updated.Note.Completed)

	rec = srv.do(t, http.MethodPatch, "/notes/updateNote", map[string]any{"id": "missing", "user": bobID, "title": "b", "text": "y", "completed": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Note not found", messageOf(t, rec))
}

func TestCreateUser_DuplicateAndPasswordNotReturned(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	body := map[string]any{"username": "carol", "password": "topsecret", "roles": []string{"admin"}}
	rec := srv.do(t, http.MethodPost, "/users/addUser", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "topsecret")

	rec = srv.do(t, http.MethodPost, "/users/addUser", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Duplicate username", messageOf(t, rec))

	rec = srv.do(t, http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "topsecret")
	assert.NotContains(t, rec.Body.String(), "$fake$")
}

func TestInvalidJSONAndUnknownRoutes(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/notes/addNote", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON body", messageOf(t, rec))

	rec = srv.do(t, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "404 Not Found", messageOf(t, rec))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	for _, path := range []string{"/healthz", "/notes", "/nowhere"} {
		rec := srv.do(t, http.MethodGet, path, nil)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"), path)
		assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"), path)
		assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'self'", path)
	}
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("file is not a database") }

func TestHealth(t *testing.T) {
	rec := newTestServer(t, nil, nil).do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = newTestServer(t, downPinger{}, nil).do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database")
}

func TestHealth_ReportsLastTicket(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "last_ticket")

	rec = srv.do(t, http.MethodPost, "/users/addUser", map[string]any{"username": "erin", "password": "pw", "roles": []string{"user"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	owner := decode[UserResponse](t, rec).User.ID

	require.Equal(t, http.StatusCreated, srv.do(t, http.MethodPost, "/notes/addNote",
		map[string]any{"user": owner, "title": "printer", "text": "jammed"}).Code)

	rec = srv.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status     string `json:"status"`
		LastTicket int64  `json:"last_ticket"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(500), body.LastTicket)
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{RPS: 0.001, Burst: 1, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, nil, ratelimit.Middleware(limiter, ratelimit.ByClientIP))

	body := map[string]any{"username": "dave", "password": "pw", "roles": []string{"user"}}
	assert.Equal(t, http.StatusCreated, srv.do(t, http.MethodPost, "/users/addUser", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, srv.do(t, http.MethodPost, "/users/addUser", body).Code)

	// Reads are not limited.
	for range 3 {
		assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/users", nil).Code)
	}
}
