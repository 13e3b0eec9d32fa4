package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kuitang/ticketnotes/internal/errs"
	"github.com/kuitang/ticketnotes/internal/logutil"
	"github.com/kuitang/ticketnotes/internal/notes"
	"github.com/kuitang/ticketnotes/internal/obs"
	"github.com/kuitang/ticketnotes/internal/users"
)

const (
	// MaxRequestBodyBytes bounds JSON request bodies.
	MaxRequestBodyBytes = 1 << 20

	// DefaultStorageTimeout bounds the storage work of one request.
	DefaultStorageTimeout = 5 * time.Second

	maxLoggedBodyChars = 512
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the notes and users JSON API.
type Handler struct {
	notes          *notes.Service
	users          *users.Service
	health         Pinger
	storageTimeout time.Duration
}

// NewHandler creates an API handler. A non-positive storageTimeout uses
// DefaultStorageTimeout.
func NewHandler(notesService *notes.Service, usersService *users.Service, health Pinger, storageTimeout time.Duration) *Handler {
	if storageTimeout <= 0 {
		storageTimeout = DefaultStorageTimeout
	}
	return &Handler{
		notes:          notesService,
		users:          usersService,
		health:         health,
		storageTimeout: storageTimeout,
	}
}

// RegisterRoutes registers the API routes on mux. Mutating routes are
// wrapped with limit, which may be nil.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	mutating := func(fn http.HandlerFunc) http.Handler { return limit(fn) }

	mux.HandleFunc("GET /notes", h.ListNotes)
	mux.Handle("POST /notes/addNote", mutating(h.CreateNote))
	mux.Handle("PATCH /notes/updateNote", mutating(h.UpdateNote))
	mux.Handle("DELETE /notes/deleteNote", mutating(h.DeleteNote))

	mux.HandleFunc("GET /users", h.ListUsers)
	mux.Handle("POST /users/addUser", mutating(h.CreateUser))
	mux.Handle("PATCH /users/updateUser", mutating(h.UpdateUser))
	mux.Handle("DELETE /users/deleteUser", mutating(h.DeleteUser))

	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("/", NotFound)
}

// ListNotes handles GET /notes - every note with its owner's username.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storageContext(r)
	defer cancel()

	result, err := h.notes.List(ctx)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// NoteResponse wraps a written note with a confirmation message.
type NoteResponse struct {
	Message string      `json:"message"`
	Note    *notes.Note `json:"note"`
}

// CreateNote handles POST /notes/addNote.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var params notes.CreateNoteParams
	body, ok := decodeJSON(w, r, &params)
	if !ok {
		return
	}

	ctx, cancel := h.storageContext(r)
	defer cancel()

	note, err := h.notes.Create(ctx, params)
	if err != nil {
		h.writeServiceError(w, r, err, body)
		return
	}
	writeJSON(w, http.StatusCreated, NoteResponse{Message: "New note " + note.Title + " created", Note: note})
}

// UpdateNote handles PATCH /notes/updateNote.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var params notes.UpdateNoteParams
	body, ok := decodeJSON(w, r, &params)
	if !ok {
		return
	}

	ctx, cancel := h.storageContext(r)
	defer cancel()

	note, err := h.notes.Update(ctx, params)
	if err != nil {
		h.writeServiceError(w, r, err, body)
		return
	}
	writeJSON(w, http.StatusOK, NoteResponse{Message: "Note " + note.Title + " updated", Note: note})
}

// IDRequest is the body of the delete endpoints.
type IDRequest struct {
	ID string `json:"id"`
}

// DeleteNote handles DELETE /notes/deleteNote.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	var req IDRequest
	body, ok := decodeJSON(w, r, &req)
	if !ok {
		return
	}

	ctx, cancel := h.storageContext(r)
	defer cancel()

	result, err := h.notes.Delete(ctx, req.ID)
	if err != nil {
		h.writeServiceError(w, r, err, body)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListUsers handles GET /users - every user without password hashes.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storageContext(r)
	defer cancel()

	result, err := h.users.List(ctx)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UserResponse wraps a written user with a confirmation message.
type UserResponse struct {
	Message string      `json:"message"`
	User    *users.User `json:"user"`
}

// CreateUser handles POST /users/addUser.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var params users.CreateUserParams
	body, ok := decodeJSON(w, r, &params)
	if !ok {
		return
	}

	ctx, cancel := h.storageContext(r)
	defer cancel()

	user, err := h.users.Create(ctx, params)
	if err != nil {
		h.writeServiceError(w, r, err, body)
		return
	}
	writeJSON(w, http.StatusCreated, UserResponse{Message: "New user " + user.Username + " created", User: user})
}

// UpdateUser handles PATCH /users/updateUser.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var params users.UpdateUserParams
	body, ok := decodeJSON(w, r, &params)
	if !ok {
		return
	}

	ctx, cancel := h.storageContext(r)
	defer cancel()

	user, err := h.users.Update(ctx, params)
	if err != nil {
		h.writeServiceError(w, r, err, body)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Message: "User " + user.Username + " updated", User: user})
}

// DeleteUser handles DELETE /users/deleteUser. Users with notes cannot be
// deleted.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	var req IDRequest
	body, ok := decodeJSON(w, r, &req)
	if !ok {
		return
	}

	ctx, cancel := h.storageContext(r)
	defer cancel()

	result, err := h.notes.DeleteUser(ctx, req.ID)
	if err != nil {
		h.writeServiceError(w, r, err, body)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storageContext(r)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		obs.From(r.Context()).Error("health_check_failed", "pkg", "api", "error", err)
		writeMessage(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	resp := healthResponse{Status: "ok"}
	if last, ok, err := h.notes.LastTicket(ctx); err != nil {
		obs.From(r.Context()).Warn("health_last_ticket_failed", "pkg", "api", "error", err)
	} else if ok {
		resp.LastTicket = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status     string `json:"status"`
	LastTicket *int64 `json:"last_ticket,omitempty"`
}

func (h *Handler) storageContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.storageTimeout)
}

// writeServiceError writes err's code and user-facing message. The raw
// cause is logged, never returned.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, body []byte) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	logger := obs.From(r.Context()).With("pkg", "api", "code", string(code), "status", status)

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request_failed", "error", err, "retryable", errs.Retryable(code))
	default:
		logger.Debug("request_rejected",
			"message", errs.MessageOf(err),
			"body", logutil.FormatBodyForLog(r.Header.Get("Content-Type"), body, maxLoggedBodyChars),
		)
	}

	if errs.Retryable(code) {
		w.Header().Set("Retry-After", "1")
	}
	writeMessage(w, status, errs.MessageOf(err))
}

// decodeJSON reads one JSON object from the request body into v. On failure
// it writes a 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		writeMessage(w, http.StatusBadRequest, "Could not read request body")
		return nil, false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return nil, false
	}
	return body, true
}

// MessageResponse is the body of every error response.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}
