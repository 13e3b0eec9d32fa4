package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/ticketnotes/internal/logutil"
	"github.com/kuitang/ticketnotes/internal/notes"
	"github.com/kuitang/ticketnotes/internal/obs"
	"github.com/kuitang/ticketnotes/internal/users"
)

const (
	maxMCPBodyBytes      = 1 << 20
	maxLoggedBodyChars   = 2048
	serverName           = "ticketnotes"
	serverVersion        = "1.0.0"
	noResponseWrittenMsg = "MCP handler returned without writing response"
)

// Server wraps the MCP server with notes handling.
type Server struct {
	mcpServer   *mcp.Server
	handler     *Handler
	httpHandler http.Handler
}

// NewServer creates an MCP server exposing the note and user tools.
func NewServer(notesSvc *notes.Service, usersSvc *users.Service, storageTimeout time.Duration) *Server {
	handler := NewHandler(notesSvc, usersSvc, storageTimeout)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		nil,
	)

	for _, tool := range ToolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(mcpServer)

	// Every request stands alone, so there is no session state and no SSE
	// stream; responses are plain JSON.
	httpHandler := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return mcpServer },
		&mcp.StreamableHTTPOptions{
			JSONResponse: true,
			Stateless:    true,
		},
	)

	return &Server{
		mcpServer:   mcpServer,
		handler:     handler,
		httpHandler: httpHandler,
	}
}

// ServeHTTP implements http.Handler for the Streamable HTTP transport.
// Only POST (client messages) and DELETE (session teardown) are served.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(obs.WithCorrelation(r.Context(), obs.Correlation{Surface: obs.SurfaceMCP}))
	logger := obs.From(r.Context()).With("pkg", "mcp")

	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		w.Header().Set("Allow", "POST, DELETE")
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var reqBody []byte
	if r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMCPBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			logger.Warn("mcp_body_read_failed", "error", err)
			writeJSONError(w, http.StatusBadRequest, "Could not read request body")
			return
		}
		reqBody = body
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	logger.Debug("mcp_request",
		"method", r.Method,
		"body", logutil.FormatBodyForLog(r.Header.Get("Content-Type"), reqBody, maxLoggedBodyChars),
	)

	wrapped, recorder := obs.NewResponseRecorder(w)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("mcp_handler_panic", "panic", rec, "stack", string(debug.Stack()))
			if recorder.StatusCode() == 0 {
				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			}
		}
	}()

	s.httpHandler.ServeHTTP(wrapped, r)

	if recorder.StatusCode() == 0 {
		logger.Error("mcp_no_response", "method", r.Method)
		writeJSONError(w, http.StatusInternalServerError, noResponseWrittenMsg)
		return
	}
	if recorder.StatusCode() >= http.StatusBadRequest {
		logger.Warn("mcp_request_failed", "method", r.Method, "status", recorder.StatusCode())
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
