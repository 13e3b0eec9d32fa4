package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/ticketnotes/internal/errs"
	"github.com/kuitang/ticketnotes/internal/notes"
	"github.com/kuitang/ticketnotes/internal/obs"
	"github.com/kuitang/ticketnotes/internal/users"
)

// DefaultStorageTimeout bounds the storage work of one tool call.
const DefaultStorageTimeout = 5 * time.Second

// Handler implements MCP tool call handling.
type Handler struct {
	notesSvc       *notes.Service
	usersSvc       *users.Service
	storageTimeout time.Duration
}

// NewHandler creates a new MCP handler over the notes and users services.
func NewHandler(notesSvc *notes.Service, usersSvc *users.Service, storageTimeout time.Duration) *Handler {
	if storageTimeout <= 0 {
		storageTimeout = DefaultStorageTimeout
	}
	return &Handler{
		notesSvc:       notesSvc,
		usersSvc:       usersSvc,
		storageTimeout: storageTimeout,
	}
}

// toolErrorPayload is the JSON body of a failed tool result.
type toolErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// createToolHandler returns a tool handler function for the given tool name.
// Service errors become IsError results; the transport error is always nil.
func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		ctx = obs.WithTool(ctx, name)
		result, err := h.HandleToolCall(ctx, name, args)
		if err != nil {
			code := errs.CodeOf(err)
			logger := obs.From(ctx).With("pkg", "mcp", "code", string(code))
			if errs.HTTPStatus(code) >= 500 {
				logger.Error("tool_call_failed", "error", err)
			} else {
				logger.Debug("tool_call_rejected", "message", errs.MessageOf(err))
			}
			return newToolResultError(err), nil, nil
		}
		return result, nil, nil
	}
}

// HandleToolCall routes tool calls to appropriate handlers.
func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.storageTimeout)
	defer cancel()

	switch name {
	case toolNoteList:
		return h.handleNoteList(ctx, arguments)
	case toolNoteCreate:
		return h.handleNoteCreate(ctx, arguments)
	case toolNoteUpdate:
		return h.handleNoteUpdate(ctx, arguments)
	case toolNoteDelete:
		return h.handleNoteDelete(ctx, arguments)
	case toolUserList:
		return h.handleUserList(ctx, arguments)
	case toolUserDelete:
		return h.handleUserDelete(ctx, arguments)
	default:
		return nil, errs.New(errs.NotFound, fmt.Sprintf("unknown tool: %s", name))
	}
}

// decodeToolArgs decodes tool arguments into dst, rejecting unknown fields.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "Invalid tool arguments", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, toolArgsMessage(err), err)
	}
	return nil
}

const unknownFieldPrefix = "json: unknown field "

// toolArgsMessage names the offending argument without exposing decoder text.
func toolArgsMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("Argument %s has the wrong type", typeErr.Field)
	}
	// encoding/json has no typed error for unknown fields.
	if quoted, ok := strings.CutPrefix(err.Error(), unknownFieldPrefix); ok {
		if field, uerr := strconv.Unquote(quoted); uerr == nil && field != "" {
			return fmt.Sprintf("Unknown argument: %s", field)
		}
	}
	return "Invalid tool arguments"
}

// newToolResultText creates a successful tool result with text content.
func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// newToolResultError creates a tool result carrying err's code and
// user-facing message. Raw causes are never included.
func newToolResultError(err error) *mcp.CallToolResult {
	code := errs.CodeOf(err)
	payload := toolErrorPayload{
		Code:      string(code),
		Message:   errs.MessageOf(err),
		Retryable: errs.Retryable(code),
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalToolJSON(payload)},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"code":"internal","message":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}

type idArgs struct {
	ID string `json:"id"`
}

func (h *Handler) handleNoteList(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	if err := decodeToolArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	listed, err := h.notesSvc.List(ctx)
	if err != nil {
		return nil, err
	}
	return newToolResultText(marshalToolJSON(listed)), nil
}

func (h *Handler) handleNoteCreate(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var params notes.CreateNoteParams
	if err := decodeToolArgs(args, &params); err != nil {
		return nil, err
	}
	note, err := h.notesSvc.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	return newToolResultText(marshalToolJSON(note)), nil
}

func (h *Handler) handleNoteUpdate(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var params notes.UpdateNoteParams
	if err := decodeToolArgs(args, &params); err != nil {
		return nil, err
	}
	note, err := h.notesSvc.Update(ctx, params)
	if err != nil {
		return nil, err
	}
	return newToolResultText(marshalToolJSON(note)), nil
}

func (h *Handler) handleNoteDelete(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var params idArgs
	if err := decodeToolArgs(args, &params); err != nil {
		return nil, err
	}
	result, err := h.notesSvc.Delete(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return newToolResultText(marshalToolJSON(result)), nil
}

func (h *Handler) handleUserList(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	if err := decodeToolArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	listed, err := h.usersSvc.List(ctx)
	if err != nil {
		return nil, err
	}
	return newToolResultText(marshalToolJSON(listed)), nil
}

// handleUserDelete goes through the notes service, which owns the
// dependent-notes check.
func (h *Handler) handleUserDelete(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var params idArgs
	if err := decodeToolArgs(args, &params); err != nil {
		return nil, err
	}
	result, err := h.notesSvc.DeleteUser(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return newToolResultText(marshalToolJSON(result)), nil
}
