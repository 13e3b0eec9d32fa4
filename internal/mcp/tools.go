package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

const (
	toolNoteList   = "note_list"
	toolNoteCreate = "note_create"
	toolNoteUpdate = "note_update"
	toolNoteDelete = "note_delete"
	toolUserList   = "user_list"
	toolUserDelete = "user_delete"
)

// ToolDefinitions returns every tool mounted on the MCP endpoint.
func ToolDefinitions() []*mcp.Tool {
	all := NoteToolDefinitions()
	return append(all, UserToolDefinitions()...)
}

// NoteToolDefinitions returns the notes MCP tool definitions.
func NoteToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        toolNoteList,
			Description: "Notes tool. List every note in ticket order. Each note carries its ticket number, owner id, title, text, completed flag, timestamps, and the owner's username (null when the owner could not be resolved). Fails with no_results when there are no notes.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        toolNoteCreate,
			Description: "Notes tool. Create a note owned by an existing user. Titles are unique across all notes; a duplicate title fails with duplicate_title. The new note is assigned the next ticket number and starts not completed. Returns the stored note.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user": map[string]any{
						"type":        "string",
						"description": "The id of the user who owns the note",
					},
					"title": map[string]any{
						"type":        "string",
						"description": "The note title, unique across all notes",
					},
					"text": map[string]any{
						"type":        "string",
						"description": "The note body",
					},
				},
				"required": []string{"user", "title", "text"},
			},
		},
		{
			Name:        toolNoteUpdate,
			Description: "Notes tool. Replace a note's owner, title, text, and completed flag. Every field is required, including completed. The ticket number and creation time never change. Keeping the note's own title is allowed; taking another note's title fails with duplicate_title.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{
						"type":        "string",
						"description": "The id of the note to update",
					},
					"user": map[string]any{
						"type":        "string",
						"description": "The id of the user who owns the note",
					},
					"title": map[string]any{
						"type":        "string",
						"description": "The new title",
					},
					"text": map[string]any{
						"type":        "string",
						"description": "The new body",
					},
					"completed": map[string]any{
						"type":        "boolean",
						"description": "Whether the note is done",
					},
				},
				"required": []string{"id", "user", "title", "text", "completed"},
			},
		},
		{
			Name:        toolNoteDelete,
			Description: "Notes tool. Permanently delete a note by id. Its ticket number is never reissued.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{
						"type":        "string",
						"description": "The id of the note to delete",
					},
				},
				"required": []string{"id"},
			},
		},
	}
}

// UserToolDefinitions returns the user MCP tool definitions. Accounts are
// created over the HTTP API only, since tool arguments are not a place for
// passwords.
func UserToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        toolUserList,
			Description: "Users tool. List every user by username. Password hashes are never returned.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        toolUserDelete,
			Description: "Users tool. Delete a user by id. Fails with has_dependent_notes while any note is owned by the user; reassign or delete those notes first.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{
						"type":        "string",
						"description": "The id of the user to delete",
					},
				},
				"required": []string{"id"},
			},
		},
	}
}
