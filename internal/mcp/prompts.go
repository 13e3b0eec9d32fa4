package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const ticketWorkflowPromptName = "ticket_workflow"

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, promptHandler())
	}
}

// PromptDefinitions returns MCP prompt definitions.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        ticketWorkflowPromptName,
			Title:       "Ticketed notes workflow",
			Description: promptDescription,
		},
	}
}

func promptHandler() mcp.PromptHandler {
	return func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: promptDescription,
			Messages: []*mcp.PromptMessage{
				{
					Role:    mcp.Role("user"),
					Content: &mcp.TextContent{Text: promptText},
				},
			},
		}, nil
	}
}

const (
	promptDescription = "How notes, tickets, and owners relate on this endpoint."

	promptText = "Every note belongs to one user and has a ticket number assigned at creation. Ticket numbers only grow and are never reused, so refer to notes by ticket when talking to the user. Note titles are unique: if note_create fails with duplicate_title, ask for a different title rather than retrying. note_update replaces every field, so pass the current values for anything the user did not ask to change. A user who still owns notes cannot be deleted; delete or reassign their notes first. Errors with retryable=true may be retried once."
)
