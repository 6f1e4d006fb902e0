package mcp

import (
	"context"
	"fmt"
	"strings"

	mcp "github.com/fredcamaral/gomcp-sdk"
	"github.com/fredcamaral/gomcp-sdk/protocol"

	"scoped-memory-mcp/internal/memory"
)

const (
	PromptMemoryWorkflow = "memory_workflow"
	PromptProjectContext = "project_context"

	projectContextMemories = 10
)

func (ms *MemoryServer) registerPrompts() {
	ms.mcpServer.AddPrompt(
		mcp.NewPrompt(PromptMemoryWorkflow, "How to use the scoped memory tools while working on a task",
			[]protocol.PromptArgument{
				mcp.NewPromptArgument("user_id", "Acting user", true),
				mcp.NewPromptArgument("project", "Project the task belongs to", false),
				mcp.NewPromptArgument("task_description", "What the agent is about to do", false),
			}),
		mcp.PromptHandlerFunc(ms.memoryWorkflowPrompt),
	)
	ms.mcpServer.AddPrompt(
		mcp.NewPrompt(PromptProjectContext, "Briefing built from the most recent project memories",
			[]protocol.PromptArgument{
				mcp.NewPromptArgument("user_id", "Acting user", true),
				mcp.NewPromptArgument("project", "Project identifier", true),
			}),
		mcp.PromptHandlerFunc(ms.projectContextPrompt),
	)
}

func promptArg(args map[string]interface{}, name string, required bool) (string, error) {
	v, _ := args[name].(string)
	v = strings.TrimSpace(v)
	if v == "" && required {
		return "", fmt.Errorf("prompt argument %s is required", name)
	}
	return v, nil
}

func (ms *MemoryServer) memoryWorkflowPrompt(_ context.Context, args map[string]interface{}) ([]protocol.Content, error) {
	user, err := promptArg(args, "user_id", true)
	if err != nil {
		return nil, err
	}
	project, _ := promptArg(args, "project", false)
	task, _ := promptArg(args, "task_description", false)

	var b strings.Builder
	fmt.Fprintf(&b, "You are working for user %q.", user)
	if project != "" {
		fmt.Fprintf(&b, " The project is %q.", project)
	}
	if task != "" {
		fmt.Fprintf(&b, "\n\nTask: %s", task)
	}
	b.WriteString("\n\nBefore starting:\n")
	b.WriteString("1. Call recall_user_preferences to load how this user likes to work.\n")
	if project != "" {
		b.WriteString("2. Call recall_project_context with the task as query to load decisions and conventions.\n")
	} else {
		b.WriteString("2. If the task belongs to a project, call recall_project_context for it.\n")
	}
	b.WriteString("\nWhile working:\n")
	b.WriteString("- Store durable decisions with remember_project_memory.\n")
	b.WriteString("- Store notes only your agent needs with remember_agent_memory and visibility private.\n")
	b.WriteString("- Store stated preferences with remember_user_preference.\n")
	b.WriteString("\nEvery call must carry user_id. Scopes never leak across users.")

	return []protocol.Content{protocol.NewContent(b.String())}, nil
}

func (ms *MemoryServer) projectContextPrompt(ctx context.Context, args map[string]interface{}) ([]protocol.Content, error) {
	user, err := promptArg(args, "user_id", true)
	if err != nil {
		return nil, err
	}
	project, err := promptArg(args, "project", true)
	if err != nil {
		return nil, err
	}

	in := memory.ListInput{Limit: projectContextMemories}
	in.Scope = "project"
	in.UserID = user
	in.ProjectID = project
	env := ms.service.List(memory.WithToolName(ctx, PromptProjectContext), in)
	if !env.OK() {
		return nil, fmt.Errorf("failed to load project memories: %s", env.Error.Message)
	}
	listed, _ := env.Data.(memory.ListResult)

	var b strings.Builder
	fmt.Fprintf(&b, "Context for project %q.\n", project)
	if len(listed.Memories) == 0 {
		b.WriteString("\nNo project memories are stored yet.")
	} else {
		b.WriteString("\nMost recent project memories:\n")
		for _, m := range listed.Memories {
			fmt.Fprintf(&b, "- [%s, importance %.0f] %s\n", m.MemoryType, m.Importance, m.Text)
		}
	}
	return []protocol.Content{protocol.NewContent(b.String())}, nil
}
