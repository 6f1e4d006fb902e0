package mcp

import (
	"context"

	"scoped-memory-mcp/internal/memory"
	"scoped-memory-mcp/internal/scope"
)

// Scope-specific aliases of remember and recall
const (
	ToolRememberProjectMemory  = "remember_project_memory"
	ToolRememberAgentMemory    = "remember_agent_memory"
	ToolRememberUserPreference = "remember_user_preference"
	ToolRecallProjectContext   = "recall_project_context"
	ToolRecallAgentContext     = "recall_agent_context"
	ToolRecallUserPreferences  = "recall_user_preferences"
)

type toolSpec struct {
	name        string
	description string
	schema      map[string]interface{}
	handle      handlerFunc
}

// rememberAs pins the scope of a remember call and reports it under the alias name
func rememberAs(svc *memory.Service, tool string, s scope.Scope) handlerFunc {
	return bind(svc, tool, func(ctx context.Context, in memory.RememberInput) memory.Envelope {
		in.Scope = string(s)
		return svc.Remember(memory.WithToolName(ctx, tool), in)
	})
}

func recallAs(svc *memory.Service, tool string, s scope.Scope) handlerFunc {
	return bind(svc, tool, func(ctx context.Context, in memory.RecallInput) memory.Envelope {
		in.Scope = string(s)
		return svc.Recall(memory.WithToolName(ctx, tool), in)
	})
}

func (ms *MemoryServer) toolSpecs() []toolSpec {
	svc := ms.service
	user := []string{"user_id"}

	return []toolSpec{
		{
			name: memory.ToolRemember,
			description: "Store a memory. The scope decides which identifiers are required; " +
				"when scope is omitted it is inferred from the most specific identifier given.",
			schema: objectSchema("Memory to store", []string{"user_id", "text"},
				fields([]string{"scope"}, identityFields, writeFields)...),
			handle: bind(svc, memory.ToolRemember, svc.Remember),
		},
		{
			name:        memory.ToolRecall,
			description: "Semantic search over the caller's memories in one scope, optionally widened to related scopes.",
			schema: objectSchema("Recall query", user,
				fields([]string{"scope", "query", "k"}, identityFields, filterFields)...),
			handle: bind(svc, memory.ToolRecall, svc.Recall),
		},
		{
			name:        memory.ToolGetMemories,
			description: "List memories in a scope without a query, sorted by creation time or importance.",
			schema: objectSchema("Listing parameters", user,
				fields([]string{"scope", "limit", "sort_by", "order"}, identityFields, filterFields)...),
			handle: bind(svc, memory.ToolGetMemories, svc.List),
		},
		{
			name:        memory.ToolUpdateMemory,
			description: "Change the text, importance, type, tags or metadata of a memory the caller owns.",
			schema: objectSchema("Memory update", []string{"memory_id", "user_id"},
				"memory_id", "user_id", "text", "importance", "memory_type", "tags", "metadata"),
			handle: bind(svc, memory.ToolUpdateMemory, svc.Update),
		},
		{
			name:        memory.ToolDeleteMemory,
			description: "Delete a memory the caller owns.",
			schema:      objectSchema("Memory to delete", []string{"memory_id", "user_id"}, "memory_id", "user_id"),
			handle:      bind(svc, memory.ToolDeleteMemory, svc.Delete),
		},
		{
			name:        memory.ToolMemoryStatistics,
			description: "Counts of the caller's memories by type and scope, with average importance.",
			schema:      objectSchema("Statistics request", user, "user_id"),
			handle:      bind(svc, memory.ToolMemoryStatistics, svc.Stats),
		},
		{
			name:        ToolRememberProjectMemory,
			description: "Store a project memory shared by every agent working on the project.",
			schema: objectSchema("Project memory", []string{"user_id", "project_id", "text"},
				fields([]string{"user_id", "project_id", "project"}, writeFields)...),
			handle: rememberAs(svc, ToolRememberProjectMemory, scope.Project),
		},
		{
			name:        ToolRememberAgentMemory,
			description: "Store a memory for one agent of a project. Private memories are only visible to that agent.",
			schema: objectSchema("Agent memory", []string{"user_id", "project_id", "agent_id", "text"},
				fields([]string{"user_id", "project_id", "project", "agent_id"}, writeFields)...),
			handle: rememberAs(svc, ToolRememberAgentMemory, scope.Agent),
		},
		{
			name:        ToolRememberUserPreference,
			description: "Store a user preference that applies across all projects.",
			schema: objectSchema("User preference", []string{"user_id", "text"},
				fields([]string{"user_id"}, writeFields)...),
			handle: rememberAs(svc, ToolRememberUserPreference, scope.UserPreference),
		},
		{
			name:        ToolRecallProjectContext,
			description: "Search the project scope.",
			schema: objectSchema("Project recall", []string{"user_id", "project_id"},
				fields([]string{"user_id", "project_id", "project", "query", "k"}, filterFields)...),
			handle: recallAs(svc, ToolRecallProjectContext, scope.Project),
		},
		{
			name:        ToolRecallAgentContext,
			description: "Search what one agent may see: its own memories plus shared memories of the project's agents.",
			schema: objectSchema("Agent recall", []string{"user_id", "project_id", "agent_id"},
				fields([]string{"user_id", "project_id", "project", "agent_id", "query", "k"}, filterFields)...),
			handle: recallAs(svc, ToolRecallAgentContext, scope.Agent),
		},
		{
			name:        ToolRecallUserPreferences,
			description: "Search the caller's preferences. Project, agent and session identifiers are ignored.",
			schema: objectSchema("Preference recall", user,
				fields([]string{"user_id", "query", "k"}, filterFields)...),
			handle: recallAs(svc, ToolRecallUserPreferences, scope.UserPreference),
		},
		{
			name:        memory.ToolCreateSession,
			description: "Open a session; the returned id scopes session memories.",
			schema:      objectSchema("New session", user, "user_id", "project_id", "project", "title"),
			handle:      bind(svc, memory.ToolCreateSession, svc.CreateSession),
		},
		{
			name:        memory.ToolGetSessionMemories,
			description: "List the memories recorded in one of the caller's sessions, oldest first.",
			schema:      objectSchema("Session listing", []string{"user_id", "session_id"}, "user_id", "session_id", "limit"),
			handle:      bind(svc, memory.ToolGetSessionMemories, svc.SessionMemories),
		},
		{
			name:        memory.ToolSummarizeSession,
			description: "Summarize a session as markdown. The summary is stored and reused unless force is set.",
			schema:      objectSchema("Session summary", []string{"user_id", "session_id"}, "user_id", "session_id", "force"),
			handle:      bind(svc, memory.ToolSummarizeSession, svc.SummarizeSession),
		},
		{
			name:        memory.ToolGetAgentMemories,
			description: "List the memories one agent can see in a project.",
			schema: objectSchema("Agent listing", []string{"user_id", "project_id", "agent_id"},
				"user_id", "project_id", "project", "agent_id", "memory_type", "limit"),
			handle: bind(svc, memory.ToolGetAgentMemories, svc.AgentMemories),
		},
		{
			name:        memory.ToolExtractFacts,
			description: "Extract candidate facts from text without storing them.",
			schema: objectSchema("Extraction input", []string{"user_id", "text"},
				"user_id", "text", "confidence_threshold"),
			handle: bind(svc, memory.ToolExtractFacts, svc.ExtractFacts),
		},
		{
			name:        memory.ToolExtractFromConversation,
			description: "Extract facts from a conversation and store each one as a memory in the given scope.",
			schema: objectSchema("Conversation", []string{"user_id", "conversation"},
				fields([]string{"scope", "conversation", "visibility", "tags", "confidence_threshold"}, identityFields)...),
			handle: bind(svc, memory.ToolExtractFromConversation, svc.ExtractFromConversation),
		},
		{
			name:        memory.ToolClusterMemories,
			description: "Group the caller's memories by topic.",
			schema:      objectSchema("Clustering input", user, "user_id", "max_clusters"),
			handle:      bind(svc, memory.ToolClusterMemories, svc.ClusterMemories),
		},
		{
			name: memory.ToolGetRecentMemories,
			description: "Memories created within a time window, newest first. Without a scope every memory " +
				"the caller owns is considered.",
			schema: objectSchema("Recent memories", user,
				fields([]string{"scope", "time_window", "limit"}, identityFields, filterFields)...),
			handle: bind(svc, memory.ToolGetRecentMemories, svc.RecentMemories),
		},
		{
			name:        memory.ToolScheduleMemory,
			description: "Store a memory tied to a future time, optionally recurring.",
			schema: objectSchema("Scheduled memory", []string{"user_id", "text"},
				fields([]string{"scope", "scheduled_for", "scheduled_for_iso", "recurrence"}, identityFields, writeFields)...),
			handle: bind(svc, memory.ToolScheduleMemory, svc.ScheduleMemory),
		},
		{
			name:        memory.ToolTelemetryMetrics,
			description: "Per-tool call counts, error counts and latencies since the server started.",
			schema:      objectSchema("No arguments", nil),
			handle: func(ctx context.Context, _ map[string]interface{}) memory.Envelope {
				return svc.TelemetryMetrics(ctx)
			},
		},
		{
			name:        memory.ToolRecentOperations,
			description: "The caller's most recent tool calls with outcome and latency.",
			schema:      objectSchema("Recent operations", user, "user_id", "limit"),
			handle:      bind(svc, memory.ToolRecentOperations, svc.RecentOperations),
		},
	}
}
