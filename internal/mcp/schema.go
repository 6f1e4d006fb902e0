package mcp

import (
	mcp "github.com/fredcamaral/gomcp-sdk"

	"scoped-memory-mcp/internal/scope"
)

func enumParam(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"enum":        values,
		"description": description,
	}
}

func integerParam(description string, minimum int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"minimum":     minimum,
		"description": description,
	}
}

func memoryTypeNames() []string {
	out := make([]string, 0, len(scope.MemoryTypes()))
	for _, t := range scope.MemoryTypes() {
		out = append(out, string(t))
	}
	return out
}

func scopeNames() []string {
	out := make([]string, 0, len(scope.All()))
	for _, s := range scope.All() {
		out = append(out, string(s))
	}
	return out
}

// properties is the shared vocabulary of tool arguments
var properties = map[string]map[string]interface{}{
	"scope": enumParam("Memory scope. project needs project_id; agent needs project_id and agent_id; "+
		"user_preference takes no project, agent or session; session needs session_id.", scopeNames()...),
	"user_id":    mcp.StringParam("Acting user. Every read is pinned to this user's memories.", true),
	"project_id": mcp.StringParam("Project identifier", false),
	"project":    mcp.StringParam("Alias of project_id", false),
	"agent_id":   mcp.StringParam("Agent identifier", false),
	"session_id": mcp.StringParam("Session identifier, usually from create_session", false),
	"text":       mcp.StringParam("Memory text", true),
	"visibility": enumParam("Who may read an agent memory: private (this agent only), shared or public (every agent of the project)",
		string(scope.Private), string(scope.Shared), string(scope.Public)),
	"memory_type": enumParam("Memory classification", memoryTypeNames()...),
	"importance": map[string]interface{}{
		"type":        "number",
		"minimum":     0,
		"maximum":     scope.MaxImportance,
		"description": "Importance from 0 to 10, default 5",
	},
	"tags":     mcp.ArraySchema("Free-form tags", map[string]interface{}{"type": "string"}),
	"ttl_days": integerParam("Expire the memory after this many days", 0),
	"run_id":   mcp.StringParam("Identifier of the run that produced the memory, kept in metadata", false),
	"metadata": map[string]interface{}{
		"type":                 "object",
		"additionalProperties": map[string]interface{}{"type": "string"},
		"description":          "String key/value metadata",
	},
	"query":               mcp.StringParam("Natural language query", false),
	"k":                   integerParam("Number of results, default 5", 1),
	"min_importance":      mcp.NumberParam("Only memories at least this important", false),
	"include_related":     mcp.BooleanParam("Also search related scopes; required when scope is omitted", false),
	"include_cross_scope": mcp.BooleanParam("Alias of include_related", false),
	"limit":               integerParam("Maximum number of results", 1),
	"sort_by":             enumParam("Sort field", "created_at", "importance"),
	"order":               enumParam("Sort order, default desc", "desc", "asc"),
	"memory_id":           mcp.StringParam("Memory identifier", true),
	"title":               mcp.StringParam("Session title", false),
	"force":               mcp.BooleanParam("Regenerate a summary that was already stored", false),
	"conversation":        mcp.StringParam("Conversation transcript, one 'speaker: text' turn per line", true),
	"confidence_threshold": map[string]interface{}{
		"type":        "number",
		"minimum":     0,
		"maximum":     1,
		"description": "Minimum extraction confidence, default 0.7",
	},
	"max_clusters": integerParam("Maximum number of clusters, default 10", 1),
	"time_window": enumParam("Time window, default last_day",
		"last_hour", "last_day", "last_week", "last_month", "last_year"),
	"scheduled_for":     mcp.StringParam("RFC3339 time the memory is scheduled for", false),
	"scheduled_for_iso": mcp.StringParam("Alias of scheduled_for", false),
	"recurrence":        mcp.StringParam("daily, weekly, monthly or a cron expression", false),
}

// objectSchema picks named properties from the shared vocabulary
func objectSchema(description string, required []string, names ...string) map[string]interface{} {
	props := make(map[string]interface{}, len(names))
	for _, n := range names {
		p, ok := properties[n]
		if !ok {
			panic("mcp: unknown tool property " + n)
		}
		props[n] = p
	}
	return mcp.ObjectSchema(description, props, required)
}

var (
	identityFields = []string{"user_id", "project_id", "project", "agent_id", "session_id"}
	writeFields    = []string{"text", "visibility", "memory_type", "importance", "tags", "ttl_days", "run_id", "metadata"}
	filterFields   = []string{"memory_type", "tags", "min_importance", "include_related", "include_cross_scope"}
)

func fields(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
