// Package intelligence derives facts, clusters and summaries from memories, using an
// LLM when one is configured and deterministic heuristics otherwise.
package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scoped-memory-mcp/internal/ollama"
)

// Generator is a text completion backend
type Generator interface {
	Generate(ctx context.Context, prompt string, opts ollama.GenerateOptions) (string, error)
}

// decodeJSONObject parses the first JSON object in a model reply, tolerating
// surrounding prose or code fences.
func decodeJSONObject(reply string, v interface{}) error {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in model reply")
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to decode model reply: %w", err)
	}
	return nil
}
