package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scoped-memory-mcp/internal/scope"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memoryFor validates raw and builds a stored memory the way the service does
func memoryFor(t *testing.T, id string, raw scope.RawRequest, embedding []float32, age time.Duration) Memory {
	t.Helper()
	req, err := scope.Validate(raw)
	require.NoError(t, err)
	return Memory{
		ID:         id,
		UserID:     req.UserID,
		Text:       req.Text,
		Type:       req.MemoryType,
		Importance: req.Importance,
		Tags:       scope.EncodeTags(req),
		Metadata:   req.Metadata,
		CreatedAt:  baseTime.Add(-age),
		UpdatedAt:  baseTime.Add(-age),
		Embedding:  embedding,
	}
}

func projectWrite(user, project, text string) scope.RawRequest {
	return scope.RawRequest{Scope: "project", Identity: scope.Identity{UserID: user, ProjectID: project}, Text: text}
}

func filterFor(t *testing.T, raw scope.RawQuery) scope.Filter {
	t.Helper()
	q, err := scope.ValidateQuery(raw)
	require.NoError(t, err)
	return scope.EncodeFilter(scope.SpecFor(q))
}
