package scope

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "scoped-memory-mcp/internal/errors"
)

func fullIdentity() Identity {
	return Identity{UserID: "alice", ProjectID: "P1", AgentID: "A1", SessionID: "S1"}
}

// validFor builds a raw write that satisfies s exactly
func validFor(s Scope) RawRequest {
	raw := RawRequest{Scope: string(s), Text: "remember this"}
	raw.UserID = "alice"
	switch s {
	case Project:
		raw.ProjectID = "P1"
	case Agent:
		raw.ProjectID = "P1"
		raw.AgentID = "A1"
	case Session:
		raw.SessionID = "S1"
	}
	return raw
}

func violationsOf(t *testing.T, err error) []mcperrors.ValidationDetail {
	t.Helper()
	require.Error(t, err)
	var se *mcperrors.StandardError
	require.ErrorAs(t, err, &se)
	require.Equal(t, mcperrors.ErrorCodeScopeValidationError, se.ErrorInfo.Code)
	details, ok := se.ErrorInfo.Details.(mcperrors.ScopeViolations)
	require.True(t, ok)
	return details.Violations
}

func TestRequirementsFor(t *testing.T) {
	tests := []struct {
		scope      Scope
		required   []Field
		forbidden  []Field
		visibility bool
	}{
		{Project, []Field{FieldUserID, FieldProjectID}, []Field{FieldSessionID}, false},
		{Agent, []Field{FieldUserID, FieldProjectID, FieldAgentID}, []Field{FieldSessionID}, true},
		{UserPreference, []Field{FieldUserID}, []Field{FieldProjectID, FieldAgentID, FieldSessionID}, false},
		{Session, []Field{FieldUserID, FieldSessionID}, nil, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			r, err := RequirementsFor(tt.scope)
			require.NoError(t, err)
			assert.Equal(t, tt.required, r.Required)
			assert.ElementsMatch(t, tt.forbidden, r.Forbidden)
			assert.Equal(t, tt.visibility, r.VisibilityMeaningful)
		})
	}

	_, err := RequirementsFor("team")
	assert.True(t, mcperrors.Is(err, mcperrors.ErrorCodeInvalidScope))
}

func TestRequirementsFor_ReturnsCopies(t *testing.T) {
	r, err := RequirementsFor(Agent)
	require.NoError(t, err)
	r.Required[0] = "hijacked"

	again, _ := RequirementsFor(Agent)
	assert.Equal(t, FieldUserID, again.Required[0])
}

func TestParse(t *testing.T) {
	for _, in := range []string{"project", "PROJECT", " Project "} {
		s, err := Parse(in)
		require.NoError(t, err)
		assert.Equal(t, Project, s)
	}

	s, err := Parse("User-Preference")
	require.NoError(t, err)
	assert.Equal(t, UserPreference, s)

	_, err = Parse("global")
	assert.True(t, mcperrors.Is(err, mcperrors.ErrorCodeInvalidScope))
}

func TestValidate_MissingRequiredField(t *testing.T) {
	for _, s := range All() {
		reqs, _ := RequirementsFor(s)
		for _, f := range reqs.Required {
			t.Run(string(s)+"/"+string(f), func(t *testing.T) {
				raw := validFor(s)
				raw.Identity.clear(f)
				if f == FieldUserID {
					raw.UserID = ""
				}

				_, err := Validate(raw)
				violations := violationsOf(t, err)
				require.Len(t, violations, 1)
				assert.Equal(t, string(f), violations[0].Field)
				assert.Equal(t, mcperrors.ReasonMissing, violations[0].Reason)
			})
		}
	}
}

func TestValidate_EmptyAndWhitespaceAreMissing(t *testing.T) {
	raw := validFor(Project)
	raw.ProjectID = "   "

	violations := violationsOf(t, func() error { _, err := Validate(raw); return err }())
	require.Len(t, violations, 1)
	assert.Equal(t, "project_id", violations[0].Field)
}

func TestValidate_ForbiddenFieldRejected(t *testing.T) {
	for _, s := range All() {
		reqs, _ := RequirementsFor(s)
		for _, f := range reqs.Forbidden {
			t.Run(string(s)+"/"+string(f), func(t *testing.T) {
				raw := validFor(s)
				full := fullIdentity()
				switch f {
				case FieldProjectID:
					raw.ProjectID = full.ProjectID
				case FieldAgentID:
					raw.AgentID = full.AgentID
				case FieldSessionID:
					raw.SessionID = full.SessionID
				}

				_, err := Validate(raw)
				violations := violationsOf(t, err)
				require.Len(t, violations, 1)
				assert.Equal(t, string(f), violations[0].Field)
				assert.Equal(t, mcperrors.ReasonForbidden, violations[0].Reason)
			})
		}
	}
}

func TestValidate_AccumulatesAllViolations(t *testing.T) {
	raw := RawRequest{Scope: "user_preference", Identity: Identity{ProjectID: "P1", AgentID: "A1", SessionID: "S1"}}

	_, err := Validate(raw)
	violations := violationsOf(t, err)

	fields := make([]string, 0, len(violations))
	for _, v := range violations {
		fields = append(fields, v.Field)
	}
	assert.Equal(t, []string{"user_id", "project_id", "agent_id", "session_id", "text"}, fields)
}

func TestValidate_InvalidScopeShortCircuits(t *testing.T) {
	for _, in := range []string{"", "galaxy"} {
		_, err := Validate(RawRequest{Scope: in})
		require.Error(t, err)
		assert.True(t, mcperrors.Is(err, mcperrors.ErrorCodeInvalidScope), "scope %q", in)
	}
}

func TestValidate_AgentWithoutAgentID(t *testing.T) {
	raw := RawRequest{Scope: "AGENT", Text: "x"}
	raw.UserID = "alice"
	raw.ProjectID = "P1"

	_, err := Validate(raw)
	violations := violationsOf(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "agent_id", violations[0].Field)
}

func TestValidate_Normalizes(t *testing.T) {
	imp := 8.0
	raw := validFor(Agent)
	raw.Visibility = ""
	raw.Tags = []string{" go ", "go", "", "api"}
	raw.Importance = &imp
	raw.MemoryType = "Preference"
	raw.Metadata = map[string]string{"source": "chat"}

	req, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, Agent, req.Scope)
	assert.Equal(t, Private, req.Visibility)
	assert.Equal(t, []string{"go", "api"}, req.Tags)
	assert.Equal(t, 8.0, req.Importance)
	assert.Equal(t, TypePreference, req.MemoryType)

	raw.Metadata["source"] = "mutated"
	assert.Equal(t, "chat", req.Metadata["source"])
}

func TestValidate_VisibilityOnlyForAgent(t *testing.T) {
	raw := validFor(Project)
	raw.Visibility = "shared"

	req, err := Validate(raw)
	require.NoError(t, err)
	assert.Empty(t, req.Visibility)

	agent := validFor(Agent)
	agent.Visibility = "everyone"
	violations := violationsOf(t, func() error { _, err := Validate(agent); return err }())
	assert.Equal(t, "visibility", violations[0].Field)
	assert.Equal(t, mcperrors.ReasonInvalid, violations[0].Reason)
}

func TestValidate_PayloadDomains(t *testing.T) {
	bad := 11.0
	raw := validFor(Session)
	raw.Importance = &bad
	raw.MemoryType = "rumour"
	raw.TTLDays = -1

	violations := violationsOf(t, func() error { _, err := Validate(raw); return err }())
	fields := []string{}
	for _, v := range violations {
		fields = append(fields, v.Field)
	}
	assert.Equal(t, []string{"importance", "memory_type", "ttl_days"}, fields)
}

func TestValidate_Defaults(t *testing.T) {
	req, err := Validate(validFor(Session))
	require.NoError(t, err)
	assert.Equal(t, DefaultImportance, req.Importance)
	assert.Equal(t, TypeFact, req.MemoryType)
}

func TestValidateQuery(t *testing.T) {
	t.Run("forbidden context is dropped", func(t *testing.T) {
		raw := RawQuery{Scope: "user_preference"}
		raw.UserID = "alice"
		raw.ProjectID = "P2"

		q, err := ValidateQuery(raw)
		require.NoError(t, err)
		assert.Equal(t, UserPreference, q.Scope)
		assert.Empty(t, q.ProjectID)
	})

	t.Run("required fields enforced", func(t *testing.T) {
		raw := RawQuery{Scope: "agent"}
		raw.UserID = "alice"
		raw.ProjectID = "P1"

		_, err := ValidateQuery(raw)
		violations := violationsOf(t, err)
		require.Len(t, violations, 1)
		assert.Equal(t, "agent_id", violations[0].Field)
	})

	t.Run("missing scope without opt-in", func(t *testing.T) {
		raw := RawQuery{}
		raw.UserID = "alice"
		_, err := ValidateQuery(raw)
		assert.True(t, mcperrors.Is(err, mcperrors.ErrorCodeInvalidScope))
	})

	t.Run("unscoped with opt-in", func(t *testing.T) {
		raw := RawQuery{IncludeRelated: true}
		raw.UserID = "alice"
		raw.AgentID = "A1"
		q, err := ValidateQuery(raw)
		require.NoError(t, err)
		assert.True(t, q.Unscoped())
		assert.Equal(t, "A1", q.AgentID)
	})

	t.Run("min importance bounded", func(t *testing.T) {
		for _, v := range []float64{-1, 11, math.NaN()} {
			raw := RawQuery{Scope: "user_preference", MinImportance: &v}
			raw.UserID = "alice"
			_, err := ValidateQuery(raw)
			violations := violationsOf(t, err)
			assert.Equal(t, "importance", violations[0].Field)
		}
	})

	t.Run("unscoped still needs a user", func(t *testing.T) {
		_, err := ValidateQuery(RawQuery{IncludeRelated: true})
		violations := violationsOf(t, err)
		assert.Equal(t, "user_id", violations[0].Field)
	})
}

func TestInfer(t *testing.T) {
	assert.Equal(t, Agent, Infer(Identity{UserID: "u", ProjectID: "p", AgentID: "a"}))
	assert.Equal(t, Project, Infer(Identity{UserID: "u", ProjectID: "p"}))
	assert.Equal(t, Session, Infer(Identity{UserID: "u", SessionID: "s"}))
	assert.Equal(t, UserPreference, Infer(Identity{UserID: "u"}))
}

func TestParseMinImportance(t *testing.T) {
	v, ok := ParseMinImportance(nil)
	assert.True(t, ok)
	assert.Zero(t, v)

	five := 5.0
	v, ok = ParseMinImportance(&five)
	assert.True(t, ok)
	assert.Equal(t, 5.0, v)

	nan := math.NaN()
	_, ok = ParseMinImportance(&nan)
	assert.False(t, ok)
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "jos\u00e9", NormalizeID("  jose\u0301 "))
	assert.Equal(t, UserTag(NormalizeID("jose\u0301")), UserTag("jos\u00e9"))
}
