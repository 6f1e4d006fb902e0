package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustValidate(t *testing.T, raw RawRequest) Request {
	t.Helper()
	req, err := Validate(raw)
	require.NoError(t, err)
	return req
}

func agentWrite(agent string, vis Visibility) RawRequest {
	raw := validFor(Agent)
	raw.AgentID = agent
	raw.Visibility = string(vis)
	return raw
}

func TestEncodeTags_Deterministic(t *testing.T) {
	raw := validFor(Agent)
	raw.Tags = []string{"zeta", "alpha", "zeta"}
	req := mustValidate(t, raw)

	first := EncodeTags(req)
	second := EncodeTags(req)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{
		"agent:A1",
		"project:P1",
		"scope:agent",
		"tag:alpha",
		"tag:zeta",
		"user:alice",
		"visibility:private",
	}, first)
}

func TestEncodeTags_DoesNotAliasRequest(t *testing.T) {
	raw := validFor(Project)
	raw.Tags = []string{"b", "a"}
	req := mustValidate(t, raw)

	_ = EncodeTags(req)
	assert.Equal(t, []string{"b", "a"}, req.Tags)
}

func TestDecodeTags_RoundTrip(t *testing.T) {
	for _, s := range All() {
		t.Run(string(s), func(t *testing.T) {
			raw := validFor(s)
			raw.Tags = []string{"project:P9", "x:y"}
			req := mustValidate(t, raw)

			d := DecodeTags(EncodeTags(req))
			assert.Equal(t, req.Scope, d.Scope)
			assert.Equal(t, req.Identity, d.Identity)
			assert.Equal(t, req.Visibility, d.Visibility)
			assert.ElementsMatch(t, req.Tags, d.Tags)
		})
	}
}

func TestEncodeFilter_RetrievesOwnWrites(t *testing.T) {
	for _, s := range All() {
		t.Run(string(s), func(t *testing.T) {
			req := mustValidate(t, validFor(s))
			f := EncodeFilter(FilterSpec{Scope: s, Identity: req.Identity})
			assert.True(t, f.Matches(EncodeTags(req)))
		})
	}
}

func TestEncodeFilter_Isolation(t *testing.T) {
	req := mustValidate(t, validFor(Project))
	tags := EncodeTags(req)

	other := []Identity{
		{UserID: "bob", ProjectID: "P1"},
		{UserID: "alice", ProjectID: "P2"},
	}
	for _, id := range other {
		assert.False(t, EncodeFilter(FilterSpec{Scope: Project, Identity: id}).Matches(tags), "%+v", id)
		assert.False(t, EncodeFilter(FilterSpec{Scope: Project, Identity: id, IncludeRelated: true}).Matches(tags), "%+v", id)
	}
}

func TestEncodeFilter_NamespacesPreventCrossMatch(t *testing.T) {
	raw := validFor(Project)
	raw.ProjectID = "shared-name"
	raw.Tags = []string{"agent:shared-name"}
	tags := EncodeTags(mustValidate(t, raw))

	f := EncodeFilter(FilterSpec{Scope: Agent, Identity: Identity{UserID: "alice", ProjectID: "other", AgentID: "shared-name"}})
	assert.False(t, f.Matches(tags))
}

func TestEncodeFilter_AgentVisibility(t *testing.T) {
	private := EncodeTags(mustValidate(t, agentWrite("A1", Private)))
	shared := EncodeTags(mustValidate(t, agentWrite("A1", Shared)))
	public := EncodeTags(mustValidate(t, agentWrite("A1", Public)))

	fromA1 := EncodeFilter(FilterSpec{Scope: Agent, Identity: Identity{UserID: "alice", ProjectID: "P1", AgentID: "A1"}})
	fromA2 := EncodeFilter(FilterSpec{Scope: Agent, Identity: Identity{UserID: "alice", ProjectID: "P1", AgentID: "A2"}})
	otherProject := EncodeFilter(FilterSpec{Scope: Agent, Identity: Identity{UserID: "alice", ProjectID: "P2", AgentID: "A2"}})

	assert.True(t, fromA1.Matches(private))
	assert.False(t, fromA2.Matches(private))
	assert.True(t, fromA2.Matches(shared))
	assert.True(t, fromA2.Matches(public))
	assert.False(t, otherProject.Matches(shared))
}

func TestEncodeFilter_StrictDoesNotCrossScopes(t *testing.T) {
	project := EncodeTags(mustValidate(t, validFor(Project)))
	pref := EncodeTags(mustValidate(t, validFor(UserPreference)))

	agentStrict := EncodeFilter(FilterSpec{Scope: Agent, Identity: Identity{UserID: "alice", ProjectID: "P1", AgentID: "A1"}})
	assert.False(t, agentStrict.Matches(project))
	assert.False(t, agentStrict.Matches(pref))

	agentRelated := EncodeFilter(FilterSpec{Scope: Agent, Identity: Identity{UserID: "alice", ProjectID: "P1", AgentID: "A1"}, IncludeRelated: true})
	assert.True(t, agentRelated.Matches(project))
	assert.True(t, agentRelated.Matches(pref))
}

func TestEncodeFilter_RelatedKeepsPrivateAgentMemoriesPrivate(t *testing.T) {
	private := EncodeTags(mustValidate(t, agentWrite("A1", Private)))

	projectRelated := EncodeFilter(FilterSpec{Scope: Project, Identity: Identity{UserID: "alice", ProjectID: "P1"}, IncludeRelated: true})
	assert.False(t, projectRelated.Matches(private))

	unscoped := EncodeFilter(FilterSpec{Identity: Identity{UserID: "alice", AgentID: "A2"}, IncludeRelated: true})
	assert.False(t, unscoped.Matches(private))

	unscopedOwner := EncodeFilter(FilterSpec{Identity: Identity{UserID: "alice", AgentID: "A1"}, IncludeRelated: true})
	assert.True(t, unscopedOwner.Matches(private))
}

func TestEncodeFilter_Idempotent(t *testing.T) {
	spec := FilterSpec{Scope: Agent, Identity: Identity{UserID: "alice", ProjectID: "P1", AgentID: "A1"}, IncludeRelated: true}
	assert.Equal(t, EncodeFilter(spec), EncodeFilter(spec))
	assert.Equal(t, EncodeFilter(spec).Key(), EncodeFilter(spec).Key())
}

func TestFilter_With(t *testing.T) {
	base := EncodeFilter(FilterSpec{Scope: UserPreference, Identity: Identity{UserID: "alice"}})
	narrowed := base.With(PayloadTag("editor"))

	assert.Len(t, base.Must, 2)
	assert.Contains(t, narrowed.Must, "tag:editor")
	assert.NotEqual(t, base.Key(), narrowed.Key())
}

func TestPayloadTags(t *testing.T) {
	assert.Equal(t, []string{"go", "a:b"}, PayloadTags([]string{"tag:go", "user:alice", "tag:a:b"}))
}
