package intelligence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoped-memory-mcp/internal/ollama"
	"scoped-memory-mcp/internal/scope"
	"scoped-memory-mcp/internal/storage"
)

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
	opts    []ollama.GenerateOptions
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, opts ollama.GenerateOptions) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	return f.reply, f.err
}

func TestFactExtractor_LLM(t *testing.T) {
	gen := &fakeGenerator{reply: "Sure!\n```json\n" + `{"facts":[
		{"fact":"Alice prefers Go","category":"preference","confidence":0.9},
		{"fact":"Alice might like tea","category":"preference","confidence":0.4},
		{"fact":"   ","category":"fact","confidence":0.95},
		{"fact":"Alice ships on Fridays","category":"weird","confidence":0.8}
	]}` + "\n```"}
	e := NewFactExtractor(gen)

	out, err := e.Extract(context.Background(), "some text", 0)
	require.NoError(t, err)
	assert.Equal(t, SourceLLM, out.Source)
	require.Len(t, out.Facts, 2)
	assert.Equal(t, "Alice prefers Go", out.Facts[0].Fact)
	assert.Equal(t, scope.TypePreference, out.Facts[0].Category)
	assert.Equal(t, scope.TypeFact, out.Facts[1].Category)
	assert.True(t, gen.opts[0].JSON)
}

func TestFactExtractor_FallsBackWhenLLMFails(t *testing.T) {
	e := NewFactExtractor(&fakeGenerator{err: errors.New("connection refused")})

	out, err := e.Extract(context.Background(), "I prefer dark mode in every editor.", 0)
	require.NoError(t, err)
	assert.Equal(t, SourceHeuristic, out.Source)
	require.Len(t, out.Facts, 1)
	assert.Equal(t, scope.TypePreference, out.Facts[0].Category)
}

func TestFactExtractor_Heuristic(t *testing.T) {
	e := NewFactExtractor(nil)
	text := `I prefer tabs over spaces. We plan to migrate the API to gRPC next quarter.
I usually review pull requests every morning. Is this a question? Too short.
The deploy is scheduled for tomorrow afternoon. The service stores data in Postgres.
I prefer tabs over spaces.`

	out, err := e.Extract(context.Background(), text, 0)
	require.NoError(t, err)
	assert.Equal(t, SourceHeuristic, out.Source)

	categories := map[string]scope.MemoryType{}
	for _, f := range out.Facts {
		categories[f.Fact] = f.Category
	}
	assert.Len(t, out.Facts, 5)
	assert.Equal(t, scope.TypePreference, categories["I prefer tabs over spaces."])
	assert.Equal(t, scope.TypeGoal, categories["We plan to migrate the API to gRPC next quarter."])
	assert.Equal(t, scope.TypeHabit, categories["I usually review pull requests every morning."])
	assert.Equal(t, scope.TypeEvent, categories["The deploy is scheduled for tomorrow afternoon."])
	assert.Equal(t, scope.TypeFact, categories["The service stores data in Postgres."])
}

func TestFactExtractor_Threshold(t *testing.T) {
	e := NewFactExtractor(nil)
	text := "I prefer short meetings overall. The service stores data in Postgres."

	out, err := e.Extract(context.Background(), text, 0.8)
	require.NoError(t, err)
	require.Len(t, out.Facts, 1)
	assert.Equal(t, scope.TypePreference, out.Facts[0].Category)

	_, err = e.Extract(context.Background(), text, 1.5)
	assert.Error(t, err)
}

func TestFactExtractor_Conversation(t *testing.T) {
	e := NewFactExtractor(nil)
	conv := "user: I prefer Go over Java: it compiles fast.\nassistant: Noted, that sounds good to me."

	out, err := e.ExtractConversation(context.Background(), conv, 0)
	require.NoError(t, err)
	require.NotEmpty(t, out.Facts)
	assert.True(t, strings.HasPrefix(out.Facts[0].Fact, "I prefer Go over Java"))
	for _, f := range out.Facts {
		assert.False(t, strings.HasPrefix(f.Fact, "user:"))
		assert.False(t, strings.HasPrefix(f.Fact, "assistant:"))
	}
}

func TestFactExtractor_Empty(t *testing.T) {
	out, err := NewFactExtractor(nil).Extract(context.Background(), "   ", 0)
	require.NoError(t, err)
	assert.Empty(t, out.Facts)
}

func mem(id, text string, typ scope.MemoryType, tags ...string) storage.Memory {
	encoded := []string{scope.UserTag("alice"), scope.ScopeTag(scope.UserPreference)}
	for _, t := range tags {
		encoded = append(encoded, scope.PayloadTag(t))
	}
	return storage.Memory{ID: id, UserID: "alice", Text: text, Type: typ, Tags: encoded}
}

func TestClusterer_GroupsByDominantTag(t *testing.T) {
	memories := []storage.Memory{
		mem("1", "Postgres connection pooling settings", scope.TypeFact, "database", "ops"),
		mem("2", "Postgres vacuum schedule", scope.TypeFact, "database"),
		mem("3", "Deploy with blue green", scope.TypeFact, "ops"),
		mem("4", "Likes dark mode", scope.TypePreference),
	}

	clusters := NewClusterer().Cluster(memories, 0)
	require.Len(t, clusters, 3)

	assert.Equal(t, "database", clusters[0].Topic)
	assert.Equal(t, []string{"1", "2"}, clusters[0].MemoryIDs)
	assert.Equal(t, 2, clusters[0].Count)
	assert.Contains(t, clusters[0].Keywords, "postgres")

	topics := []string{clusters[1].Topic, clusters[2].Topic}
	assert.ElementsMatch(t, []string{"ops", "preference"}, topics)
}

func TestClusterer_MaxClusters(t *testing.T) {
	var memories []storage.Memory
	for i, tag := range []string{"a", "a", "a", "b", "b", "c", "d", "e"} {
		memories = append(memories, mem(string(rune('0'+i)), "text", scope.TypeFact, tag))
	}

	clusters := NewClusterer().Cluster(memories, 3)
	require.Len(t, clusters, 3)
	assert.Equal(t, "a", clusters[0].Topic)
	assert.Equal(t, "b", clusters[1].Topic)
	assert.Equal(t, OverflowTopic, clusters[2].Topic)
	assert.Equal(t, 3, clusters[2].Count)

	total := 0
	for _, c := range clusters {
		total += c.Count
	}
	assert.Equal(t, len(memories), total)
}

func TestClusterer_Empty(t *testing.T) {
	assert.Empty(t, NewClusterer().Cluster(nil, 5))
}

func TestSummarizer_Heuristic(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	memories := []storage.Memory{
		{ID: "1", Text: "Chose chi for routing", Type: scope.TypeFact, Importance: 8, CreatedAt: now},
		{ID: "2", Text: "Wants OTLP traces", Type: scope.TypeGoal, Importance: 6, CreatedAt: now},
	}

	s := NewSummarizer(nil)
	sum, err := s.Summarize(context.Background(), "Kickoff", memories)
	require.NoError(t, err)

	assert.Equal(t, SourceHeuristic, sum.Source)
	assert.True(t, strings.HasPrefix(sum.Markdown, "# Kickoff"))
	assert.Less(t, strings.Index(sum.Markdown, "Chose chi"), strings.Index(sum.Markdown, "Wants OTLP"))
	assert.Contains(t, sum.HTML, "<h1>Kickoff</h1>")
	assert.Contains(t, sum.HTML, "<li>Chose chi for routing</li>")
}

func TestSummarizer_LLM(t *testing.T) {
	gen := &fakeGenerator{reply: "Overview.\n\n## Key points\n\n- one"}
	s := NewSummarizer(gen)

	sum, err := s.Summarize(context.Background(), "", []storage.Memory{{ID: "1", Text: "one", Type: scope.TypeFact}})
	require.NoError(t, err)
	assert.Equal(t, SourceLLM, sum.Source)
	assert.Contains(t, sum.HTML, "<h2>Key points</h2>")
	assert.Contains(t, gen.prompts[0], "one")
}

func TestSummarizer_NoMemories(t *testing.T) {
	gen := &fakeGenerator{reply: "unused"}
	sum, err := NewSummarizer(gen).Summarize(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Contains(t, sum.Markdown, "No memories")
	assert.Empty(t, gen.prompts)
}
