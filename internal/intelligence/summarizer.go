package intelligence

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/ollama"
	"scoped-memory-mcp/internal/storage"
)

const maxKeyPoints = 10

const summarySystemPrompt = `You summarize a working session from the memories recorded during it.
Write concise Markdown: a one-paragraph overview followed by a "## Key points" bullet list.`

// Summary is a rendered session summary
type Summary struct {
	Markdown string `json:"summary"`
	HTML     string `json:"summary_html"`
	Source   string `json:"source"`
}

// Summarizer writes Markdown summaries and renders them to HTML
type Summarizer struct {
	llm    Generator
	md     goldmark.Markdown
	logger logging.Logger
}

// NewSummarizer creates a summarizer; llm may be nil
func NewSummarizer(llm Generator) *Summarizer {
	return &Summarizer{
		llm:    llm,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger: logging.WithComponent("summarizer"),
	}
}

// Summarize summarizes the memories of one session
func (s *Summarizer) Summarize(ctx context.Context, title string, memories []storage.Memory) (Summary, error) {
	source := SourceHeuristic
	markdown := ""

	if s.llm != nil && len(memories) > 0 {
		reply, err := s.llm.Generate(ctx, summaryPrompt(title, memories), ollama.GenerateOptions{System: summarySystemPrompt})
		switch {
		case err == nil && strings.TrimSpace(reply) != "":
			markdown, source = strings.TrimSpace(reply), SourceLLM
		case ctx.Err() != nil:
			return Summary{}, ctx.Err()
		default:
			s.logger.Warn("llm summary failed, using heuristics", "error", err)
		}
	}
	if markdown == "" {
		markdown = heuristicSummary(title, memories)
	}

	html, err := s.Render(markdown)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Markdown: markdown, HTML: html, Source: source}, nil
}

// Render converts Markdown to HTML
func (s *Summarizer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render summary: %w", err)
	}
	return buf.String(), nil
}

func summaryPrompt(title string, memories []storage.Memory) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Session: %s\n", title)
	}
	b.WriteString("Memories:\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%s, importance %.0f] %s\n", m.Type, m.Importance, m.Text)
	}
	return b.String()
}

func heuristicSummary(title string, memories []storage.Memory) string {
	var b strings.Builder
	if title == "" {
		title = "Session summary"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if len(memories) == 0 {
		b.WriteString("No memories were recorded in this session.\n")
		return b.String()
	}

	ordered := append([]storage.Memory(nil), memories...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Importance != ordered[j].Importance {
			return ordered[i].Importance > ordered[j].Importance
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	fmt.Fprintf(&b, "%d memories recorded.\n\n## Key points\n\n", len(memories))
	for i, m := range ordered {
		if i == maxKeyPoints {
			break
		}
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(m.Text))
	}

	byType := map[string]int{}
	for _, m := range memories {
		byType[string(m.Type)]++
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	b.WriteString("\n## By type\n\n")
	for _, t := range types {
		fmt.Fprintf(&b, "- %s: %d\n", t, byType[t])
	}
	return b.String()
}
