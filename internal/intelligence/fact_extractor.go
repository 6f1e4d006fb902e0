package intelligence

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/ollama"
	"scoped-memory-mcp/internal/scope"
)

// DefaultConfidenceThreshold drops facts the extractor is unsure about
const DefaultConfidenceThreshold = 0.7

// Extraction sources
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// Fact is one statement worth remembering
type Fact struct {
	Fact       string           `json:"fact"`
	Category   scope.MemoryType `json:"category"`
	Confidence float64          `json:"confidence"`
}

// Extraction is the result of one extraction run
type Extraction struct {
	Facts  []Fact `json:"facts"`
	Source string `json:"source"`
}

const extractSystemPrompt = `You extract durable facts about a user from text.
Reply with a single JSON object: {"facts":[{"fact":"...","category":"fact|preference|goal|habit|event|context","confidence":0.0}]}.
Each fact is one short self-contained sentence. Confidence is between 0 and 1.`

// FactExtractor turns free text into categorized facts
type FactExtractor struct {
	llm    Generator
	logger logging.Logger

	sentence   *regexp.Regexp
	speaker    *regexp.Regexp
	preference *regexp.Regexp
	goal       *regexp.Regexp
	habit      *regexp.Regexp
	event      *regexp.Regexp
	context    *regexp.Regexp
}

// NewFactExtractor creates an extractor; llm may be nil
func NewFactExtractor(llm Generator) *FactExtractor {
	return &FactExtractor{
		llm:        llm,
		logger:     logging.WithComponent("fact_extractor"),
		sentence:   regexp.MustCompile(`[^.!?\n]+[.!?]?`),
		speaker:    regexp.MustCompile(`(?m)^\s*[A-Za-z][\w-]{0,20}\s*:\s*`),
		preference: regexp.MustCompile(`(?i)\b(prefer|prefers|like|likes|love|loves|hate|hates|dislike|dislikes|favorite|favourite|rather)\b`),
		goal:       regexp.MustCompile(`(?i)\b(want to|wants to|plan to|plans to|planning|goal|aim to|hope to|trying to|would like to|going to)\b`),
		habit:      regexp.MustCompile(`(?i)\b(usually|always|every (day|morning|evening|week|night)|often|daily|weekly|routinely|tend to)\b`),
		event:      regexp.MustCompile(`(?i)\b(yesterday|today|tomorrow|last (week|month|year)|next (week|month|year)|on (monday|tuesday|wednesday|thursday|friday|saturday|sunday)|meeting|deadline|appointment)\b`),
		context:    regexp.MustCompile(`(?i)\b(working on|currently|this project|the project|codebase|repository|repo)\b`),
	}
}

// Extract returns facts at or above threshold. The LLM is used when configured;
// if it fails or is absent the heuristic extractor runs instead.
func (e *FactExtractor) Extract(ctx context.Context, text string, threshold float64) (Extraction, error) {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if threshold > 1 {
		return Extraction{}, fmt.Errorf("confidence threshold must be between 0 and 1")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Extraction{Facts: []Fact{}, Source: SourceHeuristic}, nil
	}

	if e.llm != nil {
		facts, err := e.extractLLM(ctx, text)
		if err == nil {
			return Extraction{Facts: filterFacts(facts, threshold), Source: SourceLLM}, nil
		}
		if ctx.Err() != nil {
			return Extraction{}, ctx.Err()
		}
		e.logger.Warn("llm extraction failed, using heuristics", "error", err)
	}
	return Extraction{Facts: filterFacts(e.heuristic(text), threshold), Source: SourceHeuristic}, nil
}

// ExtractConversation strips speaker labels before extracting
func (e *FactExtractor) ExtractConversation(ctx context.Context, conversation string, threshold float64) (Extraction, error) {
	return e.Extract(ctx, e.speaker.ReplaceAllString(conversation, ""), threshold)
}

func (e *FactExtractor) extractLLM(ctx context.Context, text string) ([]Fact, error) {
	reply, err := e.llm.Generate(ctx, "Text:\n"+text, ollama.GenerateOptions{
		System: extractSystemPrompt,
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Facts []struct {
			Fact       string  `json:"fact"`
			Category   string  `json:"category"`
			Confidence float64 `json:"confidence"`
		} `json:"facts"`
	}
	if err := decodeJSONObject(reply, &parsed); err != nil {
		return nil, err
	}

	facts := make([]Fact, 0, len(parsed.Facts))
	for _, f := range parsed.Facts {
		text := strings.TrimSpace(f.Fact)
		if text == "" {
			continue
		}
		category, ok := scope.ParseMemoryType(f.Category)
		if !ok || category == "" {
			category = scope.TypeFact
		}
		facts = append(facts, Fact{Fact: text, Category: category, Confidence: f.Confidence})
	}
	return facts, nil
}

// heuristic keeps declarative sentences of four words or more and classifies
// them by keyword. Keyword hits score higher than plain statements.
func (e *FactExtractor) heuristic(text string) []Fact {
	var facts []Fact
	seen := map[string]struct{}{}
	for _, raw := range e.sentence.FindAllString(text, -1) {
		s := strings.TrimSpace(raw)
		if strings.HasSuffix(s, "?") || len(strings.Fields(s)) < 4 {
			continue
		}
		key := strings.ToLower(strings.TrimRight(s, ".!"))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		category, confidence := e.classify(s)
		facts = append(facts, Fact{Fact: s, Category: category, Confidence: confidence})
	}
	return facts
}

func (e *FactExtractor) classify(s string) (scope.MemoryType, float64) {
	switch {
	case e.preference.MatchString(s):
		return scope.TypePreference, 0.85
	case e.goal.MatchString(s):
		return scope.TypeGoal, 0.8
	case e.habit.MatchString(s):
		return scope.TypeHabit, 0.8
	case e.event.MatchString(s):
		return scope.TypeEvent, 0.75
	case e.context.MatchString(s):
		return scope.TypeContext, 0.75
	default:
		return scope.TypeFact, 0.7
	}
}

func filterFacts(facts []Fact, threshold float64) []Fact {
	out := make([]Fact, 0, len(facts))
	for _, f := range facts {
		if f.Fact == "" || f.Confidence < threshold {
			continue
		}
		out = append(out, f)
	}
	return out
}
