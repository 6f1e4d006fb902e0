package intelligence

import (
	"sort"
	"strings"

	"scoped-memory-mcp/internal/embeddings"
	"scoped-memory-mcp/internal/scope"
	"scoped-memory-mcp/internal/storage"
)

// DefaultMaxClusters bounds cluster_memories output
const DefaultMaxClusters = 10

// OverflowTopic collects memories of the clusters beyond the limit
const OverflowTopic = "other"

// Cluster is a group of memories sharing a topic
type Cluster struct {
	Topic     string   `json:"topic"`
	Keywords  []string `json:"keywords,omitempty"`
	MemoryIDs []string `json:"memories"`
	Count     int      `json:"memory_count"`
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "to": {}, "of": {}, "in": {}, "on": {}, "for": {}, "with": {}, "at": {}, "by": {},
	"it": {}, "this": {}, "that": {}, "be": {}, "as": {}, "i": {}, "we": {}, "you": {}, "my": {},
	"our": {}, "from": {}, "has": {}, "have": {}, "not": {}, "use": {}, "uses": {},
}

// Clusterer groups memories by their most common payload tag, falling back to
// the memory type for untagged memories.
type Clusterer struct{}

func NewClusterer() *Clusterer { return &Clusterer{} }

// Cluster returns at most maxClusters clusters, largest first. When there are
// more topics than that, the smallest are merged into OverflowTopic.
func (c *Clusterer) Cluster(memories []storage.Memory, maxClusters int) []Cluster {
	if maxClusters <= 0 {
		maxClusters = DefaultMaxClusters
	}
	if len(memories) == 0 {
		return []Cluster{}
	}

	freq := map[string]int{}
	for _, m := range memories {
		for _, t := range scope.PayloadTags(m.Tags) {
			freq[t]++
		}
	}

	groups := map[string][]storage.Memory{}
	for _, m := range memories {
		topic := topicOf(m, freq)
		groups[topic] = append(groups[topic], m)
	}

	topics := make([]string, 0, len(groups))
	for t := range groups {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		a, b := len(groups[topics[i]]), len(groups[topics[j]])
		if a != b {
			return a > b
		}
		return topics[i] < topics[j]
	})

	if len(topics) > maxClusters {
		keep := topics[:maxClusters-1]
		var rest []storage.Memory
		for _, t := range topics[maxClusters-1:] {
			rest = append(rest, groups[t]...)
		}
		topics = append(append([]string(nil), keep...), OverflowTopic)
		groups[OverflowTopic] = append(groups[OverflowTopic], rest...)
	}

	out := make([]Cluster, 0, len(topics))
	for _, t := range topics {
		members := groups[t]
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.ID)
		}
		sort.Strings(ids)
		out = append(out, Cluster{Topic: t, Keywords: keywords(members, 3), MemoryIDs: ids, Count: len(ids)})
	}
	return out
}

func topicOf(m storage.Memory, freq map[string]int) string {
	best := ""
	for _, t := range scope.PayloadTags(m.Tags) {
		if best == "" || freq[t] > freq[best] || (freq[t] == freq[best] && t < best) {
			best = t
		}
	}
	if best != "" {
		return best
	}
	if m.Type == "" {
		return string(scope.TypeFact)
	}
	return string(m.Type)
}

// keywords returns the n most frequent non-stopword terms of the members
func keywords(members []storage.Memory, n int) []string {
	counts := map[string]int{}
	for _, m := range members {
		for _, tok := range embeddings.Tokenize(m.Text) {
			if _, stop := stopwords[tok]; stop || len(tok) < 3 {
				continue
			}
			counts[tok]++
		}
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// TopicTitle renders a topic for display
func TopicTitle(topic string) string {
	return strings.ReplaceAll(topic, "_", " ")
}
