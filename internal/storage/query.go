package storage

import (
	"sort"
	"strings"
	"time"

	"scoped-memory-mcp/internal/scope"
)

// matches applies every non-vector condition of a read to m
func matches(m Memory, f scope.Filter, t scope.MemoryType, minImportance float64, since, now time.Time) bool {
	if !m.Live(now) {
		return false
	}
	if t != "" && m.Type != t {
		return false
	}
	if m.Importance < minImportance {
		return false
	}
	if !since.IsZero() && m.CreatedAt.Before(since) {
		return false
	}
	return f.Matches(m.Tags)
}

func (q RecallQuery) matches(m Memory, now time.Time) bool {
	return matches(m, q.Filter, q.Type, q.MinImportance, q.Since, now)
}

func (q ListQuery) matches(m Memory, now time.Time) bool {
	return matches(m, q.Filter, q.Type, q.MinImportance, q.Since, now)
}

// sortMemories orders ms by q; ties break on id so results are stable.
func sortMemories(ms []Memory, by SortField, desc bool) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		var less, equal bool
		switch by {
		case SortByImportance:
			less, equal = a.Importance < b.Importance, a.Importance == b.Importance
		default:
			less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		}
		if equal {
			return a.ID < b.ID
		}
		if desc {
			return !less
		}
		return less
	})
}

// rank orders hits by score, then importance, then recency, and truncates to limit
func rank(hits []ScoredMemory, limit int) []ScoredMemory {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func truncate(ms []Memory, limit int) []Memory {
	if limit > 0 && len(ms) > limit {
		return ms[:limit]
	}
	return ms
}

// applyPatch mutates m in place. Payload tags are replaced while scope tags stay.
func applyPatch(m *Memory, p Patch, now time.Time) {
	if p.Text != nil {
		m.Text = *p.Text
		if p.Embedding != nil {
			m.Embedding = append([]float32(nil), p.Embedding...)
		}
	}
	if p.Importance != nil {
		m.Importance = *p.Importance
	}
	if p.Type != nil {
		m.Type = *p.Type
	}
	if p.Tags != nil {
		kept := make([]string, 0, len(m.Tags)+len(p.Tags))
		for _, t := range m.Tags {
			if !strings.HasPrefix(t, scope.PrefixTag) {
				kept = append(kept, t)
			}
		}
		for _, t := range p.Tags {
			kept = append(kept, scope.PayloadTag(t))
		}
		sort.Strings(kept)
		m.Tags = dedupeSorted(kept)
	}
	if p.Metadata != nil {
		if m.Metadata == nil {
			m.Metadata = make(map[string]string, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			if v == "" {
				delete(m.Metadata, k)
				continue
			}
			m.Metadata[k] = v
		}
	}
	m.UpdatedAt = now
}

func dedupeSorted(tags []string) []string {
	out := tags[:0]
	for i, t := range tags {
		if i > 0 && t == tags[i-1] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Stats summarizes a set of memories
type Stats struct {
	Total             int            `json:"total"`
	ByType            map[string]int `json:"by_type"`
	ByScope           map[string]int `json:"by_scope"`
	AverageImportance float64        `json:"average_importance"`
	Projects          int            `json:"projects"`
	Oldest            *time.Time     `json:"oldest,omitempty"`
	Newest            *time.Time     `json:"newest,omitempty"`
}

// ComputeStats aggregates ms
func ComputeStats(ms []Memory) Stats {
	s := Stats{ByType: map[string]int{}, ByScope: map[string]int{}}
	projects := map[string]struct{}{}
	var sum float64
	for i := range ms {
		m := ms[i]
		s.Total++
		s.ByType[string(m.Type)]++
		d := scope.DecodeTags(m.Tags)
		s.ByScope[string(d.Scope)]++
		if d.ProjectID != "" {
			projects[d.ProjectID] = struct{}{}
		}
		sum += m.Importance
		if s.Oldest == nil || m.CreatedAt.Before(*s.Oldest) {
			t := m.CreatedAt
			s.Oldest = &t
		}
		if s.Newest == nil || m.CreatedAt.After(*s.Newest) {
			t := m.CreatedAt
			s.Newest = &t
		}
	}
	if s.Total > 0 {
		s.AverageImportance = sum / float64(s.Total)
	}
	s.Projects = len(projects)
	return s
}
