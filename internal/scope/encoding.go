package scope

import (
	"sort"
	"strings"
)

// Tag namespaces. Every encoded tag carries exactly one of these prefixes, so a
// value can never be mistaken for a value of another kind.
const (
	PrefixScope      = "scope:"
	PrefixUser       = "user:"
	PrefixProject    = "project:"
	PrefixAgent      = "agent:"
	PrefixSession    = "session:"
	PrefixVisibility = "visibility:"
	PrefixTag        = "tag:"
)

func ScopeTag(s Scope) string           { return PrefixScope + string(s) }
func UserTag(id string) string          { return PrefixUser + id }
func ProjectTag(id string) string       { return PrefixProject + id }
func AgentTag(id string) string         { return PrefixAgent + id }
func SessionTag(id string) string       { return PrefixSession + id }
func VisibilityTag(v Visibility) string { return PrefixVisibility + string(v) }
func PayloadTag(t string) string        { return PrefixTag + t }

// EncodeTags returns the sorted tag set a memory is stored under.
func EncodeTags(r Request) []string {
	tags := []string{ScopeTag(r.Scope)}
	tags = appendIf(tags, PrefixUser, r.UserID)
	tags = appendIf(tags, PrefixProject, r.ProjectID)
	tags = appendIf(tags, PrefixAgent, r.AgentID)
	tags = appendIf(tags, PrefixSession, r.SessionID)
	if r.Scope == Agent && r.Visibility != "" {
		tags = append(tags, VisibilityTag(r.Visibility))
	}
	for _, t := range r.Tags {
		tags = append(tags, PayloadTag(t))
	}
	return sortedSet(tags)
}

func appendIf(tags []string, prefix, value string) []string {
	if value == "" {
		return tags
	}
	return append(tags, prefix+value)
}

func sortedSet(tags []string) []string {
	sort.Strings(tags)
	out := tags[:0]
	for i, t := range tags {
		if i > 0 && t == tags[i-1] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Decoded is the scoped identity recovered from a stored tag set
type Decoded struct {
	Scope Scope
	Identity
	Visibility Visibility
	Tags       []string
}

// DecodeTags inverts EncodeTags. Unknown tags are ignored.
func DecodeTags(tags []string) Decoded {
	var d Decoded
	for _, t := range tags {
		prefix, value, ok := split(t)
		if !ok {
			continue
		}
		switch prefix {
		case PrefixScope:
			d.Scope = Scope(value)
		case PrefixUser:
			d.UserID = value
		case PrefixProject:
			d.ProjectID = value
		case PrefixAgent:
			d.AgentID = value
		case PrefixSession:
			d.SessionID = value
		case PrefixVisibility:
			d.Visibility = Visibility(value)
		case PrefixTag:
			d.Tags = append(d.Tags, value)
		}
	}
	return d
}

func split(tag string) (string, string, bool) {
	i := strings.IndexByte(tag, ':')
	if i <= 0 || i == len(tag)-1 {
		return "", "", false
	}
	return tag[:i+1], tag[i+1:], true
}

// PayloadTags extracts the caller-supplied tags from an encoded set
func PayloadTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		if strings.HasPrefix(t, PrefixTag) {
			out = append(out, strings.TrimPrefix(t, PrefixTag))
		}
	}
	return out
}

// Clause is a conjunction of tags
type Clause struct {
	All []string `json:"all"`
}

// Filter selects memories whose tags contain every Must tag and, when AnyOf is
// non-empty, every tag of at least one clause.
type Filter struct {
	Must  []string `json:"must"`
	AnyOf []Clause `json:"any_of,omitempty"`
}

// Matches evaluates f against a stored tag set
func (f Filter) Matches(tags []string) bool {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	if !containsAll(set, f.Must) {
		return false
	}
	if len(f.AnyOf) == 0 {
		return true
	}
	for _, c := range f.AnyOf {
		if containsAll(set, c.All) {
			return true
		}
	}
	return false
}

func containsAll(set map[string]struct{}, tags []string) bool {
	for _, t := range tags {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// With returns a copy of f that additionally requires tags
func (f Filter) With(tags ...string) Filter {
	out := Filter{
		Must:  sortedSet(append(append([]string(nil), f.Must...), tags...)),
		AnyOf: append([]Clause(nil), f.AnyOf...),
	}
	return out
}

// Key renders f canonically; equal filters produce equal keys.
func (f Filter) Key() string {
	var b strings.Builder
	b.WriteString(strings.Join(f.Must, ","))
	for _, c := range f.AnyOf {
		b.WriteString("|")
		b.WriteString(strings.Join(c.All, ","))
	}
	return b.String()
}

// FilterSpec names the identity a read is made under
type FilterSpec struct {
	Scope Scope
	Identity
	IncludeRelated bool
}

// SpecFor builds the filter spec of a validated query
func SpecFor(q Query) FilterSpec {
	return FilterSpec{Scope: q.Scope, Identity: q.Identity, IncludeRelated: q.IncludeRelated}
}

// EncodeFilter builds the store filter for a read. The user tag is always a
// Must term. Without IncludeRelated the filter never leaves spec.Scope.
func EncodeFilter(spec FilterSpec) Filter {
	user := UserTag(spec.UserID)

	if !spec.IncludeRelated || spec.Scope == UserPreference {
		return strictFilter(spec, user)
	}
	return relatedFilter(spec, user)
}

func strictFilter(spec FilterSpec, user string) Filter {
	switch spec.Scope {
	case Project:
		return Filter{Must: sortedSet([]string{ScopeTag(Project), user, ProjectTag(spec.ProjectID)})}
	case Agent:
		return Filter{
			Must:  sortedSet([]string{ScopeTag(Agent), user, ProjectTag(spec.ProjectID)}),
			AnyOf: agentVisibility(spec.AgentID),
		}
	case Session:
		return Filter{Must: sortedSet([]string{ScopeTag(Session), user, SessionTag(spec.SessionID)})}
	case UserPreference:
		return Filter{Must: sortedSet([]string{ScopeTag(UserPreference), user})}
	}
	// an unknown scope matches nothing of this user
	return Filter{Must: []string{user, ScopeTag(spec.Scope)}}
}

// agentVisibility lets an agent read its own memories and anything shared or
// public by a sibling agent.
func agentVisibility(agentID string) []Clause {
	clauses := []Clause{}
	if agentID != "" {
		clauses = append(clauses, Clause{All: []string{AgentTag(agentID)}})
	}
	return append(clauses,
		Clause{All: []string{VisibilityTag(Shared)}},
		Clause{All: []string{VisibilityTag(Public)}},
	)
}

func relatedFilter(spec FilterSpec, user string) Filter {
	pref := Clause{All: []string{ScopeTag(UserPreference)}}
	agentShared := func(extra ...string) []Clause {
		var out []Clause
		for _, v := range []Visibility{Shared, Public} {
			out = append(out, Clause{All: sortedSet(append([]string{ScopeTag(Agent), VisibilityTag(v)}, extra...))})
		}
		return out
	}

	var clauses []Clause
	switch spec.Scope {
	case Project:
		project := ProjectTag(spec.ProjectID)
		clauses = append(clauses, Clause{All: sortedSet([]string{ScopeTag(Project), project})})
		clauses = append(clauses, agentShared(project)...)
		clauses = append(clauses, pref)
	case Agent:
		project := ProjectTag(spec.ProjectID)
		clauses = append(clauses, Clause{All: sortedSet([]string{ScopeTag(Agent), project, AgentTag(spec.AgentID)})})
		clauses = append(clauses, agentShared(project)...)
		clauses = append(clauses, Clause{All: sortedSet([]string{ScopeTag(Project), project})})
		clauses = append(clauses, pref)
	case Session:
		clauses = append(clauses, Clause{All: sortedSet([]string{ScopeTag(Session), SessionTag(spec.SessionID)})})
		clauses = append(clauses, pref)
	default:
		clauses = append(clauses,
			Clause{All: []string{ScopeTag(Project)}},
			Clause{All: []string{ScopeTag(Session)}},
			pref,
		)
		if spec.AgentID != "" {
			clauses = append(clauses, Clause{All: sortedSet([]string{ScopeTag(Agent), AgentTag(spec.AgentID)})})
		}
		clauses = append(clauses, agentShared()...)
	}
	return Filter{Must: []string{user}, AnyOf: clauses}
}
