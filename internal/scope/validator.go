package scope

import (
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	mcperrors "scoped-memory-mcp/internal/errors"
)

const (
	DefaultImportance = 5.0
	MaxImportance     = 10.0
)

// RawRequest is a write request as decoded from tool arguments
type RawRequest struct {
	Scope string
	Identity
	Visibility string
	Text       string
	Tags       []string
	Importance *float64
	MemoryType string
	TTLDays    int
	RunID      string
	Metadata   map[string]string
}

// Request is a validated write. It is a value: copies never share slices or
// maps with the RawRequest it came from.
type Request struct {
	Scope Scope
	Identity
	Visibility Visibility
	Text       string
	Tags       []string
	Importance float64
	MemoryType MemoryType
	TTLDays    int
	RunID      string
	Metadata   map[string]string
}

// Validate checks a write against its scope contract. An unknown scope fails
// before any field is looked at; otherwise every violation is reported together.
func Validate(raw RawRequest) (Request, error) {
	s, err := Parse(raw.Scope)
	if err != nil {
		return Request{}, err
	}
	reqs, _ := RequirementsFor(s)

	id := raw.Identity.normalized()
	violations := identityViolations(reqs, id)

	vis := Visibility("")
	if reqs.VisibilityMeaningful {
		v, ok := ParseVisibility(raw.Visibility)
		if !ok {
			violations = append(violations, violation(FieldVisibility, mcperrors.ReasonInvalid, raw.Visibility))
		}
		vis = v
	}

	text := strings.TrimSpace(raw.Text)
	if text == "" {
		violations = append(violations, violation(FieldText, mcperrors.ReasonMissing, nil))
	}

	importance := DefaultImportance
	if raw.Importance != nil {
		importance = *raw.Importance
		if math.IsNaN(importance) || importance < 0 || importance > MaxImportance {
			violations = append(violations, violation(FieldImportance, mcperrors.ReasonInvalid, *raw.Importance))
		}
	}

	memType, ok := ParseMemoryType(raw.MemoryType)
	if !ok {
		violations = append(violations, violation(FieldMemoryType, mcperrors.ReasonInvalid, raw.MemoryType))
	}
	if memType == "" {
		memType = TypeFact
	}

	if raw.TTLDays < 0 {
		violations = append(violations, violation("ttl_days", mcperrors.ReasonInvalid, raw.TTLDays))
	}

	if len(violations) > 0 {
		return Request{}, mcperrors.NewScopeValidationError(s.String(), violations)
	}

	for _, f := range reqs.Forbidden {
		id.clear(f)
	}

	return Request{
		Scope:      s,
		Identity:   id,
		Visibility: vis,
		Text:       text,
		Tags:       NormalizeTags(raw.Tags),
		Importance: importance,
		MemoryType: memType,
		TTLDays:    raw.TTLDays,
		RunID:      strings.TrimSpace(raw.RunID),
		Metadata:   copyMetadata(raw.Metadata),
	}, nil
}

// RawQuery is a read request as decoded from tool arguments
type RawQuery struct {
	Scope string
	Identity
	IncludeRelated bool
	MemoryType     string
	Tags           []string
	MinImportance  *float64
}

// Query is a validated read. Scope is empty only for an unscoped read with
// IncludeRelated set.
type Query struct {
	Scope Scope
	Identity
	IncludeRelated bool
	MemoryType     MemoryType
	Tags           []string
	MinImportance  float64
}

// Unscoped reports whether q spans every scope of its user
func (q Query) Unscoped() bool { return q.Scope == "" }

// ValidateQuery checks a read against its scope contract. Required fields are
// enforced as for writes. Forbidden identity fields on a read are context the
// caller happens to carry, so they are dropped rather than rejected.
func ValidateQuery(raw RawQuery) (Query, error) {
	id := raw.Identity.normalized()

	var s Scope
	var reqs Requirements
	if strings.TrimSpace(raw.Scope) == "" && raw.IncludeRelated {
		reqs = Requirements{Required: []Field{FieldUserID}, Forbidden: []Field{FieldProjectID, FieldSessionID}}
	} else {
		parsed, err := Parse(raw.Scope)
		if err != nil {
			return Query{}, err
		}
		s = parsed
		reqs, _ = RequirementsFor(s)
	}

	var violations []mcperrors.ValidationDetail
	for _, f := range reqs.Required {
		if id.get(f) == "" {
			violations = append(violations, violation(f, mcperrors.ReasonMissing, nil))
		}
	}

	memType, ok := ParseMemoryType(raw.MemoryType)
	if !ok {
		violations = append(violations, violation(FieldMemoryType, mcperrors.ReasonInvalid, raw.MemoryType))
	}

	minImportance, ok := ParseMinImportance(raw.MinImportance)
	if !ok {
		violations = append(violations, violation(FieldImportance, mcperrors.ReasonInvalid, minImportance))
	}

	if len(violations) > 0 {
		name := s.String()
		if name == "" {
			name = "unscoped"
		}
		return Query{}, mcperrors.NewScopeValidationError(name, violations)
	}

	for _, f := range reqs.Forbidden {
		id.clear(f)
	}

	return Query{
		Scope:          s,
		Identity:       id,
		IncludeRelated: raw.IncludeRelated,
		MemoryType:     memType,
		Tags:           NormalizeTags(raw.Tags),
		MinImportance:  minImportance,
	}, nil
}

// ParseMinImportance checks an optional importance floor; nil means no floor.
func ParseMinImportance(v *float64) (float64, bool) {
	if v == nil {
		return 0, true
	}
	if math.IsNaN(*v) || *v < 0 || *v > MaxImportance {
		return *v, false
	}
	return *v, true
}

func identityViolations(reqs Requirements, id Identity) []mcperrors.ValidationDetail {
	var violations []mcperrors.ValidationDetail
	for _, f := range reqs.Required {
		if id.get(f) == "" {
			violations = append(violations, violation(f, mcperrors.ReasonMissing, nil))
		}
	}
	for _, f := range reqs.Forbidden {
		if v := id.get(f); v != "" {
			violations = append(violations, violation(f, mcperrors.ReasonForbidden, v))
		}
	}
	return violations
}

func violation(f Field, reason string, value interface{}) mcperrors.ValidationDetail {
	return mcperrors.ValidationDetail{Field: string(f), Reason: reason, Value: value}
}

// NormalizeTags trims, NFC-normalizes and de-duplicates payload tags keeping
// first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = norm.NFC.String(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
