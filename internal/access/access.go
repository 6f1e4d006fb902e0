// Package access enforces ownership and isolation before anything reaches the store.
package access

import (
	"scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/scope"
)

// Options tunes how denials are reported
type Options struct {
	// CollapseNotFound reports another user's memory as not found instead of
	// access denied, so callers cannot test ids for existence.
	CollapseNotFound bool
}

// Controller applies the ownership and isolation rules
type Controller struct {
	opts Options
}

func NewController(opts Options) *Controller {
	return &Controller{opts: opts}
}

// AuthorizeMutation allows an update or delete only by the memory's owner.
func (c *Controller) AuthorizeMutation(actor, owner, memoryID string) error {
	actor, owner = scope.NormalizeID(actor), scope.NormalizeID(owner)
	if actor == "" {
		return errors.NewAccessDeniedError("user_id is required to modify a memory")
	}
	if owner != actor {
		if c.opts.CollapseNotFound {
			return errors.NewNotFoundError("memory", memoryID)
		}
		return errors.NewAccessDeniedError("memory belongs to another user")
	}
	return nil
}

// AuthorizeRead allows a point read of a single memory by its owner.
func (c *Controller) AuthorizeRead(actor, owner, memoryID string) error {
	return c.AuthorizeMutation(actor, owner, memoryID)
}

// Grant is an authorized read: the filter sent to the store and the rule every
// returned memory is checked against.
type Grant struct {
	Actor  string
	Filter scope.Filter
}

// Allows reports whether a stored memory may be shown under g
func (g Grant) Allows(tags []string) bool {
	return scope.DecodeTags(tags).UserID == g.Actor && g.Filter.Matches(tags)
}

// AuthorizeRecall builds the grant for a validated read. The owner term is
// always the acting user; crossing scopes needs the explicit opt-in.
func (c *Controller) AuthorizeRecall(q scope.Query) (Grant, error) {
	if q.UserID == "" {
		return Grant{}, errors.NewAccessDeniedError("user_id is required to read memories")
	}
	if q.Unscoped() && !q.IncludeRelated {
		return Grant{}, errors.NewAccessDeniedError("cross-scope recall requires include_related=true")
	}

	f := scope.EncodeFilter(scope.SpecFor(q))
	if len(q.Tags) > 0 {
		payload := make([]string, 0, len(q.Tags))
		for _, t := range q.Tags {
			payload = append(payload, scope.PayloadTag(t))
		}
		f = f.With(payload...)
	}
	return Grant{Actor: q.UserID, Filter: f}, nil
}

// AuthorizeOwner grants a user-level aggregate read over every memory the
// actor owns, whatever its scope. Used by statistics and clustering, which
// report on the caller's own data and never return another user's memories.
func (c *Controller) AuthorizeOwner(actor string) (Grant, error) {
	actor = scope.NormalizeID(actor)
	if actor == "" {
		return Grant{}, errors.NewAccessDeniedError("user_id is required to read memories")
	}
	return Grant{Actor: actor, Filter: scope.Filter{Must: []string{scope.UserTag(actor)}}}, nil
}

// Visible drops every item the grant does not allow. Stores are trusted to
// filter, but results are checked again before they leave the service.
func Visible[T any](g Grant, items []T, tagsOf func(T) []string) []T {
	out := items[:0:0]
	for _, it := range items {
		if g.Allows(tagsOf(it)) {
			out = append(out, it)
		}
	}
	return out
}
