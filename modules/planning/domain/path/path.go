// Package path implements the materialized ancestor paths the planning
// hierarchy is indexed by. A path is the ordered sequence of ancestor ids,
// root first, ending with the node's own id. Descendant and ancestor
// relations reduce to prefix checks, and the ltree text form backs the
// `path <@ $n::ltree` subtree queries in the repositories.
package path

import (
	"strings"

	"github.com/google/uuid"

	"github.com/iota-uz/microplan/pkg/serrors"
)

var ErrInvalidPath = serrors.NewError("PLAN_INVALID_PATH", "id repeats within a materialized path", "")

// Path is an immutable value. Callers must not mutate the backing slice;
// every constructor copies its input.
type Path []uuid.UUID

// New builds a path from the ancestor chain (root first) plus the node's own
// id. It fails when self already appears among the ancestors or an ancestor
// repeats, since a well-formed path never contains the same id twice.
func New(ancestors []uuid.UUID, self uuid.UUID) (Path, error) {
	seen := make(map[uuid.UUID]struct{}, len(ancestors)+1)
	for _, id := range ancestors {
		if _, ok := seen[id]; ok {
			return nil, ErrInvalidPath
		}
		seen[id] = struct{}{}
	}
	if _, ok := seen[self]; ok {
		return nil, ErrInvalidPath
	}
	out := make(Path, 0, len(ancestors)+1)
	out = append(out, ancestors...)
	out = append(out, self)
	return out, nil
}

// Root returns the single-element path of a root node.
func Root(self uuid.UUID) Path {
	return Path{self}
}

// Child returns p extended with self. Fails when self already occurs in p.
func (p Path) Child(self uuid.UUID) (Path, error) {
	return New(p, self)
}

// Self is the last element: the id of the node the path belongs to.
func (p Path) Self() uuid.UUID {
	if len(p) == 0 {
		return uuid.Nil
	}
	return p[len(p)-1]
}

// Ancestors is everything up to, excluding, the node itself.
func (p Path) Ancestors() Path {
	if len(p) == 0 {
		return nil
	}
	out := make(Path, len(p)-1)
	copy(out, p[:len(p)-1])
	return out
}

func (p Path) Depth() int { return len(p) }

func (p Path) Contains(id uuid.UUID) bool {
	for _, el := range p {
		if el == id {
			return true
		}
	}
	return false
}

func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether ancestor is a (non-strict) prefix of p.
// Every path is a descendant of itself.
func (p Path) IsDescendantOf(ancestor Path) bool {
	if len(ancestor) > len(p) {
		return false
	}
	for i := range ancestor {
		if p[i] != ancestor[i] {
			return false
		}
	}
	return true
}

// IsAncestorOf is the mirror predicate of IsDescendantOf.
func (p Path) IsAncestorOf(candidate Path) bool {
	return candidate.IsDescendantOf(p)
}

// Rebase rewrites a descendant path after its ancestor at oldPrefix moved to
// newPrefix. The receiver must have oldPrefix as a prefix.
func (p Path) Rebase(oldPrefix, newPrefix Path) (Path, error) {
	if !p.IsDescendantOf(oldPrefix) {
		return nil, ErrInvalidPath
	}
	tail := p[len(oldPrefix):]
	if len(tail) == 0 {
		out := make(Path, len(newPrefix))
		copy(out, newPrefix)
		return out, nil
	}
	return New(append(append(Path{}, newPrefix...), tail[:len(tail)-1]...), tail[len(tail)-1])
}

// String renders the ltree text form: dash-less lowercase UUID hex labels
// joined with dots. ltree labels may not contain dashes.
func (p Path) String() string {
	labels := make([]string, len(p))
	for i, id := range p {
		labels[i] = strings.ReplaceAll(id.String(), "-", "")
	}
	return strings.Join(labels, ".")
}

// Parse decodes the ltree text form produced by String.
func Parse(s string) (Path, error) {
	if s == "" {
		return nil, ErrInvalidPath
	}
	labels := strings.Split(s, ".")
	out := make(Path, 0, len(labels))
	seen := make(map[uuid.UUID]struct{}, len(labels))
	for _, label := range labels {
		id, err := uuid.Parse(label)
		if err != nil {
			return nil, ErrInvalidPath
		}
		if _, ok := seen[id]; ok {
			return nil, ErrInvalidPath
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
