package auth

import "strings"

// RouteClass is the access rule applied to a path.
type RouteClass int

const (
	// Public routes run for everyone.
	Public RouteClass = iota

	// Protected routes require a validated user.
	Protected

	// AuthOnly routes are for anonymous visitors only (the login page).
	AuthOnly
)

func (c RouteClass) String() string {
	switch c {
	case Protected:
		return "protected"
	case AuthOnly:
		return "auth_only"
	default:
		return "public"
	}
}

// Policy classifies request paths. Exact entries win over prefixes; the
// longest matching prefix wins among prefixes.
type Policy struct {
	exact    map[string]RouteClass
	prefixes map[string]RouteClass
}

// NewPolicy creates an empty policy where every path is public.
func NewPolicy() *Policy {
	return &Policy{
		exact:    make(map[string]RouteClass),
		prefixes: make(map[string]RouteClass),
	}
}

// DefaultPolicy is the application's route table: /login is auth-only;
// the chat home, the timeline pages and the account pages are protected.
func DefaultPolicy() *Policy {
	return NewPolicy().
		Exact("/login", AuthOnly).
		Exact("/", Protected).
		Exact("/timeline", Protected).
		Prefix("/timeline/", Protected).
		Prefix("/account/", Protected)
}

// Exact classifies a single path.
func (p *Policy) Exact(path string, class RouteClass) *Policy {
	p.exact[path] = class
	return p
}

// Prefix classifies every path starting with prefix.
func (p *Policy) Prefix(prefix string, class RouteClass) *Policy {
	p.prefixes[prefix] = class
	return p
}

// Classify returns the class for path. A trailing slash is ignored for
// exact matches other than the root.
func (p *Policy) Classify(path string) RouteClass {
	if class, ok := p.exact[path]; ok {
		return class
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		if class, ok := p.exact[strings.TrimRight(path, "/")]; ok {
			return class
		}
	}

	best, bestLen := Public, -1
	for prefix, class := range p.prefixes {
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			best, bestLen = class, len(prefix)
		}
	}
	return best
}
