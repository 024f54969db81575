package dispatch

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/sessiond/internal/event"
	"github.com/Iron-Ham/sessiond/internal/session"
)

// Scope is the set of sessions an event kind may reach.
type Scope string

const (
	// ScopeSession delivers only to the session whose ID the event names.
	ScopeSession Scope = "session"
	// ScopeUser also delivers to every session of the event's user.
	ScopeUser Scope = "user"
	// ScopeAll delivers to every live session.
	ScopeAll Scope = "all"
)

// ParseScope converts a config value to a Scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeSession, ScopeUser, ScopeAll:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Rule assigns a scope to the event kinds matching Pattern. Patterns are
// globs over dot-separated kinds: "log.*" matches "log.updated" but not
// "log.updated.tail"; "log.**" matches both.
type Rule struct {
	Pattern string
	Scope   Scope
}

type compiledRule struct {
	pattern string
	glob    glob.Glob
	scope   Scope
}

// ScopePolicy decides the delivery scope of each event kind. Rules are
// checked in order and the first match wins; unmatched kinds get the
// default scope. A nil policy treats every kind as ScopeSession.
type ScopePolicy struct {
	rules []compiledRule
	def   Scope
}

// NewScopePolicy compiles rules. An empty default means ScopeSession.
func NewScopePolicy(def Scope, rules []Rule) (*ScopePolicy, error) {
	if def == "" {
		def = ScopeSession
	}
	if _, err := ParseScope(string(def)); err != nil {
		return nil, err
	}

	p := &ScopePolicy{def: def}
	for _, r := range rules {
		if _, err := ParseScope(string(r.Scope)); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Pattern, err)
		}
		g, err := glob.Compile(r.Pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid pattern: %w", r.Pattern, err)
		}
		p.rules = append(p.rules, compiledRule{pattern: r.Pattern, glob: g, scope: r.Scope})
	}
	return p, nil
}

// ScopeFor returns the scope of kind.
func (p *ScopePolicy) ScopeFor(kind event.Kind) Scope {
	if p == nil {
		return ScopeSession
	}
	for _, r := range p.rules {
		if r.glob.Match(string(kind)) {
			return r.scope
		}
	}
	return p.def
}

// Matches is the applicability predicate shared by the built-in handlers.
// Identity is always an exact ID comparison; user scope additionally
// accepts any session owned by the event's user.
func (p *ScopePolicy) Matches(s *session.Session, ev event.Event) bool {
	switch p.ScopeFor(ev.Kind()) {
	case ScopeAll:
		return true
	case ScopeUser:
		return s.MatchesIdentifier(ev.SessionID()) || s.BelongsTo(ev.UserID())
	default:
		return s.MatchesIdentifier(ev.SessionID())
	}
}

// Rules returns the configured rules in order.
func (p *ScopePolicy) Rules() []Rule {
	if p == nil {
		return nil
	}
	out := make([]Rule, len(p.rules))
	for i, r := range p.rules {
		out[i] = Rule{Pattern: r.pattern, Scope: r.scope}
	}
	return out
}
