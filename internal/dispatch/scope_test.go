package dispatch

import (
	"testing"

	"github.com/Iron-Ham/sessiond/internal/event"
	"github.com/Iron-Ham/sessiond/internal/session"
)

func TestParseScope(t *testing.T) {
	for _, s := range []string{"session", "user", "all"} {
		if got, err := ParseScope(s); err != nil || string(got) != s {
			t.Errorf("ParseScope(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseScope("everyone"); err == nil {
		t.Error("ParseScope(everyone) should fail")
	}
}

func TestScopePolicy_ScopeFor(t *testing.T) {
	p, err := NewScopePolicy(ScopeSession, []Rule{
		{Pattern: "log.*", Scope: ScopeUser},
		{Pattern: "system.**", Scope: ScopeAll},
		{Pattern: "log.updated", Scope: ScopeAll},
	})
	if err != nil {
		t.Fatalf("NewScopePolicy() error = %v", err)
	}

	tests := []struct {
		kind event.Kind
		want Scope
	}{
		{"log.updated", ScopeUser}, // first rule wins
		{"log.rotated", ScopeUser},
		{"log.updated.tail", ScopeSession},
		{"system.maintenance", ScopeAll},
		{"system.maintenance.start", ScopeAll},
		{"task.succeeded", ScopeSession},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := p.ScopeFor(tt.kind); got != tt.want {
				t.Errorf("ScopeFor(%q) = %s, want %s", tt.kind, got, tt.want)
			}
		})
	}
}

func TestScopePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		def   Scope
		rules []Rule
	}{
		{"bad default", "nobody", nil},
		{"bad rule scope", ScopeSession, []Rule{{Pattern: "log.*", Scope: "nobody"}}},
		{"bad pattern", ScopeSession, []Rule{{Pattern: "log.[", Scope: ScopeUser}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScopePolicy(tt.def, tt.rules); err == nil {
				t.Error("NewScopePolicy() error = nil, want error")
			}
		})
	}
}

func TestScopePolicy_NilIsSessionScope(t *testing.T) {
	var p *ScopePolicy
	if got := p.ScopeFor("log.updated"); got != ScopeSession {
		t.Errorf("ScopeFor() = %s, want session", got)
	}
	if p.Rules() != nil {
		t.Error("Rules() on nil policy should be nil")
	}

	a := session.New("a", 10)
	b := session.New("b", 10)
	ev := event.NewLogUpdatedEvent(event.ForSession("a"), "x", 1)
	if !p.Matches(a, ev) || p.Matches(b, ev) {
		t.Error("nil policy should match exactly the addressed session")
	}
}

func TestScopePolicy_Matches(t *testing.T) {
	p, err := NewScopePolicy(ScopeSession, []Rule{
		{Pattern: "log.*", Scope: ScopeUser},
		{Pattern: "system.*", Scope: ScopeAll},
	})
	if err != nil {
		t.Fatalf("NewScopePolicy() error = %v", err)
	}

	a := session.New("A", 10)
	a.SetUser(&session.UserRef{ID: "u1"})
	b := session.New("B", 10)
	b.SetUser(&session.UserRef{ID: "u1"})
	c := session.New("C", 10)
	c.SetUser(&session.UserRef{ID: "u2"})
	anon := session.New("D", 10)

	userEv := event.NewLogUpdatedEvent(event.ForUser("A", "u1"), "server.log", 3)
	sessEv := event.NewTaskSuccessfulEvent(event.ForUser("A", "u1"), "T1")
	allEv := event.NewRawEvent("system.maintenance", event.Target{}, nil)

	tests := []struct {
		name string
		s    *session.Session
		ev   event.Event
		want bool
	}{
		{"user scope addressed", a, userEv, true},
		{"user scope same user", b, userEv, true},
		{"user scope other user", c, userEv, false},
		{"user scope anonymous", anon, userEv, false},
		{"session scope addressed", a, sessEv, true},
		{"session scope same user", b, sessEv, false},
		{"all scope", c, allEv, true},
		{"all scope anonymous", anon, allEv, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Matches(tt.s, tt.ev); got != tt.want {
				t.Errorf("Matches(%s, %s) = %v, want %v", tt.s.ID(), tt.ev.Kind(), got, tt.want)
			}
		})
	}
}

func TestScopePolicy_Rules(t *testing.T) {
	rules := []Rule{{Pattern: "log.*", Scope: ScopeUser}, {Pattern: "x", Scope: ScopeAll}}
	p, err := NewScopePolicy("", rules)
	if err != nil {
		t.Fatalf("NewScopePolicy() error = %v", err)
	}
	got := p.Rules()
	if len(got) != 2 || got[0] != rules[0] || got[1] != rules[1] {
		t.Errorf("Rules() = %v, want %v", got, rules)
	}
	if p.ScopeFor("other") != ScopeSession {
		t.Error("empty default should be session scope")
	}
}
