// Package rule defines the compiled rule variants produced by Parse and
// consumed by internal/ruleset.
package rule

// Kind tags which variant a Rule holds. Rule is a closed tagged variant, not
// an open interface — dispatch on Kind is a small switch, never a registry.
type Kind int

const (
	KindDomainAnchor Kind = iota
	KindSubstring
	KindWildcard
	KindException
	KindCosmetic
)

func (k Kind) String() string {
	switch k {
	case KindDomainAnchor:
		return "domain_anchor"
	case KindSubstring:
		return "substring"
	case KindWildcard:
		return "wildcard"
	case KindException:
		return "exception"
	case KindCosmetic:
		return "cosmetic"
	default:
		return "unknown"
	}
}

// ID identifies a compiled rule within a RuleSet. Stable only within the
// RuleSet that produced it.
type ID int

// Rule is immutable after Parse returns. The only link between Rules is an
// Exception's Inner pointer, whose target is created for that exception
// alone and is not itself an entry of the parsed rule vector.
type Rule struct {
	ID     ID
	Kind   Kind
	Origin Origin

	// DomainAnchor
	HostSuffix        string
	PathPrefix        string // optional "/path" tail from "||host/path^"; empty if the rule is host-only
	SeparatorRequired bool

	// Substring
	Needle string

	// Wildcard: ordered literal fragments, split on '*'. A leading/trailing
	// empty fragment means unanchored at that end.
	Parts []string

	// Exception wraps the block rule it negates. Never itself Kind ==
	// KindException (no nesting).
	Inner *Rule

	// Cosmetic, retained for diagnostics but never evaluated by the matcher.
	Domain   string
	Selector string
}

// Origin records where a Rule came from, for diagnostics.
type Origin struct {
	SourceLine int
	RawText    string
}

// LongestFragment returns the literal text internal/ruleset should register
// in the Aho-Corasick automaton as this rule's searchable needle: the host
// followed by any path tail for DomainAnchor, the full needle for Substring,
// the inner rule's needle for Exception, and the longest fragment
// for Wildcard (the fragment most likely to prune the search space first).
func (r *Rule) LongestFragment() string {
	switch r.Kind {
	case KindDomainAnchor:
		return r.HostSuffix + r.PathPrefix
	case KindSubstring:
		return r.Needle
	case KindWildcard:
		longest := ""
		for _, p := range r.Parts {
			if len(p) > len(longest) {
				longest = p
			}
		}
		return longest
	case KindException:
		if r.Inner != nil {
			return r.Inner.LongestFragment()
		}
		return ""
	default:
		return ""
	}
}
