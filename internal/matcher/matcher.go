// Package matcher resolves a normalized URL to a block/allow Decision:
// normalize, verify every Aho-Corasick candidate against its Rule kind's
// anchoring/separator/ordering semantics, and let any verified exception
// override any verified block.
//
// Grounded on findMatch's shape: iterate candidates in order, verify each
// against the rule it resolves to, return on the first winner, with
// exceptions always overriding a block — generalized here from a flat
// single-regex-list scan to an automaton's two-pass (block, then exception)
// candidate stream.
package matcher

import (
	"net/url"
	"strings"

	"github.com/meridianmobile/adfilter/internal/ahocorasick"
	"github.com/meridianmobile/adfilter/internal/cache"
	"github.com/meridianmobile/adfilter/internal/rule"
	"github.com/meridianmobile/adfilter/internal/ruleset"
)

// Normalized holds the lowercased URL plus the pieces the verification step
// needs; computed once per should_block call.
type Normalized struct {
	Full string // full URL, lowercased
	Host string // host only, lowercased, no port
	Path string // path onward (starting with "/"), lowercased; "" if none
}

// Normalize lowercases url and extracts its host and path. Malformed URLs
// (net/url fails to parse them, or finds no host) still produce a
// best-effort Normalized value — an unparseable URL is not a MatchError: its
// host and path are cut out by stripping an http/https scheme and splitting
// at the first '/', '?' or '#', so host-anchored rules can still match, and
// substring/wildcard rules see the full lowercased text.
func Normalize(rawURL string) Normalized {
	full := strings.ToLower(rawURL)

	host := full
	path := ""
	if u, err := url.Parse(full); err == nil && u.Host != "" {
		host = u.Host
		path = u.EscapedPath()
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
	} else {
		// best-effort: strip scheme and path manually
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		if idx := strings.IndexAny(host, "/?#"); idx >= 0 {
			path = host[idx:]
			host = host[:idx]
		}
	}
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		// only strip a port, not an IPv6 literal's colons; hosts here are
		// plain DNS names, not IPv6 literals
		if !strings.Contains(host, "]") {
			host = host[:idx]
		}
	}

	return Normalized{Full: full, Host: host, Path: path}
}

// Decision is the resolved Block/Allow verdict. It is a value, not a
// reference.
type Decision = cache.Decision

// MatchErrorCounter is implemented by internal/metrics.Metrics; Evaluate
// counts a match error whenever verifying a candidate needle match hits a
// broken internal invariant (an unknown rule kind, an exception without an
// inner rule, a substring hit whose text isn't the rule's needle), without
// ever propagating that failure to the caller. A candidate that simply fails
// its anchoring or ordering check is an ordinary non-match and is not
// counted.
type MatchErrorCounter interface {
	IncMatchErrors()
}

// Evaluate resolves rs against the already-normalized n: find the first
// verified block candidate, then check whether any verified exception
// overrides it. It never blocks, never allocates beyond the scratch already
// implied by ahocorasick.Search's callback, and never returns an error:
// every internal fault is downgraded to "not verified" and counted via
// errs.
func Evaluate(rs *ruleset.RuleSet, n Normalized, errs MatchErrorCounter) Decision {
	if !rs.HasBlocks() {
		return Decision{ShouldBlock: false}
	}

	blockRule, blockOK := firstVerifiedBlock(rs, n, errs)
	if !blockOK {
		return Decision{ShouldBlock: false}
	}

	if rs.HasExceptions() {
		if _, exceptionOK := firstVerifiedException(rs, n, errs); exceptionOK {
			return Decision{ShouldBlock: false}
		}
	}

	return Decision{ShouldBlock: true, MatchedRuleID: int(blockRule.ID), HasMatchedRule: true}
}

func firstVerifiedBlock(rs *ruleset.RuleSet, n Normalized, errs MatchErrorCounter) (*rule.Rule, bool) {
	var winner *rule.Rule
	rs.BlockCandidates(n.Full, func(r *rule.Rule, m ahocorasick.Match) {
		if winner != nil {
			return
		}
		if verify(r, n, m, errs) {
			winner = r
		}
	})
	return winner, winner != nil
}

func firstVerifiedException(rs *ruleset.RuleSet, n Normalized, errs MatchErrorCounter) (*rule.Rule, bool) {
	var winner *rule.Rule
	rs.ExceptionCandidates(n.Full, func(r *rule.Rule, m ahocorasick.Match) {
		if winner != nil {
			return
		}
		inner := r.Inner
		if inner == nil {
			errs.IncMatchErrors()
			return
		}
		if verify(inner, n, m, errs) {
			winner = r
		}
	})
	return winner, winner != nil
}

// verify re-checks a raw Aho-Corasick needle hit against the anchoring rules
// for r's Kind. A candidate that doesn't satisfy its rule's semantics is
// rejected; one that breaks an internal invariant is also counted as a match
// error. Neither is propagated.
func verify(r *rule.Rule, n Normalized, m ahocorasick.Match, errs MatchErrorCounter) bool {
	switch r.Kind {
	case rule.KindDomainAnchor:
		return verifyDomainAnchor(r, n)
	case rule.KindSubstring:
		if !verifySubstring(r, n, m) {
			errs.IncMatchErrors()
			return false
		}
		return true
	case rule.KindWildcard:
		return verifyWildcard(r, n)
	default:
		errs.IncMatchErrors()
		return false
	}
}

// verifyDomainAnchor runs the domain-anchor check: the needle must occur
// left-anchored at a domain label boundary within the host (host start, or
// immediately after a '.'), and — only when SeparatorRequired — that
// occurrence must also reach the very end of the host (host == suffix or
// host ends with "."+suffix). Without SeparatorRequired, a left-anchored
// match that merely continues into more host characters (e.g. "ads.com"
// matching inside host "ads.company.com") is accepted, matching the source
// "||host" (no trailing "^") syntax.
//
// When the rule also carries a PathPrefix (from "||host/path^"), the host
// must match exactly (not just a label-anchored prefix of a longer host),
// and the URL's path must additionally start with PathPrefix, honoring
// SeparatorRequired the same way the host check does.
func verifyDomainAnchor(r *rule.Rule, n Normalized) bool {
	host := n.Host
	suffix := r.HostSuffix

	idx := labelAnchoredIndex(host, suffix)
	if idx < 0 {
		return false
	}
	hostEnd := idx+len(suffix) == len(host)

	if r.PathPrefix == "" {
		if !r.SeparatorRequired {
			return true
		}
		return hostEnd
	}

	if !hostEnd {
		return false
	}
	return pathHasPrefixAtBoundary(n.Path, r.PathPrefix, r.SeparatorRequired)
}

// pathHasPrefixAtBoundary reports whether path starts with prefix and,
// when separatorRequired, the match ends either at path's end or at the
// next URL separator character rather than mid-segment (e.g. "/safe"
// matches "/safe" and "/safe/x" but not "/safer").
func pathHasPrefixAtBoundary(path, prefix string, separatorRequired bool) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if !separatorRequired {
		return true
	}
	rest := path[len(prefix):]
	if rest == "" {
		return true
	}
	switch rest[0] {
	case '/', '?', '#':
		return true
	default:
		return false
	}
}

// labelAnchoredIndex returns the index in host where suffix begins, if that
// occurrence starts at the host or immediately follows a '.' (i.e. begins a
// domain label), or -1 if suffix doesn't occur at such a boundary.
func labelAnchoredIndex(host, suffix string) int {
	if suffix == "" {
		return -1
	}
	if strings.HasPrefix(host, suffix) {
		return 0
	}
	idx := strings.Index(host, "."+suffix)
	if idx < 0 {
		return -1
	}
	return idx + 1
}

func verifySubstring(r *rule.Rule, n Normalized, m ahocorasick.Match) bool {
	// The Aho-Corasick hit already proves occurrence; nothing further to
	// verify for a bare substring rule. Guard against a corrupted side-table
	// mapping just in case.
	start := m.End - m.Len + 1
	if start < 0 || m.End >= len(n.Full) {
		return false
	}
	return n.Full[start:m.End+1] == r.Needle
}

func verifyWildcard(r *rule.Rule, n Normalized) bool {
	return matchWildcardParts(n.Full, r.Parts)
}

// matchWildcardParts re-scans a wildcard rule's ordered literal fragments:
// they must occur in order, anchored at the ends unless the corresponding
// Parts entry is empty (leading/trailing "*").
//
// Fragment search is greedy, left-to-right — at each boundary the scan
// jumps to the first remaining occurrence of the next fragment rather than
// exploring every possible split. This is linear in len(haystack) and
// matches how EasyList wildcard filters are actually written (fragments
// essentially never repeat within one rule), so the simpler, faster greedy
// scan produces the same verdict as an exhaustive search would in
// practice.
func matchWildcardParts(haystack string, parts []string) bool {
	if len(parts) == 0 {
		return false
	}

	lastIdx := len(parts) - 1
	trailingAnchored := parts[lastIdx] != ""

	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		if trailingAnchored && i == lastIdx {
			// last fragment with no trailing "*": it must match at the very
			// end, not merely somewhere after pos, so search from the end
			// rather than taking the first leftward occurrence.
			if !strings.HasSuffix(haystack, part) {
				return false
			}
			if len(haystack)-len(part) < pos {
				return false
			}
			continue
		}
		idx := strings.Index(haystack[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			// leading fragment with no preceding "*": must anchor at start
			return false
		}
		pos += idx + len(part)
	}

	return true
}
