// Package ruleset compiles a parsed rule vector into the executable form
// internal/matcher evaluates against: two Aho-Corasick automata (block,
// exception) plus a needle-ID → Rule side table and the retained cosmetic
// list.
//
// A RuleSet is immutable once Compile returns and is shared across
// concurrent readers by reference: the engine publishes it through an
// atomic.Pointer, and ordinary Go garbage collection provides the
// reference-counted-snapshot semantics without a hand-rolled atomic refcount
// (see DESIGN.md).
package ruleset

import (
	"log/slog"
	"time"

	"github.com/meridianmobile/adfilter/internal/ahocorasick"
	"github.com/meridianmobile/adfilter/internal/rule"
)

// RuleSet is the compiled, queryable form of one filter list (or the merge
// of several). Obtain one from Empty or Compile; the zero value has no
// automata and panics when queried.
type RuleSet struct {
	block     *ahocorasick.Automaton
	exception *ahocorasick.Automaton

	blockNeedleRule     []*rule.Rule // indexed by needle ID registered with block
	exceptionNeedleRule []*rule.Rule // indexed by needle ID registered with exception

	cosmetics []*rule.Rule

	ruleCount   int
	parseErrors int
	compiledAt  time.Time
}

// Empty returns a RuleSet matching no URL, used as the Engine's initial
// state before any filter list has been loaded.
func Empty() *RuleSet {
	return &RuleSet{
		block:      ahocorasick.NewBuilder().Build(),
		exception:  ahocorasick.NewBuilder().Build(),
		compiledAt: time.Time{},
	}
}

// RuleCount reports how many rules (of every kind, including cosmetics) were
// compiled into this RuleSet.
func (rs *RuleSet) RuleCount() int { return rs.ruleCount }

// ParseErrors reports how many source lines were dropped while building the
// rule vector this RuleSet was compiled from.
func (rs *RuleSet) ParseErrors() int { return rs.parseErrors }

// Cosmetics returns the retained-but-unused cosmetic rules, for diagnostics
// or a future cosmetic-filtering surface. The matcher never calls this.
func (rs *RuleSet) Cosmetics() []*rule.Rule { return rs.cosmetics }

// BlockCandidates streams every block-automaton needle match for haystack to
// fn, resolving each to its originating Rule.
func (rs *RuleSet) BlockCandidates(haystack string, fn func(*rule.Rule, ahocorasick.Match)) {
	rs.block.Search(haystack, func(m ahocorasick.Match) {
		fn(rs.blockNeedleRule[m.NeedleIndex], m)
	})
}

// ExceptionCandidates streams every exception-automaton needle match for
// haystack to fn, resolving each to its originating Rule (the Exception
// wrapper, not the inner rule).
func (rs *RuleSet) ExceptionCandidates(haystack string, fn func(*rule.Rule, ahocorasick.Match)) {
	rs.exception.Search(haystack, func(m ahocorasick.Match) {
		fn(rs.exceptionNeedleRule[m.NeedleIndex], m)
	})
}

// HasExceptions reports whether this RuleSet has any exception rules at all
// — lets the matcher skip the exception automaton entirely when it's empty.
func (rs *RuleSet) HasExceptions() bool { return !rs.exception.Empty() }

// HasBlocks reports whether this RuleSet has any block-shaped rule at all.
func (rs *RuleSet) HasBlocks() bool { return !rs.block.Empty() }

// Compile builds a RuleSet from a parsed rule vector. Rules whose longest
// fragment is empty (shouldn't happen after internal/rule.Parse, but
// defended against here since a caller could hand-construct Rules) are
// skipped and counted as parse errors rather than registered as a
// zero-length needle, which would match everywhere.
func Compile(logger *slog.Logger, rules []*rule.Rule, priorParseErrors int) *RuleSet {
	logger = logger.WithGroup("ruleset")

	blockBuilder := ahocorasick.NewBuilder()
	exceptionBuilder := ahocorasick.NewBuilder()
	var blockNeedleRule, exceptionNeedleRule []*rule.Rule
	var cosmetics []*rule.Rule
	extraParseErrors := 0

	for _, r := range rules {
		switch r.Kind {
		case rule.KindCosmetic:
			cosmetics = append(cosmetics, r)
			continue
		case rule.KindException:
			needle := r.LongestFragment()
			if needle == "" {
				logger.Warn("exception rule has no searchable fragment, dropping", "line", r.Origin.SourceLine)
				extraParseErrors++
				continue
			}
			exceptionBuilder.Add(needle)
			exceptionNeedleRule = append(exceptionNeedleRule, r)
		default:
			needle := r.LongestFragment()
			if needle == "" {
				logger.Warn("rule has no searchable fragment, dropping", "line", r.Origin.SourceLine)
				extraParseErrors++
				continue
			}
			blockBuilder.Add(needle)
			blockNeedleRule = append(blockNeedleRule, r)
		}
	}

	rs := &RuleSet{
		block:               blockBuilder.Build(),
		exception:           exceptionBuilder.Build(),
		blockNeedleRule:     blockNeedleRule,
		exceptionNeedleRule: exceptionNeedleRule,
		cosmetics:           cosmetics,
		ruleCount:           len(rules),
		parseErrors:         priorParseErrors + extraParseErrors,
		compiledAt:          time.Now(),
	}

	logger.Info("compiled ruleset",
		"rules", rs.ruleCount,
		"block_needles", blockBuilder.Len(),
		"exception_needles", exceptionBuilder.Len(),
		"cosmetics", len(cosmetics),
		"parse_errors", rs.parseErrors,
	)

	return rs
}

// Merge combines multiple RuleSets' source rule vectors is not supported
// directly on compiled RuleSets (they don't retain the originating []Rule);
// callers that need to merge filter lists (internal/updater) do so on the
// []rule.Rule vectors before calling Compile once. See
// internal/updater.dedupeRules.
