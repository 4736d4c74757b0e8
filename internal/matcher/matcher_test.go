package matcher

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianmobile/adfilter/internal/rule"
	"github.com/meridianmobile/adfilter/internal/ruleset"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

type noopErrs struct{}

func (noopErrs) IncMatchErrors() {}

func compile(t *testing.T, text string) *ruleset.RuleSet {
	t.Helper()
	res := rule.Parse(testLogger(), text)
	return ruleset.Compile(testLogger(), res.Rules, res.ParseErrors)
}

func Test_Evaluate_domainAnchorBoundaries(t *testing.T) {
	rs := compile(t, "||a.com^\n")

	assert.True(t, Evaluate(rs, Normalize("http://a.com/x"), noopErrs{}).ShouldBlock)
	assert.True(t, Evaluate(rs, Normalize("https://sub.a.com/"), noopErrs{}).ShouldBlock)
	assert.False(t, Evaluate(rs, Normalize("http://xa.com/"), noopErrs{}).ShouldBlock)
	assert.False(t, Evaluate(rs, Normalize("http://a.com.evil/"), noopErrs{}).ShouldBlock)
}

func Test_Evaluate_wildcardAnchoring(t *testing.T) {
	rs := compile(t, "*/ads/*\n")

	assert.True(t, Evaluate(rs, Normalize("http://x.com/ads/1"), noopErrs{}).ShouldBlock)
	assert.False(t, Evaluate(rs, Normalize("http://x.com/adsvertise"), noopErrs{}).ShouldBlock)
}

func Test_Evaluate_exceptionOverridesBlock(t *testing.T) {
	rs := compile(t, "||ads.com^\n@@||ads.com/safe^\n")

	assert.True(t, Evaluate(rs, Normalize("https://ads.com/banner"), noopErrs{}).ShouldBlock)
	assert.False(t, Evaluate(rs, Normalize("https://ads.com/safe/x"), noopErrs{}).ShouldBlock)
}

func Test_Evaluate_emptyRuleSetAllowsEverything(t *testing.T) {
	rs := ruleset.Empty()
	assert.False(t, Evaluate(rs, Normalize("https://doubleclick.net/ads"), noopErrs{}).ShouldBlock)
}

func Test_Evaluate_concreteScenario_doubleclick(t *testing.T) {
	rs := compile(t, "||doubleclick.net^\n")

	d1 := Evaluate(rs, Normalize("https://doubleclick.net/ads"), noopErrs{})
	require.True(t, d1.ShouldBlock)
	require.True(t, d1.HasMatchedRule)

	d2 := Evaluate(rs, Normalize("https://example.com"), noopErrs{})
	assert.False(t, d2.ShouldBlock)
}

func Test_Evaluate_substringRule(t *testing.T) {
	rs := compile(t, "tracking-pixel\n")
	assert.True(t, Evaluate(rs, Normalize("http://x.com/tracking-pixel.gif"), noopErrs{}).ShouldBlock)
	assert.False(t, Evaluate(rs, Normalize("http://x.com/clean.gif"), noopErrs{}).ShouldBlock)
}

func Test_Evaluate_deterministic(t *testing.T) {
	rs := compile(t, "||ads.com^\n")
	n := Normalize("https://ads.com/x")
	first := Evaluate(rs, n, noopErrs{})
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Evaluate(rs, n, noopErrs{}))
	}
}

func Test_Normalize_extractsHostAndLowercases(t *testing.T) {
	n := Normalize("HTTPS://Ads.Example.COM:8443/Path")
	assert.Equal(t, "ads.example.com", n.Host)
	assert.Equal(t, "https://ads.example.com:8443/path", n.Full)
	assert.Equal(t, "/path", n.Path)
}

func Test_Evaluate_domainAnchorWithPathPrefixAndSeparator(t *testing.T) {
	rs := compile(t, "||ads.com/safe^\n")

	assert.True(t, Evaluate(rs, Normalize("https://ads.com/safe"), noopErrs{}).ShouldBlock)
	assert.True(t, Evaluate(rs, Normalize("https://ads.com/safe/x"), noopErrs{}).ShouldBlock)
	assert.False(t, Evaluate(rs, Normalize("https://ads.com/safer"), noopErrs{}).ShouldBlock)
	assert.False(t, Evaluate(rs, Normalize("https://ads.com/other"), noopErrs{}).ShouldBlock)
}

func Test_Evaluate_domainAnchorWithoutSeparator(t *testing.T) {
	rs := compile(t, "||ads.com\n")
	assert.True(t, Evaluate(rs, Normalize("http://ads.company.com/"), noopErrs{}).ShouldBlock)
}
