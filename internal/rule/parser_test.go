package rule

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func Test_Parse_classifiesLines(t *testing.T) {
	text := `! comment line
[Adblock Plus 2.0]

||doubleclick.net^
||adsrv.com
*/ads/*
*tracking*
plain-substring
@@||doubleclick.net/safe^
example.com##.banner-ad
example.com#@#.allow-me
`
	res := Parse(testLogger(), text)
	require.Equal(t, 0, res.ParseErrors)
	require.Len(t, res.Rules, 8)

	assert.Equal(t, KindDomainAnchor, res.Rules[0].Kind)
	assert.Equal(t, "doubleclick.net", res.Rules[0].HostSuffix)
	assert.True(t, res.Rules[0].SeparatorRequired)

	assert.Equal(t, KindDomainAnchor, res.Rules[1].Kind)
	assert.False(t, res.Rules[1].SeparatorRequired)

	assert.Equal(t, KindWildcard, res.Rules[2].Kind)
	assert.Equal(t, []string{"", "/ads/", ""}, res.Rules[2].Parts)

	assert.Equal(t, KindWildcard, res.Rules[3].Kind)

	assert.Equal(t, KindSubstring, res.Rules[4].Kind)
	assert.Equal(t, "plain-substring", res.Rules[4].Needle)

	assert.Equal(t, KindException, res.Rules[5].Kind)
	require.NotNil(t, res.Rules[5].Inner)
	assert.Equal(t, "doubleclick.net", res.Rules[5].Inner.HostSuffix)
	assert.Equal(t, "/safe", res.Rules[5].Inner.PathPrefix)

	assert.Equal(t, KindCosmetic, res.Rules[6].Kind)
	assert.Equal(t, "example.com", res.Rules[6].Domain)
	assert.Equal(t, ".banner-ad", res.Rules[6].Selector)

	assert.Equal(t, KindCosmetic, res.Rules[7].Kind)
}

func Test_Parse_malformedLinesCountedAndDropped(t *testing.T) {
	text := `||^
*
||
`
	res := Parse(testLogger(), text)
	assert.Equal(t, 3, res.ParseErrors)
	assert.Empty(t, res.Rules)
}

func Test_Parse_emptyList(t *testing.T) {
	res := Parse(testLogger(), "")
	assert.Empty(t, res.Rules)
	assert.Equal(t, 0, res.ParseErrors)
}

func Test_Parse_crlfLineEndings(t *testing.T) {
	res := Parse(testLogger(), "||a.com^\r\n||b.com^\r\n")
	require.Len(t, res.Rules, 2)
	assert.Equal(t, "a.com", res.Rules[0].HostSuffix)
	assert.Equal(t, "b.com", res.Rules[1].HostSuffix)
}

func Test_Parse_optionTailDoesNotBreakAnchor(t *testing.T) {
	res := Parse(testLogger(), "||ads.example.com^$third-party\n")
	require.Len(t, res.Rules, 1)
	assert.Equal(t, KindDomainAnchor, res.Rules[0].Kind)
	assert.Equal(t, "ads.example.com", res.Rules[0].HostSuffix)
}

func Test_Parse_domainAnchorWithPathTail(t *testing.T) {
	res := Parse(testLogger(), "||ads.example.com/safe^\n")
	require.Len(t, res.Rules, 1)
	r := res.Rules[0]
	assert.Equal(t, KindDomainAnchor, r.Kind)
	assert.Equal(t, "ads.example.com", r.HostSuffix)
	assert.Equal(t, "/safe", r.PathPrefix)
	assert.True(t, r.SeparatorRequired)
}

func Test_Parse_identicalRulesOnDifferentLinesCompileToTheSameShape(t *testing.T) {
	a := Parse(testLogger(), "! leading comment\n||ads.example.com^\n")
	b := Parse(testLogger(), "||ads.example.com^\n")
	require.Len(t, a.Rules, 1)
	require.Len(t, b.Rules, 1)

	// Origin.SourceLine legitimately differs since the rule sits on a
	// different line in each text; ID and Origin are left out of the
	// comparison and every other field must match.
	if diff := cmp.Diff(a.Rules[0], b.Rules[0], cmpopts.IgnoreFields(Rule{}, "ID", "Origin")); diff != "" {
		t.Errorf("rule shape mismatch (-a +b):\n%s", diff)
	}
}

func Test_Rule_LongestFragment(t *testing.T) {
	r := &Rule{Kind: KindWildcard, Parts: []string{"", "ads", "tracking-pixel", ""}}
	assert.Equal(t, "tracking-pixel", r.LongestFragment())
}
