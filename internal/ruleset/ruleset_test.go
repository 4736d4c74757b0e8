package ruleset

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianmobile/adfilter/internal/ahocorasick"
	"github.com/meridianmobile/adfilter/internal/rule"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func Test_Compile_separatesBlockAndException(t *testing.T) {
	text := "||ads.com^\n@@||ads.com/safe^\n"
	parsed := rule.Parse(testLogger(), text)
	rs := Compile(testLogger(), parsed.Rules, parsed.ParseErrors)

	assert.True(t, rs.HasBlocks())
	assert.True(t, rs.HasExceptions())
	assert.Equal(t, 2, rs.RuleCount())
}

func Test_Empty_blocksNothing(t *testing.T) {
	rs := Empty()
	assert.False(t, rs.HasBlocks())
	assert.False(t, rs.HasExceptions())
	assert.Equal(t, 0, rs.RuleCount())
}

func Test_Compile_cosmeticsRetainedNotSearchable(t *testing.T) {
	text := "example.com##.ad\n||ads.com^\n"
	parsed := rule.Parse(testLogger(), text)
	rs := Compile(testLogger(), parsed.Rules, parsed.ParseErrors)

	require.Len(t, rs.Cosmetics(), 1)
	assert.Equal(t, "example.com", rs.Cosmetics()[0].Domain)
}

func Test_Compile_candidateCallbackResolvesRule(t *testing.T) {
	text := "||doubleclick.net^\n"
	parsed := rule.Parse(testLogger(), text)
	rs := Compile(testLogger(), parsed.Rules, parsed.ParseErrors)

	var matched *rule.Rule
	rs.BlockCandidates("https://doubleclick.net/ads", func(r *rule.Rule, m ahocorasick.Match) {
		matched = r
	})
	require.NotNil(t, matched)
	assert.Equal(t, "doubleclick.net", matched.HostSuffix)
}
