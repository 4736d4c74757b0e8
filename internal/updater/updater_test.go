package updater

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

const sampleList = "||ads.example.com^\n||tracker.example.net^\n"

func fetcherFor(bodies map[string]string, fail map[string]bool) Fetcher {
	return func(_ context.Context, src string) ([]byte, string, error) {
		if fail[src] {
			return nil, "", errors.New("simulated failure")
		}
		body, ok := bodies[src]
		if !ok {
			return nil, "", errors.New("no such source")
		}
		return []byte(body), "etag-" + src, nil
	}
}

func Test_Update_firstSourceFailsSecondSucceeds(t *testing.T) {
	dir := t.TempDir()
	fetch := fetcherFor(
		map[string]string{
			"https://a.example/list.txt": sampleList,
			"https://b.example/list.txt": sampleList,
		},
		map[string]bool{"https://a.example/list.txt": true},
	)

	u := New(testLogger(), Config{
		CacheDir: dir,
		Sources:  []string{"https://a.example/list.txt", "https://b.example/list.txt"},
		Fetcher:  fetch,
	})

	res, err := u.Update(context.Background(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://b.example/list.txt", res.Meta.SourceURL)
	assert.Equal(t, 2, res.Meta.RuleCount)

	_, err = os.Stat(filepath.Join(dir, CacheFileName))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, MetaFileName))
	assert.NoError(t, err)
}

func Test_Update_allSourcesFail(t *testing.T) {
	dir := t.TempDir()
	fetch := fetcherFor(nil, map[string]bool{
		"https://a.example/list.txt": true,
		"https://b.example/list.txt": true,
	})

	u := New(testLogger(), Config{
		CacheDir: dir,
		Sources:  []string{"https://a.example/list.txt", "https://b.example/list.txt"},
		Fetcher:  fetch,
	})

	_, err := u.Update(context.Background(), testLogger())
	require.Error(t, err)
	var sourcesErr SourcesExhaustedError
	require.True(t, errors.As(err, &sourcesErr))
	assert.Len(t, sourcesErr.Attempts, 2)

	_, statErr := os.Stat(filepath.Join(dir, CacheFileName))
	assert.True(t, os.IsNotExist(statErr), "no cache file should be written when every source fails")
}

func Test_NeedsUpdate_respectsSevenDayDefault(t *testing.T) {
	u := New(testLogger(), Config{CacheDir: t.TempDir()})

	assert.True(t, u.NeedsUpdate(nil))

	fresh := &Meta{LastUpdate: time.Now().UnixMilli()}
	assert.False(t, u.NeedsUpdate(fresh))

	stale := &Meta{LastUpdate: time.Now().Add(-8 * 24 * time.Hour).UnixMilli()}
	assert.True(t, u.NeedsUpdate(stale))
}

func Test_Update_thenNeedsUpdateFalseWithinWindow(t *testing.T) {
	dir := t.TempDir()
	fetch := fetcherFor(map[string]string{"https://a.example/list.txt": sampleList}, nil)

	u := New(testLogger(), Config{
		CacheDir: dir,
		Sources:  []string{"https://a.example/list.txt"},
		Fetcher:  fetch,
	})

	_, err := u.Update(context.Background(), testLogger())
	require.NoError(t, err)

	meta, err := LoadMeta(dir)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.False(t, u.NeedsUpdate(meta))
}

func Test_LoadMeta_missingReturnsNilNoError(t *testing.T) {
	meta, err := LoadMeta(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func Test_Update_dedupesAcrossIdenticalRules(t *testing.T) {
	dir := t.TempDir()
	fetch := fetcherFor(map[string]string{
		"https://a.example/list.txt": "||ads.example.com^\n||ads.example.com^\n",
	}, nil)

	u := New(testLogger(), Config{
		CacheDir: dir,
		Sources:  []string{"https://a.example/list.txt"},
		Fetcher:  fetch,
	})

	res, err := u.Update(context.Background(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Meta.RuleCount)
	assert.Len(t, res.Rules, 1)
}

func Test_Update_emptySourceBodyFallsThroughToNextSource(t *testing.T) {
	dir := t.TempDir()
	fetch := fetcherFor(map[string]string{
		"https://a.example/list.txt": "",
		"https://b.example/list.txt": sampleList,
	}, nil)

	u := New(testLogger(), Config{
		CacheDir: dir,
		Sources:  []string{"https://a.example/list.txt", "https://b.example/list.txt"},
		Fetcher:  fetch,
	})

	res, err := u.Update(context.Background(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://b.example/list.txt", res.Meta.SourceURL)
}
