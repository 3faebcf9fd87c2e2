package scanner

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tagserve/internal/compiler"
	tserrors "github.com/conneroisu/tagserve/internal/errors"
	"github.com/conneroisu/tagserve/internal/registry"
)

func setup(t *testing.T, files map[string]string) (afero.Fs, *registry.Registry) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs, registry.New(compiler.New(), fs, compiler.DefaultOptions())
}

func TestParsePattern(t *testing.T) {
	testCases := []struct {
		pattern string
		base    string
		rel     string
	}{
		{"tags/**/*.tag", "tags", "**/*.tag"},
		{"./views/*.tag", "views", "*.tag"},
		{"tags/home.tag", "tags", "home.tag"},
		{"**/*.tag", ".", "**/*.tag"},
	}

	for _, tc := range testCases {
		t.Run(tc.pattern, func(t *testing.T) {
			p, err := ParsePattern(tc.pattern)
			require.NoError(t, err)
			assert.Equal(t, tc.base, p.Base)
			assert.Equal(t, tc.rel, p.Pattern)
		})
	}

	_, err := ParsePattern("tags/[*.tag")
	assert.Error(t, err)
}

func TestPatternMatch(t *testing.T) {
	p, err := ParsePattern("tags/**/*.tag")
	require.NoError(t, err)

	assert.True(t, p.Match("tags/home.tag"))
	assert.True(t, p.Match("tags/deep/nested/list.tag"))
	assert.False(t, p.Match("tags/home.html"))
	assert.False(t, p.Match("other/home.tag"))
}

func TestScanLoadsMatchingFiles(t *testing.T) {
	fs, reg := setup(t, map[string]string{
		"tags/home.tag":          `<home-page>home</home-page>`,
		"tags/parts/nav.tag":     `<nav-bar>nav</nav-bar>`,
		"tags/readme.md":         `not a tag`,
		"tags/.hidden/skip.tag":  `<skip-me></skip-me>`,
		"elsewhere/ignored.tag":  `<ignored-tag></ignored-tag>`,
	})

	s, err := New(reg, fs, "tags/**/*.tag", nil)
	require.NoError(t, err)

	units, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)

	_, ok := reg.Get("home-page")
	assert.True(t, ok)
	_, ok = reg.Get("nav-bar")
	assert.True(t, ok)
	_, ok = reg.Get("skip-me")
	assert.False(t, ok)
	_, ok = reg.Get("ignored-tag")
	assert.False(t, ok)
}

func TestScanReportsDuplicates(t *testing.T) {
	fs, reg := setup(t, map[string]string{
		"tags/a.tag": `<same-name>a</same-name>`,
		"tags/b.tag": `<same-name>b</same-name>`,
		"tags/c.tag": `<other-tag>c</other-tag>`,
	})

	s, err := New(reg, fs, "tags/*.tag", nil)
	require.NoError(t, err)

	units, err := s.Scan(context.Background())
	require.Error(t, err)
	assert.True(t, tserrors.IsDuplicateName(err))
	assert.Len(t, units, 2)

	u, ok := reg.Get("same-name")
	require.True(t, ok)
	assert.Equal(t, "tags/a.tag", u.FilePath, "lexical order decides the owner")
}

func TestScanReportsCompileErrors(t *testing.T) {
	fs, reg := setup(t, map[string]string{
		"tags/good.tag": `<good-tag></good-tag>`,
		"tags/bad.tag":  `<bad-tag>{{ end }}</bad-tag>`,
	})

	s, err := New(reg, fs, "tags/*.tag", nil)
	require.NoError(t, err)

	_, err = s.Scan(context.Background())
	require.Error(t, err)
	assert.True(t, tserrors.IsCompile(err))
	assert.Equal(t, 1, reg.Count())
}

func TestScanMissingBase(t *testing.T) {
	fs, reg := setup(t, nil)

	s, err := New(reg, fs, "tags/**/*.tag", nil)
	require.NoError(t, err)

	_, err = s.Scan(context.Background())
	assert.Error(t, err)
}
