package genesets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rnadiff/internal/errors"
)

const gmt = "HALLMARK_A\thttp://example.org/a\tTP53\tMDM2\tCDKN1A\n" +
	"# comment\n" +
	"\n" +
	"HALLMARK_B\tna\tMYC\t\tE2F1\n"

func TestParseGMT(t *testing.T) {
	c, err := ParseGMT(strings.NewReader(gmt), "hallmark.gmt")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	assert.Equal(t, "HALLMARK_A", c.Sets[0].Name)
	assert.Equal(t, "http://example.org/a", c.Sets[0].Description)
	assert.Equal(t, []string{"TP53", "MDM2", "CDKN1A"}, c.Sets[0].Genes)
	assert.Equal(t, []string{"MYC", "E2F1"}, c.Sets[1].Genes)
}

func TestParseGMT_Malformed(t *testing.T) {
	_, err := ParseGMT(strings.NewReader("ONLY_NAME\n"), "bad.gmt")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{
		"PLAIN": ["A", "B"],
		"MSIGDB": {"geneSymbols": ["C", "D", "E"], "description": "exported"},
		"OTHER": {"genes": ["F"]}
	}`)
	c, err := ParseJSON(data, "sets.json")
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	assert.Equal(t, "PLAIN", c.Sets[0].Name)
	assert.Equal(t, []string{"A", "B"}, c.Sets[0].Genes)
	assert.Equal(t, "exported", c.Sets[1].Description)
	assert.Equal(t, []string{"C", "D", "E"}, c.Sets[1].Genes)
	assert.Equal(t, []string{"F"}, c.Sets[2].Genes)
}

func TestParseJSON_Invalid(t *testing.T) {
	for _, data := range []string{`{"x": `, `["A"]`, `{"x": 3}`} {
		_, err := ParseJSON([]byte(data), "bad.json")
		require.Error(t, err, data)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	}
}

func TestLoader_GlobMergeAndCache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "msigdb", "h"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "msigdb", "h", "hallmark.gmt"), []byte(gmt), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "msigdb", "extra.json"),
		[]byte(`{"HALLMARK_A": ["X"], "CUSTOM": ["TP53", "MYC"]}`), 0644))

	cache, err := NewBoltCache(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	defer cache.Close()

	loader := NewLoader(cache, nil)
	patterns := []string{filepath.Join(dir, "msigdb", "**", "*.gmt"), filepath.Join(dir, "msigdb", "*.json")}

	c, err := loader.Load(patterns)
	require.NoError(t, err)
	// extra.json sorts first; its HALLMARK_A wins over the GMT duplicate
	require.Equal(t, 3, c.Len())
	assert.Equal(t, "HALLMARK_A", c.Sets[0].Name)
	assert.Equal(t, []string{"X"}, c.Sets[0].Genes)

	gmtPath := filepath.Join(dir, "msigdb", "h", "hallmark.gmt")
	info, err := os.Stat(gmtPath)
	require.NoError(t, err)
	cached, err := cache.Get(fmt.Sprintf("%s|%d|%d", gmtPath, info.Size(), info.ModTime().UnixNano()))
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 2, cached.Len())

	again, err := loader.Load(patterns)
	require.NoError(t, err)
	assert.Equal(t, c.Sets, again.Sets)
}

func TestLoader_NoMatches(t *testing.T) {
	_, err := NewLoader(nil, nil).Load([]string{filepath.Join(t.TempDir(), "*.gmt")})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}
