package frontmatter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_NoFrontmatter_ReturnsBodyOnly(t *testing.T) {
	input := []byte("# Title\n\nHello\n")

	fm, body, had, err := Split(input)
	require.NoError(t, err)
	require.False(t, had)
	require.Empty(t, fm)
	require.Equal(t, input, body)
}

func TestSplit_YAMLFrontmatter_SplitsFrontmatterAndBody(t *testing.T) {
	fm, body, had, err := Split([]byte("---\nkey: value\n---\n# Title\n"))
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, []byte("key: value\n"), fm)
	require.Equal(t, []byte("# Title\n"), body)
}

func TestSplit_CRLF(t *testing.T) {
	fm, body, had, err := Split([]byte("---\r\nkey: value\r\n---\r\n# Title\r\n"))
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, []byte("key: value\r\n"), fm)
	require.Equal(t, []byte("# Title\r\n"), body)
}

func TestSplit_EmptyBlockAndClosingAtEOF(t *testing.T) {
	fm, body, had, err := Split([]byte("---\n---\nbody"))
	require.NoError(t, err)
	require.True(t, had)
	require.Empty(t, fm)
	require.Equal(t, []byte("body"), body)

	fm, body, had, err = Split([]byte("---\ntitle: x\n---"))
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, []byte("title: x\n"), fm)
	require.Empty(t, body)
}

func TestSplit_MissingClosingDelimiter_ReturnsError(t *testing.T) {
	_, _, had, err := Split([]byte("---\nkey: value\n# Title\n"))
	require.Error(t, err)
	require.False(t, had)
	require.True(t, errors.Is(err, ErrMissingClosingDelimiter))
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte("---\ntitle: Hello\ndate: 2019-03-01\ndraft: true\ntags: [go, web]\n---\nBody\n"))
	require.NoError(t, err)
	assert.True(t, doc.Had)
	assert.Equal(t, "Hello", Title(doc.Fields, "fallback"))
	assert.True(t, Draft(doc.Fields))
	assert.Equal(t, []string{"go", "web"}, Strings(doc.Fields, "tags"))
	d, ok := Date(doc.Fields, "date")
	require.True(t, ok)
	assert.Equal(t, time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, []byte("Body\n"), doc.Body)

	_, err = Parse([]byte("---\ntitle: [unclosed\n---\n"))
	assert.Error(t, err)
}

func TestDateLayouts(t *testing.T) {
	cases := map[string]time.Time{
		"2020-05-06T07:08:09Z":      time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC),
		"2020-05-06T09:08:09+02:00": time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC),
		"2020-05-06 07:08:09":       time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC),
		"May 6, 2020":               time.Date(2020, 5, 6, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, ok := Date(map[string]any{"date": in}, "date")
		require.True(t, ok, in)
		assert.True(t, want.Equal(got), in)
	}
	_, ok := Date(map[string]any{"date": "someday"}, "date")
	assert.False(t, ok)
	_, ok = Date(map[string]any{}, "date")
	assert.False(t, ok)
}

func TestTitleFallback(t *testing.T) {
	assert.Equal(t, "post", Title(map[string]any{"title": "  "}, "post"))
	assert.Equal(t, "post", Title(map[string]any{"title": 3}, "post"))
}

func TestFingerprintIgnoresKeyOrderAndStoredFingerprint(t *testing.T) {
	a, err := Fingerprint(map[string]any{"title": "x", "date": "2020-01-01"}, []byte("body"))
	require.NoError(t, err)
	b, err := Fingerprint(map[string]any{"date": "2020-01-01", "title": "x", "fingerprint": "stale"}, []byte("body"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Fingerprint(map[string]any{"title": "x", "date": "2020-01-01"}, []byte("body!"))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestCanonicalSortsNestedKeys(t *testing.T) {
	out, err := Canonical(map[string]any{"b": map[string]any{"z": 1, "a": true}, "a": []any{"x", 2.5}})
	require.NoError(t, err)
	assert.Equal(t, "a:\n  - x\n  - 2.5\nb:\n  a: true\n  z: 1\n", string(out))

	_, err = Canonical(map[string]any{"bad": struct{}{}})
	assert.Error(t, err)
}
