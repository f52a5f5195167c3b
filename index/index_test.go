package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Dual {
	t.Helper()
	d, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestAddAndSearch_Plaintext(t *testing.T) {
	d := openTestIndex(t)

	md := "# Databases\n\nUse **indexes** to speed up lookups in relational databases.\n"
	require.NoError(t, d.Add("https://example.test/db", "Databases", md, time.Now()))
	require.NoError(t, d.Flush())

	hits, total, err := d.Search("databases", 10, Plaintext)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://example.test/db", hits[0].URL)
	assert.Equal(t, "Databases", hits[0].Title)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.NotEmpty(t, hits[0].Snippet)
}

func TestSearch_MarkdownKeepsFormatting(t *testing.T) {
	d := openTestIndex(t)

	md := "Some **bolded keyword** in context.\n"
	require.NoError(t, d.Add("https://example.test/p", "Page", md, time.Now()))
	require.NoError(t, d.Flush())

	hits, _, err := d.Search("bolded", 10, Markdown)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// The plaintext projection has the emphasis markers stripped; the word
	// itself is still indexed there, so the plaintext search finds it too.
	plainHits, _, err := d.Search("bolded", 10, Plaintext)
	require.NoError(t, err)
	require.Len(t, plainHits, 1)
}

func TestSearch_UncommittedDocsInvisible(t *testing.T) {
	d := openTestIndex(t)

	require.NoError(t, d.Add("https://example.test/one", "One", "unique pelican content\n", time.Now()))

	// Not flushed and under the batch size: a concurrent search sees
	// only the committed snapshot.
	_, total, err := d.Search("pelican", 10, Plaintext)
	require.NoError(t, err)
	assert.Zero(t, total)

	require.NoError(t, d.Flush())
	_, total, err = d.Search("pelican", 10, Plaintext)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
}

func TestAdd_CommitsAtBatchSize(t *testing.T) {
	d := openTestIndex(t)

	for i := 0; i < batchSize; i++ {
		url := "https://example.test/p" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		require.NoError(t, d.Add(url, "T", "walrus text\n", time.Now()))
	}

	_, total, err := d.Search("walrus", 50, Plaintext)
	require.NoError(t, err)
	assert.Equal(t, uint64(batchSize), total, "full batch must auto-commit")
}

func TestSearch_RanksTitleMatchesHigher(t *testing.T) {
	d := openTestIndex(t)

	require.NoError(t, d.Add("https://example.test/title", "Kubernetes Guide",
		"general container text\n", time.Now()))
	require.NoError(t, d.Add("https://example.test/body", "Other",
		"mentions kubernetes once in the body\n", time.Now()))
	require.NoError(t, d.Flush())

	hits, _, err := d.Search("kubernetes", 10, Plaintext)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://example.test/title", hits[0].URL,
		"title match should outrank body match")
}

func TestSearch_LimitRespected(t *testing.T) {
	d := openTestIndex(t)
	for _, u := range []string{"a", "b", "c", "d"} {
		require.NoError(t, d.Add("https://example.test/"+u, "T", "ferret facts\n", time.Now()))
	}
	require.NoError(t, d.Flush())

	hits, total, err := d.Search("ferret", 2, Plaintext)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), total)
	assert.Len(t, hits, 2)
}
