package frontier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fragment stripped", "https://example.test/a#section", "https://example.test/a"},
		{"host lowercased", "https://EXAMPLE.Test/Path", "https://example.test/Path"},
		{"default https port stripped", "https://example.test:443/a", "https://example.test/a"},
		{"default http port stripped", "http://example.test:80/a", "http://example.test/a"},
		{"empty path becomes slash", "https://example.test", "https://example.test/"},
		{"query sorted", "https://example.test/p?b=2&a=1", "https://example.test/p?a=1&b=2"},
		{"surrounding space trimmed", "  https://example.test/a  ", "https://example.test/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOffer_DedupByCanonicalForm(t *testing.T) {
	f, err := New("https://example.test/", 3, false)
	require.NoError(t, err)

	assert.True(t, f.Offer("https://example.test/page", 1, ""))
	assert.False(t, f.Offer("https://example.test/page#frag", 1, ""), "fragment variant is the same URL")
	assert.False(t, f.Offer("https://EXAMPLE.test/page", 1, ""), "case variant is the same URL")
}

func TestOffer_AcceptanceRules(t *testing.T) {
	f, err := New("https://docs.example.test/", 2, false)
	require.NoError(t, err)

	assert.False(t, f.Offer("ftp://example.test/file", 0, ""), "non-http scheme")
	assert.False(t, f.Offer("mailto:a@example.test", 0, ""), "mailto")
	assert.False(t, f.Offer("https://docs.example.test/deep", 3, ""), "depth beyond max")
	assert.True(t, f.Offer("https://docs.example.test/ok", 2, ""), "depth at max")
	assert.True(t, f.Offer("https://www.example.test/cousin", 1, ""),
		"same registrable domain passes the scope filter")
	assert.False(t, f.Offer("https://other.test/away", 1, ""), "external host rejected")
}

func TestOffer_FollowExternal(t *testing.T) {
	f, err := New("https://example.test/", 2, true)
	require.NoError(t, err)

	assert.True(t, f.Offer("https://other.test/away", 1, ""))
}

func TestNext_RoundRobinAcrossHosts(t *testing.T) {
	f, err := New("https://a.test/", 1, true)
	require.NoError(t, err)

	require.True(t, f.Offer("https://a.test/1", 0, ""))
	require.True(t, f.Offer("https://a.test/2", 0, ""))
	require.True(t, f.Offer("https://b.test/1", 0, ""))

	ctx := context.Background()
	e1, ok := f.Next(ctx)
	require.True(t, ok)
	e2, ok := f.Next(ctx)
	require.True(t, ok)

	assert.NotEqual(t, e1.Host, e2.Host, "consecutive picks rotate hosts")
}

func TestNext_DrainsWhenAllTasksDone(t *testing.T) {
	f, err := New("https://example.test/", 1, false)
	require.NoError(t, err)
	require.True(t, f.Offer("https://example.test/", 0, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, ok := f.Next(ctx)
	require.True(t, ok)
	f.TaskDone()

	_, ok = f.Next(ctx)
	assert.False(t, ok, "frontier should report drained")
}

func TestNext_WaitsForInFlightDiscovery(t *testing.T) {
	f, err := New("https://example.test/", 1, false)
	require.NoError(t, err)
	require.True(t, f.Offer("https://example.test/", 0, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	e, ok := f.Next(ctx)
	require.True(t, ok)

	// Simulate a worker that discovers a link before finishing.
	go func() {
		time.Sleep(50 * time.Millisecond)
		f.Offer("https://example.test/found", 1, e.URL)
		f.TaskDone()
	}()

	e2, ok := f.Next(ctx)
	require.True(t, ok, "Next should block until the in-flight worker offers")
	assert.Equal(t, "https://example.test/found", e2.URL)
}

func TestRequeue_HonorsNotBefore(t *testing.T) {
	f, err := New("https://example.test/", 1, false)
	require.NoError(t, err)
	require.True(t, f.Offer("https://example.test/", 0, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	e, ok := f.Next(ctx)
	require.True(t, ok)

	start := time.Now()
	f.Requeue(e, start.Add(100*time.Millisecond))

	e2, ok := f.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, e.URL, e2.URL)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"requeued entry must not be served before its hint")
}

func TestClose_UnblocksWaiters(t *testing.T) {
	f, err := New("https://example.test/", 1, false)
	require.NoError(t, err)
	require.True(t, f.Offer("https://example.test/", 0, ""))
	_, _ = f.Next(context.Background())

	done := make(chan struct{})
	go func() {
		_, ok := f.Next(context.Background())
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	f.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Close")
	}
}
