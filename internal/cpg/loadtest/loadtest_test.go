package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestDatabase(t *testing.T, numWords, maxReaders int) *TestDatabase {
	t.Helper()
	td, err := CreateTestDatabase(context.Background(), filepath.Join(t.TempDir(), "test.db"), numWords, maxReaders)
	require.NoError(t, err)
	t.Cleanup(func() { _ = td.Close() })
	return td
}

func TestCreateTestDatabase(t *testing.T) {
	td := createTestDatabase(t, 50, 4)

	assert.Len(t, td.Words, 50)
	assert.Len(t, td.WordIDs, 50)
	assert.NotEmpty(t, td.LanguageID)

	existing, err := td.Lexicon.WordsExist(context.Background(), td.Words, td.LanguageID)
	require.NoError(t, err)
	assert.Equal(t, td.WordIDs, existing)
}

func TestPopulate_Idempotent(t *testing.T) {
	td := createTestDatabase(t, 20, 2)

	again, err := Populate(context.Background(), td.DB, 20)
	require.NoError(t, err)
	assert.Equal(t, td.LanguageID, again.LanguageID)
	assert.Equal(t, td.WordIDs, again.WordIDs)
}

func TestGenerateWords_Distinct(t *testing.T) {
	words := generateWords(500)
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		require.False(t, seen[w], "duplicate word %s", w)
		seen[w] = true
	}
}

func TestConcurrentQueries_Small(t *testing.T) {
	td := createTestDatabase(t, 100, 8)

	stats, err := td.RunConcurrentQueries(context.Background(), 8, 10)
	require.NoError(t, err)

	assert.Equal(t, 80, stats.TotalQueries)
	assert.Zero(t, stats.Errors)
	assert.LessOrEqual(t, stats.Min, stats.P50)
	assert.LessOrEqual(t, stats.P50, stats.P95)
	assert.LessOrEqual(t, stats.P95, stats.P99)
	assert.LessOrEqual(t, stats.P99, stats.Max)
	t.Logf("p50=%v p95=%v p99=%v", stats.P50, stats.P95, stats.P99)
}

func TestConcurrentQueries_Cancelled(t *testing.T) {
	td := createTestDatabase(t, 10, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := td.RunConcurrentQueries(ctx, 2, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyConcurrentWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrent write check in short mode")
	}
	td := createTestDatabase(t, 30, 4)

	require.NoError(t, td.VerifyConcurrentWrites(context.Background(), 4, 300*time.Millisecond))
}

func TestComputeLatencyStats(t *testing.T) {
	durations := make([]time.Duration, 100)
	for i := range durations {
		durations[i] = time.Duration(100-i) * time.Millisecond
	}

	stats := computeLatencyStats(durations)
	assert.Equal(t, time.Millisecond, stats.Min)
	assert.Equal(t, 100*time.Millisecond, stats.Max)
	assert.Equal(t, 50*time.Millisecond, stats.P50)
	assert.Equal(t, 95*time.Millisecond, stats.P95)
	assert.Equal(t, 99*time.Millisecond, stats.P99)
	assert.Equal(t, 50500*time.Microsecond, stats.Mean)

	assert.Equal(t, &LatencyStats{}, computeLatencyStats(nil))
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	(&LatencyStats{TotalQueries: 3, P99: time.Millisecond}).PrintStats(&buf)
	assert.Contains(t, buf.String(), "Total Queries: 3")
	assert.Contains(t, buf.String(), "P99:           1ms")
}
