// Package loadtest measures point-lookup latency under concurrent readers.
//
// A test database is populated with word nodes attached to one language,
// then many readers resolve random words with GetNodeByProp, the lookup the
// lexicon helpers use on every find-or-create.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/graph"
	"github.com/etenlab/core/internal/cpg/schema"
)

// LanguageName is the language every generated word belongs to.
const LanguageName = "loadtest"

// TestDatabase represents a populated database for load testing.
type TestDatabase struct {
	DB         *db.DB
	Second     *graph.SecondLayer
	Lexicon    *graph.Lexicon
	LanguageID string
	Words      []string
	WordIDs    map[string]string
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// CreateTestDatabase opens the database at dbPath and populates it with
// numWords words. The pool is sized for maxReaders concurrent readers.
func CreateTestDatabase(ctx context.Context, dbPath string, numWords, maxReaders int) (*TestDatabase, error) {
	database, err := db.OpenWithOptions(dbPath, db.Options{MaxOpenConns: maxReaders + 1})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	database.RawDB().SetMaxIdleConns(maxReaders + 1)
	database.RawDB().SetConnMaxLifetime(10 * time.Minute)

	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	td, err := Populate(ctx, database, numWords)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	return td, nil
}

// Populate creates numWords words in an already-initialized database.
func Populate(ctx context.Context, database *db.DB, numWords int) (*TestDatabase, error) {
	second := graph.NewSecondLayer(graph.NewFirstLayer(database.Store, nil))
	lex := graph.NewLexicon(second)

	langID, err := lex.CreateLanguage(ctx, LanguageName)
	if err != nil {
		return nil, fmt.Errorf("failed to create language: %w", err)
	}

	words := generateWords(numWords)
	ids, err := lex.CreateWords(ctx, words, langID)
	if err != nil {
		return nil, fmt.Errorf("failed to create words: %w", err)
	}

	return &TestDatabase{
		DB:         database,
		Second:     second,
		Lexicon:    lex,
		LanguageID: langID,
		Words:      words,
		WordIDs:    ids,
	}, nil
}

// Close closes the test database connection.
func (td *TestDatabase) Close() error {
	if td.DB != nil {
		return td.DB.Close()
	}
	return nil
}

// lookup resolves one word the way the lexicon does.
func (td *TestDatabase) lookup(ctx context.Context, word string) (*schema.Node, error) {
	return td.Second.First().GetNodeByProp(ctx, schema.NodeTypeWord,
		schema.Prop{Key: schema.PropName, Value: schema.String(word)},
		schema.RelationFilter{Type: schema.RelWordToLanguage, ToNodeID: td.LanguageID})
}

// RunConcurrentQueries runs numReaders readers that each resolve
// queriesPerReader random words, and returns the aggregated latency.
// Failed queries are counted in Errors and do not stop the run.
func (td *TestDatabase) RunConcurrentQueries(ctx context.Context, numReaders, queriesPerReader int) (*LatencyStats, error) {
	if len(td.Words) == 0 {
		return nil, fmt.Errorf("test database has no words")
	}

	var (
		mu           sync.Mutex
		allDurations = make([]time.Duration, 0, numReaders*queriesPerReader)
		errorCount   int
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < numReaders; i++ {
		seed := int64(i)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			durations := make([]time.Duration, 0, queriesPerReader)
			failed := 0

			for j := 0; j < queriesPerReader; j++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				word := td.Words[rng.Intn(len(td.Words))]

				start := time.Now()
				node, err := td.lookup(ctx, word)
				elapsed := time.Since(start)

				if err != nil || node == nil || node.ID != td.WordIDs[word] {
					failed++
					continue
				}
				durations = append(durations, elapsed)
			}

			mu.Lock()
			allDurations = append(allDurations, durations...)
			errorCount += failed
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	return stats, nil
}

// VerifyConcurrentWrites runs readers alongside one writer that keeps
// appending a property generation to random words, for duration. Readers
// must always find the word they look up.
func (td *TestDatabase) VerifyConcurrentWrites(ctx context.Context, numReaders int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rng := rand.New(rand.NewSource(-1))
		for n := 0; ctx.Err() == nil; n++ {
			word := td.Words[rng.Intn(len(td.Words))]
			_, err := td.Second.UpdateNodeObject(ctx, td.WordIDs[word], schema.Object{"revision": schema.Number(n)})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("writer update %d failed: %w", n, err)
			}
		}
		return nil
	})

	for i := 0; i < numReaders; i++ {
		readerID := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(readerID)))
			for ctx.Err() == nil {
				word := td.Words[rng.Intn(len(td.Words))]
				node, err := td.lookup(ctx, word)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					return fmt.Errorf("reader %d lookup failed: %w", readerID, err)
				}
				if node == nil || node.ID != td.WordIDs[word] {
					return fmt.Errorf("reader %d resolved %q to the wrong node", readerID, word)
				}
				if !schema.Equal(node.Properties[schema.PropName], schema.String(word)) {
					return fmt.Errorf("reader %d saw name %v for %q", readerID, node.Properties[schema.PropName], word)
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// generateWords returns count distinct words in a deterministic order.
func generateWords(count int) []string {
	syllables := []string{"ka", "lo", "mi", "ne", "ru", "ta", "vo", "zi"}
	words := make([]string, count)
	for i := 0; i < count; i++ {
		words[i] = syllables[i%len(syllables)] + syllables[(i/len(syllables))%len(syllables)] + fmt.Sprintf("-%05d", i)
	}
	return words
}

// computeLatencyStats summarizes durations. Percentiles use the nearest-rank
// method.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         total / time.Duration(len(sorted)),
		P50:          percentile(sorted, 50),
		P95:          percentile(sorted, 95),
		P99:          percentile(sorted, 99),
		TotalQueries: len(sorted),
		Durations:    sorted,
	}
}

// percentile returns the p-th percentile of sorted, which must be non-empty.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	return sorted[max(rank, 1)-1]
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
