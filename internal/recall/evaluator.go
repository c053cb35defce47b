// Package recall computes the aggregate recall of a search task against a
// ground-truth relevance file.
package recall

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// TruthSet maps a query id to its relevant document ids. Line n of the truth
// file holds the comma-separated relevant ids of query n (zero-based).
type TruthSet map[string]map[string]struct{}

// LoadTruth reads a newline-delimited ground-truth file.
func LoadTruth(path string) (TruthSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open truth file: %w", err)
	}
	defer f.Close()

	truth := make(TruthSet)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		ids := make(map[string]struct{})
		for _, id := range strings.Split(scanner.Text(), ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				ids[id] = struct{}{}
			}
		}
		truth[strconv.Itoa(line)] = ids
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read truth file: %w", err)
	}

	return truth, nil
}

// Evaluator accumulates per-query recall across all search workers. It is
// the only state the workers share, so every update holds the mutex.
type Evaluator struct {
	truth TruthSet

	mu       sync.Mutex
	sum      float64
	count    int64
	excluded int64
}

func NewEvaluator(truth TruthSet) *Evaluator {
	return &Evaluator{truth: truth}
}

// Add folds one query's retrieved ids into the running aggregate. Queries
// with no truth entry, or an empty one, are excluded from the denominator
// rather than scored as zero.
func (e *Evaluator) Add(queryID string, retrieved []string) {
	relevant, ok := e.truth[queryID]

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ok || len(relevant) == 0 {
		e.excluded++
		return
	}

	var hits int
	for _, id := range retrieved {
		if _, found := relevant[id]; found {
			hits++
		}
	}

	e.sum += float64(hits) / float64(len(relevant))
	e.count++
}

// Score is the mean per-query recall over all evaluated queries, valid in
// any completion order.
type Score struct {
	Recall    float64 `json:"recall"`
	Evaluated int64   `json:"evaluated"`
	Excluded  int64   `json:"excluded"`
}

func (e *Evaluator) Score() Score {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Score{Evaluated: e.count, Excluded: e.excluded}
	if e.count > 0 {
		s.Recall = e.sum / float64(e.count)
	}
	return s
}
