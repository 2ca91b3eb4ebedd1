// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// BM25 parameters (Okapi variant, standard values).
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

// Field weights for entry paths. The title is what the user is trying
// to hit; ancestor groups disambiguate.
const (
	titleWeight = 3
	groupWeight = 1
)

// tokenPattern splits text into alphanumeric runs.
var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Index is a BM25 (Okapi) index over entry paths. The index is built
// at construction time and is immutable thereafter. It is safe for
// concurrent read access.
type Index struct {
	// paths stores the indexed entry paths in their original order.
	paths []string

	// termFrequencies[i][term] is the term frequency in the weighted
	// token sequence for paths[i].
	termFrequencies []map[string]int

	// lengths[i] is the total weighted token count for paths[i].
	lengths []int

	// averageLength is the mean of lengths.
	averageLength float64

	// inverseDocumentFrequency[term] is the precomputed IDF score for
	// each term in the corpus.
	inverseDocumentFrequency map[string]float64
}

// NewEntryIndex builds an index over entry paths. Each path is split
// on "/" into a title (last segment, weighted high) and ancestor
// groups (weighted low). Construction is O(total tokens) and
// sub-millisecond for any realistic database.
func NewEntryIndex(paths []string) *Index {
	index := &Index{
		paths:                    paths,
		termFrequencies:          make([]map[string]int, len(paths)),
		lengths:                  make([]int, len(paths)),
		inverseDocumentFrequency: make(map[string]float64),
	}

	// Track how many entries contain each term (for IDF).
	documentFrequency := make(map[string]int)

	var totalLength int

	for i, path := range paths {
		tokens := entryTokens(path)
		index.lengths[i] = len(tokens)
		totalLength += len(tokens)

		termFrequency := make(map[string]int)
		seen := make(map[string]bool)
		for _, token := range tokens {
			termFrequency[token]++
			if !seen[token] {
				seen[token] = true
				documentFrequency[token]++
			}
		}
		index.termFrequencies[i] = termFrequency
	}

	if len(paths) > 0 {
		index.averageLength = float64(totalLength) / float64(len(paths))
	}

	// Precompute IDF for each term. Terms that appear in every entry
	// get a small positive score (epsilon) rather than zero, so they
	// still contribute a tiny amount to ranking.
	documentCount := float64(len(paths))
	for term, frequency := range documentFrequency {
		idf := math.Log(1 + (documentCount-float64(frequency)+0.5)/(float64(frequency)+0.5))
		if idf < 0 {
			idf = paramEpsilon
		}
		index.inverseDocumentFrequency[term] = idf
	}

	return index
}

// Rank returns the indexed paths ordered by BM25 relevance to the
// query, highest first. Paths the query does not score (and every path
// when the query yields no tokens) keep their original order after the
// scored ones, so ranking reorders but never hides a match. A positive
// limit truncates the result.
func (index *Index) Rank(query string, limit int) []string {
	queryTokens := Tokenize(query)

	scores := make([]float64, len(index.paths))
	if len(queryTokens) > 0 {
		for i := range index.paths {
			scores[i] = index.score(i, queryTokens)
		}
	}

	order := make([]int, len(index.paths))
	for i := range order {
		order[i] = i
	}
	// Stable sort: equal scores (including all-zero) preserve the
	// tool's order.
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}

	ranked := make([]string, len(order))
	for i, pathIndex := range order {
		ranked[i] = index.paths[pathIndex]
	}
	return ranked
}

// score computes the BM25 score for a single entry against the query
// tokens.
func (index *Index) score(pathIndex int, queryTokens []string) float64 {
	termFrequency := index.termFrequencies[pathIndex]
	length := float64(index.lengths[pathIndex])

	var score float64
	for _, token := range queryTokens {
		idf, exists := index.inverseDocumentFrequency[token]
		if !exists {
			continue
		}

		frequency := float64(termFrequency[token])
		if frequency == 0 {
			continue
		}

		// BM25 term score: IDF * (tf * (k1 + 1)) / (tf + k1 * (1 - b + b * dl/avgdl))
		numerator := frequency * (paramK1 + 1)
		denominator := frequency + paramK1*(1-paramB+paramB*length/index.averageLength)
		score += idf * numerator / denominator
	}

	return score
}

// entryTokens builds the weighted token sequence for an entry path:
// title tokens repeated titleWeight times, ancestor group tokens
// repeated groupWeight times.
func entryTokens(path string) []string {
	segments := strings.Split(path, "/")
	title := segments[len(segments)-1]
	groups := segments[:len(segments)-1]

	var tokens []string
	for range titleWeight {
		tokens = append(tokens, Tokenize(title)...)
	}
	for _, group := range groups {
		groupTokens := Tokenize(group)
		for range groupWeight {
			tokens = append(tokens, groupTokens...)
		}
	}
	return tokens
}

// Tokenize splits text into lowercase alphanumeric tokens, discarding
// tokens shorter than 2 characters. This catches "a", "I", and other
// noise that does not contribute to relevance ranking.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	matches := tokenPattern.FindAllString(lower, -1)

	// Filter short tokens in place.
	tokens := matches[:0]
	for _, match := range matches {
		if len(match) >= 2 {
			tokens = append(tokens, match)
		}
	}
	return tokens
}
