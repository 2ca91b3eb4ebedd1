// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package bm25 orders entry paths by relevance using the Okapi BM25
// algorithm. The store tool's locate search decides which entries
// match; this package decides which match the launcher shows first.
//
// An entry path like "Work/Infra/GitLab" is indexed as weighted
// fields: the title (last segment) outweighs the ancestor groups, so a
// query naming a title beats one that only brushes a group name.
// Weighting is achieved by repeating a field's tokens in proportion to
// its weight, a simple alternative to per-field BM25 that works well
// for a corpus of at most a few thousand entries.
//
// Rank never filters: entries the query does not score keep their
// original (tool) order after the scored ones. The index is built per
// search from the match list and discarded; it is immutable and safe
// for concurrent reads.
//
// Used by: keywardend (search action ordering).
package bm25
