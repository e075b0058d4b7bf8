// Package lexical scores free-text queries against entity text fields.
//
// Fuzzy matching follows pg_trgm: text is lowercased, split into words of
// letters and digits, and each word padded and sliced into trigrams. The
// similarity of two strings is the share of trigrams they have in common, so
// a misspelled word still overlaps heavily with the correct one.
//
// Precision comes from a verbatim check: when the query, ignoring case and
// whitespace layout, occurs literally in a field, Blend adds the phrase boost.
// Queries are plain text. Characters such as %, _ or * have no special meaning
// in either the in-memory or the Postgres implementation.
//
// An empty query matches nothing and is not an error.
package lexical
