// Package analysis ranks technology mentions in vacancy descriptions.
//
// Text is stripped of markup noise, tagged, filtered down to Latin-script
// proper nouns that are not stopwords, and counted case-insensitively. Each
// term is reported with the casing of its first occurrence; equal counts keep
// first-occurrence order.
package analysis
