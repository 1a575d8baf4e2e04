// Package store defines the document-store contract used by the ingestion
// sink and the statistics aggregator. Implementations live in subpackages;
// this package must not import database drivers or concrete clients.
package store
