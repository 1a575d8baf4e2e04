// Package elasticstore implements store.Store on Elasticsearch. Each
// collection maps to one index and each natural key to one document ID, so a
// bulk "index" action is a full replace or an insert.
package elasticstore

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // document IDs, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/JakeFAU/techtrend/internal/store"
	"github.com/JakeFAU/techtrend/internal/upsert"
)

// defaultPageSize is the number of hits fetched per search request.
const defaultPageSize = 1000

// Config controls the Elasticsearch client.
type Config struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	// Refresh is passed to bulk requests; "wait_for" makes writes visible to
	// the next search.
	Refresh string `mapstructure:"refresh"`
}

// Store is an Elasticsearch-backed store.Store.
type Store struct {
	es       *elasticsearch.Client
	refresh  string
	pageSize int
}

// New creates the client. No request is sent until the first call.
func New(cfg Config) (*Store, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch addresses are required")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	refresh := cfg.Refresh
	if refresh == "" {
		refresh = "wait_for"
	}
	return &Store{es: es, refresh: refresh, pageSize: defaultPageSize}, nil
}

// Ping checks that the cluster answers.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

// IndexName returns the index backing coll.
func IndexName(coll upsert.Collection) string {
	return strings.ToLower(coll.Database + "-" + coll.Name)
}

// DocumentID returns the SHA-1 hex digest of a natural-key string.
func DocumentID(key string) string {
	sum := sha1.Sum([]byte(key)) //nolint:gosec // stable identifier only
	return hex.EncodeToString(sum[:])
}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"dynamic_templates": []map[string]any{
			{
				"strings_as_keywords": map[string]any{
					"match_mapping_type": "string",
					"mapping":            map[string]any{"type": "keyword", "ignore_above": 32766},
				},
			},
		},
	},
}

// EnsureIndex creates the index when it does not exist yet.
func (s *Store) EnsureIndex(ctx context.Context, coll upsert.Collection) error {
	index := IndexName(coll)
	res, err := s.es.Indices.Exists([]string{index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %s: %s", index, res.Status())
	}

	payload, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("marshal index mapping: %w", err)
	}
	res, err = s.es.Indices.Create(index,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s failed: %s", index, strings.TrimSpace(string(body)))
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Result string `json:"result"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkUpsert sends one _bulk request of index actions.
func (s *Store) BulkUpsert(ctx context.Context, coll upsert.Collection, items []store.Item) (store.BulkResult, error) {
	if len(items) == 0 {
		return store.BulkResult{}, nil
	}
	index := IndexName(coll)
	var buf bytes.Buffer
	for _, item := range items {
		meta := map[string]any{"index": map[string]any{"_index": index, "_id": DocumentID(item.Key)}}
		if err := writeLine(&buf, meta); err != nil {
			return store.BulkResult{}, err
		}
		if err := writeLine(&buf, item.Document); err != nil {
			return store.BulkResult{}, err
		}
	}

	res, err := s.es.Bulk(bytes.NewReader(buf.Bytes()),
		s.es.Bulk.WithContext(ctx),
		s.es.Bulk.WithRefresh(s.refresh),
	)
	if err != nil {
		return store.BulkResult{}, fmt.Errorf("bulk upsert into %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return store.BulkResult{}, fmt.Errorf("bulk upsert into %s failed: %s", index, strings.TrimSpace(string(body)))
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return store.BulkResult{}, fmt.Errorf("decode bulk response: %w", err)
	}
	var out store.BulkResult
	for i, entry := range parsed.Items {
		action, ok := entry["index"]
		if !ok {
			continue
		}
		switch {
		case action.Error != nil:
			failure := store.ItemFailure{Index: i, Message: action.Error.Type + ": " + action.Error.Reason}
			if i < len(items) {
				failure.Key = items[i].Key
			}
			out.Failures = append(out.Failures, failure)
		case action.Result == "created":
			out.Inserted++
		default:
			out.Matched++
		}
	}
	return out, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source json.RawMessage   `json:"_source"`
			Sort   []json.RawMessage `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

// FindAll pages through every matching document with search_after. Hits are
// sorted by the ranged field and then by the natural key, which is unique, so
// no page boundary can skip or repeat a document.
func (s *Store) FindAll(ctx context.Context, coll upsert.Collection, query store.Query, results any) error {
	index := IndexName(coll)
	body := searchBody(coll, query, s.pageSize)
	sources := make([]json.RawMessage, 0)
	for {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal search body: %w", err)
		}
		page, found, err := s.search(ctx, index, payload)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		for _, hit := range page.Hits.Hits {
			sources = append(sources, hit.Source)
		}
		hits := page.Hits.Hits
		if len(hits) < s.pageSize {
			break
		}
		last := hits[len(hits)-1].Sort
		if len(last) == 0 {
			return fmt.Errorf("search %s: hit without sort values, cannot page", index)
		}
		body["search_after"] = last
	}
	return decodeSources(sources, results)
}

// search runs one request. found is false when the index does not exist.
func (s *Store) search(ctx context.Context, index string, payload []byte) (searchResponse, bool, error) {
	var parsed searchResponse
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(index),
		s.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return parsed, false, fmt.Errorf("search %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return parsed, false, nil
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return parsed, false, fmt.Errorf("search %s failed: %s", index, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return parsed, false, fmt.Errorf("decode search response: %w", err)
	}
	return parsed, true, nil
}

// Close is a no-op; the HTTP transport holds no dedicated connection.
func (s *Store) Close(context.Context) error {
	return nil
}

func searchBody(coll upsert.Collection, q store.Query, size int) map[string]any {
	fields := make([]string, 0, len(q.Equals))
	for f := range q.Equals {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	filters := make([]map[string]any, 0, len(fields)+1)
	for _, f := range fields {
		filters = append(filters, map[string]any{"term": map[string]any{f: q.Equals[f]}})
	}
	var order []map[string]any
	body := map[string]any{"size": size}
	if q.Range != nil {
		filters = append(filters, map[string]any{
			"range": map[string]any{
				q.Range.Field: map[string]any{
					"gte": q.Range.From.UTC().Format(time.RFC3339Nano),
					"lte": q.Range.To.UTC().Format(time.RFC3339Nano),
				},
			},
		})
		order = append(order, map[string]any{q.Range.Field: map[string]any{"order": "asc"}})
	}
	for _, field := range coll.KeyFields() {
		if q.Range != nil && field == q.Range.Field {
			continue
		}
		order = append(order, map[string]any{field: map[string]any{"order": "asc"}})
	}
	body["sort"] = order
	if len(filters) == 0 {
		body["query"] = map[string]any{"match_all": map[string]any{}}
	} else {
		body["query"] = map[string]any{"bool": map[string]any{"filter": filters}}
	}
	return body
}

func decodeSources(sources []json.RawMessage, results any) error {
	if sources == nil {
		sources = []json.RawMessage{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("encode hits: %w", err)
	}
	if err := json.Unmarshal(raw, results); err != nil {
		return fmt.Errorf("decode hits: %w", err)
	}
	return nil
}

func writeLine(buf *bytes.Buffer, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal bulk line: %w", err)
	}
	buf.Write(line)
	buf.WriteByte('\n')
	return nil
}
