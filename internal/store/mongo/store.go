// Package mongostore implements store.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/JakeFAU/techtrend/internal/store"
	"github.com/JakeFAU/techtrend/internal/upsert"
)

// ErrMissingCredentials is returned when a production connection lacks a
// username, password or cluster host.
var ErrMissingCredentials = errors.New("username, password and cluster host are required in production")

// Config describes how to reach the deployment.
type Config struct {
	// IsTest connects to Host:Port without credentials.
	IsTest         bool          `mapstructure:"is_test"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ClusterHost    string        `mapstructure:"cluster_host"`
	AppName        string        `mapstructure:"app_name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// BuildURI returns the connection string for cfg.
func BuildURI(cfg Config) (string, error) {
	if cfg.IsTest {
		host := cfg.Host
		if host == "" {
			host = "localhost"
		}
		port := cfg.Port
		if port == 0 {
			port = 27017
		}
		return "mongodb://" + net.JoinHostPort(host, strconv.Itoa(port)), nil
	}
	if cfg.Username == "" || cfg.Password == "" || cfg.ClusterHost == "" {
		return "", ErrMissingCredentials
	}
	return fmt.Sprintf("mongodb+srv://%s@%s.mongodb.net/?retryWrites=true&w=majority",
		url.UserPassword(cfg.Username, cfg.Password).String(), cfg.ClusterHost), nil
}

// Store is a MongoDB-backed store.Store.
type Store struct {
	client *mongo.Client
}

// Open connects and pings the primary. The client is disconnected when the
// ping fails.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	uri, err := BuildURI(cfg)
	if err != nil {
		return nil, err
	}
	opts := options.Client().ApplyURI(uri)
	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client *mongo.Client) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("mongo client is required")
	}
	return &Store{client: client}, nil
}

func (s *Store) collection(coll upsert.Collection) *mongo.Collection {
	return s.client.Database(coll.Database).Collection(coll.Name)
}

// IndexName returns the name given to the natural-key index.
func IndexName(coll upsert.Collection) string {
	parts := make([]string, 0, len(coll.Keys))
	for _, k := range coll.Keys {
		parts = append(parts, fmt.Sprintf("%s_%d", k.Field, k.Order))
	}
	return strings.Join(parts, "_")
}

// EnsureIndex creates the unique compound index with the declared orders.
func (s *Store) EnsureIndex(ctx context.Context, coll upsert.Collection) error {
	keys := make(bson.D, 0, len(coll.Keys))
	for _, k := range coll.Keys {
		keys = append(keys, bson.E{Key: k.Field, Value: int(k.Order)})
	}
	model := mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(true).SetName(IndexName(coll)),
	}
	if _, err := s.collection(coll).Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("create index on %s: %w", coll.FullName(), err)
	}
	return nil
}

// BulkUpsert issues one unordered BulkWrite of upserting ReplaceOne models.
func (s *Store) BulkUpsert(ctx context.Context, coll upsert.Collection, items []store.Item) (store.BulkResult, error) {
	if len(items) == 0 {
		return store.BulkResult{}, nil
	}
	models := make([]mongo.WriteModel, 0, len(items))
	for _, item := range items {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(filterDoc(item.Filter)).
			SetReplacement(item.Document).
			SetUpsert(true))
	}
	res, err := s.collection(coll).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	var out store.BulkResult
	if res != nil {
		out.Inserted = int(res.UpsertedCount + res.InsertedCount)
		out.Matched = int(res.MatchedCount)
	}
	if err == nil {
		return out, nil
	}
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return store.BulkResult{}, fmt.Errorf("bulk upsert into %s: %w", coll.FullName(), err)
	}
	for _, we := range bwe.WriteErrors {
		failure := store.ItemFailure{Index: we.Index, Message: we.Message}
		if we.Index >= 0 && we.Index < len(items) {
			failure.Key = items[we.Index].Key
		}
		out.Failures = append(out.Failures, failure)
	}
	return out, nil
}

// FindAll runs one Find and decodes the whole cursor into results.
func (s *Store) FindAll(ctx context.Context, coll upsert.Collection, query store.Query, results any) error {
	filter := queryDoc(query)
	opts := options.Find().SetProjection(bson.D{{Key: "_id", Value: 0}})
	if query.Range != nil {
		opts.SetSort(bson.D{{Key: query.Range.Field, Value: 1}})
	}
	cursor, err := s.collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("find in %s: %w", coll.FullName(), err)
	}
	if err := cursor.All(ctx, results); err != nil {
		return fmt.Errorf("decode %s: %w", coll.FullName(), err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

func filterDoc(filter upsert.Filter) bson.D {
	out := make(bson.D, 0, len(filter))
	for _, f := range filter {
		out = append(out, bson.E{Key: f.Name, Value: f.Value})
	}
	return out
}

func queryDoc(q store.Query) bson.D {
	fields := make([]string, 0, len(q.Equals))
	for f := range q.Equals {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := make(bson.D, 0, len(fields)+1)
	for _, f := range fields {
		out = append(out, bson.E{Key: f, Value: q.Equals[f]})
	}
	if q.Range != nil {
		out = append(out, bson.E{Key: q.Range.Field, Value: bson.D{
			{Key: "$gte", Value: q.Range.From},
			{Key: "$lte", Value: q.Range.To},
		}})
	}
	return out
}
