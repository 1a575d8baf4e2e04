package store

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/techtrend/internal/upsert"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

// EnsureIndex is the mock implementation of the EnsureIndex method.
func (m *MockStore) EnsureIndex(ctx context.Context, coll upsert.Collection) error {
	args := m.Called(ctx, coll)
	return args.Error(0) //nolint:wrapcheck
}

// BulkUpsert is the mock implementation of the BulkUpsert method.
func (m *MockStore) BulkUpsert(ctx context.Context, coll upsert.Collection, items []Item) (BulkResult, error) {
	args := m.Called(ctx, coll, items)
	res, _ := args.Get(0).(BulkResult)
	return res, args.Error(1) //nolint:wrapcheck
}

// FindAll is the mock implementation of the FindAll method.
func (m *MockStore) FindAll(ctx context.Context, coll upsert.Collection, query Query, results any) error {
	args := m.Called(ctx, coll, query, results)
	return args.Error(0) //nolint:wrapcheck
}

// Close is the mock implementation of the Close method.
func (m *MockStore) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0) //nolint:wrapcheck
}
