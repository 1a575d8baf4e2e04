package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "pages"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "pages", Prefix: "/techtrend/"})
	require.NoError(t, err)
	assert.Equal(t, "techtrend/listings/a.html", store.ObjectName("/listings/a.html"))

	bare, err := New(client, Config{Bucket: "pages"})
	require.NoError(t, err)
	assert.Equal(t, "listings/a.html", bare.ObjectName("listings/a.html"))
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "pages"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "text/html", nil)
	require.Error(t, err)
}
