package s3

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/blobstore"
)

// mockDDBClient is an in-memory commit table.
type mockDDBClient struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{items: make(map[string]map[string]types.AttributeValue)}
}

func attrS(item map[string]types.AttributeValue, name string) string {
	return item[name].(*types.AttributeValueMemberS).Value
}

func attrN(item map[string]types.AttributeValue, name string) uint64 {
	v, _ := strconv.ParseUint(item[name].(*types.AttributeValueMemberN).Value, 10, 64)
	return v
}

func (m *mockDDBClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s:%d", attrS(in.Item, "base_uri"), attrN(in.Item, "version"))
	if aws.ToString(in.ConditionExpression) == "attribute_not_exists(version)" {
		if _, ok := m.items[key]; ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	m.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	uri := in.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if attrS(item, "base_uri") == uri {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b map[string]types.AttributeValue) int {
		return int(attrN(b, "version")) - int(attrN(a, "version"))
	})
	if in.Limit != nil && int(*in.Limit) < len(items) {
		items = items[:*in.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func newTestCommitStore(ddb *mockDDBClient, baseURI string) (*DDBCommitStore, *blobstore.MemoryStore) {
	inner := blobstore.NewMemoryStore()
	return NewDDBCommitStore(inner, ddb, "invgo-backups", baseURI), inner
}

func readPointer(t *testing.T, s blobstore.BlobStore) string {
	t.Helper()
	data, err := blobstore.Get(context.Background(), s, blobstore.PointerName)
	require.NoError(t, err)
	return string(data)
}

func TestDDBCommitStorePointer(t *testing.T) {
	ctx := context.Background()
	store, inner := newTestCommitStore(newMockDDBClient(), "s3://bucket/index/")

	_, err := store.Open(ctx, blobstore.PointerName)
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Put(ctx, blobstore.PointerName, fmt.Appendf(nil, "backup-%d", i)))
	}
	assert.Equal(t, "backup-3", readPointer(t, store))

	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	// the pointer never reaches the inner store
	assert.Zero(t, inner.Len())

	require.NoError(t, store.Put(ctx, "backup-3/segments_1", []byte("x")))
	names, err := store.List(ctx, "backup-3/")
	require.NoError(t, err)
	assert.Equal(t, []string{"backup-3/segments_1"}, names)
}

func TestDDBCommitStoreConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestCommitStore(newMockDDBClient(), "s3://bucket/index/")
	require.NoError(t, store.Put(ctx, blobstore.PointerName, []byte("backup-1")))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Put(ctx, blobstore.PointerName, fmt.Appendf(nil, "backup-%d", i+2))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case !errors.Is(err, ErrConcurrentModification):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Positive(t, successes)
	assert.Equal(t, uint64(1+successes), v)
}

func TestDDBCommitStoreIsolatedNamespaces(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	a, _ := newTestCommitStore(ddb, "s3://bucket-a/path/")
	b, _ := newTestCommitStore(ddb, "s3://bucket-b/path/")

	require.NoError(t, a.Put(ctx, blobstore.PointerName, []byte("backup-a")))
	require.NoError(t, b.Put(ctx, blobstore.PointerName, []byte("backup-b")))

	assert.Equal(t, "backup-a", readPointer(t, a))
	assert.Equal(t, "backup-b", readPointer(t, b))
}
