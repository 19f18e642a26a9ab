package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/filedrop/internal/model"
)

// memoryStore повторяет семантику атомарного upsert из PostgresRepository.HitRateLimit.
type memoryStore struct {
	mu      sync.Mutex
	windows map[string]model.RateWindow
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{windows: make(map[string]model.RateWindow)}
}

func (s *memoryStore) HitRateLimit(ctx context.Context, identifier, endpoint string, window time.Duration, now time.Time) (model.RateWindow, error) {
	if s.err != nil {
		return model.RateWindow{}, s.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := identifier + "|" + endpoint
	w, ok := s.windows[key]
	if !ok || w.Start.Before(now.Add(-window)) {
		w = model.RateWindow{Count: 1, Start: now}
	} else {
		w.Count++
	}
	s.windows[key] = w
	return w, nil
}

func newTestLimiter(store Store, now *time.Time) *Limiter {
	l := New(store)
	l.now = func() time.Time { return *now }
	return l
}

func TestLimiter_EleventhRequestDenied(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(newMemoryStore(), &now)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d, err := l.Check(ctx, "1.2.3.4:abcdefgh", "download-file", 10, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d must be allowed", i)
		now = now.Add(time.Second)
	}

	d, err := l.Check(ctx, "1.2.3.4:abcdefgh", "download-file", 10, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 11, d.Count)
	assert.Equal(t, 50*time.Second, d.RetryAfter)
}

func TestLimiter_WindowResets(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(newMemoryStore(), &now)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := l.Check(ctx, "id", "download-file", 10, time.Minute)
		require.NoError(t, err)
	}

	now = now.Add(61 * time.Second)

	d, err := l.Check(ctx, "id", "download-file", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(newMemoryStore(), &now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "a", "download-file", 2, time.Minute)
		require.NoError(t, err)
	}

	d, err := l.Check(ctx, "b", "download-file", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Check(ctx, "a", "other-endpoint", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_StoreErrorReported(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("db down")
	l := New(store)

	d, err := l.Check(context.Background(), "id", "download-file", 10, time.Minute)
	require.Error(t, err)
	assert.True(t, d.Allowed)
}

type stubDynamo struct {
	updateErrs []error
	updateOut  *dynamodb.UpdateItemOutput
	putErr     error

	updates int
	puts    int
}

func (s *stubDynamo) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	s.updates++
	if len(s.updateErrs) > 0 {
		err := s.updateErrs[0]
		s.updateErrs = s.updateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.updateOut, nil
}

func (s *stubDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	s.puts++
	return &dynamodb.PutItemOutput{}, s.putErr
}

func TestDynamoStore_OpensNewWindow(t *testing.T) {
	client := &stubDynamo{
		updateErrs: []error{&types.ConditionalCheckFailedException{}},
	}
	store := NewDynamoStore(client, "limits")
	now := time.UnixMilli(1_700_000_000_000)

	w, err := store.HitRateLimit(context.Background(), "id", "download-file", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, now.UnixMilli(), w.Start.UnixMilli())
	assert.Equal(t, 1, client.updates)
	assert.Equal(t, 1, client.puts)
}

func TestDynamoStore_IncrementsExistingWindow(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	client := &stubDynamo{
		updateOut: &dynamodb.UpdateItemOutput{
			Attributes: map[string]types.AttributeValue{
				"limit_key":     &types.AttributeValueMemberS{Value: "id#download-file"},
				"window_start":  &types.AttributeValueMemberN{Value: strconv.FormatInt(start.UnixMilli(), 10)},
				"request_count": &types.AttributeValueMemberN{Value: "4"},
			},
		},
	}
	store := NewDynamoStore(client, "limits")

	w, err := store.HitRateLimit(context.Background(), "id", "download-file", time.Minute, start.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 4, w.Count)
	assert.Equal(t, start.UnixMilli(), w.Start.UnixMilli())
	assert.Equal(t, 0, client.puts)
}

func TestDynamoStore_ContentionRetriesIncrement(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	client := &stubDynamo{
		updateErrs: []error{&types.ConditionalCheckFailedException{}, nil},
		putErr:     &types.ConditionalCheckFailedException{},
		updateOut: &dynamodb.UpdateItemOutput{
			Attributes: map[string]types.AttributeValue{
				"window_start":  &types.AttributeValueMemberN{Value: strconv.FormatInt(start.UnixMilli(), 10)},
				"request_count": &types.AttributeValueMemberN{Value: "2"},
			},
		},
	}
	store := NewDynamoStore(client, "limits")

	w, err := store.HitRateLimit(context.Background(), "id", "download-file", time.Minute, start)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Count)
	assert.Equal(t, 2, client.updates)
}

func TestDynamoStore_PropagatesErrors(t *testing.T) {
	client := &stubDynamo{updateErrs: []error{errors.New("throttled")}}
	store := NewDynamoStore(client, "limits")

	_, err := store.HitRateLimit(context.Background(), "id", "download-file", time.Minute, time.Now())
	require.Error(t, err)
}
