package attachments

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/procurement-approvals/internal/domain"
	"go.uber.org/zap"
)

// flakyStore отказывает первые failures вызовов Put.
type flakyStore struct {
	*MemoryStore
	failures int32
	calls    int32
}

func newFlakyStore(failures int32) *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore(), failures: failures}
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	n := atomic.AddInt32(&s.calls, 1)
	if n <= atomic.LoadInt32(&s.failures) {
		return errors.New("connection reset by peer")
	}
	return s.MemoryStore.Put(ctx, key, data)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	data := []byte("%PDF-1.7")
	require.NoError(t, s.Put(ctx, "k1", data))
	data[0] = 'X'

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), got)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
}

func TestReliableStore_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	flaky := newFlakyStore(2)
	s := NewReliableStore(flaky, ReliabilityConfig{Attempts: 3})

	require.NoError(t, s.Put(ctx, "k1", []byte("boq")))
	assert.Equal(t, int32(3), atomic.LoadInt32(&flaky.calls))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("boq"), got)
}

func TestReliableStore_NotFoundIsNotUnavailable(t *testing.T) {
	s := NewReliableStore(NewMemoryStore(), ReliabilityConfig{})

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
	assert.NotErrorIs(t, err, domain.ErrAttachmentStoreUnavailable)
}

func TestReliableStore_OpensBreaker(t *testing.T) {
	ctx := context.Background()
	flaky := newFlakyStore(1 << 20)

	var opened atomic.Bool
	s := NewReliableStore(flaky, ReliabilityConfig{
		Attempts:      1,
		FailureStreak: 2,
		Timeout:       time.Minute,
		OnStateChange: func(_ string, open bool) { opened.Store(open) },
	})

	for i := 0; i < 3; i++ {
		err := s.Put(ctx, "k", []byte("x"))
		require.ErrorIs(t, err, domain.ErrAttachmentStoreUnavailable)
	}
	assert.True(t, opened.Load())

	// открытый предохранитель не пускает вызов до хранилища
	calls := atomic.LoadInt32(&flaky.calls)
	err := s.Put(ctx, "k", []byte("x"))
	assert.ErrorIs(t, err, domain.ErrAttachmentStoreUnavailable)
	assert.Equal(t, calls, atomic.LoadInt32(&flaky.calls))
}

func TestDeferredLinker_RetriesUntilLinked(t *testing.T) {
	flaky := newFlakyStore(2)
	l := NewDeferredLinker(flaky, LinkerConfig{RetryInterval: 10 * time.Millisecond}, zap.NewNop())

	var mu sync.Mutex
	var results []bool
	l.OnResult = func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, ok)
	}
	l.Start()

	require.True(t, l.Enqueue(PendingUpload{DocumentID: "PR-1", AttachmentID: "a1", StorageKey: "k1", Data: []byte("spec")}))

	require.Eventually(t, func() bool { return l.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	l.Stop()

	got, err := flaky.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("spec"), got)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, false, true}, results)
}

func TestDeferredLinker_FirstAttemptDoesNotWaitForTicker(t *testing.T) {
	store := NewMemoryStore()
	l := NewDeferredLinker(store, LinkerConfig{RetryInterval: time.Hour}, zap.NewNop())
	l.Start()
	t.Cleanup(l.Stop)

	require.True(t, l.Enqueue(PendingUpload{DocumentID: "PR-1", AttachmentID: "a1", StorageKey: "PR-1/a1", Data: []byte("boq")}))

	require.Eventually(t, func() bool {
		data, err := store.Get(context.Background(), "PR-1/a1")
		return err == nil && string(data) == "boq"
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, l.Pending())
}

func TestRefs_RoundTripNextToBytes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ref := domain.AttachmentRef{
		ID: "a1", Filename: "boq.xlsx", ContentType: "application/vnd.ms-excel",
		SizeBytes: 11, UploadedBy: "Nadia", UploadedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		StorageKey: "PR-1/a1",
	}

	_, err := GetRef(ctx, store, ref.StorageKey)
	require.ErrorIs(t, err, domain.ErrAttachmentNotFound)

	require.NoError(t, PutRef(ctx, store, ref))
	got, err := GetRef(ctx, store, ref.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	// байты и метаданные не пересекаются по ключу
	_, err = store.Get(ctx, ref.StorageKey)
	assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
}

func TestDeferredLinker_StopFlushesAndRejectsNewWork(t *testing.T) {
	store := NewMemoryStore()
	l := NewDeferredLinker(store, LinkerConfig{RetryInterval: time.Hour}, zap.NewNop())
	l.Start()

	require.True(t, l.Enqueue(PendingUpload{StorageKey: "k1", Data: []byte("a")}))
	require.True(t, l.Enqueue(PendingUpload{StorageKey: "k2", Data: []byte("b")}))
	l.Stop()

	assert.Zero(t, l.Pending())
	_, err := store.Get(context.Background(), "k2")
	assert.NoError(t, err)

	assert.False(t, l.Enqueue(PendingUpload{StorageKey: "k3"}))
	l.Stop() // повторная остановка безопасна
}

func TestDeferredLinker_Overflow(t *testing.T) {
	l := NewDeferredLinker(NewMemoryStore(), LinkerConfig{BufferSize: 1}, zap.NewNop())
	// воркер не запущен, буфер на одну выгрузку
	assert.True(t, l.Enqueue(PendingUpload{StorageKey: "k1"}))
	assert.False(t, l.Enqueue(PendingUpload{StorageKey: "k2"}))
	assert.Equal(t, int64(1), l.Pending())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	s := NewRedisStore(rdb)
	key := uuid.NewString()

	require.NoError(t, s.Put(ctx, key, []byte("delivery note scan")))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("delivery note scan"), got)

	_, err = s.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
}
