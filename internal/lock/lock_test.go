package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexExclusive(t *testing.T) {
	k := NewKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "forecast:feat-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, k.size(), "idle keys must be dropped")
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutexHonorsContext(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Zero(t, k.size())

	again, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "redis://localhost:6379/not-a-db")
	assert.Error(t, err)
}

// Runs against a real server when FORECASTFORGE_TEST_REDIS_URL is set.
func TestRedisLocker(t *testing.T) {
	url := os.Getenv("FORECASTFORGE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FORECASTFORGE_TEST_REDIS_URL not set")
	}
	client, err := Connect(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	l := NewRedisLocker(client, RedisOptions{Prefix: "test:" + uuid.NewString() + ":", TTL: 2 * time.Second, PollInterval: 5 * time.Millisecond})
	unlock, err := l.Lock(context.Background(), "feat-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "feat-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	next, err := l.Lock(context.Background(), "feat-1")
	require.NoError(t, err)
	next()
}
