package quota_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fourotwo-xyz/web-scraper/pkg/identity"
	"github.com/fourotwo-xyz/web-scraper/pkg/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_DefaultLimitScenario(t *testing.T) {
	store := quota.NewMemoryStore(quota.DefaultFreeLimit)
	id := identity.CallerIdentity("0xabc")

	assert.Equal(t, quota.Grant{Granted: true, Remaining: 1}, store.CheckAndConsume(id))
	assert.Equal(t, quota.Grant{Granted: true, Remaining: 0}, store.CheckAndConsume(id))
	assert.Equal(t, quota.Grant{Granted: false, Remaining: 0}, store.CheckAndConsume(id))
}

func TestMemoryStore_DenialDoesNotMutate(t *testing.T) {
	store := quota.NewMemoryStore(1)
	id := identity.CallerIdentity("10.0.0.1")

	require.True(t, store.CheckAndConsume(id).Granted)
	for i := 0; i < 5; i++ {
		assert.False(t, store.CheckAndConsume(id).Granted)
	}
	assert.Equal(t, 1, store.Consumed(id))
}

func TestMemoryStore_IdentityIsolation(t *testing.T) {
	store := quota.NewMemoryStore(2)
	a := identity.CallerIdentity("0xaaa")
	b := identity.CallerIdentity("0xbbb")

	store.CheckAndConsume(a)
	store.CheckAndConsume(a)
	require.False(t, store.CheckAndConsume(a).Granted)

	assert.Equal(t, 0, store.Consumed(b))
	assert.Equal(t, 2, quota.Remaining(store, b))
	assert.Equal(t, quota.Grant{Granted: true, Remaining: 1}, store.CheckAndConsume(b))
}

func TestMemoryStore_FreshStoreResets(t *testing.T) {
	id := identity.CallerIdentity("0xabc")

	store := quota.NewMemoryStore(1)
	store.CheckAndConsume(id)
	require.False(t, store.CheckAndConsume(id).Granted)

	// A new process starts with an empty store.
	restarted := quota.NewMemoryStore(1)
	assert.Equal(t, 0, restarted.Consumed(id))
	assert.True(t, restarted.CheckAndConsume(id).Granted)
}

func TestMemoryStore_ZeroLimit(t *testing.T) {
	store := quota.NewMemoryStore(0)
	id := identity.CallerIdentity("0xabc")
	assert.False(t, store.CheckAndConsume(id).Granted)
	assert.Equal(t, 0, store.Consumed(id))

	negative := quota.NewMemoryStore(-3)
	assert.Equal(t, 0, negative.Limit())
}

func TestMemoryStore_ConcurrentSameIdentity(t *testing.T) {
	const limit = 2
	const extra = 48

	store := quota.NewMemoryStore(limit)
	id := identity.CallerIdentity("0xabc")

	var granted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < limit+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if store.CheckAndConsume(id).Granted {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), granted.Load())
	assert.Equal(t, limit, store.Consumed(id))
}

func TestMemoryStore_ConcurrentManyIdentities(t *testing.T) {
	store := quota.NewMemoryStore(3)
	ids := []identity.CallerIdentity{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id identity.CallerIdentity) {
				defer wg.Done()
				store.CheckAndConsume(id)
			}(id)
		}
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, 3, store.Consumed(id), "identity %s", id)
	}
	assert.Equal(t, len(ids), store.Identities())
}
