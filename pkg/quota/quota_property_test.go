//go:build property
// +build property

package quota_test

import (
	"testing"

	"github.com/fourotwo-xyz/web-scraper/pkg/identity"
	"github.com/fourotwo-xyz/web-scraper/pkg/quota"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestFirstPayableCall verifies calls 1..limit are granted and call limit+1 is not.
// Property: for any limit >= 0 the first denial happens at call limit+1.
func TestFirstPayableCall(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("first denial is call limit+1", prop.ForAll(
		func(limit int, who string) bool {
			store := quota.NewMemoryStore(limit)
			id := identity.CallerIdentity(who)
			for i := 0; i < limit; i++ {
				g := store.CheckAndConsume(id)
				if !g.Granted || g.Remaining != limit-i-1 {
					return false
				}
			}
			g := store.CheckAndConsume(id)
			return !g.Granted && g.Remaining == 0 && store.Consumed(id) == limit
		},
		gen.IntRange(0, 50),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestConsumedNeverDecreases verifies counts are monotonic and capped at limit.
func TestConsumedNeverDecreases(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("consumed is monotonic and bounded", prop.ForAll(
		func(limit int, calls []int) bool {
			store := quota.NewMemoryStore(limit)
			last := map[identity.CallerIdentity]int{}
			for _, c := range calls {
				id := identity.CallerIdentity(rune('a' + c))
				store.CheckAndConsume(id)
				now := store.Consumed(id)
				if now < last[id] || now > limit {
					return false
				}
				last[id] = now
			}
			return true
		},
		gen.IntRange(0, 5),
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
