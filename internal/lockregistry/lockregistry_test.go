package lockregistry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryClaimFreshURIs(t *testing.T) {
	r := New()

	ok := r.TryClaim("w1", "alist://a/f1", "alist://b/f1")
	assert.True(t, ok)
	assert.True(t, r.Claimed("alist://a/f1"))
	assert.True(t, r.Claimed("alist://b/f1"))
	assert.Equal(t, 2, r.Len())
}

func TestTryClaimConflict(t *testing.T) {
	r := New()
	require := assert.New(t)

	require.True(r.TryClaim("w1", "alist://a/f1"))
	require.False(r.TryClaim("w2", "alist://a/f1"))
}

func TestTryClaimPartialConflictClaimsNothing(t *testing.T) {
	r := New()

	assert.True(t, r.TryClaim("w1", "alist://a/f1"))

	ok := r.TryClaim("w2", "alist://a/f2", "alist://a/f1")
	assert.False(t, ok, "conflicting second uri must abort the whole claim")
	assert.False(t, r.Claimed("alist://a/f2"), "the non-conflicting uri must not have been claimed either")
}

func TestTryClaimSameOwnerIsIdempotent(t *testing.T) {
	r := New()

	assert.True(t, r.TryClaim("w1", "alist://a/f1"))
	assert.True(t, r.TryClaim("w1", "alist://a/f1"), "the same owner re-claiming its own uri is allowed")
}

func TestRelease(t *testing.T) {
	r := New()
	r.TryClaim("w1", "alist://a/f1", "alist://a/f2")

	r.Release("alist://a/f1")

	assert.False(t, r.Claimed("alist://a/f1"))
	assert.True(t, r.Claimed("alist://a/f2"))
	assert.Equal(t, 1, r.Len())
}

func TestClaimedUnknownURI(t *testing.T) {
	r := New()
	assert.False(t, r.Claimed("alist://nowhere"))
}

func TestSeed(t *testing.T) {
	r := Seed([]string{"alist://a/f1", "alist://a/f2"})

	assert.True(t, r.Claimed("alist://a/f1"))
	assert.True(t, r.Claimed("alist://a/f2"))
	assert.Equal(t, 2, r.Len())

	assert.False(t, r.TryClaim("new-worker", "alist://a/f1"), "a seeded uri is owned by a different id")
}

func TestSeedEmpty(t *testing.T) {
	r := Seed(nil)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentClaims(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	results := make([]bool, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.TryClaim("w", "alist://shared/f")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, ok := range results {
		if ok {
			successes++
		}
	}
	assert.Equal(t, 100, successes, "same owner id claiming concurrently should never conflict with itself")
	assert.Equal(t, 1, r.Len())
}
