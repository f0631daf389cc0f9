package ratelimiting

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketRateLimiter(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping test in short mode")
	}
	rateLimiter, stop := NewTokenBucketRateLimiter(1, 2)
	defer stop()

	// A token is available right away, or not within the short deadline
	take := func(key string) bool {
		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
		defer cancel()
		return rateLimiter.Wait(ctx, key) == nil
	}

	assert.True(t, take("/skills"))

	// Burst of 2
	assert.True(t, take("/platforms"))
	assert.True(t, take("/platforms"))
	assert.False(t, take("/platforms"))

	time.Sleep(1000 * time.Millisecond)

	// Refill rate of 1
	assert.True(t, take("/platforms"))
	assert.False(t, take("/platforms"))

	// Burst of 2 - even after refill
	assert.True(t, take("/jobs"))
	assert.True(t, take("/jobs"))
	assert.False(t, take("/jobs"))
}

func TestTokenBucketRateLimiterWait(t *testing.T) {
	t.Parallel()

	rateLimiter, stop := NewTokenBucketRateLimiter(1, 1)
	defer stop()

	require.NoError(t, rateLimiter.Wait(t.Context(), "/skills"))

	// The next token is a second away, past the deadline
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, rateLimiter.Wait(ctx, "/skills"))

	// Other keys have their own bucket
	require.NoError(t, rateLimiter.Wait(ctx, "/platforms"))
}

func TestKeyFuncs(t *testing.T) {
	t.Parallel()

	request := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Scheme: "https", Host: "api.example.com", Path: "/api/skills"},
	}

	assert.Equal(t, "endpoint: GET /api/skills", EndpointKeyFunc(request))
	assert.Equal(t, "host: api.example.com", HostKeyFunc(request))
}
