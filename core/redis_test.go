package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache := NewRedisCache(mr.Addr(), "", 0, 10, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestRedisCacheSetGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, cache.Set(ctx, "k", payload{Name: "probe", Count: 7}, time.Minute))

	var got payload
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload{Name: "probe", Count: 7}, got)
}

func TestRedisCacheGetMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	var got map[string]interface{}
	found, err := cache.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheDelete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, cache.Delete(ctx, "k"))

	var got string
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheExpiration(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", "v", time.Second))
	mr.FastForward(2 * time.Second)

	var got string
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheEventRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	event := NewSecurityEvent(EventTypeDataAccess, SeverityHigh, "db-proxy")
	event.UserID = "alice"
	event.ThreatScore = 65

	require.NoError(t, cache.CacheEvent(ctx, event, time.Minute))

	got, found := cache.GetEvent(ctx, event.ID)
	require.True(t, found)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, 65, got.ThreatScore)
	assert.Equal(t, "alice", got.UserID)

	_, found = cache.GetEvent(ctx, "missing-id")
	assert.False(t, found)
}

func TestRedisCacheIncidentRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	incident, err := NewIncident("Suspicious data export detected", "Large outbound transfer from the reporting database", IncidentSeverityP2, CategoryDataLeak, "system")
	require.NoError(t, err)

	require.NoError(t, cache.CacheIncident(ctx, incident, time.Minute))

	got, found := cache.GetIncident(ctx, incident.ID)
	require.True(t, found)
	assert.Equal(t, incident.ID, got.ID)
	assert.Equal(t, incident.Severity, got.Severity)
}
