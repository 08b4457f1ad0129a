package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/registryerr"
)

func testCfg() *config.RateLimitConfig {
	return &config.RateLimitConfig{
		ReadRatePerSec:    5,
		ReadBurst:         5,
		PublishRatePerSec: 2,
		PublishBurst:      2,
		PublishCost:       2,
	}
}

func TestAllowRead_WithinBurst(t *testing.T) {
	l := New(nil, testCfg())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.AllowRead(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted within burst", i)
	}
}

func TestAllowRead_DeniedOverBurst(t *testing.T) {
	l := New(nil, testCfg())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.AllowRead(ctx, "alice")
		require.NoError(t, err)
	}

	d, err := l.AllowRead(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 5, d.Limit)
	assert.Equal(t, 0, d.Remaining)
}

func TestAllowPublish_DrawsHigherCost(t *testing.T) {
	l := New(nil, testCfg())
	ctx := context.Background()

	// burst of 2, cost 2: exactly one publish admitted, then the bucket is dry.
	d, err := l.AllowPublish(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.AllowPublish(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestAllowRead_PerPrincipalIsolation(t *testing.T) {
	l := New(nil, testCfg())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.AllowRead(ctx, "alice")
		require.NoError(t, err)
	}
	d, err := l.AllowRead(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "alice's bucket should be exhausted")

	d, err = l.AllowRead(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "bob has his own bucket")
}

func TestAllowRead_ReadAndPublishBucketsAreIndependent(t *testing.T) {
	l := New(nil, testCfg())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.AllowRead(ctx, "alice")
		require.NoError(t, err)
	}
	d, err := l.AllowRead(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.AllowPublish(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "exhausting the read bucket must not affect the publish bucket")
}

func TestErr_CarriesDecisionFields(t *testing.T) {
	d := &Decision{Allowed: false, Limit: 5, Remaining: 0, ResetEpochSeconds: 1234}
	err := Err(d)

	assert.Equal(t, registryerr.KindRateLimited, registryerr.KindOf(err))
	assert.Equal(t, 429, registryerr.KindRateLimited.HTTPStatus())

	rerr, ok := err.(*registryerr.Error)
	require.True(t, ok)
	assert.Equal(t, 5, rerr.Details["limit"])
	assert.Equal(t, 0, rerr.Details["remaining"])
	assert.Equal(t, int64(1234), rerr.Details["reset_epoch_seconds"])
}
