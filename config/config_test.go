package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6379", c.RedisAddr)
	assert.Equal(t, "g1", c.StreamGroup)
	assert.Equal(t, 2*time.Second, c.StreamBlock)
	assert.Equal(t, 20*time.Millisecond, c.RecoveryBackoff)
	assert.Equal(t, 2*time.Minute, c.CacheNullTTL)
	assert.Equal(t, 10, c.RebuildWorkers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STREAM_BLOCK", "500ms")
	t.Setenv("STREAM_CONSUMER", "c7")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", c.StoreDriver)
	assert.Equal(t, 500*time.Millisecond, c.StreamBlock)
	assert.Equal(t, "c7", c.ConsumerName())
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")

	_, err := Load()
	assert.ErrorContains(t, err, "STORE_DRIVER")
}
