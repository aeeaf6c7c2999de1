package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DriverPostgres, cfg.Driver)
	assert.Equal(t, 20, cfg.PostgresMaxConns)
	assert.Equal(t, 10*time.Second, cfg.PostgresTimeout)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.S3Enabled())
}

func TestConfig_Enabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisURL = "redis://localhost:6379/0"
	cfg.S3Bucket = "archive"

	assert.True(t, cfg.RedisEnabled())
	assert.True(t, cfg.S3Enabled())
}
