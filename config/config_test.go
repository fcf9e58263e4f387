package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, Load(&cfg))

	assert.Equal(t, "BTC", cfg.Instrument.Base)
	assert.Equal(t, "USD", cfg.Instrument.Quote)
	assert.Equal(t, 100, cfg.OrderBookDepth)
	assert.Equal(t, 10000, cfg.ReplayBatchSize)
	assert.Equal(t, "pebble", cfg.EventLog.Driver)
	assert.Equal(t, time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5432, cfg.EventLog.Postgres.Port)
	assert.Equal(t, int64(64<<20), cfg.EventLog.SegmentSize)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("INSTRUMENT_BASE", "ETH")
	t.Setenv("DEBUG_MODE", "true")
	t.Setenv("EVENTLOG_DRIVER", "postgres")
	t.Setenv("EVENTLOG_POSTGRES_HOST", "db.internal")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SNAPSHOT_INTERVAL", "30s")
	t.Setenv("REDIS_ADDRESS", "cache:6379")

	var cfg Config
	require.NoError(t, Load(&cfg))

	assert.Equal(t, "ETH", cfg.Instrument.Base)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, "postgres", cfg.EventLog.Driver)
	assert.Equal(t, "db.internal", cfg.EventLog.Postgres.Host)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Snapshot.Interval)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	var base Config
	require.NoError(t, Load(&base))
	require.NoError(t, base.Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "snapshots disabled", mutate: func(c *Config) { c.Snapshot.Interval = 0 }},
		{name: "zero poll interval", mutate: func(c *Config) { c.PollInterval = 0 }, wantErr: true},
		{name: "negative snapshot interval", mutate: func(c *Config) { c.Snapshot.Interval = -time.Second }, wantErr: true},
		{name: "zero replay batch", mutate: func(c *Config) { c.ReplayBatchSize = 0 }, wantErr: true},
		{name: "zero kafka batch", mutate: func(c *Config) { c.Kafka.BatchSize = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadZeroSnapshotInterval(t *testing.T) {
	t.Setenv("SNAPSHOT_INTERVAL", "0s")

	var cfg Config
	require.NoError(t, Load(&cfg))
	assert.Zero(t, cfg.Snapshot.Interval)
	assert.NoError(t, cfg.Validate())
}
